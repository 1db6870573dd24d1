package graphstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/edsrzf/mmap-go"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

const segmentMagic = "CLGS"

// Segment is one immutable CSR partition segment: row_ptr[] is monotone
// over node id, cols[]/weights[]/ts_begin[]/ts_end[]/etype[] are
// edge-indexed (spec §3).
type Segment struct {
	NumNodes uint64
	RowPtr   []uint64
	Cols     []uint64
	HasWeights bool
	Weights  []float64
	TsBegin  []uint64
	TsEnd    []uint64
	EType    []string
}

// BuildSegment merges a set of committed, non-tombstoned delta records
// into one immutable CSR segment, used by compaction (spec §4.3).
func BuildSegment(records []DeltaRecord, numNodes uint64) *Segment {
	sorted := append([]DeltaRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Src != sorted[j].Src {
			return sorted[i].Src < sorted[j].Src
		}
		return sorted[i].Dst < sorted[j].Dst
	})

	seg := &Segment{NumNodes: numNodes, RowPtr: make([]uint64, numNodes+1)}
	for _, r := range sorted {
		if r.HasWeight {
			seg.HasWeights = true
		}
	}
	for _, r := range sorted {
		seg.Cols = append(seg.Cols, r.Dst)
		w := 0.0
		if r.HasWeight {
			w = r.Weight
		}
		seg.Weights = append(seg.Weights, w)
		tsEnd := r.TsEnd
		if tsEnd == 0 {
			tsEnd = openEnd
		}
		seg.TsBegin = append(seg.TsBegin, r.TsBegin)
		seg.TsEnd = append(seg.TsEnd, tsEnd)
		seg.EType = append(seg.EType, r.EType)
		seg.RowPtr[r.Src+1]++
	}
	for i := 1; i < len(seg.RowPtr); i++ {
		seg.RowPtr[i] += seg.RowPtr[i-1]
	}
	return seg
}

func segmentPath(root string, partition int, segID int) string {
	return filepath.Join(partitionDir(root, partition), fmt.Sprintf("adj.%d", segID))
}

// Save encodes the segment to its binary CSR format with a trailing CRC32.
func (s *Segment) Save(path string) error {
	etypeTable, etypeIdx := internTable(s.EType)

	var buf []byte
	buf = append(buf, segmentMagic...)
	buf = appendU64(buf, uint64(1)) // version
	buf = appendU64(buf, s.NumNodes)
	buf = appendU64(buf, uint64(len(s.Cols)))
	hasW := uint64(0)
	if s.HasWeights {
		hasW = 1
	}
	buf = appendU64(buf, hasW)
	for _, v := range s.RowPtr {
		buf = appendU64(buf, v)
	}
	for _, v := range s.Cols {
		buf = appendU64(buf, v)
	}
	if s.HasWeights {
		for _, v := range s.Weights {
			buf = appendF64(buf, v)
		}
	}
	for _, v := range s.TsBegin {
		buf = appendU64(buf, v)
	}
	for _, v := range s.TsEnd {
		buf = appendU64(buf, v)
	}
	buf = appendU64(buf, uint64(len(etypeTable)))
	for _, name := range etypeTable {
		buf = appendU64(buf, uint64(len(name)))
		buf = append(buf, name...)
	}
	for _, idx := range etypeIdx {
		buf = appendU64(buf, uint64(idx))
	}
	sum := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, sum)
	return storage.AtomicWriteFile(path, buf, 0o644)
}

// LoadSegmentMmap opens a segment read-only via mmap (spec §5 "immutable
// segments are candidates for mmap") and decodes it into in-memory CSR
// arrays. Verifies the trailing checksum before trusting any content
// (spec §3 "segment pages checksum-valid").
func LoadSegmentMmap(path string) (*Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.NotFound("segment_not_found", "no such segment: %s", path)
		}
		return nil, apperror.Io("segment_open_failed", err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, apperror.Io("segment_mmap_failed", err)
	}
	defer m.Unmap()

	data := make([]byte, len(m))
	copy(data, m)
	return decodeSegment(data)
}

func decodeSegment(data []byte) (*Segment, error) {
	if len(data) < len(segmentMagic)+4 {
		return nil, apperror.Io("segment_truncated", nil)
	}
	body, sumBytes := data[:len(data)-4], data[len(data)-4:]
	want := binary.BigEndian.Uint32(sumBytes)
	if crc32.ChecksumIEEE(body) != want {
		return nil, apperror.Io("segment_checksum_mismatch", nil)
	}

	off := 0
	if string(body[off:off+len(segmentMagic)]) != segmentMagic {
		return nil, apperror.Ddl("bad_segment_magic", "not a Clarium graph segment")
	}
	off += len(segmentMagic)
	_, off = readU64(body, off) // version
	numNodes, off := readU64(body, off)
	numEdges, off := readU64(body, off)
	hasW, off := readU64(body, off)

	seg := &Segment{NumNodes: numNodes, HasWeights: hasW == 1}
	seg.RowPtr = make([]uint64, numNodes+1)
	for i := range seg.RowPtr {
		seg.RowPtr[i], off = readU64(body, off)
	}
	seg.Cols = make([]uint64, numEdges)
	for i := range seg.Cols {
		seg.Cols[i], off = readU64(body, off)
	}
	if seg.HasWeights {
		seg.Weights = make([]float64, numEdges)
		for i := range seg.Weights {
			seg.Weights[i], off = readF64At(body, off)
		}
	}
	seg.TsBegin = make([]uint64, numEdges)
	for i := range seg.TsBegin {
		seg.TsBegin[i], off = readU64(body, off)
	}
	seg.TsEnd = make([]uint64, numEdges)
	for i := range seg.TsEnd {
		seg.TsEnd[i], off = readU64(body, off)
	}
	var tableLen uint64
	tableLen, off = readU64(body, off)
	table := make([]string, tableLen)
	for i := range table {
		var strLen uint64
		strLen, off = readU64(body, off)
		table[i] = string(body[off : off+int(strLen)])
		off += int(strLen)
	}
	seg.EType = make([]string, numEdges)
	for i := range seg.EType {
		var idx uint64
		idx, off = readU64(body, off)
		if int(idx) < len(table) {
			seg.EType[i] = table[idx]
		}
	}
	return seg, nil
}

// Neighbors returns the column-array slice for node u's out-edges.
func (s *Segment) Neighbors(u uint64) []uint64 {
	if u+1 >= uint64(len(s.RowPtr)) {
		return nil
	}
	return s.Cols[s.RowPtr[u]:s.RowPtr[u+1]]
}

// OutEdgesAt returns u's out-edges from this segment that are visible at
// epoch e (spec §4.3 read path: ts_begin <= E < ts_end).
func (s *Segment) OutEdgesAt(u, e uint64) []Edge {
	if u+1 >= uint64(len(s.RowPtr)) {
		return nil
	}
	lo, hi := s.RowPtr[u], s.RowPtr[u+1]
	var out []Edge
	for i := lo; i < hi; i++ {
		if s.TsBegin[i] > e || e >= s.TsEnd[i] {
			continue
		}
		edge := Edge{Dst: s.Cols[i], EType: s.EType[i], TsBegin: s.TsBegin[i], TsEnd: s.TsEnd[i]}
		if s.HasWeights {
			edge.HasWeight = true
			edge.Weight = s.Weights[i]
		}
		out = append(out, edge)
	}
	return out
}

func internTable(values []string) ([]string, []int) {
	idx := map[string]int{}
	var table []string
	out := make([]int, len(values))
	for i, v := range values {
		id, ok := idx[v]
		if !ok {
			id = len(table)
			idx[v] = id
			table = append(table, v)
		}
		out[i] = id
	}
	return table, out
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendF64(b []byte, v float64) []byte {
	return appendU64(b, math.Float64bits(v))
}

func readU64(b []byte, off int) (uint64, int) {
	return binary.BigEndian.Uint64(b[off : off+8]), off + 8
}
func readF64At(b []byte, off int) (float64, int) {
	v, off := readU64(b, off)
	return math.Float64frombits(v), off
}
