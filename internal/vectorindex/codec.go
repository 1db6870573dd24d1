package vectorindex

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

// .vdata binary layout (spec §6):
//   magic "CLVI" | u16 version | u8 algo tag | u8 metric tag | u32 dim |
//   u64 n | u8 rowid flags | rowid table (n x u64) | HNSW body | u32 CRC32
const (
	vdataMagic   = "CLVI"
	vdataVersion = uint16(1)

	algoHNSW = uint8(1)

	rowIDOrdinal  = uint8(0)
	rowIDPkU64    = uint8(1)
	rowIDPkHashed = uint8(2)
)

func metricTag(m Metric) uint8 {
	switch m {
	case MetricL2:
		return 0
	case MetricIP:
		return 2
	default:
		return 1 // cosine
	}
}

func metricFromTag(t uint8) Metric {
	switch t {
	case 0:
		return MetricL2
	case 2:
		return MetricIP
	default:
		return MetricCosine
	}
}

// RowIDTable maps HNSW internal node ids to the stable external row
// identity, under one of the three flag encodings spec §3 names.
type RowIDTable struct {
	Flag  uint8
	Table []uint64 // for pk_hashed, Table holds the fnv hash; collisions are a documented limitation
}

func OrdinalRowIDs(n int) RowIDTable {
	t := make([]uint64, n)
	for i := range t {
		t[i] = uint64(i)
	}
	return RowIDTable{Flag: rowIDOrdinal, Table: t}
}

func PkU64RowIDs(ids []uint64) RowIDTable {
	return RowIDTable{Flag: rowIDPkU64, Table: ids}
}

func PkHashedRowIDs(hashes []uint64) RowIDTable {
	return RowIDTable{Flag: rowIDPkHashed, Table: hashes}
}

// EncodeVData serializes the HNSW graph and row-id table to the .vdata
// binary format, with a trailing CRC32 over everything preceding it.
func EncodeVData(h *HNSW, rowIDs RowIDTable) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(vdataMagic)
	writeU16(&buf, vdataVersion)
	buf.WriteByte(algoHNSW)
	buf.WriteByte(metricTag(h.Metric))
	writeU32(&buf, uint32(h.Dim))
	writeU64(&buf, uint64(h.Len()))
	buf.WriteByte(rowIDs.Flag)
	for _, id := range rowIDs.Table {
		writeU64(&buf, id)
	}

	writeU32(&buf, uint32(h.M))
	writeU32(&buf, uint32(h.MMax0))
	writeU32(&buf, uint32(h.EfBuild))
	writeI32(&buf, int32(h.entry))
	writeF64(&buf, h.levelMult)
	for _, n := range h.nodes {
		for _, f := range n.vec {
			writeF32(&buf, f)
		}
		writeU8(&buf, uint8(len(n.neighbors)))
		for _, level := range n.neighbors {
			writeU32(&buf, uint32(len(level)))
			for _, nb := range level {
				writeU32(&buf, nb)
			}
		}
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	writeU32(&buf, sum)
	return buf.Bytes(), nil
}

// DecodeVData parses a .vdata file, verifying its trailing checksum
// before trusting any of the HNSW body (spec §8 "segment pages
// checksum-valid" discipline applied here to vector index data too).
func DecodeVData(data []byte, seed int64) (*HNSW, RowIDTable, error) {
	if len(data) < len(vdataMagic)+4 {
		return nil, RowIDTable{}, apperror.Io("vdata_truncated", nil)
	}
	body, sumBytes := data[:len(data)-4], data[len(data)-4:]
	want := binary.BigEndian.Uint32(sumBytes)
	got := crc32.ChecksumIEEE(body)
	if want != got {
		return nil, RowIDTable{}, apperror.Io("vdata_checksum_mismatch", nil)
	}

	r := bytes.NewReader(body)
	magic := make([]byte, len(vdataMagic))
	if _, err := r.Read(magic); err != nil || string(magic) != vdataMagic {
		return nil, RowIDTable{}, apperror.Ddl("bad_vdata_magic", "not a Clarium vdata file")
	}
	_ = readU16(r) // version, ignored for v1
	_ = readU8(r)  // algo tag, only hnsw supported
	metric := metricFromTag(readU8(r))
	dim := int(readU32(r))
	n := int(readU64(r))
	flag := readU8(r)
	table := make([]uint64, n)
	for i := range table {
		table[i] = readU64(r)
	}

	m := int(readU32(r))
	mMax0 := int(readU32(r))
	efBuild := int(readU32(r))
	entry := int(readI32(r))
	levelMult := readF64(r)

	h := &HNSW{Metric: metric, Dim: dim, M: m, MMax0: mMax0, EfBuild: efBuild, entry: entry, levelMult: levelMult}
	h.nodes = make([]node, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = readF32(r)
		}
		levels := int(readU8(r))
		neighbors := make([][]uint32, levels)
		for l := 0; l < levels; l++ {
			cnt := int(readU32(r))
			ids := make([]uint32, cnt)
			for k := range ids {
				ids[k] = readU32(r)
			}
			neighbors[l] = ids
		}
		h.nodes[i] = node{vec: vec, neighbors: neighbors}
	}
	return h, RowIDTable{Flag: flag, Table: table}, nil
}

func WriteVData(path string, h *HNSW, rowIDs RowIDTable) error {
	data, err := EncodeVData(h, rowIDs)
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, data, 0o644)
}

func ReadVData(path string, seed int64) (*HNSW, RowIDTable, error) {
	data, err := storage.ReadFileOrNotFound(path)
	if err != nil {
		return nil, RowIDTable{}, err
	}
	return DecodeVData(data, seed)
}

func writeU8(buf *bytes.Buffer, v uint8)   { buf.WriteByte(v) }
func writeU16(buf *bytes.Buffer, v uint16) { var b [2]byte; binary.BigEndian.PutUint16(b[:], v); buf.Write(b[:]) }
func writeU32(buf *bytes.Buffer, v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); buf.Write(b[:]) }
func writeU64(buf *bytes.Buffer, v uint64) { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); buf.Write(b[:]) }
func writeI32(buf *bytes.Buffer, v int32)  { writeU32(buf, uint32(v)) }
func writeF32(buf *bytes.Buffer, v float32) { writeU32(buf, math.Float32bits(v)) }
func writeF64(buf *bytes.Buffer, v float64) { writeU64(buf, math.Float64bits(v)) }

func readU8(r *bytes.Reader) uint8 {
	b, _ := r.ReadByte()
	return b
}
func readU16(r *bytes.Reader) uint16 {
	var b [2]byte
	_, _ = r.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}
func readU32(r *bytes.Reader) uint32 {
	var b [4]byte
	_, _ = r.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
func readU64(r *bytes.Reader) uint64 {
	var b [8]byte
	_, _ = r.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
func readI32(r *bytes.Reader) int32   { return int32(readU32(r)) }
func readF32(r *bytes.Reader) float32 { return math.Float32frombits(readU32(r)) }
func readF64(r *bytes.Reader) float64 { return math.Float64frombits(readU64(r)) }
