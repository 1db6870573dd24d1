package graphstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"clarium/internal/apperror"
)

// DeltaRecord is one framed entry in a partition's delta.log: a
// committed edge add or tombstone, valid over [TsBegin,TsEnd) in MVCC
// epoch terms (spec §3).
type DeltaRecord struct {
	Tombstone bool
	Src       uint64
	Dst       uint64
	EType     string
	HasWeight bool
	Weight    float64
	TsBegin   uint64 // epoch the record becomes visible
	TsEnd     uint64 // epoch it stops being visible (max uint64 = still open)
	TxnID     uint64
}

const openEnd = ^uint64(0)

func partitionDir(root string, p int) string {
	return filepath.Join(root, "parts", fmt.Sprintf("%d", p))
}

func deltaLogPath(root string, p int) string {
	return filepath.Join(partitionDir(root, p), "delta.log")
}

// DeltaLog is one partition's append-only committed-edge log.
type DeltaLog struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	policy syncPolicy
}

func OpenDeltaLog(root string, partition int, policy syncPolicy) (*DeltaLog, error) {
	path := deltaLogPath(root, partition)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperror.Io("mkdir_failed", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperror.Io("delta_open_failed", err)
	}
	return &DeltaLog{path: path, file: f, policy: policy}, nil
}

func (d *DeltaLog) Close() error { return d.file.Close() }

func (d *DeltaLog) Append(rec DeltaRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return apperror.Internal("delta_encode_failed", "%v", err)
	}
	if err := appendFrame(d.file, buf.Bytes()); err != nil {
		return err
	}
	return syncFile(d.file, d.policy, d.policy == syncAlways)
}

// ReadAllDelta replays every well-formed record for a partition,
// tolerating a truncated/corrupt tail (spec §4.3 recovery, §7).
func ReadAllDelta(root string, partition int) ([]DeltaRecord, error) {
	data, err := os.ReadFile(deltaLogPath(root, partition))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.Io("delta_read_failed", err)
	}
	var out []DeltaRecord
	for _, payload := range readFrames(data) {
		var rec DeltaRecord
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// VisibleAt filters committed delta records to those valid at epoch e:
// TsBegin <= e < TsEnd and not tombstoned (spec §4.3 read path). A
// tombstone record itself is never "visible" as an edge; it removes an
// earlier add from visibility once e >= the tombstone's TsBegin.
func VisibleAt(records []DeltaRecord, e uint64) []DeltaRecord {
	type key struct {
		src, dst uint64
		etype    string
	}
	tombstonedFrom := map[key]uint64{}
	for _, r := range records {
		if r.Tombstone && r.TsBegin <= e {
			k := key{r.Src, r.Dst, r.EType}
			if existing, ok := tombstonedFrom[k]; !ok || r.TsBegin < existing {
				tombstonedFrom[k] = r.TsBegin
			}
		}
	}
	var out []DeltaRecord
	for _, r := range records {
		if r.Tombstone {
			continue
		}
		if r.TsBegin > e {
			continue
		}
		end := r.TsEnd
		if end == 0 {
			end = openEnd
		}
		if e >= end {
			continue
		}
		k := key{r.Src, r.Dst, r.EType}
		if tomb, ok := tombstonedFrom[k]; ok && e >= tomb {
			continue
		}
		out = append(out, r)
	}
	return out
}
