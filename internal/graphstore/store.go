package graphstore

import (
	"os"
	"path/filepath"
	"sync"

	"clarium/internal/apperror"
)

// Store is the open handle to one `.gstore/` directory: the manifest, the
// node dictionary, the WAL, and one DeltaLog per partition — everything a
// reader or writer needs, loaded once and shared read-only/append-only
// per spec §5 ("HNSW index loaded once, shared read-only" applies here to
// the manifest pointer + segment set).
type Store struct {
	root     string
	mu       sync.RWMutex
	manifest *Manifest
	dict     *Dict
	wal      *WAL
	deltas   map[int]*DeltaLog
	segments map[int][]*Segment // cached decoded segments per partition, rebuilt on compaction
	policy   syncPolicy
	nextTxn  uint64
}

// Open creates a fresh store (if root doesn't exist) or opens an existing
// one, replaying the WAL tail to reconstruct any delta entries a crash
// left un-flushed (spec §4.3 recovery).
func Open(root string, partitions int, seed int64, policy string) (*Store, error) {
	sp := syncPolicy(policy)
	switch sp {
	case syncAlways, syncBatch, syncRelaxed:
	default:
		sp = syncBatch
	}

	manifest, err := LoadManifest(root)
	if err != nil {
		if ae, ok := apperror.As(err); !ok || ae.Kind != apperror.KindNotFound {
			return nil, err
		}
		manifest = NewManifest(partitions, seed)
		if err := os.MkdirAll(filepath.Join(root, "meta"), 0o755); err != nil {
			return nil, apperror.Io("mkdir_failed", err)
		}
		if err := manifest.Save(root); err != nil {
			return nil, err
		}
	}

	dict, err := OpenDict(root)
	if err != nil {
		return nil, err
	}

	wal, err := OpenWAL(root, sp)
	if err != nil {
		return nil, err
	}

	s := &Store{
		root: root, manifest: manifest, dict: dict, wal: wal,
		deltas: map[int]*DeltaLog{}, segments: map[int][]*Segment{}, policy: sp,
	}
	for p := 0; p < manifest.Partitions; p++ {
		dl, err := OpenDeltaLog(root, p, sp)
		if err != nil {
			return nil, err
		}
		s.deltas[p] = dl
	}

	if err := s.recoverWAL(); err != nil {
		return nil, err
	}
	if err := s.loadSegments(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deltas {
		_ = d.Close()
	}
	return s.wal.Close()
}

func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.Epoch
}

// recoverWAL replays into delta.log the prepare record of every txn the
// WAL holds a commit record for; aborted txns are skipped. A crash
// mid-prepare drops that txn entirely (no commit record -> never
// applied); a crash mid-commit replays the intent into delta.log on
// startup (spec §4.3 failure semantics, §8 property 8).
func (s *Store) recoverWAL() error {
	records, err := ReadAllWAL(s.root)
	if err != nil {
		return err
	}
	decisions := map[uint64]WALKind{}
	prepared := map[uint64]WALRecord{}
	for _, r := range records {
		switch r.Kind {
		case WALPrepare:
			prepared[r.TxnID] = r
		case WALCommit, WALAbort:
			decisions[r.TxnID] = r.Kind
		}
	}
	for txnID, rec := range prepared {
		if decisions[txnID] == WALCommit {
			if err := s.applyIntents(txnID, rec.Intents); err != nil {
				return err
			}
		}
		// no commit/abort record: txn never reached a decision, dropped.
	}
	return nil
}

func (s *Store) applyIntents(txnID uint64, intents []EdgeIntent) error {
	epoch := s.manifest.Epoch
	for _, in := range intents {
		src, _ := s.dict.Lookup(in.SrcKey)
		dst, _ := s.dict.Lookup(in.DstKey)
		part := s.manifest.PartitionOf(in.SrcKey, s.manifest.Partitioning.Seed)
		dl := s.deltas[part]
		rec := DeltaRecord{
			Tombstone: in.Tombstone, Src: src, Dst: dst, EType: in.EType,
			HasWeight: in.HasWeight, Weight: in.Weight,
			TsBegin: epoch, TsEnd: 0, TxnID: txnID,
		}
		if in.TsEnd != 0 {
			rec.TsEnd = uint64(in.TsEnd)
		}
		if err := dl.Append(rec); err != nil {
			return err
		}
	}
	return s.dict.Flush()
}

func (s *Store) loadSegments() error {
	for p, segNames := range s.manifest.SegListPerPartition {
		var segs []*Segment
		for _, name := range segNames {
			seg, err := LoadSegmentMmap(filepath.Join(partitionDir(s.root, p), name))
			if err != nil {
				continue // spec §7: corrupt segment on load -> skip rather than fail the whole store
			}
			segs = append(segs, seg)
		}
		s.segments[p] = segs
	}
	return nil
}

// Stats reports partition count, delta-record count, tombstone ratio, and
// the current epoch (SPEC_FULL §4.3 supplemental introspection call).
type Stats struct {
	Partitions       int
	Epoch            uint64
	DeltaRecords     int
	TombstoneRecords int
	TombstoneRatioPPM int64
}

func (s *Store) GetStats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Partitions: s.manifest.Partitions, Epoch: s.manifest.Epoch}
	for p := 0; p < s.manifest.Partitions; p++ {
		recs, err := ReadAllDelta(s.root, p)
		if err != nil {
			return st, err
		}
		st.DeltaRecords += len(recs)
		for _, r := range recs {
			if r.Tombstone {
				st.TombstoneRecords++
			}
		}
	}
	if st.DeltaRecords > 0 {
		st.TombstoneRatioPPM = int64(st.TombstoneRecords) * 1_000_000 / int64(st.DeltaRecords)
	}
	return st, nil
}
