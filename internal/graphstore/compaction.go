package graphstore

import (
	"fmt"
	"os"

	"clarium/internal/apperror"
)

// GCThresholds mirrors the CLARIUM_GRAPH_GC_* configuration knobs (spec §6).
type GCThresholds struct {
	MaxDeltaRecords   int
	TombstoneRatioPPM int
	MaxDeltaAgeMs     int64
}

// NeedsCompaction reports whether the delta logs, counted across all
// partitions together, exceed t.MaxDeltaRecords or t.TombstoneRatioPPM
// (a zero threshold is skipped). t.MaxDeltaAgeMs is not evaluated.
func (s *Store) NeedsCompaction(t GCThresholds) (bool, error) {
	st, err := s.GetStats()
	if err != nil {
		return false, err
	}
	if t.MaxDeltaRecords > 0 && st.DeltaRecords > t.MaxDeltaRecords {
		return true, nil
	}
	if t.TombstoneRatioPPM > 0 && st.TombstoneRatioPPM > int64(t.TombstoneRatioPPM) {
		return true, nil
	}
	return false, nil
}

// Compact merges every partition's current segments + delta log into one
// fresh segment per partition, publishes a new manifest epoch atomically,
// and truncates the delta logs that were folded in. Readers holding an
// older epoch remain valid against the old segments/manifest until their
// snapshot is released — this implementation leaves prior segment files
// on disk (GC of unreachable segments is a separate retention sweep, not
// part of compaction itself) (spec §4.3, §5, §8 property 7).
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	numNodes := s.dict.nextID
	newEpoch := s.manifest.Epoch + 1
	newSegLists := make([][]string, s.manifest.Partitions)

	for p := 0; p < s.manifest.Partitions; p++ {
		recs, err := ReadAllDelta(s.root, p)
		if err != nil {
			return err
		}
		var merged []DeltaRecord
		for _, old := range s.segments[p] {
			for u := uint64(0); u < old.NumNodes; u++ {
				for _, e := range old.OutEdgesAt(u, newEpoch) {
					merged = append(merged, DeltaRecord{Src: u, Dst: e.Dst, EType: e.EType, HasWeight: e.HasWeight, Weight: e.Weight, TsBegin: e.TsBegin, TsEnd: e.TsEnd})
				}
			}
		}
		visible := VisibleAt(append(merged, recs...), newEpoch)
		seg := BuildSegment(visible, numNodes)
		segName := fmt.Sprintf("adj.%d", newEpoch)
		path := segmentPath(s.root, p, int(newEpoch))
		if err := seg.Save(path); err != nil {
			return err
		}
		newSegLists[p] = []string{segName}
		s.segments[p] = []*Segment{seg}

		if err := s.deltas[p].Close(); err != nil {
			return err
		}
		if err := os.Remove(deltaLogPath(s.root, p)); err != nil && !os.IsNotExist(err) {
			return apperror.Io("delta_truncate_failed", err)
		}
		dl, err := OpenDeltaLog(s.root, p, s.policy)
		if err != nil {
			return err
		}
		s.deltas[p] = dl
	}

	s.manifest.Epoch = newEpoch
	s.manifest.SegListPerPartition = newSegLists
	if err := s.manifest.Save(s.root); err != nil {
		return err
	}
	return nil
}
