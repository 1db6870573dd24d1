// Package graphstore implements the `.gstore/` partitioned graph engine
// (spec §4.3): CSR segments + per-partition delta logs + a WAL, MVCC by
// manifest epoch, k-hop BFS and bounded shortest-path traversal, and
// threshold-triggered GC/compaction.
package graphstore

import (
	"encoding/json"
	"path/filepath"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

// Partitioning describes the partition assignment function (spec §3).
type Partitioning struct {
	Strategy string `json:"strategy"` // "hash"
	Seed     int64  `json:"seed"`
}

// Manifest is `meta/manifest.json` (spec §3). Epoch only advances after a
// successful compaction publishes new segments (spec §4.3).
type Manifest struct {
	Engine             string         `json:"engine"`
	Epoch              uint64         `json:"epoch"`
	Partitions         int            `json:"partitions"`
	Partitioning       Partitioning   `json:"partitioning"`
	Options            map[string]any `json:"options"`
	SegListPerPartition [][]string    `json:"seg_list_per_partition"`
}

func NewManifest(partitions int, seed int64) *Manifest {
	segs := make([][]string, partitions)
	return &Manifest{
		Engine:       "graphstore",
		Epoch:        0,
		Partitions:   partitions,
		Partitioning: Partitioning{Strategy: "hash", Seed: seed},
		Options:      map[string]any{},
		SegListPerPartition: segs,
	}
}

func manifestPath(root string) string { return filepath.Join(root, "meta", "manifest.json") }

func LoadManifest(root string) (*Manifest, error) {
	data, err := storage.ReadFileOrNotFound(manifestPath(root))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperror.Ddl("bad_manifest_json", "parsing manifest: %v", err)
	}
	return &m, nil
}

// Save atomically publishes the manifest (temp-then-rename, spec §5 "Manifest
// file ... writes use temp-then-rename").
func (m *Manifest) Save(root string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperror.Internal("manifest_marshal_failed", "%v", err)
	}
	return storage.AtomicWriteFile(manifestPath(root), data, 0o644)
}

func (m *Manifest) PartitionOf(nodeKey string, seed int64) int {
	return int(hashKey(nodeKey, seed) % uint64(m.Partitions))
}
