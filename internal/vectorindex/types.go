// Package vectorindex implements Clarium's HNSW-backed ANN vector index
// engine (spec §4.2): .vindex JSON metadata, .vdata binary HNSW body, the
// create/build/search/reindex/drop contract, and the two-phase ANN+exact
// re-score policy the planner's ANN ORDER BY rewrite depends on.
package vectorindex

import (
	"encoding/json"
	"time"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

// Metric is one of the three distance/similarity functions spec §3 names.
type Metric string

const (
	MetricL2     Metric = "L2"
	MetricCosine Metric = "cosine"
	MetricIP     Metric = "IP"
)

// Better reports whether score a ranks ahead of score b under this
// metric's ordering policy (spec §4.2: "L2 ascending, cosine/IP
// descending").
func (m Metric) Better(a, b float64) bool {
	if m == MetricL2 {
		return a < b
	}
	return a > b
}

// Mode is the index's incremental-update policy (spec §3). Only
// RebuildOnly is mandatory; the others are a thin extension point.
type Mode string

const (
	ModeImmediate   Mode = "IMMEDIATE"
	ModeBatched     Mode = "BATCHED"
	ModeAsync       Mode = "ASYNC"
	ModeRebuildOnly Mode = "REBUILD_ONLY"
)

// Params bundles the three HNSW tuning knobs spec §3/§6 name.
type Params struct {
	M         int
	EfBuild   int
	EfSearch  int
}

// IndexStatus is the `.vindex.status` object spec §4.2 requires build() to
// update.
type IndexStatus struct {
	State       string `json:"state"` // empty|building|ready|failed
	RowsIndexed int     `json:"rows_indexed"`
	Bytes       int64   `json:"bytes"`
	BuiltAtMs   int64   `json:"built_at_ms"`
	ElapsedMs   int64   `json:"elapsed_ms"`
}

// Meta is the .vindex JSON document (spec §3/§6).
type Meta struct {
	Name   string  `json:"name"`
	Table  string  `json:"table"`
	Column string  `json:"column"`
	Algo   string  `json:"algo"`
	Metric Metric  `json:"metric"`
	Dim    int     `json:"dim"`
	Params Params  `json:"params"`
	Mode   Mode    `json:"mode"`
	Status IndexStatus `json:"status"`
}

func DefaultParams() Params { return Params{M: 16, EfBuild: 200, EfSearch: 64} }

func NewMeta(name, table, column string, metric Metric, dim int, params Params, mode Mode) *Meta {
	return &Meta{
		Name: name, Table: table, Column: column,
		Algo: "hnsw", Metric: metric, Dim: dim, Params: params, Mode: mode,
		Status: IndexStatus{State: "empty"},
	}
}

func LoadMeta(path string) (*Meta, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperror.Ddl("bad_vindex_json", "parsing %s: %v", path, err)
	}
	return &m, nil
}

func (m *Meta) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperror.Internal("vindex_marshal_failed", "%v", err)
	}
	return storage.AtomicWriteFile(path, data, 0o644)
}

func nowMs() int64 { return time.Now().UnixMilli() }

func readFile(path string) ([]byte, error) {
	return storage.ReadFileOrNotFound(path)
}
