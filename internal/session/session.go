// Package session maintains per-session defaults and per-thread tuning
// knobs (spec §4.6): current database/schema/graph/user and the
// ef_search/hnsw.M/hnsw.ef_build/vector.preselect_alpha/strict_projection
// settings the planner captures into a plan at build time.
package session

import (
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"clarium/internal/apperror"
)

// TuningConfig holds the thread-local knobs `SET <knob> = <value>` can
// change (spec §3 "Session State", §6 "recognized knobs").
type TuningConfig struct {
	HnswM                int     `mapstructure:"vector.hnsw.M"`
	HnswEfBuild          int     `mapstructure:"vector.hnsw.ef_build"`
	VectorSearchEfSearch int     `mapstructure:"vector.search.ef_search"`
	VectorPreselectAlpha float64 `mapstructure:"vector.preselect_alpha"`
	StrictProjection     bool    `mapstructure:"strict_projection"`
}

// DefaultTuningConfig mirrors internal/config's documented vector/exec
// defaults so a fresh session behaves identically to the global config
// until a SET statement overrides a knob.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		HnswM:                16,
		HnswEfBuild:          200,
		VectorSearchEfSearch: 64,
		VectorPreselectAlpha: 2.0,
		StrictProjection:     false,
	}
}

// Session is one connection's current scope plus its tuning knobs (spec
// §3 "Session State"). CurrentGraph is optional: UNSET GRAPH clears it.
type Session struct {
	ID            string
	CurrentDB     string
	CurrentSchema string
	CurrentGraph  string
	CurrentUser   string
	Tuning        TuningConfig
}

// recognizedKnobs is the closed set from spec §6 "SET <knob> = <value>
// (recognized knobs: ...)" — every other name is rejected as UserInput.
var recognizedKnobs = map[string]bool{
	"vector.hnsw.M":           true,
	"vector.hnsw.ef_build":    true,
	"vector.search.ef_search": true,
	"vector.preselect_alpha":  true,
	"strict_projection":       true,
}

// SetKnob decodes an untyped literal (as parsed from SQL text: a bool,
// int64, float64, or string) into the matching TuningConfig field using
// mapstructure's loose-input decoding keyed by the struct's own
// `mapstructure` tags, the same idiom the teacher uses to turn request
// payloads into typed structs (spec §6 "SET <knob> = <value>").
func (s *Session) SetKnob(knob string, value any) error {
	if !recognizedKnobs[knob] {
		return apperror.UserInput("unknown_knob", "unrecognized session setting %q", knob)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s.Tuning,
		TagName:          "mapstructure",
	})
	if err != nil {
		return apperror.Internal("knob_decoder_failed", "%v", err)
	}
	if err := decoder.Decode(map[string]any{knob: value}); err != nil {
		return apperror.UserInput("bad_knob_value", "setting %q: %v", knob, err)
	}
	return nil
}

// Manager is the connection registry: a mutex-guarded map from session
// id to Session, grounded on the teacher's session.Manager (spec §4.6).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Open creates (or returns, if id already exists) a session with the
// given default scope.
func (m *Manager) Open(id, defaultDB, defaultSchema, defaultUser string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{ID: id, CurrentDB: defaultDB, CurrentSchema: defaultSchema, CurrentUser: defaultUser, Tuning: DefaultTuningConfig()}
	m.sessions[id] = s
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperror.NotFound("session_not_found", "no session %q", id)
	}
	return s, nil
}

func (m *Manager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// UseDatabase implements `USE DATABASE x` (spec §6).
func (s *Session) UseDatabase(db string) { s.CurrentDB = db }

// UseSchema implements `USE SCHEMA x` (spec §6).
func (s *Session) UseSchema(schema string) { s.CurrentSchema = schema }

// UseGraph implements `USE GRAPH x` (spec §6).
func (s *Session) UseGraph(graph string) { s.CurrentGraph = graph }

// UnsetGraph implements `UNSET GRAPH` (spec §6).
func (s *Session) UnsetGraph() { s.CurrentGraph = "" }

// ShowCurrentGraph implements `SHOW CURRENT GRAPH` (spec §6): returns
// ("", false) when no graph is selected.
func (s *Session) ShowCurrentGraph() (string, bool) {
	if s.CurrentGraph == "" {
		return "", false
	}
	return s.CurrentGraph, true
}

// Qualify resolves an optionally db/schema-qualified object name against
// session defaults (spec §4.5 "Qualified db/schema/obj short-circuits to
// storage; unqualified uses session defaults").
func (s *Session) Qualify(db, schema, obj string) (string, string, string, error) {
	if obj == "" {
		return "", "", "", apperror.UserInput("empty_identifier", "object name is empty")
	}
	if db == "" {
		db = s.CurrentDB
	}
	if schema == "" {
		schema = s.CurrentSchema
	}
	if db == "" || schema == "" {
		return "", "", "", apperror.Exec("no_default_scope", "no default database/schema set for unqualified name %q", obj)
	}
	return db, schema, obj, nil
}

// VectorTuning exposes the ANN ORDER BY knobs the planner captures into
// a built Plan at plan time (spec §4.2 "threading ef_search/preselect_alpha").
func (s *Session) VectorTuning() (efSearch int, preselectAlpha float64) {
	return s.Tuning.VectorSearchEfSearch, s.Tuning.VectorPreselectAlpha
}
