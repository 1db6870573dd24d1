// Package kvstore implements Clarium's embedded KV Store engine (spec
// §3): `<db>.store.<name>.<key>` namespaces backed by a single bbolt
// file per store, with optional TTL and reset-on-access semantics.
package kvstore

import (
	"encoding/json"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"clarium/internal/apperror"
	"clarium/pkg/types"
)

// ValueKind mirrors the closed set of KV payload shapes from spec §3.
type ValueKind string

const (
	KindBytes  ValueKind = "bytes"
	KindString ValueKind = "string"
	KindJSON   ValueKind = "json"
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindBool   ValueKind = "bool"
)

// envelope is the on-disk wrapper stored as every bbolt value, carrying
// TTL and reset-on-access metadata alongside the payload (spec §3 "KV
// Store" + SPEC_FULL.md "value envelope").
type envelope struct {
	Kind          ValueKind       `json:"kind"`
	Raw           json.RawMessage `json:"raw"`
	ExpiresAtMs   int64           `json:"expires_at_ms,omitempty"` // 0 = no TTL
	ResetOnAccess bool            `json:"reset_on_access,omitempty"`
	TTLMs         int64           `json:"ttl_ms,omitempty"`
}

// Store is one `<db>.store.<name>.kv` bbolt file. Namespaces are bbolt
// buckets, created lazily on first write.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at dir/<name>.kv.
// bbolt's single-writer mmap-backed transactions are used directly
// rather than re-derived by hand (see DESIGN.md).
func Open(dir, name string) (*Store, error) {
	path := filepath.Join(dir, name+".kv")
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperror.Io("kvstore_open_failed", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperror.Io("kvstore_close_failed", err)
	}
	return nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Put writes key under namespace, optionally with a TTL (0 disables it)
// and reset-on-access (each Get pushes expires_at forward by ttlMs).
func (s *Store) Put(namespace, key string, kind ValueKind, raw json.RawMessage, ttlMs int64, resetOnAccess bool) error {
	env := envelope{Kind: kind, Raw: raw, TTLMs: ttlMs, ResetOnAccess: resetOnAccess}
	if ttlMs > 0 {
		env.ExpiresAtMs = nowMs() + ttlMs
	}
	data, err := json.Marshal(env)
	if err != nil {
		return apperror.Internal("kvstore_marshal_failed", "%v", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return apperror.Io("kvstore_put_failed", err)
	}
	return nil
}

// Get reads key from namespace. An expired entry is treated as not
// found and deleted inside this same call's update transaction; a
// reset_on_access entry has its expiry pushed forward as part of this
// same call.
func (s *Store) Get(namespace, key string) (ValueKind, json.RawMessage, error) {
	var env envelope
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return apperror.Internal("kvstore_corrupt_value", "namespace %q key %q: %v", namespace, key, err)
		}
		if env.ExpiresAtMs != 0 && nowMs() >= env.ExpiresAtMs {
			return b.Delete([]byte(key))
		}
		found = true
		if env.ResetOnAccess && env.TTLMs > 0 {
			env.ExpiresAtMs = nowMs() + env.TTLMs
			refreshed, err := json.Marshal(env)
			if err != nil {
				return err
			}
			return b.Put([]byte(key), refreshed)
		}
		return nil
	})
	if err != nil {
		return "", nil, apperror.Io("kvstore_get_failed", err)
	}
	if !found {
		return "", nil, apperror.NotFound("kv_not_found", "namespace %q key %q not found", namespace, key)
	}
	return env.Kind, env.Raw, nil
}

// Delete removes key from namespace.
func (s *Store) Delete(namespace, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return apperror.Io("kvstore_delete_failed", err)
	}
	return nil
}

// Scan lists every live (non-expired) key in namespace in bbolt's
// native byte order, reaping expired entries it encounters along the way.
func (s *Store) Scan(namespace string) ([]string, error) {
	var keys []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return nil
			}
			if env.ExpiresAtMs != 0 && nowMs() >= env.ExpiresAtMs {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			keys = append(keys, string(k))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperror.Io("kvstore_scan_failed", err)
	}
	return keys, nil
}

// ToValue decodes an envelope's raw payload into a types.Value of the
// matching kind, for callers that bridge the KV Store into DataFrame
// results.
func ToValue(kind ValueKind, raw json.RawMessage) (types.Value, error) {
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return types.Value{}, apperror.Internal("kv_decode_failed", "%v", err)
		}
		return types.Str(s), nil
	case KindInt:
		var i int64
		if err := json.Unmarshal(raw, &i); err != nil {
			return types.Value{}, apperror.Internal("kv_decode_failed", "%v", err)
		}
		return types.Int64(i), nil
	case KindFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return types.Value{}, apperror.Internal("kv_decode_failed", "%v", err)
		}
		return types.Float64(f), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return types.Value{}, apperror.Internal("kv_decode_failed", "%v", err)
		}
		return types.Bool(b), nil
	case KindBytes:
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return types.Value{}, apperror.Internal("kv_decode_failed", "%v", err)
		}
		return types.Bytes(b), nil
	case KindJSON:
		return types.Str(string(raw)), nil
	default:
		return types.Value{}, apperror.Internal("kv_unknown_kind", "unknown kv value kind %q", kind)
	}
}
