package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/text/unicode/norm"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

// Store is one `<db>.fs` content-addressed filestore (spec §3/§4.4): a
// root holding blobs/, paths/, manifests/, trees/, commits/, aliases/.
// Every logical path is its own JSON file so CAS on ETag never contends
// across unrelated paths, mirroring the teacher's per-object-file layout
// for schema.json/manifest.json (see DESIGN.md).
type Store struct {
	root string
	mu   sync.Mutex
}

func Open(root string) (*Store, error) {
	for _, sub := range []string{"blobs", "paths", "manifests", "trees", "commits", "aliases"} {
		if err := storage.EnsureDir(filepath.Join(root, sub)); err != nil {
			return nil, err
		}
	}
	return &Store{root: root}, nil
}

// normalizePath applies NFC normalization so visually identical paths
// submitted in different Unicode forms collide onto the same entry
// (spec §4.4 "logical paths are normalized to NFC").
func normalizePath(p string) string {
	return norm.NFC.String(p)
}

func pathKey(p string) string {
	sum := sha256.Sum256([]byte(normalizePath(p)))
	return hex.EncodeToString(sum[:])
}

func (s *Store) pathEntryFile(p string) string {
	return filepath.Join(s.root, "paths", pathKey(p)+".json")
}

func (s *Store) loadPathEntry(p string) (*PathEntry, error) {
	var pe PathEntry
	if err := loadJSON(s.pathEntryFile(p), &pe); err != nil {
		return nil, err
	}
	return &pe, nil
}

func (s *Store) savePathEntry(pe *PathEntry) error {
	return marshalSave(s.pathEntryFile(pe.Path), pe)
}

func newETag(path string, counter int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", path, counter)))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) manifestFile(id string) string {
	return filepath.Join(s.root, "manifests", id+".json")
}

func (s *Store) saveManifest(m *Manifest) error {
	return marshalSave(s.manifestFile(m.ID), m)
}

func (s *Store) loadManifest(id string) (*Manifest, error) {
	var m Manifest
	if err := loadJSON(s.manifestFile(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetPath resolves path through any covering alias (longest-prefix-wins,
// spec §4.4) before returning its current entry.
func (s *Store) GetPath(path string) (*PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved, err := s.resolveAlias(path)
	if err != nil {
		return nil, err
	}
	pe, err := s.loadPathEntry(resolved)
	if err != nil {
		return nil, err
	}
	if pe.Tombstoned {
		return nil, apperror.NotFound("path_deleted", "path %q has been deleted", path)
	}
	return pe, nil
}

// ReadManifest exposes a manifest plus its concatenated blob contents,
// used by readers that already hold a head_manifest id (e.g. from
// create_tree) rather than a live path lookup.
func (s *Store) ReadManifest(id string) (*Manifest, []byte, error) {
	m, err := s.loadManifest(id)
	if err != nil {
		return nil, nil, err
	}
	var out []byte
	for _, h := range m.ChunkHashes {
		chunk, err := getBlob(s.root, h)
		if err != nil {
			return nil, nil, apperror.Internal("missing_blob", "manifest %s references missing blob %s", id, h)
		}
		out = append(out, chunk...)
	}
	return m, out, nil
}
