package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"clarium/internal/apperror"
)

const chunkSize = 4 << 20 // 4 MiB, spec §3 "content is split into content-addressed chunks"

func manifestID(contentType string, chunks []string) string {
	h := sha256.New()
	io.WriteString(h, contentType)
	for _, c := range chunks {
		io.WriteString(h, c)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func splitAndStore(root string, data []byte) ([]string, error) {
	var hashes []string
	for off := 0; off < len(data) || (off == 0 && len(data) == 0); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		hash, err := putBlob(root, data[off:end])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
		if len(data) == 0 {
			break
		}
	}
	return hashes, nil
}

// Ingest creates the path's manifest from an in-memory payload and
// returns the fresh ETag (spec §4.4 "ingest"). Ingesting over an existing
// path fails with path_exists; callers use Update instead, which forces
// them through the CAS check.
func (s *Store) Ingest(path, contentType string, data []byte) (*PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = normalizePath(path)
	if _, err := s.loadPathEntry(path); err == nil {
		return nil, apperror.Conflict("path_exists", "path %q already exists, use update", path)
	} else if !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}

	hashes, err := splitAndStore(s.root, data)
	if err != nil {
		return nil, err
	}
	m := &Manifest{ID: manifestID(contentType, hashes), ContentType: contentType, Size: int64(len(data)), ChunkHashes: hashes}
	if err := s.saveManifest(m); err != nil {
		return nil, err
	}
	pe := &PathEntry{Path: path, HeadManifest: m.ID, ETag: newETag(path, 0)}
	if err := s.savePathEntry(pe); err != nil {
		return nil, err
	}
	return pe, nil
}

// IngestHost streams a file already resident on the host filesystem into
// the store (spec §4.4 "ingest_host"). Symlinks are rejected outright:
// following them would let a caller exfiltrate or clobber arbitrary host
// paths through the blob store.
func (s *Store) IngestHost(path, hostPath, contentType string) (*PathEntry, error) {
	info, err := os.Lstat(hostPath)
	if err != nil {
		return nil, apperror.Io("host_stat_failed", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, apperror.UserInput("symlink_rejected", "ingest_host refuses to follow symlink %s", hostPath)
	}
	f, err := os.Open(hostPath)
	if err != nil {
		return nil, apperror.Io("host_open_failed", err)
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	path = normalizePath(path)
	if _, err := s.loadPathEntry(path); err == nil {
		return nil, apperror.Conflict("path_exists", "path %q already exists, use update", path)
	} else if !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}

	var hashes []string
	size := int64(0)
	buf := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			hash, err := putBlob(s.root, buf[:n])
			if err != nil {
				return nil, err
			}
			hashes = append(hashes, hash)
			size += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, apperror.Io("host_read_failed", rerr)
		}
	}

	m := &Manifest{ID: manifestID(contentType, hashes), ContentType: contentType, Size: size, ChunkHashes: hashes}
	if err := s.saveManifest(m); err != nil {
		return nil, err
	}
	pe := &PathEntry{Path: path, HeadManifest: m.ID, ETag: newETag(path, 0)}
	if err := s.savePathEntry(pe); err != nil {
		return nil, err
	}
	return pe, nil
}

// Update replaces a path's content under optimistic concurrency control:
// ifMatch must equal the entry's current ETag or the call fails with a
// precondition_failed error, the CAS contract scenario S5 and testable
// property 9 exercise (spec §4.4 "update(path, if_match_etag, bytes)").
func (s *Store) Update(path, ifMatch, contentType string, data []byte) (*PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = normalizePath(path)
	pe, err := s.loadPathEntry(path)
	if err != nil {
		return nil, err
	}
	if pe.ETag != ifMatch {
		return nil, apperror.Conflict("precondition_failed", "etag mismatch for %q: have %s, want %s", path, pe.ETag, ifMatch)
	}

	hashes, err := splitAndStore(s.root, data)
	if err != nil {
		return nil, err
	}
	m := &Manifest{ID: manifestID(contentType, hashes), ContentType: contentType, Size: int64(len(data)), ChunkHashes: hashes}
	if err := s.saveManifest(m); err != nil {
		return nil, err
	}
	pe.HeadManifest = m.ID
	pe.ETag = newETag(path+"@"+pe.ETag, 1)
	if err := s.savePathEntry(pe); err != nil {
		return nil, err
	}
	return pe, nil
}

// Rename moves a path entry to a new key, preserving its head manifest
// and minting a fresh ETag (spec §4.4 "rename").
func (s *Store) Rename(oldPath, newPath string) (*PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)
	pe, err := s.loadPathEntry(oldPath)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadPathEntry(newPath); err == nil {
		return nil, apperror.Conflict("path_exists", "destination %q already exists", newPath)
	} else if !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}

	npe := &PathEntry{Path: newPath, HeadManifest: pe.HeadManifest, ETag: newETag(newPath, 0), Attrs: pe.Attrs}
	if err := s.savePathEntry(npe); err != nil {
		return nil, err
	}
	if err := os.Remove(s.pathEntryFile(oldPath)); err != nil {
		return nil, apperror.Io("rename_cleanup_failed", err)
	}
	return npe, nil
}

// Delete soft-tombstones a path: the entry file is kept (so aliases and
// commit trees that still reference its manifest resolve) but flagged
// tombstoned, and future lookups of the bare path report not_found
// (spec §4.4 "delete").
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = normalizePath(path)
	pe, err := s.loadPathEntry(path)
	if err != nil {
		return err
	}
	pe.Tombstoned = true
	return s.savePathEntry(pe)
}
