package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

// blobDir returns the fan-out directory for a content hash, mirroring
// Git's two-char/rest loose-object layout so the export path (git.go) can
// reuse the same shard scheme.
func blobDir(root, hash string) string {
	return filepath.Join(root, "blobs", hash[:2])
}

func blobPath(root, hash string) string {
	return filepath.Join(blobDir(root, hash), hash[2:])
}

// putBlob content-addresses data by its sha256 digest and writes it once;
// a blob already on disk is left untouched (write-once, spec §3 "content
// is split into content-addressed chunks").
func putBlob(root string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := blobPath(root, hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := storage.EnsureDir(blobDir(root, hash)); err != nil {
		return "", err
	}
	if err := storage.AtomicWriteFileIfAbsent(path, data, 0o644); err != nil {
		return "", err
	}
	return hash, nil
}

func getBlob(root, hash string) ([]byte, error) {
	return storage.ReadFileOrNotFound(blobPath(root, hash))
}

// hashReader streams r into a single blob, used by ingest_host so large
// host files are never fully buffered before their digest is known.
func hashReader(root string, r io.Reader) (string, int64, error) {
	h := sha256.New()
	tmp, err := os.CreateTemp(filepath.Join(root, "blobs"), "ingest-*")
	if err != nil {
		return "", 0, apperror.Io("ingest_tmp_failed", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	n, err := io.Copy(io.MultiWriter(h, tmp), r)
	if err != nil {
		return "", 0, apperror.Io("ingest_read_failed", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))
	path := blobPath(root, hash)
	if _, statErr := os.Stat(path); statErr == nil {
		return hash, n, nil
	}
	if err := storage.EnsureDir(blobDir(root, hash)); err != nil {
		return "", 0, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, apperror.Io("ingest_seek_failed", err)
	}
	data, err := io.ReadAll(tmp)
	if err != nil {
		return "", 0, apperror.Io("ingest_read_failed", err)
	}
	if err := storage.AtomicWriteFileIfAbsent(path, data, 0o644); err != nil {
		return "", 0, err
	}
	return hash, n, nil
}
