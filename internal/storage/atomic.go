package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"clarium/internal/apperror"
)

// AtomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place. The rename is the commit point: readers never
// observe a partially written file (spec §4.1 "the rename is the commit
// point", §5 "writes use temp-then-rename").
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.Io("mkdir_failed", err)
	}
	tmp, err := os.CreateTemp(dir, ".clarium-tmp-*")
	if err != nil {
		return apperror.Io("tempfile_failed", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return apperror.Io("write_failed", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return apperror.Io("fsync_failed", err)
	}
	if err := tmp.Close(); err != nil {
		return apperror.Io("close_failed", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return apperror.Io("chmod_failed", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperror.Io("rename_failed", err)
	}
	return nil
}

// AtomicWriteFileIfAbsent is AtomicWriteFile but fails with Conflict if the
// destination already exists at rename time (best-effort — not a true CAS,
// since POSIX rename always replaces; callers needing real CAS should use
// the ETag-guarded paths in internal/filestore instead).
func AtomicWriteFileIfAbsent(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return apperror.Conflict("already_exists", "object already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return apperror.Io("stat_failed", err)
	}
	return AtomicWriteFile(path, data, perm)
}

// EnsureDir creates dir and all parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.Io("mkdir_failed", err)
	}
	return nil
}

// RemoveAll removes a path (file or directory) idempotently.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return apperror.Io("remove_failed", fmt.Errorf("removing %s: %w", path, err))
	}
	return nil
}
