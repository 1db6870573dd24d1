package storage

import (
	"os"

	"clarium/internal/apperror"
)

func readFile(path string) ([]byte, error) {
	return ReadFileOrNotFound(path)
}

// ReadFileOrNotFound reads path, mapping a missing file to apperror's
// NotFound kind instead of a raw os.ErrNotExist — used by every engine
// package that loads a JSON sidecar file (schema.json, .vindex, manifest.json).
func ReadFileOrNotFound(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.NotFound("not_found", "no such file: %s", path)
		}
		return nil, apperror.Io("read_failed", err)
	}
	return data, nil
}
