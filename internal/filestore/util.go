package filestore

import (
	"os"
	"strings"

	"clarium/internal/apperror"
)

// listJSONFiles returns the base names of every *.json file directly
// under dir, tolerating a directory that doesn't exist yet.
func listJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.Io("list_dir_failed", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}
