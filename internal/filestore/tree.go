package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"clarium/internal/apperror"
)

func treeFile(root, id string) string {
	return filepath.Join(root, "trees", id+".json")
}

func treeID(entries map[string]string) string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, entries[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CreateTree snapshots every live (non-tombstoned) path under prefix into
// an immutable Tree keyed by the content hash of its entry set (spec §3
// "trees (folder snapshots)", §4.4 "create_tree"). Paths are stored
// relative to prefix.
func (s *Store) CreateTree(prefix string) (*Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix = normalizePath(prefix)
	entries, err := s.listUnderPrefix(prefix)
	if err != nil {
		return nil, err
	}
	t := &Tree{ID: treeID(entries), Prefix: prefix, Entries: entries}
	if err := marshalSave(treeFile(s.root, t.ID), t); err != nil {
		return nil, err
	}
	return t, nil
}

// listUnderPrefix walks paths/*.json rather than the normalized logical
// namespace directly, since path keys are content-hashed and carry no
// directory structure of their own.
func (s *Store) listUnderPrefix(prefix string) (map[string]string, error) {
	entries := map[string]string{}
	dir := filepath.Join(s.root, "paths")
	names, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range names {
		var pe PathEntry
		if err := loadJSON(filepath.Join(dir, f), &pe); err != nil {
			continue
		}
		if pe.Tombstoned {
			continue
		}
		if prefix != "" && !strings.HasPrefix(pe.Path, prefix) {
			continue
		}
		rel := strings.TrimPrefix(pe.Path, prefix)
		rel = strings.TrimPrefix(rel, "/")
		entries[rel] = pe.HeadManifest
	}
	return entries, nil
}

func (s *Store) loadTree(id string) (*Tree, error) {
	var t Tree
	if err := loadJSON(treeFile(s.root, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func commitFile(root, id string) string {
	return filepath.Join(root, "commits", id+".json")
}

func commitID(c *Commit) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%v\n%s\n%d\n", c.TreeID, c.Parents, c.Message, c.CreatedMs)
	return hex.EncodeToString(h.Sum(nil))
}

// CommitTree records a new commit DAG node over an already-created tree
// (spec §4.4 "commit_tree"). Every parent must already exist.
func (s *Store) CommitTree(treeID string, parents []string, branch, author, message string, tags []string, createdMs int64) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadTree(treeID); err != nil {
		return nil, err
	}
	for _, p := range parents {
		if _, err := s.loadCommit(p); err != nil {
			return nil, apperror.UserInput("unknown_parent", "parent commit %q not found", p)
		}
	}
	c := &Commit{TreeID: treeID, Parents: parents, Branch: branch, Author: author, Message: message, Tags: tags, CreatedMs: createdMs}
	c.ID = commitID(c)
	if err := marshalSave(commitFile(s.root, c.ID), c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) loadCommit(id string) (*Commit, error) {
	var c Commit
	if err := loadJSON(commitFile(s.root, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
