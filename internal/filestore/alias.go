package filestore

import (
	"path/filepath"
	"sort"
	"strings"

	"clarium/internal/apperror"
)

func aliasFile(root, destPrefix string) string {
	return filepath.Join(root, "aliases", pathKey(destPrefix)+".json")
}

func (s *Store) loadAlias(destPrefix string) (*Alias, error) {
	var a Alias
	if err := loadJSON(aliasFile(s.root, destPrefix), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) listAliases() ([]*Alias, error) {
	dir := filepath.Join(s.root, "aliases")
	names, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Alias, 0, len(names))
	for _, f := range names {
		var a Alias
		if err := loadJSON(filepath.Join(dir, f), &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

// Clone creates a metadata-only alias redirecting reads under destPrefix
// to content rooted at sourcePrefix (spec §3 "clones (metadata-only
// aliases)", §4.4 "clone"). follow_head re-resolves the source's live
// paths on every read; pinned_tree/pinned_commit freeze the view at the
// tree or commit that existed at clone time. A follow_head clone whose
// source chain of follow_head aliases leads back under its own
// destination is rejected outright, keeping the alias graph acyclic.
func (s *Store) Clone(destPrefix string, mode AliasMode, sourcePrefix, treeOrCommitID string, strictACL bool) (*Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	destPrefix = normalizePath(destPrefix)
	sourcePrefix = normalizePath(sourcePrefix)

	if mode == AliasFollowHead {
		if err := s.checkAliasAcyclic(destPrefix, sourcePrefix); err != nil {
			return nil, err
		}
	}

	a := &Alias{DestPrefix: destPrefix, Mode: mode, SourcePrefix: sourcePrefix, StrictACL: strictACL, ETag: newETag(destPrefix, 0)}
	switch mode {
	case AliasPinnedTree:
		if _, err := s.loadTree(treeOrCommitID); err != nil {
			return nil, err
		}
		a.TreeID = treeOrCommitID
	case AliasPinnedCommit:
		if _, err := s.loadCommit(treeOrCommitID); err != nil {
			return nil, err
		}
		a.CommitID = treeOrCommitID
	case AliasFollowHead:
		// resolved dynamically at read time, nothing to pin.
	default:
		return nil, apperror.UserInput("bad_alias_mode", "unknown clone mode %q", mode)
	}

	if err := marshalSave(aliasFile(s.root, destPrefix), a); err != nil {
		return nil, err
	}
	return a, nil
}

// checkAliasAcyclic walks the follow_head alias chain starting at
// sourcePrefix, rejecting the clone if destPrefix appears anywhere in it
// (spec §4.4 "clone(...) - Non-goals don't exclude cycle rejection at
// creation time").
func (s *Store) checkAliasAcyclic(destPrefix, sourcePrefix string) error {
	seen := map[string]bool{destPrefix: true}
	cur := sourcePrefix
	for i := 0; i < 64; i++ {
		if strings.HasPrefix(cur, destPrefix) {
			return apperror.UserInput("alias_cycle", "clone would create a cycle through %q", destPrefix)
		}
		a, err := s.matchAlias(cur)
		if err != nil {
			return nil // no covering alias, chain terminates in real paths
		}
		if a.Mode != AliasFollowHead {
			return nil
		}
		if seen[a.DestPrefix] {
			return apperror.UserInput("alias_cycle", "clone would create a cycle through %q", a.DestPrefix)
		}
		seen[a.DestPrefix] = true
		cur = a.SourcePrefix
	}
	return apperror.UserInput("alias_cycle", "alias chain exceeds depth limit, suspected cycle")
}

// matchAlias finds the longest alias dest_prefix covering path (spec
// §4.4 "longest-prefix-wins").
func (s *Store) matchAlias(path string) (*Alias, error) {
	aliases, err := s.listAliases()
	if err != nil {
		return nil, err
	}
	sort.Slice(aliases, func(i, j int) bool { return len(aliases[i].DestPrefix) > len(aliases[j].DestPrefix) })
	for _, a := range aliases {
		if strings.HasPrefix(path, a.DestPrefix) {
			return a, nil
		}
	}
	return nil, apperror.NotFound("no_alias", "no alias covers %q", path)
}

// resolveAlias rewrites path through its covering alias (if any) to the
// real path it should be read from. pinned_tree/pinned_commit aliases
// resolve to a manifest lookup instead, handled by the caller via
// ResolveToManifest.
func (s *Store) resolveAlias(path string) (string, error) {
	a, err := s.matchAlias(path)
	if err != nil {
		return path, nil
	}
	if a.Mode != AliasFollowHead {
		return path, nil
	}
	rel := strings.TrimPrefix(path, a.DestPrefix)
	return a.SourcePrefix + rel, nil
}

// ResolveToManifest resolves path to its current head manifest id,
// following pinned_tree/pinned_commit aliases by looking the relative
// path up in the frozen tree snapshot instead of the live path index
// (spec §4.4, property 10 "clone visibility").
func (s *Store) ResolveToManifest(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = normalizePath(path)
	a, err := s.matchAlias(path)
	if err != nil {
		pe, err := s.loadPathEntry(path)
		if err != nil {
			return "", err
		}
		if pe.Tombstoned {
			return "", apperror.NotFound("path_deleted", "path %q was deleted", path)
		}
		return pe.HeadManifest, nil
	}

	rel := strings.TrimPrefix(path, a.DestPrefix)
	rel = strings.TrimPrefix(rel, "/")

	switch a.Mode {
	case AliasFollowHead:
		real := a.SourcePrefix + "/" + rel
		pe, err := s.loadPathEntry(normalizePath(real))
		if err != nil {
			return "", err
		}
		return pe.HeadManifest, nil
	case AliasPinnedTree:
		t, err := s.loadTree(a.TreeID)
		if err != nil {
			return "", err
		}
		id, ok := t.Entries[rel]
		if !ok {
			return "", apperror.NotFound("not_in_tree", "%q not present in pinned tree %s", rel, a.TreeID)
		}
		return id, nil
	case AliasPinnedCommit:
		c, err := s.loadCommit(a.CommitID)
		if err != nil {
			return "", err
		}
		t, err := s.loadTree(c.TreeID)
		if err != nil {
			return "", err
		}
		id, ok := t.Entries[rel]
		if !ok {
			return "", apperror.NotFound("not_in_tree", "%q not present in commit %s", rel, a.CommitID)
		}
		return id, nil
	}
	return "", apperror.Internal("bad_alias_mode", "alias %q has unknown mode %q", a.DestPrefix, a.Mode)
}
