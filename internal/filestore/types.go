// Package filestore implements Clarium's content-addressed blob store
// (spec §4.4): ETag-guarded logical paths, chunked ingestion, a manifest/
// tree/commit DAG, metadata-only clone aliases, and plumbing-level Git
// export. ACL and redaction are external collaborators (spec §1 scope).
package filestore

import (
	"encoding/json"

	"clarium/internal/apperror"
	"clarium/internal/storage"
)

// PathEntry is the `path -> {head_manifest, etag, attrs}` record spec §3
// describes, CAS-guarded on ETag.
type PathEntry struct {
	Path         string         `json:"path"`
	HeadManifest string         `json:"head_manifest"`
	ETag         string         `json:"etag"`
	Attrs        map[string]any `json:"attrs,omitempty"`
	Tombstoned   bool           `json:"tombstoned,omitempty"`
}

// Manifest describes one logical path's content at a point in time: the
// ordered list of content-addressed chunks that make it up.
type Manifest struct {
	ID          string   `json:"id"`
	ContentType string   `json:"content_type"`
	Size        int64    `json:"size"`
	ChunkHashes []string `json:"chunk_hashes"`
}

// Tree is a folder snapshot: a flat map of relative path -> manifest id,
// rooted at an optional prefix (spec §3 "trees (folder snapshots)").
type Tree struct {
	ID      string            `json:"id"`
	Prefix  string            `json:"prefix"`
	Entries map[string]string `json:"entries"` // relative path -> manifest id
}

// Commit is one node in the plumbing-level commit DAG (spec §3/§4.4).
type Commit struct {
	ID        string   `json:"id"`
	TreeID    string   `json:"tree_id"`
	Parents   []string `json:"parents,omitempty"`
	Branch    string   `json:"branch,omitempty"`
	Author    string   `json:"author,omitempty"`
	Message   string   `json:"message"`
	Tags      []string `json:"tags,omitempty"`
	CreatedMs int64    `json:"created_ms"`
}

// AliasMode is a clone's redirection behavior (spec §3).
type AliasMode string

const (
	AliasFollowHead   AliasMode = "follow_head"
	AliasPinnedTree   AliasMode = "pinned_tree"
	AliasPinnedCommit AliasMode = "pinned_commit"
)

// Alias is one `dest_prefix -> {mode, source, strict_acl, etag}` clone
// record (spec §3/§4.4).
type Alias struct {
	DestPrefix   string    `json:"dest_prefix"`
	Mode         AliasMode `json:"mode"`
	SourcePrefix string    `json:"source_prefix,omitempty"`
	TreeID       string    `json:"tree_id,omitempty"`
	CommitID     string    `json:"commit_id,omitempty"`
	StrictACL    bool      `json:"strict_acl"`
	ETag         string    `json:"etag"`
}

func marshalSave(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperror.Internal("filestore_marshal_failed", "%v", err)
	}
	return storage.AtomicWriteFile(path, data, 0o644)
}

func loadJSON(path string, v any) error {
	data, err := storage.ReadFileOrNotFound(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperror.Ddl("bad_filestore_json", "parsing %s: %v", path, err)
	}
	return nil
}
