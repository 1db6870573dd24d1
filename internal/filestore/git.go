package filestore

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"clarium/internal/apperror"
)

// GitBackend is the plumbing-level export seam (spec §4.4 "Git plumbing
// export"): Clarium never shells out to a porcelain `git commit`, it
// writes objects directly and lets a real git binary handle the
// network-facing transfer commands.
type GitBackend interface {
	WriteBlob(data []byte) (string, error)
	WriteTree(entries []GitTreeEntry) (string, error)
	WriteCommit(treeSHA string, parents []string, author, message string) (string, error)
	UpdateRef(ref, sha string) error
	LsRemote(remote string) (map[string]string, error)
	Fetch(remote, ref string) error
	Push(remote, ref string) error
}

// GitTreeEntry is one line of a git tree object.
type GitTreeEntry struct {
	Mode string // "100644", "100755", "040000"
	Name string
	SHA  string
}

// LocalGit writes loose objects under gitRoot/.git/objects using the
// same sha1-of-("type size\0"+payload) + zlib-deflate scheme git itself
// uses, and shells out to the system git binary for anything that
// touches the network (spec §4.4; git's wire protocol is out of scope
// for a from-scratch reimplementation).
type LocalGit struct {
	gitRoot string
}

func NewLocalGit(gitRoot string) *LocalGit {
	return &LocalGit{gitRoot: gitRoot}
}

func (g *LocalGit) objectsDir() string {
	return filepath.Join(g.gitRoot, ".git", "objects")
}

func (g *LocalGit) writeLooseObject(kind string, payload []byte) (string, error) {
	header := fmt.Sprintf("%s %d\x00", kind, len(payload))
	full := append([]byte(header), payload...)

	sum := sha1.Sum(full)
	sha := hex.EncodeToString(sum[:])

	dir := filepath.Join(g.objectsDir(), sha[:2])
	path := filepath.Join(dir, sha[2:])
	if _, err := os.Stat(path); err == nil {
		return sha, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperror.Io("git_mkdir_failed", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(full); err != nil {
		return "", apperror.Io("git_deflate_failed", err)
	}
	if err := zw.Close(); err != nil {
		return "", apperror.Io("git_deflate_failed", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o444); err != nil {
		return "", apperror.Io("git_object_write_failed", err)
	}
	return sha, nil
}

// WriteBlob writes a git blob object and returns its sha1 (spec §4.4).
func (g *LocalGit) WriteBlob(data []byte) (string, error) {
	return g.writeLooseObject("blob", data)
}

// WriteTree encodes entries in git's tree-object binary format: each
// line is "<mode> <name>\0<20-byte raw sha>", entries sorted by name as
// git requires for a canonical tree sha.
func (g *LocalGit) WriteTree(entries []GitTreeEntry) (string, error) {
	sorted := make([]GitTreeEntry, len(entries))
	copy(sorted, entries)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Name > sorted[j].Name; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	var buf bytes.Buffer
	for _, e := range sorted {
		raw, err := hex.DecodeString(e.SHA)
		if err != nil || len(raw) != 20 {
			return "", apperror.Internal("bad_git_sha", "entry %q has malformed sha %q", e.Name, e.SHA)
		}
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode, e.Name)
		buf.Write(raw)
	}
	return g.writeLooseObject("tree", buf.Bytes())
}

// WriteCommit writes a git commit object referencing treeSHA (spec §4.4).
func (g *LocalGit) WriteCommit(treeSHA string, parents []string, author, message string) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", treeSHA)
	for _, p := range parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\ncommitter %s\n\n%s\n", author, author, message)
	return g.writeLooseObject("commit", buf.Bytes())
}

// UpdateRef points ref at sha, going through `git update-ref` so the
// reflog and packed-refs invariants stay consistent with a real checkout.
func (g *LocalGit) UpdateRef(ref, sha string) error {
	return g.run("update-ref", ref, sha)
}

// LsRemote shells out to `git ls-remote` and parses the ref -> sha map
// (spec §4.4 "ls-remote").
func (g *LocalGit) LsRemote(remote string) (map[string]string, error) {
	cmd := exec.Command("git", "ls-remote", remote)
	cmd.Dir = g.gitRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, apperror.Io("git_ls_remote_failed", err)
	}
	refs := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		refs[fields[1]] = fields[0]
	}
	return refs, nil
}

// Fetch shells out to `git fetch` (spec §4.4 "fetch").
func (g *LocalGit) Fetch(remote, ref string) error {
	return g.run("fetch", remote, ref)
}

// Push shells out to `git push` (spec §4.4 "push").
func (g *LocalGit) Push(remote, ref string) error {
	return g.run("push", remote, ref)
}

func (g *LocalGit) run(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.gitRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return apperror.Io("git_command_failed", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out))
	}
	return nil
}

// ExportCommit materializes a Clarium commit's tree as git objects and
// returns the resulting git commit sha, letting a collaborator push the
// result with a real git client (spec §4.4 "Git plumbing export").
func (s *Store) ExportCommit(g GitBackend, commitID, author string) (string, error) {
	c, err := s.loadCommit(commitID)
	if err != nil {
		return "", err
	}
	t, err := s.loadTree(c.TreeID)
	if err != nil {
		return "", err
	}

	var entries []GitTreeEntry
	for rel, mid := range t.Entries {
		_, data, err := s.ReadManifest(mid)
		if err != nil {
			return "", err
		}
		blobSHA, err := g.WriteBlob(data)
		if err != nil {
			return "", err
		}
		entries = append(entries, GitTreeEntry{Mode: "100644", Name: rel, SHA: blobSHA})
	}
	treeSHA, err := g.WriteTree(entries)
	if err != nil {
		return "", err
	}

	var parentSHAs []string
	for _, p := range c.Parents {
		sha, err := s.ExportCommit(g, p, author)
		if err != nil {
			return "", err
		}
		parentSHAs = append(parentSHAs, sha)
	}
	return g.WriteCommit(treeSHA, parentSHAs, author, c.Message)
}
