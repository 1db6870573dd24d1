// Package tschunk implements Clarium's append-only time-series chunk
// engine (spec §4.1): chunks named data-<minT>-<maxT>-<ts>.<ext>, a
// per-table schema.json that only ever widens, and time-predicate pruning
// at scan time using each chunk's filename range before any row is read.
package tschunk

import (
	"fmt"
	"regexp"
	"strconv"
)

// legacyChunkPrefix is the prefix of the legacy filename tolerated at read time per
// spec §6 ("readers must tolerate a legacy data.<ext>").
const legacyChunkPrefix = "data."

var chunkNameRe = regexp.MustCompile(`^data-(\d+)-(\d+)-(\d+)\.(.+)$`)

// ExtPlain and ExtCompressed are the on-disk extensions for a chunk body, chosen by
// StorageConfig.CompressChunks (spec SPEC_FULL §4.1).
const (
	ExtPlain      = "clc"
	ExtCompressed = "gz.clc"
)

// ChunkInfo describes one chunk file's identity as encoded in its name.
type ChunkInfo struct {
	Name string
	MinT int64
	MaxT int64
	CreatedTs int64
	Ext  string
	Legacy bool
}

// ChunkFileName renders the canonical data-<minT>-<maxT>-<ts>.<ext> name.
func ChunkFileName(minT, maxT, createdTs int64, ext string) string {
	return fmt.Sprintf("data-%d-%d-%d.%s", minT, maxT, createdTs, ext)
}

// ParseChunkName recognizes both the canonical and legacy chunk filename
// shapes. Legacy files carry no time range in their name, so pruning must
// fall back to reading them (they are never skipped by filename range).
func ParseChunkName(name string) (ChunkInfo, bool) {
	if m := chunkNameRe.FindStringSubmatch(name); m != nil {
		minT, err1 := strconv.ParseInt(m[1], 10, 64)
		maxT, err2 := strconv.ParseInt(m[2], 10, 64)
		ts, err3 := strconv.ParseInt(m[3], 10, 64)
		if err1 == nil && err2 == nil && err3 == nil {
			return ChunkInfo{Name: name, MinT: minT, MaxT: maxT, CreatedTs: ts, Ext: m[4]}, true
		}
	}
	if len(name) > len(legacyChunkPrefix) && name[:len(legacyChunkPrefix)] == legacyChunkPrefix {
		return ChunkInfo{Name: name, Ext: name[len(legacyChunkPrefix):], Legacy: true}, true
	}
	return ChunkInfo{}, false
}

// TimePredicate is an inclusive [Lo,Hi] range over _time, spec §4.1's
// "exact predicate" applied per row after filename-range pruning. A zero
// value (HasLo=HasHi=false) matches every row.
type TimePredicate struct {
	HasLo bool
	Lo    int64
	HasHi bool
	Hi    int64
}

// OverlapsChunk reports whether the predicate's range can possibly
// intersect a chunk spanning [minT,maxT]; used to skip whole chunks
// without opening them (spec §4.1 "prune by time predicate").
func (p TimePredicate) OverlapsChunk(minT, maxT int64) bool {
	if p.HasHi && minT > p.Hi {
		return false
	}
	if p.HasLo && maxT < p.Lo {
		return false
	}
	return true
}

// Matches applies the exact per-row predicate.
func (p TimePredicate) Matches(t int64) bool {
	if p.HasLo && t < p.Lo {
		return false
	}
	if p.HasHi && t > p.Hi {
		return false
	}
	return true
}
