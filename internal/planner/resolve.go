package planner

import (
	"sort"
	"strings"

	"clarium/internal/apperror"
)

// internalPrefix marks working columns (__mask, __ann_score, __row_id,
// __tmp_*) that are excluded from * expansion and dropped at Finalize.
const internalPrefix = "__"

// Source is one visible name-resolution source: a base table/view, a
// CTE, a subquery, or a MATCH/TVF rewrite result, each exposing its
// column list under zero or more aliases.
type Source struct {
	Alias   string // "" if unaliased; the bare table/CTE name is also a valid reference
	Name    string // base name (table, view, or CTE name) for unaliased lookups
	Columns []string
}

// NameResolver tracks the sources visible in the current scope (outer
// query or CTE body) with alias priority, and resolves both qualified
// (alias.col) and unqualified references against them (spec §4.5 step 2,
// NameResolverSpec).
type NameResolver struct {
	sources []Source
}

func NewNameResolver() *NameResolver { return &NameResolver{} }

func (r *NameResolver) AddSource(s Source) { r.sources = append(r.sources, s) }

func (r *NameResolver) bySpecifier(spec string) []Source {
	var out []Source
	for _, s := range r.sources {
		if s.Alias != "" && s.Alias == spec {
			out = append(out, s)
		} else if s.Alias == "" && s.Name == spec {
			out = append(out, s)
		}
	}
	return out
}

func hasColumn(s Source, name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Resolve returns the source a column reference binds to. Quoted
// identifiers are matched case-sensitively (callers pass the lexer's
// exact text, which already preserves case for quoted idents and is
// lowercased by convention for bare ones at the call site if desired);
// internal-prefixed names are reserved and only resolvable when a
// caller explicitly asks for one (e.g. Finalize), never via ordinary
// lookup.
func (r *NameResolver) Resolve(ref ColumnRef) (Source, error) {
	if strings.HasPrefix(ref.Name, internalPrefix) {
		return Source{}, apperror.Exec("reserved_identifier", "column %q uses the reserved internal prefix", ref.Name)
	}

	if ref.Qualifier != "" {
		matches := r.bySpecifier(ref.Qualifier)
		if len(matches) == 0 {
			return Source{}, apperror.Exec("unknown_source", "no visible source named %q", ref.Qualifier)
		}
		for _, s := range matches {
			if hasColumn(s, ref.Name) {
				return s, nil
			}
		}
		return Source{}, apperror.Exec("unknown_column", "source %q has no column %q", ref.Qualifier, ref.Name)
	}

	var found []Source
	for _, s := range r.sources {
		if hasColumn(s, ref.Name) {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 0:
		return Source{}, apperror.Exec("unknown_column", "no visible source provides column %q", ref.Name)
	case 1:
		return found[0], nil
	default:
		return Source{}, apperror.Exec("ambiguous_column", "column %q is ambiguous across %d sources", ref.Name, len(found))
	}
}

// SessionScope's Qualify resolves a possibly-unqualified db/schema/obj
// triple (FROM clause) against session defaults, or passes it through unchanged
// when fully qualified (spec §4.5 step 2, "qualified db/schema/obj
// short-circuits to storage").
type SessionScope interface {
	Qualify(db, schema, obj string) (string, string, string, error)
	// VectorTuning exposes the session's ANN knobs so a built Plan can
	// carry them into AnnOrderNode without exec reaching back into the
	// session (spec §4.2 "threading ef_search/preselect_alpha").
	VectorTuning() (efSearch int, preselectAlpha float64)
}

func QualifyTableRef(scope SessionScope, ref *TableRef) (db, schema, obj string, err error) {
	return scope.Qualify("", ref.Schema, ref.Name)
}

// sortedSourceNames returns source display names (alias, else table name)
// in sorted order. Nothing in the package calls it.
func sortedSourceNames(sources []Source) []string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		if s.Alias != "" {
			names = append(names, s.Alias)
		} else {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}
