package planner

import (
	"strings"

	"clarium/internal/apperror"
)

// OutputColumn is one entry in a ProjectionContract's final order: the
// display name, its defining expression, and the source alias used to
// disambiguate a collision.
type OutputColumn struct {
	Name  string
	Expr  Expr
	Alias string // qualifying alias used to break a name collision, "" otherwise
}

// ProjectionContract is the planner-produced, deterministic list of
// output columns in their final order (spec GLOSSARY). Built once at
// plan time from the SELECT item list plus whatever `*`/`alias.*`
// wildcards it contains.
type ProjectionContract struct {
	FinalOrder []OutputColumn
}

// BuildProjectionContract expands `*` and `alias.*` across the given
// sources (left to right, in FROM/JOIN order) excluding internal-prefixed
// columns, then dedupes name collisions deterministically: an explicit
// SELECT item wins over a wildcard-expanded one; a remaining collision
// between two wildcard-expanded columns is qualified with its source
// alias (spec §4.5 step 3).
func BuildProjectionContract(items []SelectItem, sources []Source, hasGroupingClause bool) (*ProjectionContract, error) {
	type candidate struct {
		OutputColumn
		explicit bool
	}
	var cands []candidate

	for _, item := range items {
		if item.Wildcard {
			if hasGroupingClause {
				return nil, apperror.Exec("wildcard_with_grouping", "combining * with BY/GROUP BY/ROLLING is rejected")
			}
			for _, src := range sources {
				if item.WildcardFrom != "" {
					if src.Alias != item.WildcardFrom && src.Name != item.WildcardFrom {
						continue
					}
				}
				for _, col := range src.Columns {
					if strings.HasPrefix(col, internalPrefix) {
						continue
					}
					alias := src.Alias
					if alias == "" {
						alias = src.Name
					}
					cands = append(cands, candidate{
						OutputColumn: OutputColumn{Name: col, Expr: ColumnRef{Qualifier: alias, Name: col}, Alias: alias},
						explicit:      false,
					})
				}
			}
			continue
		}

		name := item.Alias
		if name == "" {
			if cr, ok := item.Expr.(ColumnRef); ok {
				name = cr.Name
			} else if fc, ok := item.Expr.(FuncCall); ok {
				name = strings.ToLower(fc.Name)
			} else {
				name = "?column?"
			}
		}
		cands = append(cands, candidate{
			OutputColumn: OutputColumn{Name: name, Expr: item.Expr},
			explicit:      true,
		})
	}

	// Dedup: explicit items win outright; among non-explicit collisions,
	// qualify each with its source alias.
	byName := make(map[string][]int)
	for i, c := range cands {
		byName[c.Name] = append(byName[c.Name], i)
	}

	final := make([]OutputColumn, 0, len(cands))
	skip := make(map[int]bool)
	for name, idxs := range byName {
		if len(idxs) == 1 {
			continue
		}
		explicitIdx := -1
		for _, i := range idxs {
			if cands[i].explicit {
				explicitIdx = i
				break
			}
		}
		if explicitIdx >= 0 {
			for _, i := range idxs {
				if i != explicitIdx {
					skip[i] = true
				}
			}
			continue
		}
		// all wildcard-expanded: qualify every one with alias.name
		for _, i := range idxs {
			cands[i].Name = cands[i].Alias + "." + name
		}
	}

	for i, c := range cands {
		if skip[i] {
			continue
		}
		final = append(final, c.OutputColumn)
	}

	return &ProjectionContract{FinalOrder: final}, nil
}
