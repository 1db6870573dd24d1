package planner

import (
	"strconv"
	"strings"

	"clarium/internal/apperror"
)

// Parser turns one statement's source text into a Statement, following
// the teacher's "Parser struct wrapping a tokenizer" idiom (see
// internal/prd.Parser) generalized from document sections to SQL tokens.
type Parser struct {
	lex  *lexer
	cur  token
	prev token
}

func NewParser(src string) (*Parser, error) {
	p := &Parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.prev = p.cur
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *Parser) kw(word string) bool {
	return p.cur.kind == tokIdent && strings.EqualFold(p.cur.text, word)
}

func (p *Parser) punct(sym string) bool {
	return (p.cur.kind == tokPunct || p.cur.kind == tokStar) && p.cur.text == sym
}

func (p *Parser) expectKw(word string) error {
	if !p.kw(word) {
		return apperror.UserInput("syntax_error", "expected %q at position %d, got %q", word, p.cur.pos, p.cur.text)
	}
	return p.advance()
}

func (p *Parser) expectPunct(sym string) error {
	if !p.punct(sym) {
		return apperror.UserInput("syntax_error", "expected %q at position %d, got %q", sym, p.cur.pos, p.cur.text)
	}
	return p.advance()
}

// Parse parses exactly one top-level statement: USE/UNSET/SHOW, SET,
// SELECT (optionally WITH-prefixed), MATCH, CREATE, or DROP (spec §6
// "Session commands", §4.5).
func (p *Parser) Parse() (*Statement, error) {
	switch {
	case p.kw("USE"):
		u, err := p.parseUse()
		return &Statement{Use: u}, err
	case p.kw("UNSET"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("GRAPH"); err != nil {
			return nil, err
		}
		return &Statement{Use: &UseStmt{Kind: "UNSET_GRAPH"}}, nil
	case p.kw("SHOW"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("CURRENT"); err != nil {
			return nil, err
		}
		if err := p.expectKw("GRAPH"); err != nil {
			return nil, err
		}
		return &Statement{Use: &UseStmt{Kind: "SHOW_CURRENT_GRAPH"}}, nil
	case p.kw("SET"):
		s, err := p.parseSet()
		return &Statement{Set: s}, err
	case p.kw("WITH"), p.kw("SELECT"):
		sel, err := p.parseSelect()
		return &Statement{Select: sel}, err
	case p.kw("MATCH"):
		m, err := p.parseMatchPattern()
		if err != nil {
			return nil, err
		}
		sel := &SelectStmt{
			Match:   m,
			Items:   rewriteMatchItems(m.Return, m),
			OrderBy: rewriteMatchOrder(m.OrderBy, m),
		}
		return &Statement{Select: sel}, nil
	case p.kw("CREATE"):
		return p.parseCreate()
	case p.kw("DROP"):
		d, err := p.parseDrop()
		return &Statement{Drop: d}, err
	default:
		return nil, apperror.UserInput("syntax_error", "unrecognized statement starting at %q", p.cur.text)
	}
}

// splitQualified splits a dotted identifier into (db, schema, name),
// applying session defaults being the caller's job — this only separates
// what was actually written (spec §3 "Three-level path db/schema/obj").
func splitQualified(name string) (db, schema, obj string) {
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		return "", "", parts[0]
	case 2:
		return "", parts[0], parts[1]
	default:
		return parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
	}
}

func (p *Parser) parseIfNotExists() (bool, error) {
	if p.kw("IF") {
		if err := p.advance(); err != nil {
			return false, err
		}
		if err := p.expectKw("NOT"); err != nil {
			return false, err
		}
		if err := p.expectKw("EXISTS"); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// parseCreate covers CREATE TABLE, CREATE TIME TABLE, CREATE VIEW,
// CREATE INDEX, and CREATE GRAPH (spec §3 object lifecycle "created by
// CREATE DDL").
func (p *Parser) parseCreate() (*Statement, error) {
	if err := p.advance(); err != nil { // consume CREATE
		return nil, err
	}
	switch {
	case p.kw("TIME"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("TABLE"); err != nil {
			return nil, err
		}
		ct, err := p.parseCreateTableBody(true)
		return &Statement{CreateTable: ct}, err
	case p.kw("TABLE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ct, err := p.parseCreateTableBody(false)
		return &Statement{CreateTable: ct}, err
	case p.kw("VIEW"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		cv, err := p.parseCreateView()
		return &Statement{CreateView: cv}, err
	case p.kw("INDEX"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		ci, err := p.parseCreateIndex()
		return &Statement{CreateIndex: ci}, err
	case p.kw("GRAPH"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		cg, err := p.parseCreateGraph()
		return &Statement{CreateGraph: cg}, err
	default:
		return nil, apperror.UserInput("syntax_error", "expected TABLE|TIME TABLE|VIEW|INDEX|GRAPH after CREATE, got %q", p.cur.text)
	}
}

func (p *Parser) parseCreateTableBody(isTime bool) (*CreateTableStmt, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	db, schema, obj := splitQualified(name)
	stmt := &CreateTableStmt{DB: db, Schema: schema, Name: obj, Time: isTime, IfNotExists: ifNotExists}

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		if p.kw("PRIMARY") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKw("KEY"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			for {
				stmt.Primary = append(stmt.Primary, p.cur.text)
				if err := p.advance(); err != nil {
					return nil, err
				}
				if p.punct(",") {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
		} else {
			colName := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			typ, err := p.parseColumnType()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, ColumnDef{Name: colName, Type: typ})
		}
		if p.punct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseColumnType parses one of string|int64|float64|bool|vector(N) (spec
// §3 schema.json value set).
func (p *Parser) parseColumnType() (string, error) {
	name := strings.ToLower(p.cur.text)
	if err := p.advance(); err != nil {
		return "", err
	}
	if name == "vector" {
		if err := p.expectPunct("("); err != nil {
			return "", err
		}
		dim := p.cur.text
		if err := p.advance(); err != nil {
			return "", err
		}
		if err := p.expectPunct(")"); err != nil {
			return "", err
		}
		return "vector(" + dim + ")", nil
	}
	switch name {
	case "string", "int64", "float64", "bool":
		return name, nil
	default:
		return "", apperror.UserInput("bad_column_type", "unknown column type %q", name)
	}
}

func (p *Parser) parseCreateView() (*CreateViewStmt, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	db, schema, obj := splitQualified(name)
	if err := p.expectKw("AS"); err != nil {
		return nil, err
	}
	// The remainder of the statement text is the view's definition SQL;
	// the lexer has already tokenized past it, so re-render from the
	// source position the SELECT keyword started at.
	startPos := p.cur.pos
	def := string(p.lex.src[startPos:])
	return &CreateViewStmt{DB: db, Schema: schema, Name: obj, DefinitionSQL: def, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseCreateIndex() (*CreateIndexStmt, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	db, schema, obj := splitQualified(name)
	stmt := &CreateIndexStmt{DB: db, Schema: schema, Name: obj, Metric: "L2", M: 16, EfBuild: 200, EfSearch: 64, Mode: "REBUILD_ONLY", IfNotExists: ifNotExists}

	if err := p.expectKw("ON"); err != nil {
		return nil, err
	}
	table := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	stmt.Table = table
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	stmt.Column = p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if p.kw("USING") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("HNSW"); err != nil {
			return nil, err
		}
	}
	if p.punct("(") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			key := strings.ToUpper(p.cur.text)
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectPunct("="); err != nil {
				return nil, err
			}
			val := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			switch key {
			case "METRIC":
				stmt.Metric = normalizeMetric(val)
			case "DIM":
				n, _ := strconv.Atoi(val)
				stmt.Dim = n
			case "M":
				n, _ := strconv.Atoi(val)
				stmt.M = n
			case "EF_BUILD":
				n, _ := strconv.Atoi(val)
				stmt.EfBuild = n
			case "EF_SEARCH":
				n, _ := strconv.Atoi(val)
				stmt.EfSearch = n
			case "MODE":
				stmt.Mode = strings.ToUpper(val)
			}
			if p.punct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// normalizeMetric maps a CREATE INDEX metric literal onto the exact enum
// spelling spec §3 documents: L2, cosine, IP.
func normalizeMetric(val string) string {
	switch strings.ToUpper(val) {
	case "L2":
		return "L2"
	case "IP":
		return "IP"
	default:
		return "cosine"
	}
}

func (p *Parser) parseCreateGraph() (*CreateGraphStmt, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	db, schema, obj := splitQualified(name)
	stmt := &CreateGraphStmt{DB: db, Schema: schema, Name: obj, Partitions: 8, IfNotExists: ifNotExists}
	if p.kw("PARTITIONS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(p.cur.text)
		if err != nil {
			return nil, apperror.UserInput("bad_partitions", "invalid PARTITIONS value %q", p.cur.text)
		}
		stmt.Partitions = n
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseDrop() (*DropStmt, error) {
	if err := p.advance(); err != nil { // consume DROP
		return nil, err
	}
	var kind string
	switch {
	case p.kw("TABLE"):
		kind = "TABLE"
	case p.kw("VIEW"):
		kind = "VIEW"
	case p.kw("INDEX"):
		kind = "INDEX"
	case p.kw("GRAPH"):
		kind = "GRAPH"
	default:
		return nil, apperror.UserInput("syntax_error", "expected TABLE|VIEW|INDEX|GRAPH after DROP, got %q", p.cur.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	ifExists := false
	if p.kw("IF") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("EXISTS"); err != nil {
			return nil, err
		}
		ifExists = true
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	db, schema, obj := splitQualified(name)
	return &DropStmt{Kind: kind, DB: db, Schema: schema, Name: obj, IfExists: ifExists}, nil
}

func (p *Parser) parseUse() (*UseStmt, error) {
	if err := p.advance(); err != nil { // consume USE
		return nil, err
	}
	var kind string
	switch {
	case p.kw("DATABASE"):
		kind = "DATABASE"
	case p.kw("SCHEMA"):
		kind = "SCHEMA"
	case p.kw("GRAPH"):
		kind = "GRAPH"
	default:
		return nil, apperror.UserInput("syntax_error", "expected DATABASE|SCHEMA|GRAPH after USE")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &UseStmt{Kind: kind, Name: name}, nil
}

func (p *Parser) parseSet() (*SetStmt, error) {
	if err := p.advance(); err != nil { // consume SET
		return nil, err
	}
	knob := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	var value any
	switch {
	case p.cur.kind == tokNumber:
		n, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return nil, apperror.UserInput("bad_number", "invalid numeric literal %q", p.cur.text)
		}
		value = n
	case p.kw("TRUE"):
		value = true
	case p.kw("FALSE"):
		value = false
	default:
		value = p.cur.text
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &SetStmt{Knob: knob, Value: value}, nil
}

func (p *Parser) parseSelect() (*SelectStmt, error) {
	stmt := &SelectStmt{}

	if p.kw("WITH") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			name := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKw("AS"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			stmt.CTEs = append(stmt.CTEs, CTE{Name: name, Query: sub})
			if p.punct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if err := p.expectKw("SELECT"); err != nil {
		return nil, err
	}
	if p.kw("DISTINCT") {
		stmt.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Items = items

	if p.kw("FROM") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		from, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		stmt.From = from
		for p.kw("JOIN") || p.kw("LEFT") || p.kw("RIGHT") || p.kw("FULL") || p.kw("INNER") {
			j, err := p.parseJoin()
			if err != nil {
				return nil, err
			}
			stmt.Joins = append(stmt.Joins, j)
		}
	}

	if p.kw("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.kw("BY") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		b, err := p.parseByClause(false)
		if err != nil {
			return nil, err
		}
		stmt.By = b
	} else if p.kw("ROLLING") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		b, err := p.parseByClause(true)
		if err != nil {
			return nil, err
		}
		stmt.By = b
	}

	if p.kw("GROUP") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = exprs
	}

	if p.kw("HAVING") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = h
	}

	if p.kw("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		ob, ann, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = ob
		stmt.AnnOrder = ann
	}

	if p.kw("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		neg := false
		if p.punct("-") {
			neg = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		n, err := strconv.Atoi(p.cur.text)
		if err != nil {
			return nil, apperror.UserInput("bad_limit", "invalid LIMIT value %q", p.cur.text)
		}
		if neg {
			n = -n
		}
		stmt.Limit = n
		stmt.HasLimit = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if p.kw("INTO") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		stmt.Into = p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.kw("REPLACE") {
			stmt.IntoReplace = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.kw("APPEND") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if p.kw("UNION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		all := false
		if p.kw("ALL") {
			all = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		next, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.UnionNext = next
		stmt.UnionAll = all
	}

	return stmt, nil
}

func (p *Parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.punct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.punct("*") {
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
		return SelectItem{Wildcard: true}, nil
	}
	// alias.* lookahead: the lexer's isIdentPart keeps the trailing "." on
	// the identifier and emits "*" as its own token, so join them here.
	if p.cur.kind == tokIdent && strings.HasSuffix(p.cur.text, ".") {
		qual := strings.TrimSuffix(p.cur.text, ".")
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
		if err := p.expectPunct("*"); err != nil {
			return SelectItem{}, err
		}
		return SelectItem{Wildcard: true, WildcardFrom: qual}, nil
	}

	e, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.kw("AS") {
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
		item.Alias = p.cur.text
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
	}
	return item, nil
}

func (p *Parser) parseExprList() ([]Expr, error) {
	var exprs []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.punct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return exprs, nil
}

func (p *Parser) parseTableRef() (*TableRef, error) {
	if p.punct("(") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		ref := &TableRef{Subquery: sub}
		if p.cur.kind == tokIdent && !p.isClauseKeyword() {
			ref.Alias = p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		return ref, nil
	}

	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	ref := &TableRef{}
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Schema, ref.Name = parts[0], parts[1]
	default:
		ref.Schema, ref.Name = parts[len(parts)-2], parts[len(parts)-1]
	}
	if p.cur.kind == tokIdent && !p.isClauseKeyword() {
		ref.Alias = p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

var clauseKeywords = map[string]bool{
	"WHERE": true, "JOIN": true, "LEFT": true, "RIGHT": true, "FULL": true, "INNER": true,
	"BY": true, "ROLLING": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"INTO": true, "UNION": true, "ON": true, "AS": true,
}

func (p *Parser) isClauseKeyword() bool {
	return clauseKeywords[strings.ToUpper(p.cur.text)]
}

func (p *Parser) parseJoin() (JoinClause, error) {
	kind := "INNER"
	switch {
	case p.kw("LEFT"):
		kind = "LEFT"
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	case p.kw("RIGHT"):
		kind = "RIGHT"
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	case p.kw("FULL"):
		kind = "FULL"
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	case p.kw("INNER"):
		if err := p.advance(); err != nil {
			return JoinClause{}, err
		}
	}
	if err := p.expectKw("JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expectKw("ON"); err != nil {
		return JoinClause{}, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{Kind: kind, Table: *table, On: on}, nil
}

// parseMatchPattern parses the Cypher-like graph pattern (spec §4.5
// "Rewrites MATCH to graph TVFs", §8 scenario S4): `MATCH [SHORTEST]
// (alias:Label{key:'literal'})-[:EdgeType*min..max]->(alias2:Label2)
// RETURN ... [ORDER BY ...]`.
func (p *Parser) parseMatchPattern() (*MatchClause, error) {
	if err := p.advance(); err != nil { // consume MATCH
		return nil, err
	}
	m := &MatchClause{MinHops: 1, MaxHops: 1}
	if p.kw("SHORTEST") {
		m.Shortest = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	m.StartAlias = p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	m.StartLabel = p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.punct("{") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("key"); err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		if p.cur.kind != tokString {
			return nil, apperror.UserInput("syntax_error", "expected a string literal for MATCH key binding at %d", p.cur.pos)
		}
		m.StartKey = p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("}"); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("-"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	m.EdgeType = p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.punct("*") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		lo, hi, err := parseHopRange(p.cur.text)
		if err != nil {
			return nil, err
		}
		m.MinHops, m.MaxHops = lo, hi
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("-"); err != nil {
		return nil, err
	}
	if err := p.expectPunct(">"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	m.EndAlias = p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	m.EndLabel = p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectKw("RETURN"); err != nil {
		return nil, err
	}
	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	m.Return = items
	if p.kw("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKw("BY"); err != nil {
			return nil, err
		}
		ob, _, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		m.OrderBy = ob
	}
	return m, nil
}

// parseHopRange parses an edge's `*min..max` or `*n` hop bound. The
// lexer's number scanner consumes runs of digits and dots as one token,
// so `1..2` arrives as a single token that must be split here rather
// than as three separate tokens.
func parseHopRange(text string) (lo, hi int, err error) {
	if idx := strings.Index(text, ".."); idx >= 0 {
		lo, err = strconv.Atoi(text[:idx])
		if err != nil {
			return 0, 0, apperror.UserInput("bad_hop_range", "invalid hop range %q", text)
		}
		hi, err = strconv.Atoi(text[idx+2:])
		if err != nil {
			return 0, 0, apperror.UserInput("bad_hop_range", "invalid hop range %q", text)
		}
		return lo, hi, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, 0, apperror.UserInput("bad_hop_range", "invalid hop count %q", text)
	}
	return n, n, nil
}

func (p *Parser) parseByClause(rolling bool) (*ByClause, error) {
	if p.kw("SLICE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var labels []string
		if p.kw("USING") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKw("LABELS"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			for {
				labels = append(labels, p.cur.text)
				if err := p.advance(); err != nil {
					return nil, err
				}
				if p.punct(",") {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
		}
		alg, err := p.parseSliceExpr()
		if err != nil {
			return nil, err
		}
		return &ByClause{Slice: true, SliceAlgebra: alg, SliceLabels: labels}, nil
	}
	n, err := strconv.ParseInt(p.cur.text, 10, 64)
	if err != nil {
		return nil, apperror.UserInput("bad_interval", "invalid BY window interval %q", p.cur.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &ByClause{IntervalMs: n, Rolling: rolling}, nil
}

// parseSliceExpr parses one `(lo, hi, label:=value, ...)` interval,
// optionally combined with further intervals via UNION/INTERSECT (spec
// §4.5 "BY SLICE(plan) evaluates a slice algebra", §8 scenario S6).
func (p *Parser) parseSliceExpr() (SliceExpr, error) {
	left, err := p.parseSliceInterval()
	if err != nil {
		return nil, err
	}
	var expr SliceExpr = left
	for p.kw("UNION") || p.kw("INTERSECT") {
		op := strings.ToUpper(p.cur.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseSliceInterval()
		if err != nil {
			return nil, err
		}
		expr = SliceSetOp{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseSliceInterval() (SliceInterval, error) {
	iv := SliceInterval{Labels: map[string]string{}}
	if err := p.expectPunct("("); err != nil {
		return iv, err
	}
	lo, err := strconv.ParseInt(p.cur.text, 10, 64)
	if err != nil {
		return iv, apperror.UserInput("bad_slice_bound", "invalid SLICE interval bound %q", p.cur.text)
	}
	iv.Lo = lo
	if err := p.advance(); err != nil {
		return iv, err
	}
	if err := p.expectPunct(","); err != nil {
		return iv, err
	}
	hi, err := strconv.ParseInt(p.cur.text, 10, 64)
	if err != nil {
		return iv, apperror.UserInput("bad_slice_bound", "invalid SLICE interval bound %q", p.cur.text)
	}
	iv.Hi = hi
	if err := p.advance(); err != nil {
		return iv, err
	}
	for p.punct(",") {
		if err := p.advance(); err != nil {
			return iv, err
		}
		name := p.cur.text
		if err := p.advance(); err != nil {
			return iv, err
		}
		if err := p.expectPunct(":"); err != nil {
			return iv, err
		}
		if err := p.expectPunct("="); err != nil {
			return iv, err
		}
		if p.cur.kind != tokString {
			return iv, apperror.UserInput("syntax_error", "expected a string literal for SLICE label value at %d", p.cur.pos)
		}
		iv.Labels[name] = p.cur.text
		if err := p.advance(); err != nil {
			return iv, err
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return iv, err
	}
	return iv, nil
}

func (p *Parser) parseOrderBy() ([]OrderItem, *AnnOrderClause, error) {
	ann, ok, err := p.tryParseAnnOrder()
	if err != nil {
		return nil, nil, err
	}
	if ok {
		var items []OrderItem
		if p.punct(",") {
			if err := p.advance(); err != nil {
				return nil, nil, err
			}
			items, err = p.parseOrderItemList()
			if err != nil {
				return nil, nil, err
			}
		}
		return items, ann, nil
	}

	items, err := p.parseOrderItemList()
	if err != nil {
		return nil, nil, err
	}
	return items, nil, nil
}

func (p *Parser) parseOrderItemList() ([]OrderItem, error) {
	var items []OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.kw("DESC") {
			desc = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.kw("ASC") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		items = append(items, OrderItem{Expr: e, Desc: desc})
		if p.punct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return items, nil
}

// annFuncMetric maps the three ANN distance/similarity function names
// spec §4.2 names to the metric they bind the index to.
var annFuncMetric = map[string]string{
	"VEC_L2":     "L2",
	"COSINE_SIM": "cosine",
	"VEC_IP":     "IP",
}

// tryParseAnnOrder recognizes `vec_l2(col, q)`/`cosine_sim(col, q)`/
// `vec_ip(col, q)` as the first ORDER BY term, optionally followed by
// `USING ANN` (spec §4.2 "Detect vec_l2(col, q) or cosine_sim(col, q) or
// vec_ip(col, q) as first ORDER BY term with USING ANN hint").
func (p *Parser) tryParseAnnOrder() (*AnnOrderClause, bool, error) {
	if p.cur.kind != tokIdent {
		return nil, false, nil
	}
	metric, isAnnFunc := annFuncMetric[strings.ToUpper(p.cur.text)]
	if !isAnnFunc {
		return nil, false, nil
	}
	save := *p
	if err := p.advance(); err != nil {
		return nil, false, err
	}
	if !p.punct("(") {
		*p = save
		return nil, false, nil
	}
	if err := p.advance(); err != nil {
		return nil, false, err
	}
	colExpr, err := p.parsePrimary()
	if err != nil {
		return nil, false, err
	}
	col, ok := colExpr.(ColumnRef)
	if !ok {
		return nil, false, apperror.UserInput("bad_ann_column", "ANN ORDER BY's first argument must be a column reference")
	}
	if err := p.expectPunct(","); err != nil {
		return nil, false, err
	}
	query, err := p.parseAnnQuery()
	if err != nil {
		return nil, false, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, false, err
	}
	colName := col.Name
	if col.Qualifier != "" {
		colName = col.Qualifier + "." + col.Name
	}
	ann := &AnnOrderClause{Column: colName, Metric: metric, Query: query}
	if p.kw("USING") {
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if err := p.expectKw("ANN"); err != nil {
			return nil, false, err
		}
		ann.UsingANN = true
	}
	return ann, true, nil
}

// parseAnnQuery parses an ANN ORDER BY's query argument: either a
// literal vector `(v1, v2, ...)` or a scalar subquery `(SELECT ...)`
// (spec §8 scenario S3 `(SELECT v FROM q)`).
func (p *Parser) parseAnnQuery() (Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if p.kw("SELECT") || p.kw("WITH") {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return ScalarSubquery{Query: sub}, nil
	}
	var vec []float64
	for {
		neg := false
		if p.punct("-") {
			neg = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		n, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return nil, apperror.UserInput("bad_vector_literal", "invalid vector component %q", p.cur.text)
		}
		if neg {
			n = -n
		}
		vec = append(vec, n)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.punct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return VectorLiteral{Values: vec}, nil
}

// --- expression parsing: OR > AND > NOT > comparison > additive > multiplicative > unary > primary ---

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.kw("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.kw("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.kw("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "NOT", Expr: e}, nil
	}
	return p.parseComparison()
}

var cmpOps = map[string]bool{"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokPunct && cmpOps[p.cur.text] {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.punct("+") || p.punct("-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.punct("*") || p.punct("/") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.punct("-") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "-", Expr: e}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.punct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil

	case p.cur.kind == tokNumber:
		n, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return nil, apperror.UserInput("bad_number", "invalid numeric literal %q", p.cur.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{IsNum: true, Num: n}, nil

	case p.cur.kind == tokString:
		s := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{IsStr: true, Str: s}, nil

	case p.kw("NULL"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{IsNull: true}, nil

	case p.kw("TRUE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{IsBool: true, Bool: true}, nil

	case p.kw("FALSE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{IsBool: true, Bool: false}, nil

	case p.cur.kind == tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.punct("(") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			call := FuncCall{Name: name}
			if p.kw("DISTINCT") {
				call.Distinct = true
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			if !p.punct(")") {
				if p.punct("*") {
					if err := p.advance(); err != nil {
						return nil, err
					}
				} else {
					args, err := p.parseExprList()
					if err != nil {
						return nil, err
					}
					call.Args = args
				}
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return call, nil
		}
		parts := strings.SplitN(name, ".", 2)
		if len(parts) == 2 {
			return ColumnRef{Qualifier: parts[0], Name: parts[1]}, nil
		}
		return ColumnRef{Name: name}, nil

	default:
		return nil, apperror.UserInput("syntax_error", "unexpected token %q at position %d", p.cur.text, p.cur.pos)
	}
}
