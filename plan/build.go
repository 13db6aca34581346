package plan

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/storage"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Build turns a parsed statement into Query Nodes. FROM terms are looked up
// in the catalog or in the visible common table expressions, `*` is expanded,
// joins are checked and every name is resolved into a cursor/column pair.
//
// Errors that stop the resolution are returned directly. Errors the compiler
// can recover from, ie an unsupported join type, are left in arena.Diag.
func Build(code *sql.Code, cat *storage.Catalog) (*Arena, NodeId, error) {
	a := NewArena(cat)
	b := &builder{
		arena:  a,
		cat:    cat,
		scopes: make(map[NodeId]*scope),
	}
	root, err := b.buildSelect(code.Select, nil)
	if err != nil {
		return nil, NoNode, err
	}
	return a, root, nil
}

// errTentative aborts the resolution of a term that is only tried against a
// result set, see resolveCompoundOrderBy
var errTentative = errors.New("tentative")

type cteBinding struct {
	cte    *sql.CTE
	with   *withScope
	errMsg string // referencing the CTE while set is an error
}

type withScope struct {
	list  []*cteBinding
	outer *withScope
}

// recursiveRef describes the recursive table while the recursive term of a
// common table expression is built
type recursiveRef struct {
	core    *sql.Select
	name    string
	columns []string
	colls   []*vdbe.Coll
}

type scope struct {
	sel   *Select
	outer *scope

	alias     []string // AS names of the result columns
	allowAgg  bool
	inAgg     bool
	aliases   bool
	tentative bool
	clause    string
}

type builder struct {
	arena     *Arena
	cat       *storage.Catalog
	with      *withScope
	recursive *recursiveRef
	scopes    map[NodeId]*scope
}

func (self *builder) err(stage string, f string, args ...interface{}) error {
	return planErr(stage, f, args...)
}

func (self *builder) node(id NodeId) *Select {
	return self.arena.Node(id)
}

func ordinal(i int) string {
	suffix := "th"
	if i%100 < 11 || i%100 > 13 {
		switch i % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", i, suffix)
}

func astInt(e sql.Expr) (int64, bool) {
	if c, ok := e.(*sql.Const); ok && c.Ty == sql.ConstInt {
		return c.Int, true
	}
	return 0, false
}

// ----------------------------------------------------------------------------
// SELECT and compound

func (self *builder) buildSelect(ast *sql.Select, outer *scope) (NodeId, error) {
	if ast.With != nil {
		ws := &withScope{outer: self.with}
		for _, cte := range ast.With.List {
			ws.list = append(ws.list, &cteBinding{cte: cte, with: ws})
		}
		self.with = ws
		defer func() {
			self.with = ws.outer
		}()
	}
	return self.buildCompound(ast, outer, nil)
}

type compoundPart struct {
	op   int
	core *sql.Select
}

func compoundOp(op int) int {
	switch op {
	case sql.CompoundUnion:
		return OpUnion
	case sql.CompoundUnionAll:
		return OpUnionAll
	case sql.CompoundExcept:
		return OpExcept
	default:
		return OpIntersect
	}
}

func compoundParts(ast *sql.Select) []compoundPart {
	out := []compoundPart{{op: OpSelect, core: ast}}
	for _, x := range ast.Compound {
		out = append(out, compoundPart{op: compoundOp(x.Op), core: x.Select})
	}
	return out
}

// cteExpansion carries what buildCompound needs to know when the compound
// is the body of a common table expression
type cteExpansion struct {
	binding *cteBinding
	nref    int // top level references to itself in the right-most core
}

func (self *builder) buildCompound(
	ast *sql.Select,
	outer *scope,
	exp *cteExpansion,
) (NodeId, error) {
	parts := compoundParts(ast)
	prev := NoNode

	for i, part := range parts {
		if exp != nil && i == len(parts)-1 && len(parts) > 1 {
			if err := self.enterRecursiveTerm(exp, prev, part.core); err != nil {
				return NoNode, err
			}
		}

		var id NodeId
		var err error
		if i > 0 && part.core.IsValues() && len(part.core.Values) > 1 {
			id, err = self.buildValues(part.core, outer)
			if err == nil {
				id = self.wrapInSubquery(id, outer)
			}
		} else {
			id, err = self.buildCore(part.core, outer)
		}
		if err != nil {
			return NoNode, err
		}

		if i > 0 {
			n := self.node(id)
			p := self.node(prev)
			if len(n.Result) != len(p.Result) {
				return NoNode, self.err(
					"compound",
					"SELECTs to the left and right of %s do not have the same number of result columns",
					OpName(part.op),
				)
			}
			n.Op = part.op
			n.Prior = prev
			p.Next = id
		}
		prev = id
	}

	if exp != nil {
		self.recursive = nil
		if exp.nref == 1 {
			self.node(prev).Flags |= SfRecursive
		}
	}

	root := self.node(prev)
	if root.Prior != NoNode {
		for x := root; ; x = self.node(x.Prior) {
			x.Flags |= SfCompound
			if x.Prior == NoNode {
				break
			}
		}
		if exp == nil && self.needsCollateWrap(root, ast.OrderBy) {
			prev = self.wrapInSubquery(prev, outer)
			root = self.node(prev)
		}
	}

	if err := self.resolveOrderBy(root, ast.OrderBy); err != nil {
		return NoNode, err
	}
	if err := self.resolveLimit(root, ast.Limit); err != nil {
		return NoNode, err
	}
	return prev, nil
}

// A compound using UNION, EXCEPT or INTERSECT merges its inputs with the
// collations of the result columns, an ORDER BY with an explicit COLLATE is
// therefore applied by an outer query: SELECT * FROM (compound) ORDER BY ...
func (self *builder) needsCollateWrap(root *Select, ob *sql.OrderBy) bool {
	if ob == nil {
		return false
	}
	allOnly := true
	for x := root; x != nil; {
		if x.Op != OpUnionAll && x.Op != OpSelect {
			allOnly = false
			break
		}
		if x.Prior == NoNode {
			break
		}
		x = self.node(x.Prior)
	}
	if allOnly {
		return false
	}
	for _, t := range ob.Term {
		found := false
		sql.WalkExpr(t.Value, func(e sql.Expr) bool {
			if e.Type() == sql.ExprCollate {
				found = true
			}
			return !found
		})
		if found {
			return true
		}
	}
	return false
}

// wrapInSubquery builds SELECT * FROM (id)
func (self *builder) wrapInSubquery(id NodeId, outer *scope) NodeId {
	sel := self.arena.NewSelect()
	item := &SrcItem{
		Sub:      id,
		Cursor:   self.arena.NewCursor(),
		JoinType: JtInner,
	}
	self.fillSubqueryColumns(item)
	item.Correlated = self.arena.IsCorrelated(id)
	sel.Src = []*SrcItem{item}
	for i, name := range item.Columns {
		sel.Result = append(sel.Result, &ResultCol{
			Expr: NewColumn(item.Cursor, i, name, item.Colls[i]),
			Name: name,
			Span: name,
		})
	}
	if item.Correlated {
		sel.Flags |= SfCorrelated
	}
	self.scopes[sel.Id] = &scope{
		sel:   sel,
		outer: outer,
		alias: make([]string, len(sel.Result)),
	}
	return sel.Id
}

// IsCorrelated reports whether any node of the compound chain references a
// cursor of an outer query
func (self *Arena) IsCorrelated(id NodeId) bool {
	for x := id; x != NoNode; x = self.Node(x).Prior {
		if self.Node(x).Has(SfCorrelated) {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------------
// VALUES

func (self *builder) buildValues(core *sql.Select, outer *scope) (NodeId, error) {
	prev := NoNode
	for i, row := range core.Values {
		sel := self.arena.NewSelect()
		sel.Flags |= SfValues
		if len(core.Values) > 1 {
			sel.Flags |= SfMultiValue
		}
		sc := &scope{
			sel:    sel,
			outer:  outer,
			clause: "values",
		}
		for j, e := range row {
			x, err := self.resolve(e, sc)
			if err != nil {
				return NoNode, err
			}
			sel.Result = append(sel.Result, &ResultCol{
				Expr: x,
				Name: fmt.Sprintf("column%d", j+1),
				Span: e.CInfo().Snippet,
			})
		}
		sc.alias = make([]string, len(sel.Result))
		self.scopes[sel.Id] = sc
		if i > 0 {
			sel.Op = OpUnionAll
			sel.Prior = prev
			self.node(prev).Next = sel.Id
		}
		prev = sel.Id
	}
	return prev, nil
}

// ----------------------------------------------------------------------------
// Simple select

func (self *builder) buildCore(core *sql.Select, outer *scope) (NodeId, error) {
	if core.IsValues() {
		return self.buildValues(core, outer)
	}

	sel := self.arena.NewSelect()
	if core.Distinct {
		sel.Flags |= SfDistinct
	}
	sc := &scope{
		sel:   sel,
		outer: outer,
	}
	self.scopes[sel.Id] = sc

	// FROM
	var joinTerms []*Expr
	if core.From != nil {
		for _, fv := range core.From.VarList {
			item, err := self.buildSrcItem(fv, core, sc)
			if err != nil {
				return NoNode, err
			}
			sel.Src = append(sel.Src, item)
		}
		terms, err := self.processJoins(sel, core.From, sc)
		if err != nil {
			return NoNode, err
		}
		joinTerms = terms
	}

	// result set
	if err := self.buildResult(sel, core.Projection, sc); err != nil {
		return NoNode, err
	}

	// WHERE, join terms follow the user condition
	if core.Where != nil {
		w, err := self.resolveIn(core.Where.Condition, sc, "where", false, true)
		if err != nil {
			return NoNode, err
		}
		sel.Where = w
	}
	for _, t := range joinTerms {
		sel.Where = And(sel.Where, t)
	}

	// HAVING
	if core.Having != nil {
		h, err := self.resolveIn(core.Having.Condition, sc, "having", true, true)
		if err != nil {
			return NoNode, err
		}
		sel.Having = h
	}

	// GROUP BY
	if core.GroupBy != nil {
		for i, g := range core.GroupBy.Name {
			x, err := self.resolveGroupTerm(sel, sc, i, g)
			if err != nil {
				return NoNode, err
			}
			sel.GroupBy = append(sel.GroupBy, x)
		}
		sel.Flags |= SfAggregate
	}
	return sel.Id, nil
}

func (self *builder) resolveGroupTerm(
	sel *Select,
	sc *scope,
	i int,
	g sql.Expr,
) (*Expr, error) {
	if k, ok := astInt(g); ok {
		if k < 1 || int(k) > len(sel.Result) {
			return nil, self.err(
				"group by",
				"%s GROUP BY term out of range - should be between 1 and %d",
				ordinal(i+1),
				len(sel.Result),
			)
		}
		x := self.arena.DupExpr(sel.Result[k-1].Expr)
		if HasAgg(x) {
			return nil, self.err("group by", "aggregate functions are not allowed in the GROUP BY clause")
		}
		return x, nil
	}
	return self.resolveIn(g, sc, "group by", false, true)
}

func (self *builder) resolveIn(
	e sql.Expr,
	sc *scope,
	clause string,
	allowAgg bool,
	aliases bool,
) (*Expr, error) {
	saved := *sc
	sc.clause = clause
	sc.allowAgg = allowAgg
	sc.aliases = aliases
	x, err := self.resolve(e, sc)
	sc.clause, sc.allowAgg, sc.aliases = saved.clause, saved.allowAgg, saved.aliases
	return x, err
}

// ----------------------------------------------------------------------------
// FROM

func joinType(fv *sql.FromVar) int {
	jt := JtInner
	switch fv.Join {
	case sql.JoinCross:
		jt |= JtCross
	case sql.JoinLeft:
		jt = JtLeft | JtOuter
	}
	if fv.Natural {
		jt |= JtNatural
	}
	return jt
}

func (self *builder) buildSrcItem(
	fv *sql.FromVar,
	core *sql.Select,
	sc *scope,
) (*SrcItem, error) {
	if fv.Join == sql.JoinRight || fv.Join == sql.JoinFull {
		self.arena.Diag.Errorf("from", "RIGHT and FULL OUTER JOINs are not currently supported")
	}

	item := &SrcItem{
		Name:     fv.Name,
		Alias:    fv.Alias,
		Sub:      NoNode,
		Cursor:   self.arena.NewCursor(),
		JoinType: joinType(fv),
	}

	if fv.Subquery != nil {
		id, err := self.buildSelect(fv.Subquery, sc.outer)
		if err != nil {
			return nil, err
		}
		item.Sub = id
		self.fillSubqueryColumns(item)
		if self.arena.IsCorrelated(id) {
			item.Correlated = true
			sc.sel.Flags |= SfCorrelated
		}
		return item, nil
	}

	if rec := self.recursive; rec != nil && rec.core == core && strings.EqualFold(fv.Name, rec.name) {
		item.Recursive = true
		item.Columns = rec.columns
		item.Colls = rec.colls
		return item, nil
	}

	if b := self.lookupCte(fv.Name); b != nil {
		if err := self.expandCte(item, b, sc); err != nil {
			return nil, err
		}
		return item, nil
	}

	t := self.cat.Lookup(fv.Name)
	if t == nil {
		return nil, self.err("from", "no such table: %s", fv.Name)
	}
	item.Table = t
	for _, c := range t.Columns {
		item.Columns = append(item.Columns, c.Name)
		item.Colls = append(item.Colls, declaredColl(c.Coll))
	}
	return item, nil
}

// binary is the default, it never overrides the other side of a comparison
func declaredColl(c *vdbe.Coll) *vdbe.Coll {
	if c == vdbe.CollBinary {
		return nil
	}
	return c
}

// fillSubqueryColumns names the columns of a subquery from the result set
// of its left-most select, duplicated names get a numeric suffix
func (self *builder) fillSubqueryColumns(item *SrcItem) {
	left := self.arena.LeftMost(item.Sub)
	names, colls := columnsFromResult(left.Result)
	item.Columns = names
	item.Colls = colls
}

func columnsFromResult(result []*ResultCol) ([]string, []*vdbe.Coll) {
	seen := map[string]bool{}
	names := make([]string, 0, len(result))
	colls := make([]*vdbe.Coll, 0, len(result))
	for _, r := range result {
		name := r.Name
		key := strings.ToLower(name)
		for cnt := 1; seen[key]; cnt++ {
			name = fmt.Sprintf("%s:%d", r.Name, cnt)
			key = strings.ToLower(name)
		}
		seen[key] = true
		names = append(names, name)
		colls = append(colls, ExprColl(r.Expr))
	}
	return names, colls
}

func (self *builder) lookupCte(name string) *cteBinding {
	for ws := self.with; ws != nil; ws = ws.outer {
		for _, b := range ws.list {
			if strings.EqualFold(b.cte.Name, name) {
				return b
			}
		}
	}
	return nil
}

func rightMostCore(ast *sql.Select) *sql.Select {
	if n := len(ast.Compound); n > 0 {
		return ast.Compound[n-1].Select
	}
	return ast
}

// expandCte builds a fresh copy of the common table expression for one
// reference. A compound body joined by UNION [ALL] whose right-most select
// names the CTE in its FROM clause is a recursive query.
func (self *builder) expandCte(item *SrcItem, b *cteBinding, sc *scope) error {
	if b.errMsg != "" {
		return self.err("with", b.errMsg, b.cte.Name)
	}
	ast := b.cte.Select
	exp := &cteExpansion{binding: b}

	if n := len(ast.Compound); n > 0 {
		op := ast.Compound[n-1].Op
		if op == sql.CompoundUnion || op == sql.CompoundUnionAll {
			if from := rightMostCore(ast).From; from != nil {
				for _, fv := range from.VarList {
					if fv.Subquery == nil && strings.EqualFold(fv.Name, b.cte.Name) {
						exp.nref++
					}
				}
			}
		}
	}
	if exp.nref > 1 {
		return self.err("with", "multiple references to recursive table: %s", b.cte.Name)
	}

	savedWith := self.with
	savedRec := self.recursive
	self.with = b.with
	b.errMsg = "circular reference: %s"
	defer func() {
		b.errMsg = ""
		self.with = savedWith
		self.recursive = savedRec
	}()

	if ast.With != nil {
		ws := &withScope{outer: self.with}
		for _, cte := range ast.With.List {
			ws.list = append(ws.list, &cteBinding{cte: cte, with: ws})
		}
		self.with = ws
	}

	id, err := self.buildCompound(ast, sc.outer, exp)
	if err != nil {
		return err
	}

	item.Name = b.cte.Name
	item.Sub = id
	left := self.arena.LeftMost(id)
	if cols := b.cte.Columns; cols != nil {
		if len(cols) != len(left.Result) {
			return self.err(
				"with",
				"table %s has %d values for %d columns",
				b.cte.Name,
				len(left.Result),
				len(cols),
			)
		}
		item.Columns = append([]string(nil), cols...)
		for _, r := range left.Result {
			item.Colls = append(item.Colls, ExprColl(r.Expr))
		}
	} else {
		self.fillSubqueryColumns(item)
	}
	if self.arena.IsCorrelated(id) {
		item.Correlated = true
		sc.sel.Flags |= SfCorrelated
	}
	return nil
}

// enterRecursiveTerm runs before the right-most select of a CTE body is
// built, the columns of the CTE are known from the select on its left
func (self *builder) enterRecursiveTerm(
	exp *cteExpansion,
	prev NodeId,
	core *sql.Select,
) error {
	b := exp.binding
	last := b.cte.Select.Compound[len(b.cte.Select.Compound)-1].Op
	if last != sql.CompoundUnion && last != sql.CompoundUnionAll {
		return nil
	}

	left := self.arena.LeftMost(prev)
	names, colls := columnsFromResult(left.Result)
	if cols := b.cte.Columns; cols != nil {
		if len(cols) != len(left.Result) {
			return self.err(
				"with",
				"table %s has %d values for %d columns",
				b.cte.Name,
				len(left.Result),
				len(cols),
			)
		}
		names = append([]string(nil), cols...)
	}

	if exp.nref == 1 {
		b.errMsg = "multiple recursive references: %s"
		self.recursive = &recursiveRef{
			core:    core,
			name:    b.cte.Name,
			columns: names,
			colls:   colls,
		}
	} else {
		b.errMsg = "recursive reference in a subquery: %s"
	}
	return nil
}

// processJoins checks the join constraints. The terms of an inner join are
// returned so they become part of the WHERE clause, the terms of a LEFT join
// stay with the FROM term.
func (self *builder) processJoins(
	sel *Select,
	from *sql.From,
	sc *scope,
) ([]*Expr, error) {
	var where []*Expr

	for i := 1; i < len(sel.Src); i++ {
		right := sel.Src[i]
		fv := from.VarList[i]
		var terms []*Expr

		if right.JoinType&JtNatural != 0 {
			if fv.On != nil || fv.Using != nil {
				return nil, self.err("join", "a NATURAL join may not have an ON or USING clause")
			}
			for j, col := range right.Columns {
				left, lcol := findLeftColumn(sel.Src[:i], col)
				if left == nil {
					continue
				}
				terms = append(terms, joinEq(left, lcol, right, j))
				right.Using = append(right.Using, col)
			}
		}

		if fv.On != nil && fv.Using != nil {
			return nil, self.err("join", "cannot have both ON and USING clauses in the same join")
		}

		if fv.On != nil {
			x, err := self.resolveIn(fv.On, sc, "on", false, false)
			if err != nil {
				return nil, err
			}
			for _, t := range SplitAnd(x) {
				t.FromJoin = true
				terms = append(terms, t)
			}
		}

		for _, col := range fv.Using {
			rcol := columnIndex(right.Columns, col)
			left, lcol := findLeftColumn(sel.Src[:i], col)
			if rcol < 0 || left == nil {
				return nil, self.err(
					"join",
					"cannot join using column %s - column not present in both tables",
					col,
				)
			}
			terms = append(terms, joinEq(left, lcol, right, rcol))
			right.Using = append(right.Using, col)
		}

		if right.IsLeftJoin() {
			for _, t := range terms {
				right.On = And(right.On, t)
			}
		} else {
			where = append(where, terms...)
		}
	}
	return where, nil
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func findLeftColumn(items []*SrcItem, col string) (*SrcItem, int) {
	for _, item := range items {
		if idx := columnIndex(item.Columns, col); idx >= 0 {
			return item, idx
		}
	}
	return nil, -1
}

func joinEq(left *SrcItem, lcol int, right *SrcItem, rcol int) *Expr {
	l := NewColumn(left.Cursor, lcol, left.Columns[lcol], left.Colls[lcol])
	r := NewColumn(right.Cursor, rcol, right.Columns[rcol], right.Colls[rcol])
	eq := NewBinary(sql.TkEq, l, r)
	eq.FromJoin = true
	eq.Span = fmt.Sprintf("%s.%s = %s.%s", left.DisplayName(), l.Name, right.DisplayName(), r.Name)
	return eq
}

// ----------------------------------------------------------------------------
// Result set

func (self *builder) buildResult(sel *Select, proj *sql.Projection, sc *scope) error {
	for _, v := range proj.ValueList {
		switch v.Type() {
		case sql.SelectVarStar:
			if err := self.expandStar(sel, v.(*sql.Star), sc); err != nil {
				return err
			}

		default:
			col := v.(*sql.Col)
			x, err := self.resolveIn(col.Value, sc, "select", true, false)
			if err != nil {
				return err
			}
			name := col.As
			if name == "" {
				if x.Kind == ExprColumn {
					name = x.Name
				} else {
					name = col.Value.CInfo().Snippet
				}
			}
			sel.Result = append(sel.Result, &ResultCol{
				Expr: x,
				Name: name,
				Span: col.Value.CInfo().Snippet,
			})
			sc.alias = append(sc.alias, col.As)
		}
	}
	return nil
}

func (self *builder) expandStar(sel *Select, star *sql.Star, sc *scope) error {
	if len(sel.Src) == 0 {
		return self.err("select", "no tables specified")
	}
	matched := false
	for i, item := range sel.Src {
		if star.Table != "" && !item.matchName(star.Table) {
			continue
		}
		matched = true
		for j, col := range item.Columns {
			if star.Table == "" && i > 0 && item.HasUsing(col) {
				continue
			}
			x := NewColumn(item.Cursor, j, col, item.Colls[j])
			sel.Result = append(sel.Result, &ResultCol{
				Expr: x,
				Name: col,
				Span: col,
			})
			sc.alias = append(sc.alias, "")
		}
	}
	if !matched {
		return self.err("select", "no such table: %s", star.Table)
	}
	return nil
}

// matchName tells whether a qualifier names the FROM term, an alias hides
// the name of the table
func (self *SrcItem) matchName(n string) bool {
	if self.Alias != "" {
		return strings.EqualFold(self.Alias, n)
	}
	return self.Name != "" && strings.EqualFold(self.Name, n)
}

// ----------------------------------------------------------------------------
// ORDER BY and LIMIT

func (self *builder) resolveOrderBy(root *Select, ob *sql.OrderBy) error {
	if ob == nil {
		return nil
	}
	if root.Prior != NoNode {
		return self.resolveCompoundOrderBy(root, ob)
	}
	sc := self.scopes[root.Id]

	for i, t := range ob.Term {
		term := &OrderTerm{
			Desc: t.Order == sql.OrderDesc,
		}

		// a COLLATE on top of a column number applies to that column
		value := t.Value
		var collate *sql.Collate
		if c, ok := value.(*sql.Collate); ok {
			if _, isInt := astInt(c.Operand); isInt {
				collate = c
				value = c.Operand
			}
		}

		if k, ok := astInt(value); ok {
			if k < 1 || int(k) > len(root.Result) {
				return self.err(
					"order by",
					"%s ORDER BY term out of range - should be between 1 and %d",
					ordinal(i+1),
					len(root.Result),
				)
			}
			term.Expr = self.arena.DupExpr(root.Result[k-1].Expr)
			term.OrigCol = int(k)
			if collate != nil {
				coll := vdbe.LookupColl(collate.Name)
				if coll == nil {
					return self.err("order by", "no such collation sequence: %s", collate.Name)
				}
				term.Expr = &Expr{
					Kind:   ExprCollate,
					Name:   collate.Name,
					Coll:   coll,
					Left:   term.Expr,
					Sub:    NoNode,
					AggIdx: -1,
					Span:   t.Value.CInfo().Snippet,
				}
			}
		} else if k := aliasIndex(sc, t.Value); k >= 0 {
			term.Expr = self.arena.DupExpr(root.Result[k].Expr)
			term.OrigCol = k + 1
		} else {
			x, err := self.resolveIn(t.Value, sc, "order by", true, true)
			if err != nil {
				return err
			}
			term.Expr = x
			for j, r := range root.Result {
				if ExprEqual(x, r.Expr) {
					term.OrigCol = j + 1
					break
				}
			}
		}
		root.OrderBy = append(root.OrderBy, term)
	}
	return nil
}

func aliasIndex(sc *scope, e sql.Expr) int {
	ref, ok := e.(*sql.Ref)
	if !ok || ref.Table != "" || sc == nil {
		return -1
	}
	for i, a := range sc.alias {
		if a != "" && strings.EqualFold(a, ref.Id) {
			return i
		}
	}
	return -1
}

// resolveCompoundOrderBy maps each term to a result column, trying the
// selects of the compound from left to right. A term becomes the column
// number, an explicit COLLATE is kept on top of it.
func (self *builder) resolveCompoundOrderBy(root *Select, ob *sql.OrderBy) error {
	for i, t := range ob.Term {
		e := t.Value
		var coll *vdbe.Coll
		collName := ""
		if c, ok := e.(*sql.Collate); ok {
			collName = c.Name
			coll = vdbe.LookupColl(c.Name)
			if coll == nil {
				return self.err("order by", "no such collation sequence: %s", c.Name)
			}
			e = c.Operand
		}

		k := 0
		if v, ok := astInt(e); ok {
			if v < 1 || int(v) > len(root.Result) {
				return self.err(
					"order by",
					"%s ORDER BY term out of range - should be between 1 and %d",
					ordinal(i+1),
					len(root.Result),
				)
			}
			k = int(v)
		} else {
			for s := self.arena.LeftMost(root.Id); s != nil; {
				if k = self.matchResultColumn(s, e); k > 0 {
					break
				}
				if s.Next == NoNode || s == root {
					break
				}
				s = self.node(s.Next)
			}
		}
		if k == 0 {
			return self.err(
				"order by",
				"%s ORDER BY term does not match any column in the result set",
				ordinal(i+1),
			)
		}

		x := NewInt(int64(k))
		if coll != nil {
			x = &Expr{
				Kind:   ExprCollate,
				Name:   collName,
				Coll:   coll,
				Left:   x,
				Sub:    NoNode,
				AggIdx: -1,
				Span:   fmt.Sprintf("%d collate %s", k, collName),
			}
		}
		root.OrderBy = append(root.OrderBy, &OrderTerm{
			Expr:    x,
			Desc:    t.Order == sql.OrderDesc,
			OrigCol: k,
		})
	}
	return nil
}

// matchResultColumn returns the 1 based column of the select that the term
// names, either through an AS alias or by being the same expression
func (self *builder) matchResultColumn(s *Select, e sql.Expr) int {
	sc := self.scopes[s.Id]
	if k := aliasIndex(sc, e); k >= 0 {
		return k + 1
	}
	if sc == nil {
		return 0
	}
	try := &scope{
		sel:       s,
		outer:     sc.outer,
		alias:     sc.alias,
		allowAgg:  true,
		tentative: true,
		clause:    "order by",
	}
	x, err := self.resolve(e, try)
	if err != nil {
		return 0
	}
	for j, r := range s.Result {
		if ExprEqual(x, r.Expr) {
			return j + 1
		}
	}
	return 0
}

func (self *builder) resolveLimit(root *Select, l *sql.Limit) error {
	if l == nil {
		return nil
	}
	empty := &scope{
		sel:    &Select{Id: NoNode, Prior: NoNode, Next: NoNode},
		clause: "limit",
	}
	x, err := self.resolve(l.Limit, empty)
	if err != nil {
		return err
	}
	self.checkLimitColl(x)
	root.Limit = x
	if l.Offset != nil {
		y, err := self.resolve(l.Offset, empty)
		if err != nil {
			return err
		}
		self.checkLimitColl(y)
		root.Offset = y
	}
	return nil
}

// a collation means nothing to a row count
func (self *builder) checkLimitColl(e *Expr) {
	if e != nil && e.Kind == ExprCollate {
		self.arena.Diag.Errorf("limit", "near \"COLLATE\": syntax error")
	}
}

// ----------------------------------------------------------------------------
// Expression resolution

func (self *builder) resolve(e sql.Expr, sc *scope) (*Expr, error) {
	if e == nil {
		return nil, nil
	}
	span := e.CInfo().Snippet

	switch e.Type() {
	case sql.ExprConst:
		c := e.(*sql.Const)
		var v vdbe.Value
		switch c.Ty {
		case sql.ConstBool:
			v = vdbe.BoolValue(c.Bool)
		case sql.ConstStr:
			v = vdbe.StrValue(c.String)
		case sql.ConstInt:
			v = vdbe.IntValue(c.Int)
		case sql.ConstReal:
			v = vdbe.RealValue(c.Real)
		default:
			v = vdbe.Null()
		}
		x := NewConst(v)
		x.Span = span
		return x, nil

	case sql.ExprRef:
		return self.resolveRef(e.(*sql.Ref), sc)

	case sql.ExprCall:
		return self.resolveCall(e.(*sql.Call), sc)

	case sql.ExprUnary:
		u := e.(*sql.Unary)
		x, err := self.resolve(u.Operand, sc)
		if err != nil {
			return nil, err
		}
		for i := len(u.Op) - 1; i >= 0; i-- {
			if u.Op[i] == sql.TkAdd {
				continue
			}
			x = NewUnary(u.Op[i], x)
		}
		x.Span = span
		return x, nil

	case sql.ExprBinary:
		b := e.(*sql.Binary)
		l, err := self.resolve(b.L, sc)
		if err != nil {
			return nil, err
		}
		r, err := self.resolve(b.R, sc)
		if err != nil {
			return nil, err
		}
		op := b.Op
		if op == sql.TkNotLike {
			op = sql.TkLike
		}
		x := NewBinary(op, l, r)
		if b.Escape != nil {
			esc, err := self.resolve(b.Escape, sc)
			if err != nil {
				return nil, err
			}
			x.List = []*Expr{esc}
		}
		x.Span = span
		if b.Op == sql.TkNotLike {
			x = NewUnary(sql.TkNot, x)
			x.Span = span
		}
		return x, nil

	case sql.ExprCase:
		c := e.(*sql.Case)
		x := &Expr{
			Kind:   ExprCase,
			Sub:    NoNode,
			AggIdx: -1,
			Span:   span,
		}
		var err error
		if x.Left, err = self.resolve(c.Base, sc); err != nil {
			return nil, err
		}
		for _, w := range c.When {
			cond, err := self.resolve(w.Cond, sc)
			if err != nil {
				return nil, err
			}
			val, err := self.resolve(w.Value, sc)
			if err != nil {
				return nil, err
			}
			x.List = append(x.List, cond, val)
		}
		if x.Right, err = self.resolve(c.Else, sc); err != nil {
			return nil, err
		}
		return x, nil

	case sql.ExprCast:
		c := e.(*sql.Cast)
		if _, err := vdbe.CastValue(vdbe.IntValue(0), c.TypeName); err != nil {
			return nil, self.err(sc.clause, "unknown type %s in CAST", c.TypeName)
		}
		l, err := self.resolve(c.Operand, sc)
		if err != nil {
			return nil, err
		}
		return &Expr{
			Kind:   ExprCast,
			Name:   c.TypeName,
			Left:   l,
			Sub:    NoNode,
			AggIdx: -1,
			Span:   span,
		}, nil

	case sql.ExprCollate:
		c := e.(*sql.Collate)
		coll := vdbe.LookupColl(c.Name)
		if coll == nil {
			return nil, self.err(sc.clause, "no such collation sequence: %s", c.Name)
		}
		l, err := self.resolve(c.Operand, sc)
		if err != nil {
			return nil, err
		}
		return &Expr{
			Kind:   ExprCollate,
			Name:   c.Name,
			Coll:   coll,
			Left:   l,
			Sub:    NoNode,
			AggIdx: -1,
			Span:   span,
		}, nil

	case sql.ExprSubquery:
		return self.resolveSubquery(e.(*sql.Subquery), sc)

	default:
		return nil, self.err(sc.clause, "unknown expression")
	}
}

func (self *builder) resolveRef(ref *sql.Ref, sc *scope) (*Expr, error) {
	for s := sc; s != nil; s = s.outer {
		x, err := self.lookupColumn(ref, s)
		if err != nil {
			return nil, err
		}
		if x != nil {
			x.Span = ref.CInfo().Snippet
			if s.sel != sc.sel && !sc.tentative {
				for t := sc; t != nil && t.sel != s.sel; t = t.outer {
					t.sel.Flags |= SfCorrelated
				}
			}
			return x, nil
		}

		// result alias of the select being resolved
		if s == sc && ref.Table == "" && sc.aliases {
			if k := aliasIndex(sc, ref); k >= 0 {
				x := self.arena.DupExpr(sc.sel.Result[k].Expr)
				if !sc.allowAgg && HasAgg(x) {
					return nil, self.err(sc.clause, "misuse of aliased aggregate %s", ref.Id)
				}
				return x, nil
			}
		}
	}

	if ref.Table != "" {
		return nil, self.err(sc.clause, "no such column: %s.%s", ref.Table, ref.Id)
	}
	return nil, self.err(sc.clause, "no such column: %s", ref.Id)
}

// lookupColumn searches the FROM clause of one scope. A column shared
// through USING or NATURAL is reported once, from its left-most table.
func (self *builder) lookupColumn(ref *sql.Ref, s *scope) (*Expr, error) {
	var found *Expr
	cnt := 0
	for _, item := range s.sel.Src {
		if ref.Table != "" && !item.matchName(ref.Table) {
			continue
		}
		col := columnIndex(item.Columns, ref.Id)
		if col < 0 {
			continue
		}
		if ref.Table == "" && cnt > 0 && item.HasUsing(ref.Id) {
			continue
		}
		cnt++
		found = NewColumn(item.Cursor, col, item.Columns[col], item.Colls[col])
	}
	if cnt > 1 {
		return nil, self.err(s.clause, "ambiguous column name: %s", ref.Id)
	}
	return found, nil
}

func (self *builder) resolveCall(c *sql.Call, sc *scope) (*Expr, error) {
	nArg := len(c.Parameters)
	if c.Star {
		if c.Name != "count" {
			return nil, self.err(sc.clause, "wrong number of arguments to function %s()", c.Name)
		}
		nArg = 0
	}

	def := vdbe.LookupFunc(c.Name, nArg)
	if def == nil {
		if vdbe.FuncExists(c.Name) {
			return nil, self.err(sc.clause, "wrong number of arguments to function %s()", c.Name)
		}
		return nil, self.err(sc.clause, "no such function: %s", c.Name)
	}

	x := &Expr{
		Kind:     ExprFunc,
		Name:     def.Name,
		Def:      def,
		Distinct: c.Distinct,
		Sub:      NoNode,
		AggIdx:   -1,
		Span:     c.CInfo().Snippet,
	}

	argScope := sc
	if def.Agg {
		if !sc.allowAgg || sc.inAgg {
			if sc.clause == "group by" {
				return nil, self.err(sc.clause, "aggregate functions are not allowed in the GROUP BY clause")
			}
			return nil, self.err(sc.clause, "misuse of aggregate function %s()", def.Name)
		}
		if c.Distinct && nArg != 1 {
			return nil, self.err(sc.clause, "DISTINCT aggregates must have exactly one argument")
		}
		x.Kind = ExprAggFunc
		inner := *sc
		inner.inAgg = true
		argScope = &inner
		if !sc.tentative {
			sc.sel.Flags |= SfAggregate
			if def.MinMax != vdbe.MinMaxNone {
				sc.sel.Flags |= SfMinMaxAgg
			}
		}
	} else if c.Distinct {
		return nil, self.err(sc.clause, "DISTINCT is only allowed in aggregate functions, not in %s()", def.Name)
	}

	if !c.Star {
		for _, p := range c.Parameters {
			y, err := self.resolve(p, argScope)
			if err != nil {
				return nil, err
			}
			x.List = append(x.List, y)
		}
	}
	return x, nil
}

func (self *builder) resolveSubquery(s *sql.Subquery, sc *scope) (*Expr, error) {
	if sc.tentative {
		return nil, errTentative
	}
	x := &Expr{
		Not:    s.Not,
		AggIdx: -1,
		Span:   s.CInfo().Snippet,
	}
	if s.Kind == sql.SubqueryIn {
		l, err := self.resolve(s.L, sc)
		if err != nil {
			return nil, err
		}
		x.Left = l
	}

	id, err := self.buildSelect(s.Select, sc)
	if err != nil {
		return nil, err
	}
	x.Sub = id

	switch s.Kind {
	case sql.SubqueryExists:
		x.Kind = ExprExists
	case sql.SubqueryIn:
		x.Kind = ExprIn
	default:
		x.Kind = ExprSubquery
	}
	if x.Kind != ExprExists {
		if n := len(self.node(id).Result); n != 1 {
			return nil, self.err(sc.clause, "sub-select returns %d columns - expected 1", n)
		}
	}
	return x, nil
}
