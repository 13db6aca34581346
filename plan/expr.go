package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Expressions of the plan are resolved: every column reference names the
// cursor of the FROM term that produces it and a column index. Operators
// keep the token values of the sql package.

const (
	ExprConst = iota
	ExprColumn
	ExprAggColumn // column read by an aggregate query, see AggInfo
	ExprAggFunc
	ExprFunc
	ExprUnary
	ExprBinary
	ExprCase
	ExprCast
	ExprCollate
	ExprSubquery // scalar subquery
	ExprExists
	ExprIn
)

type Expr struct {
	Kind int
	Op   int

	Value vdbe.Value

	Cursor int
	Column int
	Coll   *vdbe.Coll // declared collation of a column, or the COLLATE one

	Name     string // column, function, CAST type or collation name
	Def      *vdbe.FuncDef
	Distinct bool
	Not      bool

	// Binary uses Left/Right, LIKE keeps its ESCAPE in List. CASE keeps the
	// optional base in Left, WHEN/THEN pairs in List and ELSE in Right.
	Left  *Expr
	Right *Expr
	List  []*Expr

	Sub NodeId

	Agg      *AggInfo // owner of an ExprAggColumn or ExprAggFunc
	AggIdx   int
	FromJoin bool // synthesized from ON, USING or NATURAL
	Span     string
}

func NewConst(v vdbe.Value) *Expr {
	return &Expr{
		Kind:   ExprConst,
		Value:  v,
		Sub:    NoNode,
		AggIdx: -1,
	}
}

func NewInt(i int64) *Expr {
	e := NewConst(vdbe.IntValue(i))
	e.Span = fmt.Sprintf("%d", i)
	return e
}

func NewColumn(cursor, column int, name string, coll *vdbe.Coll) *Expr {
	return &Expr{
		Kind:   ExprColumn,
		Cursor: cursor,
		Column: column,
		Name:   name,
		Coll:   coll,
		Sub:    NoNode,
		AggIdx: -1,
		Span:   name,
	}
}

func NewBinary(op int, l, r *Expr) *Expr {
	return &Expr{
		Kind:   ExprBinary,
		Op:     op,
		Left:   l,
		Right:  r,
		Sub:    NoNode,
		AggIdx: -1,
	}
}

func NewUnary(op int, operand *Expr) *Expr {
	return &Expr{
		Kind:   ExprUnary,
		Op:     op,
		Left:   operand,
		Sub:    NoNode,
		AggIdx: -1,
	}
}

// And joins two conditions, a nil side is dropped
func And(l, r *Expr) *Expr {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	return NewBinary(sql.TkAnd, l, r)
}

// SplitAnd flattens a conjunction into its terms
func SplitAnd(e *Expr) []*Expr {
	if e == nil {
		return nil
	}
	if e.Kind == ExprBinary && e.Op == sql.TkAnd {
		return append(SplitAnd(e.Left), SplitAnd(e.Right)...)
	}
	return []*Expr{e}
}

func (self *Expr) IsSubquery() bool {
	return self.Kind == ExprSubquery || self.Kind == ExprExists || self.Kind == ExprIn
}

// Walk visits the expression in pre-order, returning false from fn skips the
// children. Subqueries are not entered.
func Walk(e *Expr, fn func(*Expr) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	Walk(e.Left, fn)
	Walk(e.Right, fn)
	for _, x := range e.List {
		Walk(x, fn)
	}
}

func WalkList(l []*Expr, fn func(*Expr) bool) {
	for _, x := range l {
		Walk(x, fn)
	}
}

func HasAgg(e *Expr) bool {
	found := false
	Walk(e, func(x *Expr) bool {
		if x.Kind == ExprAggFunc {
			found = true
		}
		return !found
	})
	return found
}

func HasSubquery(e *Expr) bool {
	found := false
	Walk(e, func(x *Expr) bool {
		if x.IsSubquery() {
			found = true
		}
		return !found
	})
	return found
}

// ExprEqual compares two expressions structurally. Subqueries only compare
// equal to themselves.
func ExprEqual(a, b *Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Op != b.Op {
		return false
	}
	switch a.Kind {
	case ExprConst:
		if a.Value.Ty != b.Value.Ty {
			return false
		}
		return vdbe.Compare(a.Value, b.Value, nil) == 0
	case ExprColumn, ExprAggColumn:
		return a.Cursor == b.Cursor && a.Column == b.Column
	case ExprAggFunc, ExprFunc:
		if a.Def != b.Def || a.Distinct != b.Distinct {
			return false
		}
	case ExprCast:
		if !strings.EqualFold(a.Name, b.Name) {
			return false
		}
	case ExprCollate:
		if a.Coll != b.Coll {
			return false
		}
	case ExprSubquery, ExprExists, ExprIn:
		if a.Sub != b.Sub || a.Not != b.Not {
			return false
		}
	}
	if !ExprEqual(a.Left, b.Left) || !ExprEqual(a.Right, b.Right) {
		return false
	}
	return ExprListEqual(a.List, b.List)
}

func ExprListEqual(a, b []*Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ExprEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// HasExplicitColl reports whether a COLLATE operator decides the collation
// of the expression
func HasExplicitColl(e *Expr) bool {
	for e != nil {
		switch e.Kind {
		case ExprCollate:
			return true
		case ExprCast:
			e = e.Left
		case ExprBinary:
			if HasExplicitColl(e.Left) {
				return true
			}
			e = e.Right
		default:
			return false
		}
	}
	return false
}

// ExprColl returns the collation of an expression, nil means binary
func ExprColl(e *Expr) *vdbe.Coll {
	for e != nil {
		switch e.Kind {
		case ExprCollate, ExprColumn, ExprAggColumn:
			return e.Coll
		case ExprCast:
			e = e.Left
		case ExprBinary:
			switch {
			case HasExplicitColl(e.Left):
				e = e.Left
			case HasExplicitColl(e.Right):
				e = e.Right
			default:
				return nil
			}
		default:
			return nil
		}
	}
	return nil
}

// CompareColl picks the collation of a comparison, an explicit COLLATE on
// the left wins, then the right one, then the declared collations
func CompareColl(l, r *Expr) *vdbe.Coll {
	if HasExplicitColl(l) {
		return ExprColl(l)
	}
	if HasExplicitColl(r) {
		return ExprColl(r)
	}
	if c := ExprColl(l); c != nil {
		return c
	}
	return ExprColl(r)
}

// ----------------------------------------------------------------------------
// Cursor sets. Each expression is mapped to the set of cursors it reads,
// references made inside of subqueries count as well so a correlated
// subquery depends on the cursors of its outer query.

type CursorSet map[int]bool

func (self CursorSet) Has(c int) bool { return self[c] }

func (self CursorSet) Static() bool { return len(self) == 0 }

func (self CursorSet) Single() bool { return len(self) == 1 }

// SubsetOf reports whether every cursor is inside of the ready set
func (self CursorSet) SubsetOf(ready CursorSet) bool {
	for k := range self {
		if !ready[k] {
			return false
		}
	}
	return true
}

func (self CursorSet) include(that CursorSet) {
	for k := range that {
		self[k] = true
	}
}

func (self CursorSet) Print() string {
	keys := make([]int, 0, len(self))
	for k := range self {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	buf := strings.Builder{}
	for _, k := range keys {
		buf.WriteString(fmt.Sprintf("%d;", k))
	}
	return buf.String()
}

func (self *Arena) ExprCursors(e *Expr) CursorSet {
	set := make(CursorSet)
	self.markCursors(e, set)
	return set
}

func (self *Arena) markCursors(e *Expr, set CursorSet) {
	Walk(e, func(x *Expr) bool {
		switch x.Kind {
		case ExprColumn, ExprAggColumn:
			set[x.Cursor] = true
		case ExprSubquery, ExprExists, ExprIn:
			self.markSelectCursors(x.Sub, set)
		}
		return true
	})
}

// references of a subquery to cursors it does not own itself
func (self *Arena) markSelectCursors(id NodeId, set CursorSet) {
	inner := make(CursorSet)
	own := make(CursorSet)
	for x := id; x != NoNode; x = self.Node(x).Prior {
		s := self.Node(x)
		for _, item := range s.Src {
			own[item.Cursor] = true
			if item.Sub != NoNode {
				self.markSelectCursors(item.Sub, inner)
			}
			self.markCursors(item.On, inner)
		}
		for _, r := range s.Result {
			self.markCursors(r.Expr, inner)
		}
		self.markCursors(s.Where, inner)
		for _, g := range s.GroupBy {
			self.markCursors(g, inner)
		}
		self.markCursors(s.Having, inner)
		for _, o := range s.OrderBy {
			self.markCursors(o.Expr, inner)
		}
	}
	for k := range inner {
		if !own[k] {
			set[k] = true
		}
	}
}

// IsTableConstant reports whether the expression can be evaluated from the
// columns of one cursor alone. Subqueries and aggregates never qualify.
func IsTableConstant(e *Expr, cursor int) bool {
	ok := true
	Walk(e, func(x *Expr) bool {
		switch x.Kind {
		case ExprColumn:
			if x.Cursor != cursor {
				ok = false
			}
		case ExprAggColumn, ExprAggFunc, ExprSubquery, ExprExists, ExprIn:
			ok = false
		}
		return ok
	})
	return ok
}

// ----------------------------------------------------------------------------
// Duplication. The expression tree is copied, subqueries are copied into new
// nodes of the arena so the copy never shares state with the source.

func (self *Arena) DupExpr(e *Expr) *Expr {
	if e == nil {
		return nil
	}
	out := *e
	out.Left = self.DupExpr(e.Left)
	out.Right = self.DupExpr(e.Right)
	out.List = self.DupExprList(e.List)
	if e.Sub != NoNode {
		out.Sub = self.DupSelect(e.Sub)
	}
	return &out
}

func (self *Arena) DupExprList(l []*Expr) []*Expr {
	if l == nil {
		return nil
	}
	out := make([]*Expr, len(l))
	for i, x := range l {
		out[i] = self.DupExpr(x)
	}
	return out
}
