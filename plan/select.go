package plan

import (
	"strings"

	"github.com/dianpeng/sql2vdbe/storage"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// NodeId addresses a Query Node inside of the Arena
type NodeId int

const NoNode NodeId = -1

// compound operator of a node, the node is combined with its Prior
const (
	OpSelect = iota
	OpUnion
	OpUnionAll
	OpExcept
	OpIntersect
)

func OpName(op int) string {
	switch op {
	case OpUnion:
		return "UNION"
	case OpUnionAll:
		return "UNION ALL"
	case OpExcept:
		return "EXCEPT"
	case OpIntersect:
		return "INTERSECT"
	default:
		return "SELECT"
	}
}

const (
	SfDistinct = 1 << iota
	SfAggregate
	SfValues
	SfMultiValue
	SfRecursive
	SfMinMaxAgg
	SfCompound
	SfCorrelated
	SfSingleRow  // scalar subquery, more than one row is a runtime error
	SfFixedLimit // system LIMIT of a scalar or EXISTS subquery
)

// join type of a FROM term W.R.T the terms on its left
const (
	JtInner = 1 << iota
	JtCross
	JtNatural
	JtLeft
	JtOuter
)

type ResultCol struct {
	Expr *Expr
	Name string
	Span string
}

type OrderTerm struct {
	Expr    *Expr
	Desc    bool
	OrigCol int // 1 based result column the term duplicates, 0 if none
}

// ByColumn returns a copy of the term that refers to its result column by
// number, an explicit COLLATE of the term is kept on top of the number. A
// compound chain compiles the same term against every arm, each arm reads
// the column from its own result.
func (self *OrderTerm) ByColumn() *OrderTerm {
	if self.OrigCol == 0 {
		return self
	}
	e := NewInt(int64(self.OrigCol))
	if HasExplicitColl(self.Expr) {
		coll := ExprColl(self.Expr)
		e = &Expr{
			Kind:   ExprCollate,
			Name:   coll.Name,
			Coll:   coll,
			Left:   e,
			Sub:    NoNode,
			AggIdx: -1,
		}
	}
	return &OrderTerm{
		Expr:    e,
		Desc:    self.Desc,
		OrigCol: self.OrigCol,
	}
}

type SrcItem struct {
	Name       string
	Alias      string
	Table      *storage.Table
	Sub        NodeId
	Cursor     int
	JoinType   int
	On         *Expr // LEFT JOIN constraint, evaluated with the term
	Using      []string
	Columns    []string
	Colls      []*vdbe.Coll
	Recursive  bool // the current row of a recursive query
	Correlated bool

	// code generator state
	RegReturn    int
	AddrFillSub  int
	ViaCoroutine bool
	RegResult    int
}

func (self *SrcItem) DisplayName() string {
	if self.Alias != "" {
		return self.Alias
	}
	if self.Name != "" {
		return self.Name
	}
	return "subquery"
}

func (self *SrcItem) IsLeftJoin() bool { return self.JoinType&JtLeft != 0 }

func (self *SrcItem) HasUsing(col string) bool {
	for _, x := range self.Using {
		if strings.EqualFold(x, col) {
			return true
		}
	}
	return false
}

// Select is one Query Node. A compound select is a chain of nodes linked
// through Prior, the right-most node owns ORDER BY and LIMIT of the whole
// chain and is the one referenced from outside.
type Select struct {
	Id    NodeId
	Op    int
	Flags int
	Prior NodeId
	Next  NodeId

	Result  []*ResultCol
	Src     []*SrcItem
	Where   *Expr
	GroupBy []*Expr
	Having  *Expr
	OrderBy []*OrderTerm
	Limit   *Expr
	Offset  *Expr

	// code generator state
	LimitReg     int
	OffsetReg    int
	AddrOpenEphm [2]int
}

func (self *Select) Has(flag int) bool { return self.Flags&flag != 0 }

func (self *Select) IsAgg() bool { return self.Has(SfAggregate) }

func (self *Select) ResultExprs() []*Expr {
	out := make([]*Expr, len(self.Result))
	for i, r := range self.Result {
		out[i] = r.Expr
	}
	return out
}

func (self *Select) OrderExprs() []*Expr {
	out := make([]*Expr, len(self.OrderBy))
	for i, o := range self.OrderBy {
		out[i] = o.Expr
	}
	return out
}

// Arena owns every Query Node of a statement. Cursor numbers are unique in
// the arena, the code generator allocates its own cursors from here as well.
type Arena struct {
	Selects []*Select
	Catalog *storage.Catalog
	NCursor int
	Diag    *Diag
}

func NewArena(cat *storage.Catalog) *Arena {
	return &Arena{
		Catalog: cat,
		Diag:    &Diag{},
	}
}

func (self *Arena) Node(id NodeId) *Select {
	return self.Selects[int(id)]
}

func (self *Arena) NewSelect() *Select {
	s := &Select{
		Id:    NodeId(len(self.Selects)),
		Prior: NoNode,
		Next:  NoNode,
	}
	self.Selects = append(self.Selects, s)
	return s
}

func (self *Arena) NewCursor() int {
	c := self.NCursor
	self.NCursor++
	return c
}

// LeftMost returns the first node of a compound chain
func (self *Arena) LeftMost(id NodeId) *Select {
	s := self.Node(id)
	for s.Prior != NoNode {
		s = self.Node(s.Prior)
	}
	return s
}

// DupSelect deep copies a compound chain into new nodes and returns the copy
// of the right-most node. Cursor numbers are kept, the copies are coded at
// different places and never run interleaved.
func (self *Arena) DupSelect(id NodeId) NodeId {
	if id == NoNode {
		return NoNode
	}
	src := self.Node(id)
	out := self.NewSelect()
	newId := out.Id
	*out = Select{
		Id:      newId,
		Op:      src.Op,
		Flags:   src.Flags,
		Prior:   NoNode,
		Next:    NoNode,
		Where:   self.DupExpr(src.Where),
		GroupBy: self.DupExprList(src.GroupBy),
		Having:  self.DupExpr(src.Having),
		Limit:   self.DupExpr(src.Limit),
		Offset:  self.DupExpr(src.Offset),
	}
	for _, r := range src.Result {
		out.Result = append(out.Result, &ResultCol{
			Expr: self.DupExpr(r.Expr),
			Name: r.Name,
			Span: r.Span,
		})
	}
	for _, item := range src.Src {
		out.Src = append(out.Src, self.dupSrcItem(item))
	}
	for _, o := range src.OrderBy {
		out.OrderBy = append(out.OrderBy, &OrderTerm{
			Expr:    self.DupExpr(o.Expr),
			Desc:    o.Desc,
			OrigCol: o.OrigCol,
		})
	}
	if src.Prior != NoNode {
		p := self.DupSelect(src.Prior)
		out.Prior = p
		self.Node(p).Next = newId
	}
	return newId
}

func (self *Arena) dupSrcItem(item *SrcItem) *SrcItem {
	out := &SrcItem{
		Name:       item.Name,
		Alias:      item.Alias,
		Table:      item.Table,
		Sub:        NoNode,
		Cursor:     item.Cursor,
		JoinType:   item.JoinType,
		On:         self.DupExpr(item.On),
		Using:      append([]string(nil), item.Using...),
		Columns:    append([]string(nil), item.Columns...),
		Colls:      append([]*vdbe.Coll(nil), item.Colls...),
		Recursive:  item.Recursive,
		Correlated: item.Correlated,
	}
	if item.Sub != NoNode {
		out.Sub = self.DupSelect(item.Sub)
	}
	return out
}
