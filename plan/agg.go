package plan

import (
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Aggregate analysis of one select.
//
// Aggregate functions and the columns of the select's own FROM terms show
// up almost anywhere: result set, HAVING and ORDER BY. Once a group is
// complete the scan cursors no longer point at it, so every such column is
// rewritten into a reference to an accumulator slot (ExprAggColumn) and
// every aggregate function into a reference to its accumulator
// (ExprAggFunc with AggIdx set). Columns of the select referenced from a
// subquery of these clauses are rewritten as well, the subquery runs when
// the group is output.
//
// Aggregates always belong to the innermost select that contains them.

type AggColumn struct {
	Cursor       int
	Column       int
	Expr         *Expr // first reference, used to read the column in the scan
	SorterColumn int   // column of the GROUP BY sorter record
	Reg          int
}

type AggFunc struct {
	Expr           *Expr
	Def            *vdbe.FuncDef
	Reg            int
	DistinctCursor int // ephemeral index of a DISTINCT aggregate, -1 if none
}

type AggInfo struct {
	Columns []*AggColumn
	Funcs   []*AggFunc
	GroupBy []*Expr

	NSortingColumn int // columns of the sorter record
	NAccumulator   int // Columns[:NAccumulator] are read outside of aggregates

	// code generator state
	DirectMode     bool // columns are read straight from their cursors
	UseSortingIdx  bool // columns are read from SortingIdxPTab
	SortingIdx     int
	SortingIdxPTab int
}

// AnalyzeAgg builds the AggInfo of an aggregate select and rewrites its
// result set, ORDER BY and HAVING to reference it.
func (self *Arena) AnalyzeAgg(s *Select) *AggInfo {
	info := &AggInfo{
		GroupBy:        s.GroupBy,
		NSortingColumn: len(s.GroupBy),
	}
	own := make(CursorSet)
	for _, item := range s.Src {
		own[item.Cursor] = true
	}

	for _, r := range s.Result {
		self.analyzeAggExpr(info, own, r.Expr, false)
	}
	for _, o := range s.OrderBy {
		self.analyzeAggExpr(info, own, o.Expr, false)
	}
	self.analyzeAggExpr(info, own, s.Having, false)
	info.NAccumulator = len(info.Columns)

	for _, f := range info.Funcs {
		for _, arg := range f.Expr.List {
			self.analyzeAggExpr(info, own, arg, true)
		}
	}
	return info
}

func (self *Arena) analyzeAggExpr(info *AggInfo, own CursorSet, e *Expr, inFunc bool) {
	Walk(e, func(x *Expr) bool {
		switch x.Kind {
		case ExprColumn:
			if own.Has(x.Cursor) {
				info.addColumn(x)
			}
			return false

		case ExprAggFunc:
			if inFunc {
				return false
			}
			info.addFunc(x)
			return false

		case ExprSubquery, ExprExists, ExprIn:
			self.analyzeAggSelect(info, own, x.Sub)
			return true
		}
		return true
	})
}

// columns of the outer select referenced by a subquery, aggregates of the
// subquery stay with it
func (self *Arena) analyzeAggSelect(info *AggInfo, own CursorSet, id NodeId) {
	for id != NoNode {
		s := self.Node(id)
		for _, r := range s.Result {
			self.analyzeAggExpr(info, own, r.Expr, true)
		}
		self.analyzeAggExpr(info, own, s.Where, true)
		for _, g := range s.GroupBy {
			self.analyzeAggExpr(info, own, g, true)
		}
		self.analyzeAggExpr(info, own, s.Having, true)
		for _, o := range s.OrderBy {
			self.analyzeAggExpr(info, own, o.Expr, true)
		}
		for _, item := range s.Src {
			self.analyzeAggExpr(info, own, item.On, true)
			if item.Sub != NoNode {
				self.analyzeAggSelect(info, own, item.Sub)
			}
		}
		id = s.Prior
	}
}

func (self *AggInfo) addColumn(x *Expr) {
	idx := -1
	for i, c := range self.Columns {
		if c.Cursor == x.Cursor && c.Column == x.Column {
			idx = i
			break
		}
	}
	if idx < 0 {
		col := &AggColumn{
			Cursor:       x.Cursor,
			Column:       x.Column,
			Expr:         NewColumn(x.Cursor, x.Column, x.Name, x.Coll),
			SorterColumn: -1,
		}
		for j, g := range self.GroupBy {
			if g.Kind == ExprColumn && g.Cursor == x.Cursor && g.Column == x.Column {
				col.SorterColumn = j
				break
			}
		}
		if col.SorterColumn < 0 {
			col.SorterColumn = self.NSortingColumn
			self.NSortingColumn++
		}
		idx = len(self.Columns)
		self.Columns = append(self.Columns, col)
	}
	x.Kind = ExprAggColumn
	x.Agg = self
	x.AggIdx = idx
}

func (self *AggInfo) addFunc(x *Expr) {
	idx := -1
	for i, f := range self.Funcs {
		if ExprEqual(f.Expr, x) {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = len(self.Funcs)
		self.Funcs = append(self.Funcs, &AggFunc{
			Expr:           x,
			Def:            x.Def,
			DistinctCursor: -1,
		})
	}
	x.Agg = self
	x.AggIdx = idx
}

// ResultIsCountStar tells whether the result set is a single aggregate call
// without arguments, ie count(*)
func (self *AggInfo) ResultIsCountStar(s *Select) bool {
	if len(s.Result) != 1 || len(self.Funcs) != 1 {
		return false
	}
	e := s.Result[0].Expr
	return e.Kind == ExprAggFunc && len(e.List) == 0 && e.Def.Name == "count"
}

// MinMax reports whether the query is a single min() or max() of a plain
// column, such a query reads one row from an index ordered on that column.
// It returns the function and its argument.
func (self *AggInfo) MinMax() (int, *Expr) {
	if len(self.Funcs) != 1 {
		return vdbe.MinMaxNone, nil
	}
	f := self.Funcs[0]
	if f.Def.MinMax == vdbe.MinMaxNone || len(f.Expr.List) != 1 {
		return vdbe.MinMaxNone, nil
	}
	arg := f.Expr.List[0]
	if arg.Kind != ExprAggColumn {
		return vdbe.MinMaxNone, nil
	}
	return f.Def.MinMax, arg
}
