package cg

import (
	"log/slog"

	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/storage"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Scan service. whereBegin opens one nested loop per FROM term, left to
// right, and places every WHERE term at the innermost loop it needs;
// whereEnd closes the loops. The body in between is executed once per row
// of the join.
//
// Index choice is deliberately narrow: a single base table may be scanned
// through one of its indexes when that delivers the ORDER BY (or GROUP BY)
// order, reads a DISTINCT result in runs of equal rows, or answers a lone
// min()/max() with one row.

// how the caller must treat duplicates of a DISTINCT result
const (
	distinctNoop      = iota // no DISTINCT
	distinctUnique           // the scan yields every row at most once
	distinctOrdered          // duplicates are adjacent
	distinctUnordered        // duplicates are anywhere, use an ephemeral index
)

const (
	levelTable = iota
	levelIndex
	levelEphem     // materialized FROM subquery
	levelCoroutine // FROM subquery yielding its rows
	levelCurrent   // current row of a recursive query, exactly one row
)

type whereReq struct {
	orderBy   []*plan.Expr
	orderDesc []bool
	distinct  []*plan.Expr // DISTINCT result, nil if not distinct
	minMax    int
	minMaxArg *plan.Expr
}

type whereLevel struct {
	item      *plan.SrcItem
	kind      int
	index     *storage.Index
	desc      bool
	top       int
	cont      int
	brk       int
	regMatch  int // LEFT JOIN, set once a row of the term matched
	addrFirst int
	terms     []*plan.Expr
	regMinMax int
}

type whereInfo struct {
	levels []*whereLevel
	brk    int
	cont   int

	nOBSat           int  // leading ORDER BY terms delivered by the scan
	eDistinct        int  // one of distinct*
	orderedInnerLoop bool // the innermost loop alone delivers ORDER BY
	minMax           bool // first row satisfies min()/max(), stop after it
}

func (self *whereInfo) innerBreak() int {
	if len(self.levels) == 0 {
		return self.brk
	}
	return self.levels[len(self.levels)-1].brk
}

type whereCodeGen struct {
	cg *queryCodeGen
}

func (self *queryCodeGen) whereBegin(
	s *plan.Select,
	where *plan.Expr,
	req *whereReq,
) (*whereInfo, error) {
	gen := &whereCodeGen{
		cg: self,
	}
	return gen.begin(s, where, req)
}

func (self *whereCodeGen) begin(
	s *plan.Select,
	where *plan.Expr,
	req *whereReq,
) (*whereInfo, error) {
	cg := self.cg
	v := cg.v
	wi := &whereInfo{
		brk: v.MakeLabel(),
	}
	if req.distinct != nil {
		wi.eDistinct = distinctUnordered
	}

	for _, item := range s.Src {
		lv := &whereLevel{
			item: item,
		}
		switch {
		case item.Recursive:
			lv.kind = levelCurrent
		case item.Sub != plan.NoNode && item.ViaCoroutine:
			lv.kind = levelCoroutine
		case item.Sub != plan.NoNode:
			lv.kind = levelEphem
		default:
			lv.kind = levelTable
		}
		wi.levels = append(wi.levels, lv)
	}
	self.chooseIndex(wi, req)

	// open every relation before the first loop
	for _, lv := range wi.levels {
		switch lv.kind {
		case levelTable:
			v.AddOp4(vdbe.OpOpenRead, lv.item.Cursor, 0, 0, lv.item.Table.Rows)
			v.Comment("%s", lv.item.DisplayName())
		case levelIndex:
			v.AddOp4(vdbe.OpOpenRead, lv.item.Cursor, 0, 0, lv.index.Tree)
			v.Comment("%s via %s", lv.item.DisplayName(), lv.index.Name)
		}
	}

	// terms are placed at the innermost level among the cursors they read,
	// terms reading no cursor of this select are checked once up front
	pos := make(map[int]int)
	for i, lv := range wi.levels {
		pos[lv.item.Cursor] = i
	}
	for _, term := range plan.SplitAnd(where) {
		at := -1
		for c := range cg.arena.ExprCursors(term) {
			if i, ok := pos[c]; ok && i > at {
				at = i
			}
		}
		if at < 0 {
			if err := cg.exprIfFalse(term, wi.brk, true); err != nil {
				return nil, err
			}
			continue
		}
		wi.levels[at].terms = append(wi.levels[at].terms, term)
	}

	for _, lv := range wi.levels {
		if err := self.openLoop(lv); err != nil {
			return nil, err
		}
	}

	if len(wi.levels) == 0 {
		wi.cont = wi.brk
		if wi.eDistinct != distinctNoop {
			wi.eDistinct = distinctUnique
		}
	} else {
		wi.cont = wi.levels[len(wi.levels)-1].cont
	}
	return wi, nil
}

func (self *whereCodeGen) openLoop(lv *whereLevel) error {
	cg := self.cg
	v := cg.v
	item := lv.item
	lv.brk = v.MakeLabel()
	lv.cont = v.MakeLabel()

	if item.IsLeftJoin() {
		lv.regMatch = cg.newReg()
		v.AddOp2(vdbe.OpInteger, 0, lv.regMatch)
		v.Comment("match %s", item.DisplayName())
	}

	switch lv.kind {
	case levelTable, levelIndex, levelEphem:
		op := vdbe.OpRewind
		if lv.desc {
			op = vdbe.OpLast
		}
		v.AddOp2(op, item.Cursor, lv.brk)
		lv.top = v.CurrentAddr()

	case levelCoroutine:
		v.AddOp3(vdbe.OpInitCoroutine, item.RegReturn, 0, item.AddrFillSub)
		lv.top = v.AddOp2(vdbe.OpYield, item.RegReturn, lv.brk)
		v.Comment("next row of %s", item.DisplayName())

	case levelCurrent:
		lv.top = v.CurrentAddr()
	}

	// min(): NULL sorts first in the index but never qualifies
	if lv.regMinMax > 0 {
		v.AddOp3(vdbe.OpColumn, item.Cursor, lv.index.Columns[0], lv.regMinMax)
		v.AddOp2(vdbe.OpIsNull, lv.regMinMax, lv.cont)
	}

	for _, on := range plan.SplitAnd(item.On) {
		if err := cg.exprIfFalse(on, lv.cont, true); err != nil {
			return err
		}
	}
	if lv.regMatch > 0 {
		lv.addrFirst = v.AddOp2(vdbe.OpInteger, 1, lv.regMatch)
	}
	for _, term := range lv.terms {
		if err := cg.exprIfFalse(term, lv.cont, true); err != nil {
			return err
		}
	}
	return nil
}

func (self *queryCodeGen) whereEnd(wi *whereInfo) {
	v := self.v
	for i := len(wi.levels) - 1; i >= 0; i-- {
		lv := wi.levels[i]
		v.ResolveLabel(lv.cont)
		switch lv.kind {
		case levelTable, levelIndex, levelEphem:
			op := vdbe.OpNext
			if lv.desc {
				op = vdbe.OpPrev
			}
			v.AddOp2(op, lv.item.Cursor, lv.top)
		case levelCoroutine:
			v.Goto(lv.top)
		}
		v.ResolveLabel(lv.brk)

		// no row matched, run the body once more with a NULL row
		if lv.regMatch > 0 {
			addr := v.AddOp3(vdbe.OpIfPos, lv.regMatch, 0, 0)
			v.AddOp1(vdbe.OpNullRow, lv.item.Cursor)
			v.Goto(lv.addrFirst)
			v.JumpHere(addr)
		}
	}
	v.ResolveLabel(wi.brk)
}

// ----------------------------------------------------------------------------
// index choice

// plainColumn returns the column a term reads on cursor, or -1
func plainColumn(e *plan.Expr, cursor int) int {
	if e.Kind == plan.ExprCollate {
		e = e.Left
	}
	if e.Kind == plan.ExprColumn && e.Cursor == cursor {
		return e.Column
	}
	return -1
}

// orderPrefix counts the leading ORDER BY terms the index delivers, every
// delivered term must share the direction of the first one
func orderPrefix(
	t *storage.Table,
	idx *storage.Index,
	cursor int,
	req *whereReq,
) int {
	n := 0
	for i, x := range req.orderBy {
		if i >= len(idx.Columns) || req.orderDesc[i] != req.orderDesc[0] {
			break
		}
		col := plainColumn(x, cursor)
		if col != idx.Columns[i] {
			break
		}
		if !sameColl(plan.ExprColl(x), t.Columns[col].Coll) {
			break
		}
		n++
	}
	return n
}

// leadingSet reports whether the first len(exprs) index columns are exactly
// the columns of exprs, in any order
func leadingSet(
	t *storage.Table,
	idx *storage.Index,
	cursor int,
	exprs []*plan.Expr,
) bool {
	if len(exprs) == 0 || len(exprs) > len(idx.Columns) {
		return false
	}
	lead := make(map[int]bool)
	for _, c := range idx.Columns[:len(exprs)] {
		lead[c] = true
	}
	for _, x := range exprs {
		col := plainColumn(x, cursor)
		if col < 0 || !lead[col] || !sameColl(plan.ExprColl(x), t.Columns[col].Coll) {
			return false
		}
		delete(lead, col)
	}
	return len(lead) == 0
}

func (self *whereCodeGen) chooseIndex(wi *whereInfo, req *whereReq) {
	if len(wi.levels) == 0 {
		return
	}
	if len(wi.levels) > 1 {
		self.chooseInnerIndex(wi, req)
		return
	}
	lv := wi.levels[0]
	if lv.kind != levelTable || len(lv.item.Table.Indexes) == 0 {
		return
	}
	t := lv.item.Table
	cursor := lv.item.Cursor
	log := self.cg.log

	if req.minMax != vdbe.MinMaxNone && !self.cg.cfg.NoMinMax {
		col := -1
		if info := req.minMaxArg.Agg; info != nil {
			c := info.Columns[req.minMaxArg.AggIdx]
			if c.Cursor == cursor {
				col = c.Column
			}
		}
		for _, idx := range t.Indexes {
			if col >= 0 && idx.Columns[0] == col {
				lv.kind = levelIndex
				lv.index = idx
				lv.desc = req.minMax == vdbe.MinMaxMax
				if !lv.desc {
					lv.regMinMax = self.cg.newReg()
				}
				wi.minMax = true
				log.Debug("index", slog.String("use", "minmax"), slog.String("index", idx.Name))
				return
			}
		}
	}

	best, bestN := (*storage.Index)(nil), 0
	for _, idx := range t.Indexes {
		if n := orderPrefix(t, idx, cursor, req); n > bestN {
			best, bestN = idx, n
		}
	}
	if best != nil {
		lv.kind = levelIndex
		lv.index = best
		lv.desc = req.orderDesc[0]
		wi.nOBSat = bestN
		log.Debug("index", slog.String("use", "order"), slog.String("index", best.Name))
	}

	if req.distinct != nil {
		if best != nil {
			if leadingSet(t, best, cursor, req.distinct) {
				wi.eDistinct = distinctOrdered
			}
			return
		}
		for _, idx := range t.Indexes {
			if leadingSet(t, idx, cursor, req.distinct) {
				lv.kind = levelIndex
				lv.index = idx
				wi.eDistinct = distinctOrdered
				log.Debug("index", slog.String("use", "distinct"), slog.String("index", idx.Name))
				return
			}
		}
	}
}

// chooseInnerIndex handles a join: when every ORDER BY term reads the
// innermost base table and one of its indexes delivers all of them, each
// pass of the inner loop produces rows in sorted order
func (self *whereCodeGen) chooseInnerIndex(wi *whereInfo, req *whereReq) {
	if len(req.orderBy) == 0 {
		return
	}
	lv := wi.levels[len(wi.levels)-1]
	if lv.kind != levelTable || lv.item.IsLeftJoin() {
		return
	}
	t := lv.item.Table
	for _, idx := range t.Indexes {
		if orderPrefix(t, idx, lv.item.Cursor, req) == len(req.orderBy) {
			lv.kind = levelIndex
			lv.index = idx
			lv.desc = req.orderDesc[0]
			wi.orderedInnerLoop = true
			return
		}
	}
}
