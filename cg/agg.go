package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Aggregate selects.
//
// With GROUP BY the scan feeds a sorter keyed by the GROUP BY expressions,
// unless the scan already delivers rows in group order. The sorted rows
// are then walked once: whenever the group key changes, the previous group
// is finalized and output by a subroutine and the accumulators are reset
// by another one.
//
// Without GROUP BY there is exactly one group. count(*) over a bare table
// reads the row count of the table, a lone min()/max() stops at the first
// row of an index ordered on its argument.

type aggCodeGen struct {
	cg   *queryCodeGen
	s    *plan.Select
	info *plan.AggInfo
}

// prepareAgg runs the aggregate analysis, it rewrites result, ORDER BY and
// HAVING of s and has to come before any of them is compiled
func (self *queryCodeGen) prepareAgg(s *plan.Select) *aggCodeGen {
	info := self.arena.AnalyzeAgg(s)
	for _, c := range info.Columns {
		c.Reg = self.newReg()
	}
	for _, f := range info.Funcs {
		f.Reg = self.newReg()
		if f.Expr.Distinct && len(f.Expr.List) == 1 {
			f.DistinctCursor = self.newCursor()
		}
	}
	return &aggCodeGen{
		cg:   self,
		s:    s,
		info: info,
	}
}

// resetAccumulators clears every accumulator before a group
func (self *aggCodeGen) resetAccumulators() {
	v := self.cg.v
	info := self.info
	n := len(info.Columns) + len(info.Funcs)
	if n == 0 {
		return
	}
	first := -1
	if len(info.Columns) > 0 {
		first = info.Columns[0].Reg
	} else {
		first = info.Funcs[0].Reg
	}
	v.AddOp3(vdbe.OpNull, 0, first, first+n-1)
	for _, f := range info.Funcs {
		if f.DistinctCursor >= 0 {
			v.AddOp4(vdbe.OpOpenTEphemeral, f.DistinctCursor, 0, 0, exprListKeyDef(f.Expr.List))
			v.Comment("%s(DISTINCT)", f.Def.Name)
		}
	}
}

// updateAccumulators steps every aggregate with the current row and loads
// the columns read outside of aggregates
func (self *aggCodeGen) updateAccumulators() error {
	cg := self.cg
	v := cg.v
	info := self.info
	info.DirectMode = true
	defer func() {
		info.DirectMode = false
	}()

	for _, f := range info.Funcs {
		nArg := len(f.Expr.List)
		regArgs := 0
		if nArg > 0 {
			regArgs = cg.newRegs(nArg)
			if err := cg.codeExprList(f.Expr.List, regArgs); err != nil {
				return err
			}
		}
		addrNext := 0
		if f.DistinctCursor >= 0 {
			addrNext = v.MakeLabel()
			cg.codeDistinct(f.DistinctCursor, addrNext, nArg, regArgs)
		}
		var coll *vdbe.Coll
		for _, arg := range f.Expr.List {
			if coll = plan.ExprColl(arg); coll != nil {
				break
			}
		}
		v.AddOp4(vdbe.OpAggStep, 0, regArgs, f.Reg, &vdbe.FuncCall{
			Def:  f.Def,
			Coll: coll,
		})
		v.ChangeP5(uint16(nArg))
		v.Comment("%s()", f.Def.Name)
		if f.DistinctCursor >= 0 {
			v.ResolveLabel(addrNext)
		}
	}

	for i, c := range info.Columns[:info.NAccumulator] {
		ref := &plan.Expr{
			Kind:   plan.ExprAggColumn,
			Agg:    info,
			AggIdx: i,
			Name:   c.Expr.Name,
			Sub:    plan.NoNode,
		}
		if err := cg.codeExpr(ref, c.Reg); err != nil {
			return err
		}
	}
	return nil
}

func (self *aggCodeGen) finalize() {
	v := self.cg.v
	for _, f := range self.info.Funcs {
		v.AddOp4(vdbe.OpAggFinal, f.Reg, len(f.Expr.List), 0, &vdbe.FuncCall{
			Def: f.Def,
		})
	}
}

// isCountStar tells whether s is SELECT count(*) FROM table
func (self *aggCodeGen) isCountStar() bool {
	s := self.s
	if self.cg.cfg.NoCountFastPath || s.Where != nil || s.Having != nil || len(s.GroupBy) > 0 {
		return false
	}
	if len(s.Src) != 1 || s.Src[0].Table == nil || s.Src[0].Sub != plan.NoNode || s.Src[0].Recursive {
		return false
	}
	return self.info.ResultIsCountStar(s) && !self.info.Funcs[0].Expr.Distinct
}

// simple compiles an aggregate without GROUP BY, its single row goes to
// dest unsorted
func (self *aggCodeGen) simple(
	distinct *distinctCtx,
	dest *Dest,
	addrEnd int,
) error {
	cg := self.cg
	v := cg.v
	s := self.s
	info := self.info

	if self.isCountStar() {
		item := s.Src[0]
		v.AddOp4(vdbe.OpOpenRead, item.Cursor, 0, 0, item.Table.Rows)
		v.Comment("%s", item.DisplayName())
		v.AddOp2(vdbe.OpCount, item.Cursor, info.Funcs[0].Reg)
		v.AddOp1(vdbe.OpClose, item.Cursor)
		cg.log.Debug("count fast path")
	} else {
		self.resetAccumulators()
		req := &whereReq{}
		req.minMax, req.minMaxArg = info.MinMax()
		wi, err := cg.whereBegin(s, s.Where, req)
		if err != nil {
			return err
		}
		if err := self.updateAccumulators(); err != nil {
			return err
		}
		if wi.minMax {
			v.Goto(wi.brk)
		}
		cg.whereEnd(wi)
		self.finalize()
	}

	if s.Having != nil {
		if err := cg.exprIfFalse(s.Having, addrEnd, true); err != nil {
			return err
		}
	}
	if distinct != nil {
		distinct.resolve(cg, distinctUnique, len(s.Result))
	}
	return cg.selectInnerLoop(s, -1, nil, distinct, dest, addrEnd, addrEnd)
}

// groupBy compiles an aggregate with GROUP BY
func (self *aggCodeGen) groupBy(
	sort *sortCtx,
	distinct *distinctCtx,
	dest *Dest,
	addrEnd int,
) error {
	cg := self.cg
	v := cg.v
	s := self.s
	info := self.info
	nGroupBy := len(info.GroupBy)
	kd := exprListKeyDef(info.GroupBy)

	info.SortingIdx = cg.newCursor()
	info.SortingIdxPTab = cg.newCursor()
	addrSortingIdx := v.AddOp4(vdbe.OpSorterOpen, info.SortingIdx, 0, 0, kd)
	v.Comment("GROUP BY")

	iUseFlag := cg.newReg()
	iAbortFlag := cg.newReg()
	regOutputRow := cg.newReg()
	regReset := cg.newReg()
	iAMem := cg.newRegs(nGroupBy)
	iBMem := cg.newRegs(nGroupBy)
	labelOutputRow := v.MakeLabel()
	labelReset := v.MakeLabel()
	labelSetAbort := v.MakeLabel()

	v.AddOp2(vdbe.OpInteger, 0, iUseFlag)
	v.Comment("clear the use flag")
	v.AddOp2(vdbe.OpInteger, 0, iAbortFlag)
	v.Comment("clear the abort flag")
	v.AddOp3(vdbe.OpNull, 0, iAMem, iAMem+nGroupBy-1)
	v.AddOp2(vdbe.OpGosub, regReset, labelReset)

	req := &whereReq{
		orderBy:   info.GroupBy,
		orderDesc: make([]bool, nGroupBy),
	}
	wi, err := cg.whereBegin(s, s.Where, req)
	if err != nil {
		return err
	}

	groupBySort := wi.nOBSat < nGroupBy
	addrTopOfLoop := 0
	if groupBySort {
		// sorter record: GROUP BY keys then the other columns in use
		nCol := info.NSortingColumn
		regBase := cg.newRegs(nCol)
		info.DirectMode = true
		if err := cg.codeExprList(info.GroupBy, regBase); err != nil {
			return err
		}
		for _, c := range info.Columns {
			if c.SorterColumn >= nGroupBy {
				if err := cg.codeExpr(c.Expr, regBase+c.SorterColumn); err != nil {
					return err
				}
			}
		}
		info.DirectMode = false
		regRecord := cg.newReg()
		v.AddOp3(vdbe.OpMakeRecord, regBase, nCol, regRecord)
		v.AddOp2(vdbe.OpSorterInsert, info.SortingIdx, regRecord)
		cg.whereEnd(wi)

		sortOut := cg.newReg()
		v.AddOp2(vdbe.OpOpenPseudo, info.SortingIdxPTab, sortOut)
		v.AddOp2(vdbe.OpSorterSort, info.SortingIdx, addrEnd)
		v.Comment("GROUP BY sort")
		addrTopOfLoop = v.AddOp2(vdbe.OpSorterData, info.SortingIdx, sortOut)
		info.UseSortingIdx = true
	} else {
		v.ChangeToNoop(addrSortingIdx)
	}

	info.DirectMode = true
	for j, g := range info.GroupBy {
		if groupBySort {
			v.AddOp3(vdbe.OpColumn, info.SortingIdxPTab, j, iBMem+j)
		} else if err := cg.codeExpr(g, iBMem+j); err != nil {
			return err
		}
	}
	info.DirectMode = false

	v.AddOp4(vdbe.OpCompare, iAMem, iBMem, nGroupBy, kd)
	addr1 := v.CurrentAddr()
	v.AddOp3(vdbe.OpJump, addr1+1, 0, addr1+1)

	// new group: output the previous one, then start over
	v.AddOp3(vdbe.OpMove, iBMem, iAMem, nGroupBy)
	v.AddOp2(vdbe.OpGosub, regOutputRow, labelOutputRow)
	v.Comment("output one row")
	v.AddOp2(vdbe.OpIfPos, iAbortFlag, addrEnd)
	v.Comment("check abort flag")
	v.AddOp2(vdbe.OpGosub, regReset, labelReset)
	v.Comment("reset accumulator")

	v.JumpHere(addr1)
	if err := self.updateAccumulators(); err != nil {
		return err
	}
	v.AddOp2(vdbe.OpInteger, 1, iUseFlag)
	v.Comment("indicate data in accumulator")

	if groupBySort {
		v.AddOp2(vdbe.OpSorterNext, info.SortingIdx, addrTopOfLoop)
	} else {
		cg.whereEnd(wi)
	}

	// the last group
	v.AddOp2(vdbe.OpGosub, regOutputRow, labelOutputRow)
	v.Comment("output final row")
	v.Goto(addrEnd)

	v.ResolveLabel(labelSetAbort)
	v.AddOp2(vdbe.OpInteger, 1, iAbortFlag)
	v.Comment("set abort flag")
	v.AddOp1(vdbe.OpReturn, regOutputRow)

	v.ResolveLabel(labelOutputRow)
	addrOutputRow := v.CurrentAddr()
	v.AddOp2(vdbe.OpIfPos, iUseFlag, addrOutputRow+2)
	v.AddOp1(vdbe.OpReturn, regOutputRow)
	self.finalize()
	if s.Having != nil {
		if err := cg.exprIfFalse(s.Having, addrOutputRow+1, true); err != nil {
			return err
		}
	}
	if err := cg.selectInnerLoop(s, -1, sort, distinct, dest, addrOutputRow+1, labelSetAbort); err != nil {
		return err
	}
	v.AddOp1(vdbe.OpReturn, regOutputRow)

	v.ResolveLabel(labelReset)
	self.resetAccumulators()
	v.AddOp1(vdbe.OpReturn, regReset)
	return nil
}
