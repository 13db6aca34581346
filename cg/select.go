package cg

import (
	"log/slog"

	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// selectStmt generates the code of the select id, its rows go to dest
func (self *queryCodeGen) selectStmt(id plan.NodeId, dest *Dest) error {
	v := self.v
	s := self.arena.Node(id)
	self.checkColumns(s)
	if err := self.check(); err != nil {
		return err
	}

	if s.Prior == plan.NoNode && !self.cfg.NoFlatten {
		if n := self.arena.Normalize(id); n > 0 {
			self.log.Debug(
				"flatten",
				slog.Int("parent", int(id)),
				slog.Int("children", n),
			)
		}
	}
	if s.Prior != plan.NoNode {
		self.log.Debug(
			"select",
			slog.Int("id", int(id)),
			slog.String("dest", destName(dest.Mode)),
			slog.String("strategy", "compound"),
		)
		return self.compoundSelect(id, dest)
	}

	if err := self.fromSubqueries(s); err != nil {
		return err
	}

	strategy := "simple"
	if s.IsAgg() {
		strategy = "aggregate"
	}
	self.log.Debug(
		"select",
		slog.Int("id", int(id)),
		slog.String("dest", destName(dest.Mode)),
		slog.String("strategy", strategy),
	)

	orderBy := s.OrderBy
	isDistinct := s.Has(plan.SfDistinct)
	if dest.ignoresOrderBy() {
		orderBy = nil
	}
	if dest.ignoresDistinct() {
		isDistinct = false
	}

	// SELECT DISTINCT a, b ... ORDER BY a, b is grouping in disguise
	if isDistinct && !s.IsAgg() && len(orderBy) > 0 &&
		allAsc(orderBy) &&
		plan.ExprListEqual(orderByExprs(s, orderBy), s.ResultExprs()) {
		s.GroupBy = self.arena.DupExprList(s.ResultExprs())
		s.Flags |= plan.SfAggregate
		s.Flags &^= plan.SfDistinct
		isDistinct = false
		self.log.Debug("distinct as group by", slog.Int("id", int(id)))
	}

	var agg *aggCodeGen
	orderByIsGroupBy := false
	if s.IsAgg() {
		if len(s.GroupBy) == 0 {
			orderBy = nil
		} else if len(orderBy) > 0 && allAsc(orderBy) &&
			plan.ExprListEqual(orderByExprs(s, orderBy), s.GroupBy) {
			orderByIsGroupBy = true
		}
		agg = self.prepareAgg(s)
	}

	var sort *sortCtx
	if len(orderBy) > 0 && !orderByIsGroupBy {
		sort = self.openSort(s, orderBy)
	}

	if dest.Mode == DestEphemTab {
		v.AddOp4(vdbe.OpOpenTEphemeral, dest.Parm, 0, 0, idKeyDef(len(s.Result)))
	}

	iEnd := v.MakeLabel()
	if err := self.computeLimitRegisters(s, iEnd); err != nil {
		return err
	}
	self.useSorterIfUnlimited(s, sort)

	var distinct *distinctCtx
	if isDistinct {
		distinct = &distinctCtx{
			mode: distinctUnordered,
			tab:  self.newCursor(),
		}
		distinct.addrOpen = v.AddOp4(
			vdbe.OpOpenTEphemeral,
			distinct.tab,
			0,
			0,
			exprListKeyDef(s.ResultExprs()),
		)
		v.Comment("DISTINCT")
	}

	switch {
	case agg == nil:
		req := &whereReq{}
		if sort != nil {
			req.orderBy = sort.exprs
			for _, t := range sort.terms {
				req.orderDesc = append(req.orderDesc, t.Desc)
			}
		}
		if distinct != nil {
			req.distinct = s.ResultExprs()
		}
		wi, err := self.whereBegin(s, s.Where, req)
		if err != nil {
			return err
		}
		sort = self.adjustToScan(sort, wi)
		if distinct != nil {
			distinct.resolve(self, wi.eDistinct, len(s.Result))
		}
		if err := self.selectInnerLoop(s, -1, sort, distinct, dest, wi.cont, wi.brk); err != nil {
			return err
		}
		self.whereEnd(wi)

	case len(s.GroupBy) > 0:
		addrEnd := v.MakeLabel()
		if err := agg.groupBy(sort, distinct, dest, addrEnd); err != nil {
			return err
		}
		v.ResolveLabel(addrEnd)

	default:
		addrEnd := v.MakeLabel()
		if err := agg.simple(distinct, dest, addrEnd); err != nil {
			return err
		}
		v.ResolveLabel(addrEnd)
	}

	if sort != nil {
		self.sortTail(s, sort, len(s.Result), dest)
	}
	if s.Has(plan.SfSingleRow) && s.LimitReg > 0 {
		self.raiseOnMultipleRows(s.LimitReg, iEnd)
	}
	v.ResolveLabel(iEnd)
	return self.check()
}

func allAsc(terms []*plan.OrderTerm) bool {
	for _, t := range terms {
		if t.Desc {
			return false
		}
	}
	return true
}

// fromSubqueries generates the subqueries of the FROM clause. The first
// term may run as a coroutine handing out one row at a time, any other one
// is materialized into an ephemeral table read by the scan.
func (self *queryCodeGen) fromSubqueries(s *plan.Select) error {
	for i, item := range s.Src {
		if item.Sub == plan.NoNode || item.Recursive {
			continue
		}
		if !self.cfg.NoPushdown && !item.IsLeftJoin() {
			if n := self.arena.PushDown(item.Sub, s.Where, item.Cursor); n > 0 {
				self.log.Debug(
					"pushdown",
					slog.Int("subquery", int(item.Sub)),
					slog.Int("terms", n),
				)
			}
		}

		coroutine := i == 0 &&
			(len(s.Src) == 1 || s.Src[1].JoinType&(plan.JtLeft|plan.JtCross) != 0) &&
			!self.cfg.NoCoroutine
		var err error
		if coroutine {
			err = self.codeCoroutine(item)
		} else {
			err = self.materialize(item)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *queryCodeGen) codeCoroutine(item *plan.SrcItem) error {
	v := self.v
	item.RegReturn = self.newReg()
	addrTop := v.CurrentAddr() + 1
	v.AddOp3(vdbe.OpInitCoroutine, item.RegReturn, 0, addrTop)
	v.Comment("coroutine %s", item.DisplayName())
	item.AddrFillSub = addrTop

	dest := newDest(DestCoroutine, item.RegReturn)
	if err := self.selectStmt(item.Sub, dest); err != nil {
		return err
	}
	item.RegResult = dest.Sdst
	item.ViaCoroutine = true
	self.coroutines[item.Cursor] = item

	v.AddOp1(vdbe.OpEndCoroutine, item.RegReturn)
	v.JumpHere(addrTop - 1)
	return nil
}

// materialize fills the ephemeral table of the FROM term. An uncorrelated
// subquery is filled on the first pass only.
func (self *queryCodeGen) materialize(item *plan.SrcItem) error {
	v := self.v
	item.RegReturn = self.newReg()
	topAddr := v.AddOp2(vdbe.OpInteger, 0, item.RegReturn)
	item.AddrFillSub = topAddr + 1

	addrOnce := self.codeOnce(item.Sub)
	dest := newDest(DestEphemTab, item.Cursor)
	if err := self.selectStmt(item.Sub, dest); err != nil {
		return err
	}
	self.endOnce(addrOnce)

	retAddr := v.AddOp1(vdbe.OpReturn, item.RegReturn)
	v.Comment("end %s", item.DisplayName())
	v.ChangeP1(topAddr, retAddr)
	return nil
}
