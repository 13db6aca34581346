package cg

import (
	"log/slog"

	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Compound selects without ORDER BY.
//
//	UNION ALL   both sides go straight to the destination, sharing LIMIT
//	UNION       both sides are inserted into one ephemeral index
//	EXCEPT      left side inserted, right side removed from the index
//	INTERSECT   each side gets an index, rows of the left one found in the
//	            right one are output
//
// s is always the right-most node, the rest of the chain hangs off its
// Prior and is compiled first as a select of its own.

func (self *queryCodeGen) compoundSelect(id plan.NodeId, dest *Dest) error {
	s := self.arena.Node(id)
	if dest.Mode == DestEphemTab {
		self.v.AddOp4(vdbe.OpOpenTEphemeral, dest.Parm, 0, 0, idKeyDef(len(s.Result)))
		d := *dest
		d.Mode = DestTable
		dest = &d
	}

	if s.Has(plan.SfRecursive) {
		return self.recursiveSelect(id, dest)
	}
	if self.isValuesList(s) {
		return self.valuesList(s, dest)
	}
	if len(s.OrderBy) > 0 && !dest.ignoresOrderBy() {
		return self.mergeSelect(id, dest)
	}

	switch s.Op {
	case plan.OpUnionAll:
		return self.unionAll(s, dest)
	case plan.OpIntersect:
		return self.intersect(s, dest)
	default:
		return self.unionExcept(s, dest)
	}
}

// isValuesList tells whether s is the last row of a plain VALUES list, no
// ORDER BY, LIMIT or OFFSET anywhere on the chain
func (self *queryCodeGen) isValuesList(s *plan.Select) bool {
	for x := s; ; x = self.arena.Node(x.Prior) {
		if !x.Has(plan.SfMultiValue) || (x.Prior != plan.NoNode && x.Op != plan.OpUnionAll) {
			return false
		}
		if len(x.OrderBy) > 0 || x.Limit != nil || x.Offset != nil || x.LimitReg > 0 {
			return false
		}
		if x.Prior == plan.NoNode {
			return true
		}
	}
}

// valuesList outputs the rows of a VALUES list one after the other, each
// row is a select of its own writing to dest
func (self *queryCodeGen) valuesList(s *plan.Select, dest *Dest) error {
	first, n := s, 1
	for first.Prior != plan.NoNode {
		first = self.arena.Node(first.Prior)
		n++
	}
	self.log.Debug("values list", slog.Int("rows", n))
	for x := first; ; x = self.arena.Node(x.Next) {
		prior := x.Prior
		x.Prior = plan.NoNode
		err := self.selectStmt(x.Id, dest)
		x.Prior = prior
		if err != nil {
			return err
		}
		if x == s {
			return nil
		}
	}
}

// alone compiles s as if it was not part of a compound, without the LIMIT
// and OFFSET of the compound
func (self *queryCodeGen) alone(s *plan.Select, dest *Dest) error {
	prior, limit, offset, flags := s.Prior, s.Limit, s.Offset, s.Flags
	s.Prior = plan.NoNode
	s.Limit = nil
	s.Offset = nil
	s.Flags &^= plan.SfSingleRow | plan.SfFixedLimit
	err := self.selectStmt(s.Id, dest)
	s.Prior, s.Limit, s.Offset, s.Flags = prior, limit, offset, flags
	return err
}

// singleRowCheck closes a compound scalar subquery
func (self *queryCodeGen) singleRowCheck(s *plan.Select) {
	if s.Has(plan.SfSingleRow) && s.LimitReg > 0 {
		end := self.v.MakeLabel()
		self.raiseOnMultipleRows(s.LimitReg, end)
		self.v.ResolveLabel(end)
	}
}

func (self *queryCodeGen) unionAll(s *plan.Select, dest *Dest) error {
	v := self.v
	prior := self.arena.Node(s.Prior)

	// the left side owns LIMIT and OFFSET, the right side continues with
	// whatever is left of the counters
	limit, offset, flags := prior.Limit, prior.Offset, prior.Flags
	prior.Limit = s.Limit
	prior.Offset = s.Offset
	prior.LimitReg = 0
	prior.OffsetReg = 0
	prior.Flags |= s.Flags & (plan.SfSingleRow | plan.SfFixedLimit)
	if err := self.selectStmt(s.Prior, dest); err != nil {
		return err
	}
	singleRow := prior.Has(plan.SfSingleRow)
	s.LimitReg = prior.LimitReg
	s.OffsetReg = prior.OffsetReg
	prior.Limit, prior.Offset, prior.Flags = limit, offset, flags

	addr := -1
	if s.LimitReg > 0 {
		addr = v.AddOp3(vdbe.OpIfNot, s.LimitReg, 0, 0)
		v.Comment("LIMIT reached")
		if s.OffsetReg > 0 {
			v.AddOp3(vdbe.OpOffsetLimit, s.LimitReg, s.OffsetReg+1, s.OffsetReg)
		}
	}
	if err := self.alone(s, dest); err != nil {
		return err
	}
	if addr >= 0 {
		v.JumpHere(addr)
	}
	if singleRow && s.LimitReg > 0 {
		end := v.MakeLabel()
		self.raiseOnMultipleRows(s.LimitReg, end)
		v.ResolveLabel(end)
	}
	return nil
}

func (self *queryCodeGen) unionExcept(s *plan.Select, dest *Dest) error {
	v := self.v
	kd := self.multiSelectKeyDef(s)

	// a UNION feeding a UNION shares the index of its consumer
	unionTab := 0
	shared := dest.Mode == DestUnion && s.Limit == nil && s.Offset == nil
	if shared {
		unionTab = dest.Parm
	} else {
		unionTab = self.newCursor()
		s.AddrOpenEphm[0] = v.AddOp4(vdbe.OpOpenTEphemeral, unionTab, 0, 0, kd)
		v.Comment("%s", plan.OpName(s.Op))
	}

	if err := self.selectStmt(s.Prior, newDest(DestUnion, unionTab)); err != nil {
		return err
	}
	op := DestUnion
	if s.Op == plan.OpExcept {
		op = DestExcept
	}
	s.LimitReg = 0
	s.OffsetReg = 0
	if err := self.alone(s, newDest(op, unionTab)); err != nil {
		return err
	}
	if shared {
		return nil
	}

	iBreak := v.MakeLabel()
	iCont := v.MakeLabel()
	if err := self.computeLimitRegisters(s, iBreak); err != nil {
		return err
	}
	v.AddOp2(vdbe.OpRewind, unionTab, iBreak)
	iStart := v.CurrentAddr()
	if err := self.selectInnerLoop(s, unionTab, nil, nil, dest, iCont, iBreak); err != nil {
		return err
	}
	v.ResolveLabel(iCont)
	v.AddOp2(vdbe.OpNext, unionTab, iStart)
	v.ResolveLabel(iBreak)
	v.AddOp1(vdbe.OpClose, unionTab)
	self.singleRowCheck(s)
	return nil
}

func (self *queryCodeGen) intersect(s *plan.Select, dest *Dest) error {
	v := self.v
	kd := self.multiSelectKeyDef(s)

	tab1 := self.newCursor()
	s.AddrOpenEphm[0] = v.AddOp4(vdbe.OpOpenTEphemeral, tab1, 0, 0, kd)
	v.Comment("INTERSECT left")
	if err := self.selectStmt(s.Prior, newDest(DestUnion, tab1)); err != nil {
		return err
	}

	tab2 := self.newCursor()
	s.AddrOpenEphm[1] = v.AddOp4(vdbe.OpOpenTEphemeral, tab2, 0, 0, kd.Dup())
	v.Comment("INTERSECT right")
	s.LimitReg = 0
	s.OffsetReg = 0
	if err := self.alone(s, newDest(DestUnion, tab2)); err != nil {
		return err
	}

	iBreak := v.MakeLabel()
	iCont := v.MakeLabel()
	if err := self.computeLimitRegisters(s, iBreak); err != nil {
		return err
	}
	v.AddOp2(vdbe.OpRewind, tab1, iBreak)
	r1 := self.newReg()
	iStart := v.AddOp2(vdbe.OpRowData, tab1, r1)
	v.AddOp3(vdbe.OpNotFound, tab2, iCont, r1)
	if err := self.selectInnerLoop(s, tab1, nil, nil, dest, iCont, iBreak); err != nil {
		return err
	}
	v.ResolveLabel(iCont)
	v.AddOp2(vdbe.OpNext, tab1, iStart)
	v.ResolveLabel(iBreak)
	v.AddOp1(vdbe.OpClose, tab2)
	v.AddOp1(vdbe.OpClose, tab1)
	self.singleRowCheck(s)
	return nil
}
