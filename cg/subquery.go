package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Subqueries used as expressions. An uncorrelated subquery runs once per
// execution of the program, OpOnce skips it afterwards and the value left
// in its result register is reused.

func (self *queryCodeGen) codeOnce(id plan.NodeId) int {
	if self.arena.IsCorrelated(id) {
		return -1
	}
	addr := self.v.AddOp0(vdbe.OpOnce)
	self.v.Comment("subquery %d", id)
	return addr
}

func (self *queryCodeGen) endOnce(addr int) {
	if addr >= 0 {
		self.v.JumpHere(addr)
	}
}

// systemLimit installs LIMIT 1 on a subquery that has none, the flag tells
// the limit it was not written by the user
func systemLimit(s *plan.Select) {
	s.LimitReg = 0
	s.OffsetReg = 0
	if s.Limit == nil {
		s.Limit = plan.NewInt(1)
		s.Flags |= plan.SfFixedLimit
	}
}

// (SELECT ...) evaluates to the single row of the subquery, or NULL when it
// has none. A second row is a runtime error.
func (self *queryCodeGen) codeScalarSubquery(e *plan.Expr, target int) error {
	v := self.v
	s := self.arena.Node(e.Sub)
	reg := self.newReg()

	addrOnce := self.codeOnce(e.Sub)
	v.AddOp2(vdbe.OpNull, 0, reg)
	systemLimit(s)
	s.Flags |= plan.SfSingleRow
	if err := self.selectStmt(e.Sub, newDest(DestMem, reg)); err != nil {
		return err
	}
	self.endOnce(addrOnce)

	v.AddOp2(vdbe.OpSCopy, reg, target)
	return nil
}

func (self *queryCodeGen) codeExists(e *plan.Expr, target int) error {
	v := self.v
	s := self.arena.Node(e.Sub)
	reg := self.newReg()

	addrOnce := self.codeOnce(e.Sub)
	v.AddOp2(vdbe.OpInteger, 0, reg)
	systemLimit(s)
	if err := self.selectStmt(e.Sub, newDest(DestExists, reg)); err != nil {
		return err
	}
	self.endOnce(addrOnce)

	if e.Not {
		v.AddOp2(vdbe.OpNot, reg, target)
	} else {
		v.AddOp2(vdbe.OpSCopy, reg, target)
	}
	return nil
}

// x IN (SELECT ...) fills an ephemeral index with the rows of the subquery
// and searches it. The result is NULL when x is NULL and the set is not
// empty, or when x is not found and the set holds a NULL.
func (self *queryCodeGen) codeIn(e *plan.Expr, target int) error {
	v := self.v
	s := self.arena.Node(e.Sub)
	s.LimitReg = 0
	s.OffsetReg = 0

	tab := self.newCursor()
	first := self.arena.LeftMost(e.Sub).Result[0].Expr
	kd := &vdbe.KeyDef{
		Parts: []vdbe.KeyPart{
			{Field: 0, Coll: binaryIfNil(plan.CompareColl(e.Left, first))},
		},
	}

	addrOnce := self.codeOnce(e.Sub)
	v.AddOp4(vdbe.OpOpenTEphemeral, tab, 0, 0, kd)
	v.Comment("IN set")
	if err := self.selectStmt(e.Sub, newDest(DestSet, tab)); err != nil {
		return err
	}
	self.endOnce(addrOnce)

	lhs, err := self.codeTemp(e.Left)
	if err != nil {
		return err
	}
	done := v.MakeLabel()
	found := v.MakeLabel()
	hasNull := v.MakeLabel()
	nullLeft := v.MakeLabel()

	v.AddOp2(vdbe.OpInteger, 0, target)
	v.AddOp2(vdbe.OpIsNull, lhs, nullLeft)
	v.AddOp4(vdbe.OpFound, tab, found, lhs, 1)
	rn := self.newReg()
	v.AddOp2(vdbe.OpNull, 0, rn)
	v.AddOp4(vdbe.OpFound, tab, hasNull, rn, 1)
	v.Goto(done)

	v.ResolveLabel(nullLeft)
	cnt := self.newReg()
	v.AddOp2(vdbe.OpCount, tab, cnt)
	v.AddOp3(vdbe.OpIfNot, cnt, done, 0)
	v.AddOp2(vdbe.OpNull, 0, target)
	v.Goto(done)

	v.ResolveLabel(found)
	v.AddOp2(vdbe.OpInteger, 1, target)
	v.Goto(done)

	v.ResolveLabel(hasNull)
	v.AddOp2(vdbe.OpNull, 0, target)

	v.ResolveLabel(done)
	if e.Not {
		v.AddOp2(vdbe.OpNot, target, target)
	}
	return nil
}
