package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

const (
	msgMultipleRows = "SQL error: Expression subquery returned more than 1 row"
	msgLimitNotOne  = "SQL error: Expression subquery could be limited only with 1"
)

// computeLimitRegisters loads LIMIT and OFFSET into registers. LimitReg
// counts down the rows still allowed; OffsetReg counts down the rows still
// to skip and OffsetReg+1 holds LIMIT+OFFSET, the number of rows a top-K
// sort has to keep. A LIMIT of zero jumps straight to iBreak.
func (self *queryCodeGen) computeLimitRegisters(s *plan.Select, iBreak int) error {
	if s.LimitReg != 0 || s.Limit == nil {
		return nil
	}
	v := self.v
	s.LimitReg = self.newReg()
	iLimit := s.LimitReg

	if n, ok := constInt(s.Limit); ok {
		v.AddOp2(vdbe.OpInteger, int(n), iLimit)
		v.Comment("LIMIT")
		if n == 0 {
			v.Goto(iBreak)
		}
	} else {
		if err := self.codeExpr(s.Limit, iLimit); err != nil {
			return err
		}
		v.AddOp1(vdbe.OpMustBeInt, iLimit)
		v.AddOp3(vdbe.OpIfNot, iLimit, iBreak, 0)
	}

	if s.Flags&plan.SfSingleRow != 0 {
		if s.Flags&plan.SfFixedLimit != 0 {
			// fetch a second row to detect it
			v.AddOp2(vdbe.OpInteger, 2, iLimit)
		} else {
			r1 := self.newReg()
			noErr := v.MakeLabel()
			v.AddOp2(vdbe.OpInteger, 1, r1)
			v.AddOp3(vdbe.OpEq, iLimit, noErr, r1)
			self.codeHalt(msgLimitNotOne)
			v.ResolveLabel(noErr)
			s.Flags &^= plan.SfSingleRow
		}
	}

	if s.Offset != nil {
		s.OffsetReg = self.newRegs(2)
		iOffset := s.OffsetReg
		if err := self.codeExpr(s.Offset, iOffset); err != nil {
			return err
		}
		v.AddOp1(vdbe.OpMustBeInt, iOffset)
		v.AddOp3(vdbe.OpOffsetLimit, iLimit, iOffset+1, iOffset)
		v.Comment("LIMIT+OFFSET")
	}
	return nil
}

// raiseOnMultipleRows follows a scalar subquery given the system LIMIT 2,
// the counter still at 2 or 1 means at most one row came out
func (self *queryCodeGen) raiseOnMultipleRows(limitReg int, end int) {
	v := self.v
	r1 := self.newReg()
	v.AddOp2(vdbe.OpInteger, 0, r1)
	v.AddOp3(vdbe.OpNe, r1, end, limitReg)
	self.codeHalt(msgMultipleRows)
}

func constInt(e *plan.Expr) (int64, bool) {
	if e == nil || e.Kind != plan.ExprConst || e.Value.Ty != vdbe.ValInt {
		return 0, false
	}
	return e.Value.Int, true
}
