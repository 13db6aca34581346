package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Result router. selectInnerLoop runs once per candidate row: it loads the
// result columns, drops duplicates of a DISTINCT select, applies OFFSET and
// LIMIT when no sort is pending and hands the row to the destination.

type distinctCtx struct {
	mode     int // distinct*
	tab      int // ephemeral index of distinctUnordered
	addrOpen int // opens tab, rewritten once the scan decided the mode
	regFlag  int // distinctOrdered, a previous row exists
	regPrev  int // distinctOrdered, the previous row
}

// resolve adapts the instruction that opened the distinct index to the mode
// the scan settled on
func (self *distinctCtx) resolve(g *queryCodeGen, mode int, nResult int) {
	v := g.v
	self.mode = mode
	switch mode {
	case distinctOrdered:
		self.regFlag = g.newReg()
		self.regPrev = g.newRegs(nResult)
		v.ChangeOpcode(self.addrOpen, vdbe.OpInteger)
		v.ChangeP1(self.addrOpen, 0)
		v.ChangeP2(self.addrOpen, self.regFlag)
		v.ChangeP4(self.addrOpen, nil)
	case distinctUnique, distinctNoop:
		v.ChangeToNoop(self.addrOpen)
	}
}

func (self *distinctCtx) active() bool {
	return self != nil && self.mode != distinctNoop
}

// codeDistinct jumps to skip if the n registers from reg were seen before,
// otherwise remembers them in tab
func (self *queryCodeGen) codeDistinct(tab, skip, n, reg int) {
	v := self.v
	r1 := self.newReg()
	v.AddOp4(vdbe.OpFound, tab, skip, reg, n)
	v.AddOp3(vdbe.OpMakeRecord, reg, n, r1)
	v.AddOp2(vdbe.OpIdxInsert, tab, r1)
}

// appendWithId stores n registers from reg as a row of the ephemeral table
// tab, the surrogate id keeps the insertion order
func (self *queryCodeGen) appendWithId(tab, reg, n int) {
	v := self.v
	base := self.newRegs(n + 1)
	r1 := self.newReg()
	if n > 0 {
		v.AddOp3(vdbe.OpCopy, reg, base, n-1)
	}
	v.AddOp2(vdbe.OpNextIdEphemeral, tab, base+n)
	v.AddOp3(vdbe.OpMakeRecord, base, n+1, r1)
	v.AddOp2(vdbe.OpIdxInsert, tab, r1)
}

func (self *queryCodeGen) selectInnerLoop(
	s *plan.Select,
	srcTab int,
	sort *sortCtx,
	distinct *distinctCtx,
	dest *Dest,
	cont int,
	brk int,
) error {
	v := self.v
	nResult := len(s.Result)
	hasDistinct := distinct.active()

	if sort == nil && !hasDistinct {
		self.codeOffset(s, cont)
	}

	// the result registers, a pending sort gets the key and sequence
	// registers right in front of them so the sorter record is contiguous
	nPrefix := 0
	if dest.Sdst == 0 {
		if sort != nil {
			nPrefix = len(sort.terms)
			if !sort.useSorter {
				nPrefix++
			}
			self.newRegs(nPrefix)
		}
		dest.Sdst = self.newRegs(nResult)
	} else if dest.Sdst+nResult-1 > self.nMem {
		self.newRegs(nResult)
	}
	dest.NSdst = nResult
	regResult := dest.Sdst

	// result columns duplicated by an ORDER BY term are read back from the
	// key of the sorter instead of being stored twice
	nData := nResult
	if sort != nil {
		sort.omit = make([]int, nResult)
		for i := range sort.omit {
			sort.omit[i] = -1
		}
		if !hasDistinct && sort.nOBSat == 0 && dest.Mode != DestEphemTab && dest.Mode != DestTable {
			for i, t := range sort.terms {
				if j := t.OrigCol - 1; j >= 0 && j < nResult && sort.omit[j] < 0 {
					sort.omit[j] = i
					nData--
				}
			}
		}
	}

	if srcTab >= 0 {
		for i := 0; i < nResult; i++ {
			v.AddOp3(vdbe.OpColumn, srcTab, i, regResult+i)
		}
	} else if dest.Mode != DestExists {
		j := 0
		for i, r := range s.Result {
			if sort != nil && sort.omit[i] >= 0 {
				continue
			}
			if err := self.codeExpr(r.Expr, regResult+j); err != nil {
				return err
			}
			j++
		}
	}

	if hasDistinct {
		switch distinct.mode {
		case distinctOrdered:
			isNew := v.MakeLabel()
			v.AddOp3(vdbe.OpIfNot, distinct.regFlag, isNew, 0)
			for i := 0; i < nResult; i++ {
				coll := binaryIfNil(plan.ExprColl(s.Result[i].Expr))
				if i < nResult-1 {
					v.AddOp4(vdbe.OpNe, regResult+i, isNew, distinct.regPrev+i, coll)
				} else {
					v.AddOp4(vdbe.OpEq, regResult+i, cont, distinct.regPrev+i, coll)
				}
				v.ChangeP5(vdbe.CmpNullEq)
			}
			v.ResolveLabel(isNew)
			v.AddOp3(vdbe.OpCopy, regResult, distinct.regPrev, nResult-1)
			v.AddOp2(vdbe.OpInteger, 1, distinct.regFlag)

		case distinctUnordered:
			self.codeDistinct(distinct.tab, cont, nResult, regResult)
		}
		if sort == nil {
			self.codeOffset(s, cont)
		}
	}

	switch dest.Mode {
	case DestUnion:
		r1 := self.newReg()
		v.AddOp3(vdbe.OpMakeRecord, regResult, nResult, r1)
		v.AddOp2(vdbe.OpIdxInsert, dest.Parm, r1)

	case DestExcept:
		v.AddOp3(vdbe.OpIdxDelete, dest.Parm, regResult, nResult)

	case DestFifo, DestDistFifo, DestTable, DestEphemTab:
		addrTest := -1
		if dest.Mode == DestDistFifo {
			// the distinct index Parm+1 remembers every row ever queued
			addrTest = v.AddOp4(vdbe.OpFound, dest.Parm+1, 0, regResult, nResult)
			r1 := self.newReg()
			v.AddOp3(vdbe.OpMakeRecord, regResult, nResult, r1)
			v.AddOp2(vdbe.OpIdxInsert, dest.Parm+1, r1)
		}
		if sort != nil {
			if err := self.pushOntoSorter(s, sort, regResult, nData, nPrefix); err != nil {
				return err
			}
		} else {
			self.appendWithId(dest.Parm, regResult, nResult)
		}
		if addrTest >= 0 {
			v.JumpHere(addrTest)
		}

	case DestSet:
		if sort != nil {
			if err := self.pushOntoSorter(s, sort, regResult, nData, nPrefix); err != nil {
				return err
			}
		} else {
			r1 := self.newReg()
			v.AddOp3(vdbe.OpMakeRecord, regResult, nResult, r1)
			v.AddOp2(vdbe.OpIdxInsert, dest.Parm, r1)
		}

	case DestExists:
		v.AddOp2(vdbe.OpInteger, 1, dest.Parm)

	case DestMem:
		if sort != nil {
			if err := self.pushOntoSorter(s, sort, regResult, nData, nPrefix); err != nil {
				return err
			}
		}

	case DestCoroutine, DestOutput:
		switch {
		case sort != nil:
			if err := self.pushOntoSorter(s, sort, regResult, nData, nPrefix); err != nil {
				return err
			}
		case dest.Mode == DestCoroutine:
			v.AddOp1(vdbe.OpYield, dest.Parm)
		default:
			v.AddOp2(vdbe.OpResultRow, regResult, nResult)
		}

	case DestQueue, DestDistQueue:
		// record layout: ORDER BY keys, sequence, the row as a nested record
		nKey := len(dest.OrderBy)
		r1 := self.newReg()
		r2 := self.newRegs(nKey + 2)
		r3 := r2 + nKey + 1
		addrTest := -1
		if dest.Mode == DestDistQueue {
			addrTest = v.AddOp4(vdbe.OpFound, dest.Parm+1, 0, regResult, nResult)
			v.AddOp3(vdbe.OpMakeRecord, regResult, nResult, r3)
			v.AddOp2(vdbe.OpIdxInsert, dest.Parm+1, r3)
		}
		for i, t := range dest.OrderBy {
			v.AddOp2(vdbe.OpSCopy, regResult+t.OrigCol-1, r2+i)
		}
		v.AddOp2(vdbe.OpSequence, dest.Parm, r2+nKey)
		v.AddOp3(vdbe.OpMakeRecord, regResult, nResult, r3)
		v.AddOp3(vdbe.OpMakeRecord, r2, nKey+2, r1)
		v.AddOp2(vdbe.OpIdxInsert, dest.Parm, r1)
		if addrTest >= 0 {
			v.JumpHere(addrTest)
		}

	case DestDiscard:
		break
	}

	if sort == nil && s.LimitReg > 0 {
		v.AddOp2(vdbe.OpDecrJumpZero, s.LimitReg, brk)
	}
	return nil
}
