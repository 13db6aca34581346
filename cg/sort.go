package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Sort pipeline of ORDER BY.
//
// Rows are pushed as records made of the sort keys, a sequence number and
// the result columns. Without a LIMIT the rows go into a sorter, a plain
// list sorted once the scan is over. With a LIMIT they go into an ephemeral
// index which is kept at LIMIT+OFFSET rows by evicting the largest one
// after each insertion (top-K); the sequence keeps rows with equal keys in
// arrival order and distinct in the index.
//
// When the scan already delivers the leading nOBSat terms, only the
// remaining ones are sorted: each time the leading keys change, the rows
// collected so far are flushed through the sort tail, called as a
// subroutine, and the sorter is reset.

type sortCtx struct {
	terms  []*plan.OrderTerm
	exprs  []*plan.Expr
	nOBSat int
	cursor int

	addrOpen  int
	useSorter bool

	regReturn   int // flush subroutine of a partial sort
	labelBkOut  int
	labelDone   int
	labelOBLopt int // ordered inner loop, skip the rest of the loop

	// result column i is read from key field omit[i], -1 means from data
	omit []int
}

func (self *sortCtx) bSeq() int {
	if self.useSorter {
		return 0
	}
	return 1
}

// sortKeyDef is the key of the sort relation for the terms left to sort
func (self *sortCtx) sortKeyDef() *vdbe.KeyDef {
	kd := orderByKeyDef(self.terms, self.exprs, self.nOBSat)
	if !self.useSorter {
		kd.Parts = append(kd.Parts, vdbe.KeyPart{
			Field: len(self.terms) - self.nOBSat,
			Coll:  vdbe.CollBinary,
		})
	}
	return kd
}

// orderByExprs returns the expressions of ORDER BY terms. A term naming a
// result column by number is replaced by that column.
func orderByExprs(s *plan.Select, terms []*plan.OrderTerm) []*plan.Expr {
	out := make([]*plan.Expr, len(terms))
	for i, t := range terms {
		e := t.Expr
		inner := e
		if inner.Kind == plan.ExprCollate {
			inner = inner.Left
		}
		if t.OrigCol > 0 && t.OrigCol <= len(s.Result) &&
			inner.Kind == plan.ExprConst && inner.Value.Ty == vdbe.ValInt {
			x := s.Result[t.OrigCol-1].Expr
			if e.Kind == plan.ExprCollate {
				wrapped := *e
				wrapped.Left = x
				x = &wrapped
			}
			e = x
		}
		out[i] = e
	}
	return out
}

// openSort emits the ephemeral index of the sort, it may be turned into a
// sorter or dropped once the limits and the scan are known
func (self *queryCodeGen) openSort(s *plan.Select, terms []*plan.OrderTerm) *sortCtx {
	sort := &sortCtx{
		terms:     terms,
		exprs:     orderByExprs(s, terms),
		cursor:    self.newCursor(),
		labelDone: self.v.MakeLabel(),
	}
	sort.addrOpen = self.v.AddOp4(
		vdbe.OpOpenTEphemeral,
		sort.cursor,
		0,
		0,
		sort.sortKeyDef(),
	)
	self.v.Comment("ORDER BY")
	return sort
}

// useSorterIfUnlimited switches to the sorter when there is no LIMIT to
// bound the number of rows
func (self *queryCodeGen) useSorterIfUnlimited(s *plan.Select, sort *sortCtx) {
	if sort == nil || s.LimitReg != 0 {
		return
	}
	sort.useSorter = true
	self.v.ChangeOpcode(sort.addrOpen, vdbe.OpSorterOpen)
	self.v.ChangeP4(sort.addrOpen, sort.sortKeyDef())
}

// adjustToScan accounts for the terms the scan delivers, the sort is gone
// entirely when the scan delivers all of them
func (self *queryCodeGen) adjustToScan(sort *sortCtx, wi *whereInfo) *sortCtx {
	if sort == nil {
		return nil
	}
	if wi.orderedInnerLoop {
		sort.labelOBLopt = wi.innerBreak()
	}
	if wi.nOBSat == 0 {
		return sort
	}
	if wi.nOBSat >= len(sort.terms) {
		self.v.ChangeToNoop(sort.addrOpen)
		return nil
	}
	sort.nOBSat = wi.nOBSat
	self.v.ChangeP4(sort.addrOpen, sort.sortKeyDef())
	return sort
}

func (self *queryCodeGen) pushOntoSorter(
	s *plan.Select,
	sort *sortCtx,
	regData int,
	nData int,
	nPrefix int,
) error {
	v := self.v
	bSeq := sort.bSeq()
	nExpr := len(sort.terms)
	nBase := nExpr + bSeq + nData
	nOBSat := sort.nOBSat

	regBase := regData - nPrefix
	if nPrefix == 0 {
		regBase = self.newRegs(nBase)
	}
	iLimit := s.LimitReg
	if s.OffsetReg > 0 {
		iLimit = s.OffsetReg + 1
	}

	if err := self.codeExprList(sort.exprs, regBase); err != nil {
		return err
	}
	if bSeq > 0 {
		v.AddOp2(vdbe.OpSequence, sort.cursor, regBase+nExpr)
	}
	if nPrefix == 0 && nData > 0 {
		v.AddOp3(vdbe.OpMove, regData, regBase+nExpr+bSeq, nData)
	}
	regRecord := self.newReg()
	v.AddOp3(vdbe.OpMakeRecord, regBase+nOBSat, nBase-nOBSat, regRecord)

	if nOBSat > 0 {
		regPrevKey := self.newRegs(nOBSat)
		var addrFirst int
		if bSeq > 0 {
			addrFirst = v.AddOp3(vdbe.OpIfNot, regBase+nExpr, 0, 0)
		} else {
			addrFirst = v.AddOp2(vdbe.OpSequenceTest, sort.cursor, 0)
		}
		prefix := orderByKeyDef(sort.terms[:nOBSat], sort.exprs[:nOBSat], 0).AllAsc()
		v.AddOp4(vdbe.OpCompare, regPrevKey, regBase, nOBSat, prefix)
		addrJmp := v.CurrentAddr()
		v.AddOp3(vdbe.OpJump, addrJmp+1, 0, addrJmp+1)

		sort.labelBkOut = v.MakeLabel()
		sort.regReturn = self.newReg()
		v.AddOp2(vdbe.OpGosub, sort.regReturn, sort.labelBkOut)
		v.AddOp1(vdbe.OpResetSorter, sort.cursor)
		if iLimit > 0 {
			v.AddOp3(vdbe.OpIfNot, iLimit, sort.labelDone, 0)
		}
		v.JumpHere(addrFirst)
		v.AddOp3(vdbe.OpMove, regBase, regPrevKey, nOBSat)
		v.JumpHere(addrJmp)
	}

	if sort.useSorter {
		v.AddOp2(vdbe.OpSorterInsert, sort.cursor, regRecord)
	} else {
		v.AddOp2(vdbe.OpIdxInsert, sort.cursor, regRecord)
	}

	if iLimit > 0 && !sort.useSorter {
		// over LIMIT+OFFSET rows, the largest one goes
		addr := v.AddOp3(vdbe.OpIfNotZero, iLimit, 0, 0)
		v.AddOp2(vdbe.OpLast, sort.cursor, 0)
		r1 := 0
		if sort.labelOBLopt != 0 {
			r1 = self.newReg()
			v.AddOp3(vdbe.OpColumn, sort.cursor, nExpr-nOBSat, r1)
			v.Comment("seq")
		}
		v.AddOp1(vdbe.OpDelete, sort.cursor)
		if sort.labelOBLopt != 0 {
			// the new row itself was evicted, later rows of this pass of
			// the inner loop are larger still
			v.AddOp3(vdbe.OpEq, r1, sort.labelOBLopt, regBase+nExpr)
		}
		v.JumpHere(addr)
	}
	return nil
}

// sortTail reads the sorted rows back and hands them to the destination
func (self *queryCodeGen) sortTail(
	s *plan.Select,
	sort *sortCtx,
	nColumn int,
	dest *Dest,
) {
	v := self.v
	addrBreak := sort.labelDone
	addrContinue := v.MakeLabel()

	if sort.labelBkOut != 0 {
		v.AddOp2(vdbe.OpGosub, sort.regReturn, sort.labelBkOut)
		v.Goto(addrBreak)
		v.ResolveLabel(sort.labelBkOut)
	}

	var regRow int
	switch dest.Mode {
	case DestOutput, DestCoroutine, DestMem:
		regRow = dest.Sdst
	default:
		regRow = self.newRegs(nColumn + 1)
	}

	iSortTab := sort.cursor
	var addr int
	if sort.useSorter {
		regSortOut := self.newReg()
		iSortTab = self.newCursor()
		v.AddOp2(vdbe.OpOpenPseudo, iSortTab, regSortOut)
		addr = 1 + v.AddOp2(vdbe.OpSorterSort, sort.cursor, addrBreak)
		v.AddOp2(vdbe.OpSorterData, sort.cursor, regSortOut)
	} else {
		addr = 1 + v.AddOp2(vdbe.OpSort, sort.cursor, addrBreak)
	}
	self.codeOffset(s, addrContinue)

	j := len(sort.terms) - sort.nOBSat + sort.bSeq()
	for i := 0; i < nColumn; i++ {
		iRead := j
		if sort.omit != nil && sort.omit[i] >= 0 {
			iRead = sort.omit[i]
		} else {
			j++
		}
		v.AddOp3(vdbe.OpColumn, iSortTab, iRead, regRow+i)
	}

	switch dest.Mode {
	case DestEphemTab, DestTable:
		r1 := self.newReg()
		v.AddOp2(vdbe.OpNextIdEphemeral, dest.Parm, regRow+nColumn)
		v.AddOp3(vdbe.OpMakeRecord, regRow, nColumn+1, r1)
		v.AddOp2(vdbe.OpIdxInsert, dest.Parm, r1)
	case DestSet:
		r1 := self.newReg()
		v.AddOp3(vdbe.OpMakeRecord, regRow, nColumn, r1)
		v.AddOp2(vdbe.OpIdxInsert, dest.Parm, r1)
	case DestMem:
		break
	case DestCoroutine:
		v.AddOp1(vdbe.OpYield, dest.Parm)
	default:
		v.AddOp2(vdbe.OpResultRow, regRow, nColumn)
	}

	v.ResolveLabel(addrContinue)
	if sort.useSorter {
		v.AddOp2(vdbe.OpSorterNext, sort.cursor, addr)
	} else {
		v.AddOp2(vdbe.OpNext, sort.cursor, addr)
	}
	if sort.regReturn != 0 {
		v.AddOp1(vdbe.OpReturn, sort.regReturn)
	}
	v.ResolveLabel(addrBreak)
}
