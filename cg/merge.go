package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Compound selects with ORDER BY run as a merge of two coroutines. The
// left side A (the Prior chain) and the right side B each produce rows
// sorted by the ORDER BY of the compound; the main loop compares the
// current rows of A and B and, depending on the operator, outputs one of
// them through a subroutine and advances one side:
//
//	          A<B              A==B             A>B
//	ALL       out A, next A    out A, next A    out B, next B
//	UNION     out A, next A    next A           out B, next B
//	EXCEPT    out A, next A    next A           next B
//	INTERSECT next A           out A, next A    next B
//
// Every operator but UNION ALL extends ORDER BY to all result columns so
// equal rows are adjacent, the output subroutine drops repeats of the
// previous row.

type mergeCodeGen struct {
	cg *queryCodeGen
	s  *plan.Select

	regPrev  int // UNION/EXCEPT/INTERSECT, flag then the previous row
	keyDup   *vdbe.KeyDef
	labelEnd int
}

func (self *queryCodeGen) mergeSelect(id plan.NodeId, dest *Dest) error {
	gen := &mergeCodeGen{
		cg:       self,
		s:        self.arena.Node(id),
		labelEnd: self.v.MakeLabel(),
	}
	return gen.merge(dest)
}

// mergeTerms returns ORDER BY extended to every result column unless op is
// UNION ALL, each term carries the collation the merge compares with
func (self *mergeCodeGen) mergeTerms() []*plan.OrderTerm {
	s := self.s
	nCol := len(s.Result)
	terms := make([]*plan.OrderTerm, 0, nCol)
	seen := make(map[int]bool)
	for _, t := range s.OrderBy {
		terms = append(terms, t.ByColumn())
		seen[t.OrigCol] = true
	}
	if s.Op != plan.OpUnionAll {
		for i := 1; i <= nCol; i++ {
			if !seen[i] {
				terms = append(terms, &plan.OrderTerm{
					Expr:    plan.NewInt(int64(i)),
					OrigCol: i,
				})
			}
		}
	}
	for i, t := range terms {
		if plan.HasExplicitColl(t.Expr) {
			continue
		}
		coll := self.cg.multiSelectColl(s, t.OrigCol-1)
		if coll == nil {
			continue
		}
		terms[i] = &plan.OrderTerm{
			Expr: &plan.Expr{
				Kind:   plan.ExprCollate,
				Name:   coll.Name,
				Coll:   coll,
				Left:   t.Expr,
				Sub:    plan.NoNode,
				AggIdx: -1,
			},
			Desc:    t.Desc,
			OrigCol: t.OrigCol,
		}
	}
	return terms
}

func (self *mergeCodeGen) merge(dest *Dest) error {
	cg := self.cg
	v := cg.v
	s := self.s
	op := s.Op
	prior := cg.arena.Node(s.Prior)

	terms := self.mergeTerms()
	nOrderBy := len(terms)
	permute := make([]int, nOrderBy)
	keyMerge := vdbe.NewKeyDef(nOrderBy)
	for i, t := range terms {
		permute[i] = t.OrigCol - 1
		keyMerge.Parts[i] = vdbe.KeyPart{
			Field: i,
			Coll:  binaryIfNil(plan.ExprColl(t.Expr)),
			Desc:  t.Desc,
		}
	}
	if op != plan.OpUnionAll {
		self.regPrev = cg.newRegs(len(s.Result) + 1)
		v.AddOp2(vdbe.OpInteger, 0, self.regPrev)
		self.keyDup = cg.multiSelectKeyDef(s)
	}

	// LIMIT of the compound, the sides of a UNION ALL never need to produce
	// more than LIMIT+OFFSET rows each
	if err := cg.computeLimitRegisters(s, self.labelEnd); err != nil {
		return err
	}
	regLimitA, regLimitB := 0, 0
	if s.LimitReg > 0 && op == plan.OpUnionAll {
		regLimitA = cg.newReg()
		regLimitB = cg.newReg()
		src := s.LimitReg
		if s.OffsetReg > 0 {
			src = s.OffsetReg + 1
		}
		v.AddOp2(vdbe.OpCopy, src, regLimitA)
		v.AddOp2(vdbe.OpCopy, regLimitA, regLimitB)
	}

	regAddrA := cg.newReg()
	regAddrB := cg.newReg()
	regOutA := cg.newReg()
	regOutB := cg.newReg()
	destA := newDest(DestCoroutine, regAddrA)
	destB := newDest(DestCoroutine, regAddrB)

	// coroutine A, the Prior chain sorted by the merge terms
	addrSelectA := v.CurrentAddr() + 1
	addr1 := v.AddOp3(vdbe.OpInitCoroutine, regAddrA, 0, addrSelectA)
	v.Comment("left side of %s", plan.OpName(op))
	saved := prior.OrderBy
	prior.OrderBy = terms
	prior.LimitReg = regLimitA
	prior.OffsetReg = 0
	err := cg.selectStmt(s.Prior, destA)
	prior.OrderBy = saved
	if err != nil {
		return err
	}
	v.AddOp1(vdbe.OpEndCoroutine, regAddrA)
	v.JumpHere(addr1)

	// coroutine B, s alone
	addrSelectB := v.CurrentAddr() + 1
	addr1 = v.AddOp3(vdbe.OpInitCoroutine, regAddrB, 0, addrSelectB)
	v.Comment("right side of %s", plan.OpName(op))
	limitReg, offsetReg := s.LimitReg, s.OffsetReg
	savedPrior, savedOrderBy, limit, offset, flags := s.Prior, s.OrderBy, s.Limit, s.Offset, s.Flags
	s.Prior = plan.NoNode
	s.OrderBy = terms
	s.Limit = nil
	s.Offset = nil
	s.Flags &^= plan.SfSingleRow | plan.SfFixedLimit
	s.LimitReg = regLimitB
	s.OffsetReg = 0
	err = cg.selectStmt(s.Id, destB)
	s.Prior, s.OrderBy, s.Limit, s.Offset, s.Flags = savedPrior, savedOrderBy, limit, offset, flags
	s.LimitReg, s.OffsetReg = limitReg, offsetReg
	if err != nil {
		return err
	}
	v.AddOp1(vdbe.OpEndCoroutine, regAddrB)

	labelOutA := self.outputSubroutine(destA, dest, regOutA)
	labelOutB := 0
	if op == plan.OpUnionAll || op == plan.OpUnion {
		labelOutB = self.outputSubroutine(destB, dest, regOutB)
	}

	labelCmpr := v.MakeLabel()

	// A is exhausted
	var addrEofA, addrEofANoB int
	if op == plan.OpExcept || op == plan.OpIntersect {
		addrEofA = self.labelEnd
		addrEofANoB = self.labelEnd
	} else {
		addrEofA = v.AddOp2(vdbe.OpGosub, regOutB, labelOutB)
		v.Comment("eof A")
		addrEofANoB = v.AddOp2(vdbe.OpYield, regAddrB, self.labelEnd)
		v.Goto(addrEofA)
	}

	// B is exhausted
	var addrEofB int
	if op == plan.OpIntersect {
		addrEofB = addrEofA
	} else {
		addrEofB = v.AddOp2(vdbe.OpGosub, regOutA, labelOutA)
		v.Comment("eof B")
		v.AddOp2(vdbe.OpYield, regAddrA, self.labelEnd)
		v.Goto(addrEofB)
	}

	// A < B
	addrAltB := v.AddOp2(vdbe.OpGosub, regOutA, labelOutA)
	v.Comment("A<B")
	v.AddOp2(vdbe.OpYield, regAddrA, addrEofA)
	v.Goto(labelCmpr)

	// A == B
	var addrAeqB int
	switch op {
	case plan.OpUnionAll:
		addrAeqB = addrAltB
	case plan.OpIntersect:
		addrAeqB = addrAltB
		addrAltB++
	default:
		addrAeqB = v.AddOp2(vdbe.OpYield, regAddrA, addrEofA)
		v.Comment("A==B")
		v.Goto(labelCmpr)
	}

	// A > B
	addrAgtB := v.CurrentAddr()
	if op == plan.OpUnionAll || op == plan.OpUnion {
		v.AddOp2(vdbe.OpGosub, regOutB, labelOutB)
		v.Comment("A>B")
	}
	v.AddOp2(vdbe.OpYield, regAddrB, addrEofB)
	v.Goto(labelCmpr)

	// start both coroutines
	v.JumpHere(addr1)
	v.AddOp2(vdbe.OpYield, regAddrA, addrEofANoB)
	v.AddOp2(vdbe.OpYield, regAddrB, addrEofB)

	v.ResolveLabel(labelCmpr)
	v.AddOp4(vdbe.OpPermutation, 0, 0, 0, permute)
	v.AddOp4(vdbe.OpCompare, destA.Sdst, destB.Sdst, nOrderBy, keyMerge)
	v.ChangeP5(vdbe.CmpPermute)
	v.AddOp3(vdbe.OpJump, addrAltB, addrAeqB, addrAgtB)

	v.ResolveLabel(self.labelEnd)
	cg.singleRowCheck(s)
	return nil
}

// outputSubroutine emits the subroutine handing the current row of in to
// dest, it returns the label of its entry
func (self *mergeCodeGen) outputSubroutine(in *Dest, dest *Dest, regReturn int) int {
	cg := self.cg
	v := cg.v
	s := self.s
	entry := v.MakeLabel()
	iContinue := v.MakeLabel()
	v.ResolveLabel(entry)

	if self.regPrev > 0 {
		addr1 := v.AddOp3(vdbe.OpIfNot, self.regPrev, 0, 0)
		addr2 := v.AddOp4(vdbe.OpCompare, in.Sdst, self.regPrev+1, in.NSdst, self.keyDup)
		v.AddOp3(vdbe.OpJump, addr2+2, iContinue, addr2+2)
		v.JumpHere(addr1)
		v.AddOp3(vdbe.OpCopy, in.Sdst, self.regPrev+1, in.NSdst-1)
		v.AddOp2(vdbe.OpInteger, 1, self.regPrev)
	}
	cg.codeOffset(s, iContinue)

	switch dest.Mode {
	case DestEphemTab, DestTable:
		cg.appendWithId(dest.Parm, in.Sdst, in.NSdst)
	case DestSet:
		r1 := cg.newReg()
		v.AddOp3(vdbe.OpMakeRecord, in.Sdst, in.NSdst, r1)
		v.AddOp2(vdbe.OpIdxInsert, dest.Parm, r1)
	case DestMem:
		v.AddOp3(vdbe.OpMove, in.Sdst, dest.Parm, 1)
	case DestCoroutine:
		if dest.Sdst == 0 {
			dest.Sdst = cg.newRegs(in.NSdst)
			dest.NSdst = in.NSdst
		}
		v.AddOp3(vdbe.OpCopy, in.Sdst, dest.Sdst, in.NSdst-1)
		v.AddOp1(vdbe.OpYield, dest.Parm)
	default:
		v.AddOp2(vdbe.OpResultRow, in.Sdst, in.NSdst)
	}

	if s.LimitReg > 0 {
		v.AddOp2(vdbe.OpDecrJumpZero, s.LimitReg, self.labelEnd)
	}
	v.ResolveLabel(iContinue)
	v.AddOp1(vdbe.OpReturn, regReturn)
	return entry
}
