package cg

import (
	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Expression coding. Every expression is evaluated into a target register,
// operands get fresh registers of their own. Registers are never reused, a
// program is small enough for that not to matter.

type exprCodeGen struct {
	cg *queryCodeGen
}

func (self *queryCodeGen) codeExpr(e *plan.Expr, target int) error {
	gen := &exprCodeGen{
		cg: self,
	}
	return gen.code(e, target)
}

// codeExprList evaluates the list into consecutive registers from base
func (self *queryCodeGen) codeExprList(l []*plan.Expr, base int) error {
	for i, x := range l {
		if err := self.codeExpr(x, base+i); err != nil {
			return err
		}
	}
	return nil
}

// codeTemp evaluates the expression into a new register
func (self *queryCodeGen) codeTemp(e *plan.Expr) (int, error) {
	r := self.newReg()
	if err := self.codeExpr(e, r); err != nil {
		return 0, err
	}
	return r, nil
}

// codeColumn reads a column of a FROM term, a term implemented as a
// coroutine keeps its current row in registers
func (self *queryCodeGen) codeColumn(cursor, column, target int) {
	if item, ok := self.coroutines[cursor]; ok {
		self.v.AddOp2(vdbe.OpSCopy, item.RegResult+column, target)
		return
	}
	self.v.AddOp3(vdbe.OpColumn, cursor, column, target)
}

func (self *queryCodeGen) codeValue(val vdbe.Value, target int) {
	v := self.v
	switch val.Ty {
	case vdbe.ValInt:
		v.AddOp2(vdbe.OpInteger, int(val.Int), target)
	case vdbe.ValReal:
		v.AddOp4(vdbe.OpReal, 0, target, 0, val.Real)
	case vdbe.ValStr:
		v.AddOp4(vdbe.OpString8, 0, target, 0, val.Str)
	default:
		v.AddOp2(vdbe.OpNull, 0, target)
	}
}

func (self *exprCodeGen) code(e *plan.Expr, target int) error {
	v := self.cg.v

	switch e.Kind {
	case plan.ExprConst:
		self.cg.codeValue(e.Value, target)

	case plan.ExprColumn:
		self.cg.codeColumn(e.Cursor, e.Column, target)

	case plan.ExprAggColumn:
		info := e.Agg
		if info == nil {
			return errors.AssertionFailedf("column %s outside of its aggregate", e.Name)
		}
		col := info.Columns[e.AggIdx]
		switch {
		case !info.DirectMode:
			v.AddOp2(vdbe.OpSCopy, col.Reg, target)
		case info.UseSortingIdx:
			v.AddOp3(vdbe.OpColumn, info.SortingIdxPTab, col.SorterColumn, target)
		default:
			return self.code(col.Expr, target)
		}

	case plan.ExprAggFunc:
		if e.Agg == nil {
			return errors.AssertionFailedf("misuse of aggregate function %s()", e.Name)
		}
		v.AddOp2(vdbe.OpSCopy, e.Agg.Funcs[e.AggIdx].Reg, target)

	case plan.ExprFunc:
		return self.codeFunc(e, target)

	case plan.ExprUnary:
		return self.codeUnary(e, target)

	case plan.ExprBinary:
		return self.codeBinary(e, target)

	case plan.ExprCase:
		return self.codeCase(e, target)

	case plan.ExprCast:
		if err := self.code(e.Left, target); err != nil {
			return err
		}
		v.AddOp4(vdbe.OpCast, target, 0, 0, e.Name)

	case plan.ExprCollate:
		return self.code(e.Left, target)

	case plan.ExprSubquery:
		return self.cg.codeScalarSubquery(e, target)

	case plan.ExprExists:
		return self.cg.codeExists(e, target)

	case plan.ExprIn:
		return self.cg.codeIn(e, target)

	default:
		return errors.AssertionFailedf("unknown expression kind %d", e.Kind)
	}
	return nil
}

func (self *exprCodeGen) codeFunc(e *plan.Expr, target int) error {
	if e.Def == nil {
		return errors.AssertionFailedf("function %s() is not resolved", e.Name)
	}
	n := len(e.List)
	base := 0
	if n > 0 {
		base = self.cg.newRegs(n)
		if err := self.cg.codeExprList(e.List, base); err != nil {
			return err
		}
	}
	var coll *vdbe.Coll
	for _, arg := range e.List {
		if c := plan.ExprColl(arg); c != nil {
			coll = c
			break
		}
	}
	self.cg.v.AddOp4(
		vdbe.OpFunction,
		0,
		base,
		target,
		&vdbe.FuncCall{Def: e.Def, Coll: coll},
	)
	self.cg.v.ChangeP5(uint16(n))
	return nil
}

func (self *exprCodeGen) codeUnary(e *plan.Expr, target int) error {
	if err := self.code(e.Left, target); err != nil {
		return err
	}
	switch e.Op {
	case sql.TkSub:
		self.cg.v.AddOp2(vdbe.OpNegative, target, target)
	case sql.TkNot:
		self.cg.v.AddOp2(vdbe.OpNot, target, target)
	default:
		return errors.AssertionFailedf("unknown unary operator %d", e.Op)
	}
	return nil
}

func arithOp(tk int) int {
	switch tk {
	case sql.TkAdd:
		return vdbe.OpAdd
	case sql.TkSub:
		return vdbe.OpSubtract
	case sql.TkMul:
		return vdbe.OpMultiply
	case sql.TkDiv:
		return vdbe.OpDivide
	case sql.TkMod:
		return vdbe.OpRemainder
	case sql.TkConcat:
		return vdbe.OpConcat
	case sql.TkAnd:
		return vdbe.OpAnd
	case sql.TkOr:
		return vdbe.OpOr
	default:
		return -1
	}
}

// compareOp maps a comparison token to its opcode and the P5 flags, IS and
// IS NOT compare NULL as a value
func compareOp(tk int) (int, uint16) {
	switch tk {
	case sql.TkEq:
		return vdbe.OpEq, 0
	case sql.TkNe:
		return vdbe.OpNe, 0
	case sql.TkLt:
		return vdbe.OpLt, 0
	case sql.TkLe:
		return vdbe.OpLe, 0
	case sql.TkGt:
		return vdbe.OpGt, 0
	case sql.TkGe:
		return vdbe.OpGe, 0
	case sql.TkIs:
		return vdbe.OpEq, vdbe.CmpNullEq
	case sql.TkIsNot:
		return vdbe.OpNe, vdbe.CmpNullEq
	default:
		return -1, 0
	}
}

func invertCompare(op int) int {
	switch op {
	case vdbe.OpEq:
		return vdbe.OpNe
	case vdbe.OpNe:
		return vdbe.OpEq
	case vdbe.OpLt:
		return vdbe.OpGe
	case vdbe.OpLe:
		return vdbe.OpGt
	case vdbe.OpGt:
		return vdbe.OpLe
	default:
		return vdbe.OpLt
	}
}

func (self *exprCodeGen) codeOperands(e *plan.Expr) (int, int, error) {
	r1 := self.cg.newReg()
	r2 := self.cg.newReg()
	if err := self.code(e.Left, r1); err != nil {
		return 0, 0, err
	}
	if err := self.code(e.Right, r2); err != nil {
		return 0, 0, err
	}
	return r1, r2, nil
}

func (self *exprCodeGen) codeBinary(e *plan.Expr, target int) error {
	v := self.cg.v

	if e.Op == sql.TkLike {
		return self.codeLike(e, target)
	}
	if op := arithOp(e.Op); op >= 0 {
		r1, r2, err := self.codeOperands(e)
		if err != nil {
			return err
		}
		v.AddOp3(op, r1, r2, target)
		return nil
	}
	if op, p5 := compareOp(e.Op); op >= 0 {
		r1, r2, err := self.codeOperands(e)
		if err != nil {
			return err
		}
		v.AddOp4(op, r1, target, r2, plan.CompareColl(e.Left, e.Right))
		v.ChangeP5(p5 | vdbe.CmpStoreP2)
		return nil
	}
	return errors.AssertionFailedf("unknown binary operator %d", e.Op)
}

// value LIKE pattern [ESCAPE esc] calls like(pattern, value [, esc])
func (self *exprCodeGen) codeLike(e *plan.Expr, target int) error {
	n := 2 + len(e.List)
	base := self.cg.newRegs(n)
	if err := self.code(e.Right, base); err != nil {
		return err
	}
	if err := self.code(e.Left, base+1); err != nil {
		return err
	}
	if len(e.List) > 0 {
		if err := self.code(e.List[0], base+2); err != nil {
			return err
		}
	}
	def := vdbe.LookupFunc("like", n)
	if def == nil {
		return errors.AssertionFailedf("like() with %d arguments", n)
	}
	self.cg.v.AddOp4(vdbe.OpFunction, 0, base, target, &vdbe.FuncCall{Def: def})
	self.cg.v.ChangeP5(uint16(n))
	return nil
}

func (self *exprCodeGen) codeCase(e *plan.Expr, target int) error {
	v := self.cg.v
	end := v.MakeLabel()

	base := 0
	if e.Left != nil {
		base = self.cg.newReg()
		if err := self.code(e.Left, base); err != nil {
			return err
		}
	}

	for i := 0; i+1 < len(e.List); i += 2 {
		next := v.MakeLabel()
		if base != 0 {
			r, err := self.cg.codeTemp(e.List[i])
			if err != nil {
				return err
			}
			v.AddOp4(vdbe.OpNe, base, next, r, plan.CompareColl(e.Left, e.List[i]))
			v.ChangeP5(vdbe.CmpJumpIfNull)
		} else if err := self.cg.exprIfFalse(e.List[i], next, true); err != nil {
			return err
		}
		if err := self.code(e.List[i+1], target); err != nil {
			return err
		}
		v.Goto(end)
		v.ResolveLabel(next)
	}

	if e.Right != nil {
		if err := self.code(e.Right, target); err != nil {
			return err
		}
	} else {
		v.AddOp2(vdbe.OpNull, 0, target)
	}
	v.ResolveLabel(end)
	return nil
}

// ----------------------------------------------------------------------------
// conditional jumps

func isCompare(e *plan.Expr) bool {
	if e.Kind != plan.ExprBinary {
		return false
	}
	op, _ := compareOp(e.Op)
	return op >= 0
}

func isLogic(e *plan.Expr, tk int) bool {
	return e.Kind == plan.ExprBinary && e.Op == tk
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// exprIfFalse jumps to dest when the expression is false, a NULL jumps as
// well when jumpIfNull is set
func (self *queryCodeGen) exprIfFalse(e *plan.Expr, dest int, jumpIfNull bool) error {
	v := self.v

	switch {
	case isLogic(e, sql.TkAnd):
		if err := self.exprIfFalse(e.Left, dest, jumpIfNull); err != nil {
			return err
		}
		return self.exprIfFalse(e.Right, dest, jumpIfNull)

	case isLogic(e, sql.TkOr):
		ok := v.MakeLabel()
		if err := self.exprIfTrue(e.Left, ok, !jumpIfNull); err != nil {
			return err
		}
		if err := self.exprIfFalse(e.Right, dest, jumpIfNull); err != nil {
			return err
		}
		v.ResolveLabel(ok)
		return nil

	case e.Kind == plan.ExprUnary && e.Op == sql.TkNot:
		return self.exprIfTrue(e.Left, dest, jumpIfNull)

	case isCompare(e):
		gen := &exprCodeGen{cg: self}
		r1, r2, err := gen.codeOperands(e)
		if err != nil {
			return err
		}
		op, p5 := compareOp(e.Op)
		if jumpIfNull {
			p5 |= vdbe.CmpJumpIfNull
		}
		v.AddOp4(invertCompare(op), r1, dest, r2, plan.CompareColl(e.Left, e.Right))
		v.ChangeP5(p5)
		return nil

	default:
		r, err := self.codeTemp(e)
		if err != nil {
			return err
		}
		v.AddOp3(vdbe.OpIfNot, r, dest, b2i(jumpIfNull))
		return nil
	}
}

// exprIfTrue jumps to dest when the expression is true, a NULL jumps as
// well when jumpIfNull is set
func (self *queryCodeGen) exprIfTrue(e *plan.Expr, dest int, jumpIfNull bool) error {
	v := self.v

	switch {
	case isLogic(e, sql.TkAnd):
		skip := v.MakeLabel()
		if err := self.exprIfFalse(e.Left, skip, !jumpIfNull); err != nil {
			return err
		}
		if err := self.exprIfTrue(e.Right, dest, jumpIfNull); err != nil {
			return err
		}
		v.ResolveLabel(skip)
		return nil

	case isLogic(e, sql.TkOr):
		if err := self.exprIfTrue(e.Left, dest, jumpIfNull); err != nil {
			return err
		}
		return self.exprIfTrue(e.Right, dest, jumpIfNull)

	case e.Kind == plan.ExprUnary && e.Op == sql.TkNot:
		return self.exprIfFalse(e.Left, dest, jumpIfNull)

	case isCompare(e):
		gen := &exprCodeGen{cg: self}
		r1, r2, err := gen.codeOperands(e)
		if err != nil {
			return err
		}
		op, p5 := compareOp(e.Op)
		if jumpIfNull {
			p5 |= vdbe.CmpJumpIfNull
		}
		v.AddOp4(op, r1, dest, r2, plan.CompareColl(e.Left, e.Right))
		v.ChangeP5(p5)
		return nil

	default:
		r, err := self.codeTemp(e)
		if err != nil {
			return err
		}
		v.AddOp3(vdbe.OpIf, r, dest, b2i(jumpIfNull))
		return nil
	}
}
