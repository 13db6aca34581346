package vdbe

import (
	"context"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
)

// ErrRuntime marks every error raised while a program executes, including
// the Halt raised by generated cardinality checks.
var ErrRuntime = errors.New("runtime error")

// registers are sized from the program, the slack only guards sloppy
// register accounting since growing the file invalidates held pointers
const regSlack = 64

type vm struct {
	prog    *Program
	mem     []Value
	cursors []*cursor
	once    []bool
	cmpRes  int
	perm    []int
	out     func([]Value) error
}

// Exec runs the program until it halts. Every row produced by OpResultRow is
// handed to out, an error returned from out stops the execution.
func Exec(
	ctx context.Context,
	prog *Program,
	out func([]Value) error,
) error {
	if err := prog.Finalize(); err != nil {
		return err
	}
	m := &vm{
		prog:    prog,
		mem:     make([]Value, prog.NMem+regSlack),
		cursors: make([]*cursor, prog.NCursor),
		once:    make([]bool, len(prog.Code)),
		out:     out,
	}
	return m.run(ctx)
}

func (self *vm) cursor(i int) *cursor {
	if i < len(self.cursors) {
		return self.cursors[i]
	}
	return nil
}

func (self *vm) setCursor(i int, c *cursor) {
	for i >= len(self.cursors) {
		self.cursors = append(self.cursors, nil)
	}
	self.cursors[i] = c
}

func (self *vm) mustCursor(pc, i int) (*cursor, error) {
	c := self.cursor(i)
	if c == nil {
		return nil, errors.AssertionFailedf("instruction %d: cursor %d is not open", pc, i)
	}
	return c, nil
}

func (self *vm) reg(i int) *Value {
	if i >= len(self.mem) {
		grow := make([]Value, i+1-len(self.mem))
		self.mem = append(self.mem, grow...)
	}
	return &self.mem[i]
}

func (self *vm) regRange(start, n int) []Value {
	if n <= 0 {
		return nil
	}
	self.reg(start + n - 1)
	return self.mem[start : start+n]
}

func (self *vm) copyRange(start, n int) []Value {
	out := make([]Value, n)
	copy(out, self.regRange(start, n))
	return out
}

func compareResult(op int, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	default:
		return c >= 0
	}
}

func logic(op int, a, b Value) Value {
	ta, na := a.Truth()
	tb, nb := b.Truth()
	if op == OpAnd {
		if (!na && !ta) || (!nb && !tb) {
			return IntValue(0)
		}
		if na || nb {
			return Null()
		}
		return IntValue(1)
	}
	if (!na && ta) || (!nb && tb) {
		return IntValue(1)
	}
	if na || nb {
		return Null()
	}
	return IntValue(0)
}

func (self *vm) run(ctx context.Context) error {
	code := self.prog.Code
	pc := 0
	steps := 0

	for pc < len(code) {
		steps++
		if steps&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		in := &code[pc]
		next := pc + 1

		switch in.Op {
		case OpInit:
			if in.P2 > 0 {
				next = in.P2
			}

		case OpNoop:
			break

		case OpGoto:
			next = in.P2

		case OpGosub:
			*self.reg(in.P1) = IntValue(int64(pc))
			next = in.P2

		case OpReturn:
			next = int(self.reg(in.P1).Int) + 1

		case OpInitCoroutine:
			*self.reg(in.P1) = IntValue(int64(in.P3 - 1))
			if in.P2 != 0 {
				next = in.P2
			}

		case OpYield:
			r := self.reg(in.P1)
			dest := r.Int
			*r = IntValue(int64(pc))
			next = int(dest) + 1

		case OpEndCoroutine:
			r := self.reg(in.P1)
			caller := int(r.Int)
			*r = Null()
			next = code[caller].P2

		case OpHalt:
			if in.P1 != 0 {
				msg, _ := in.P4.(string)
				return errors.Mark(errors.Newf("%s", msg), ErrRuntime)
			}
			return nil

		case OpOnce:
			if self.once[pc] {
				next = in.P2
			} else {
				self.once[pc] = true
			}

		case OpIf, OpIfNot:
			t, null := self.reg(in.P1).Truth()
			if null {
				if in.P3 != 0 {
					next = in.P2
				}
			} else if t == (in.Op == OpIf) {
				next = in.P2
			}

		case OpIsNull:
			if self.reg(in.P1).IsNull() {
				next = in.P2
			}

		case OpNotNull:
			if !self.reg(in.P1).IsNull() {
				next = in.P2
			}

		case OpIfPos:
			r := self.reg(in.P1)
			if r.Int > 0 {
				r.Int -= int64(in.P3)
				next = in.P2
			}

		case OpIfNotZero:
			r := self.reg(in.P1)
			if r.Int != 0 {
				if r.Int > 0 {
					r.Int--
				}
				next = in.P2
			}

		case OpDecrJumpZero:
			r := self.reg(in.P1)
			if r.Int > math.MinInt64 {
				r.Int--
			}
			if r.Int == 0 {
				next = in.P2
			}

		case OpJump:
			switch {
			case self.cmpRes < 0:
				next = in.P1
			case self.cmpRes == 0:
				next = in.P2
			default:
				next = in.P3
			}

		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			a := *self.reg(in.P1)
			b := *self.reg(in.P3)
			coll, _ := in.P4.(*Coll)
			var res Value
			if a.IsNull() || b.IsNull() {
				if in.P5&CmpNullEq != 0 {
					eq := a.IsNull() && b.IsNull()
					if in.Op == OpNe {
						res = BoolValue(!eq)
					} else {
						res = BoolValue(eq)
					}
				} else {
					res = Null()
				}
			} else {
				res = BoolValue(compareResult(in.Op, Compare(a, b, coll)))
			}
			if in.P5&CmpStoreP2 != 0 {
				*self.reg(in.P2) = res
			} else if res.IsNull() {
				if in.P5&CmpJumpIfNull != 0 {
					next = in.P2
				}
			} else if res.Int != 0 {
				next = in.P2
			}

		case OpInteger:
			*self.reg(in.P2) = IntValue(int64(in.P1))

		case OpReal:
			f, _ := in.P4.(float64)
			*self.reg(in.P2) = RealValue(f)

		case OpString8:
			s, _ := in.P4.(string)
			*self.reg(in.P2) = StrValue(s)

		case OpNull:
			end := in.P3
			if end < in.P2 {
				end = in.P2
			}
			for i := in.P2; i <= end; i++ {
				*self.reg(i) = Null()
			}

		case OpCopy:
			for i := 0; i <= in.P3; i++ {
				*self.reg(in.P2 + i) = *self.reg(in.P1 + i)
			}

		case OpSCopy:
			*self.reg(in.P2) = *self.reg(in.P1)

		case OpMove:
			for i := 0; i < in.P3; i++ {
				*self.reg(in.P2 + i) = *self.reg(in.P1 + i)
				*self.reg(in.P1 + i) = Null()
			}

		case OpResultRow:
			if self.out != nil {
				if err := self.out(self.copyRange(in.P1, in.P2)); err != nil {
					return err
				}
			}

		case OpMustBeInt:
			v, err := MustBeInt(*self.reg(in.P1))
			if err != nil {
				return errors.Wrapf(err, "instruction %d", pc)
			}
			*self.reg(in.P1) = v

		case OpOffsetLimit:
			limit := self.reg(in.P1).Int
			if limit > 0 {
				off := self.reg(in.P3).Int
				if off < 0 {
					off = 0
				}
				*self.reg(in.P2) = IntValue(limit + off)
			} else {
				*self.reg(in.P2) = IntValue(-1)
			}

		case OpPermutation:
			self.perm, _ = in.P4.([]int)

		case OpCompare:
			kd, _ := in.P4.(*KeyDef)
			var perm []int
			if in.P5&CmpPermute != 0 {
				perm = self.perm
			}
			width := in.P3
			for _, x := range perm {
				if x+1 > width {
					width = x + 1
				}
			}
			self.cmpRes = compareRegs(
				self.regRange(in.P1, width),
				self.regRange(in.P2, width),
				in.P3,
				kd,
				perm,
			)

		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpRemainder:
			v, err := arith(in.Op, *self.reg(in.P1), *self.reg(in.P2))
			if err != nil {
				return err
			}
			*self.reg(in.P3) = v

		case OpConcat:
			a, b := *self.reg(in.P1), *self.reg(in.P2)
			if a.IsNull() || b.IsNull() {
				*self.reg(in.P3) = Null()
			} else {
				*self.reg(in.P3) = StrValue(a.String() + b.String())
			}

		case OpAnd, OpOr:
			*self.reg(in.P3) = logic(in.Op, *self.reg(in.P1), *self.reg(in.P2))

		case OpNot:
			t, null := self.reg(in.P1).Truth()
			if null {
				*self.reg(in.P2) = Null()
			} else {
				*self.reg(in.P2) = BoolValue(!t)
			}

		case OpNegative:
			v, err := arith(OpSubtract, IntValue(0), *self.reg(in.P1))
			if err != nil {
				return err
			}
			*self.reg(in.P2) = v

		case OpCast:
			ty, _ := in.P4.(string)
			v, err := CastValue(*self.reg(in.P1), ty)
			if err != nil {
				return errors.Mark(err, ErrRuntime)
			}
			*self.reg(in.P1) = v

		case OpFunction:
			fc := in.P4.(*FuncCall)
			v, err := fc.Def.Scalar(self.copyRange(in.P2, int(in.P5)), fc.Coll)
			if err != nil {
				return errors.Wrapf(err, "%s()", fc.Def.Name)
			}
			*self.reg(in.P3) = v

		case OpAggStep:
			fc := in.P4.(*FuncCall)
			acc := self.reg(in.P3)
			if acc.Ty != valAgg {
				*acc = Value{Ty: valAgg, agg: &aggCtx{}}
			}
			fc.Def.Step(acc.agg, self.copyRange(in.P2, int(in.P5)), fc.Coll)

		case OpAggFinal:
			fc := in.P4.(*FuncCall)
			acc := self.reg(in.P1)
			actx := acc.agg
			if acc.Ty != valAgg || actx == nil {
				actx = &aggCtx{}
			}
			*acc = fc.Def.Final(actx)

		case OpOpenRead:
			t, ok := in.P4.(*Tree)
			if !ok {
				return errors.AssertionFailedf("instruction %d: OpenRead without relation", pc)
			}
			self.setCursor(in.P1, &cursor{kind: curTree, tree: t})

		case OpOpenTEphemeral:
			if c := self.cursor(in.P1); c != nil && c.ephemeral {
				c.reset()
				break
			}
			kd, _ := in.P4.(*KeyDef)
			self.setCursor(in.P1, &cursor{
				kind:      curTree,
				tree:      NewIndexTree(fmt.Sprintf("ephemeral%d", in.P1), kd),
				ephemeral: true,
			})

		case OpSorterOpen:
			kd, _ := in.P4.(*KeyDef)
			self.setCursor(in.P1, &cursor{
				kind:   curSorter,
				sorter: &sorter{key: kd},
			})

		case OpOpenPseudo:
			self.setCursor(in.P1, &cursor{kind: curPseudo, pseudoReg: in.P2})

		case OpClose:
			self.setCursor(in.P1, nil)

		case OpCount:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			*self.reg(in.P2) = IntValue(int64(c.tree.Len()))

		case OpRewind, OpSort, OpLast:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.nullRow = false
			if in.Op == OpLast {
				c.cur = c.tree.last()
			} else {
				c.cur = c.tree.first()
			}
			if c.cur == nil && in.P2 != 0 {
				next = in.P2
			}

		case OpNext, OpPrev:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			if c.cur != nil {
				if in.Op == OpNext {
					c.cur = c.tree.next(c.cur)
				} else {
					c.cur = c.tree.prev(c.cur)
				}
				if c.cur != nil {
					next = in.P2
				}
			}

		case OpColumn:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			*self.reg(in.P3) = c.column(in.P2, self.mem)

		case OpRowid:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			*self.reg(in.P2) = c.rowid()

		case OpRowData:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			*self.reg(in.P2) = RecordValue(c.row(self.mem))

		case OpNullRow:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.nullRow = true

		case OpMakeRecord:
			*self.reg(in.P3) = RecordValue(self.copyRange(in.P1, in.P2))

		case OpIdxInsert:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.tree.insertRecord(self.reg(in.P2).Rec)

		case OpIdxDelete:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			key := self.copyRange(in.P2, in.P3)
			if e := c.tree.seekPrefix(key); e != nil {
				c.tree.delete(e)
			}

		case OpDelete:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			if c.cur != nil {
				c.tree.delete(c.cur)
			}

		case OpFound, OpNotFound:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			var key []Value
			if n, ok := in.P4.(int); ok && n > 0 {
				key = self.copyRange(in.P3, n)
			} else {
				key = self.reg(in.P3).Rec
			}
			found := c.tree.seekPrefix(key) != nil
			if found == (in.Op == OpFound) {
				next = in.P2
			}

		case OpNextIdEphemeral:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.nextId++
			*self.reg(in.P2) = IntValue(c.nextId)

		case OpSequence:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			*self.reg(in.P2) = IntValue(c.seq)
			c.seq++

		case OpSequenceTest:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			if c.seq == 0 {
				next = in.P2
			}
			c.seq++

		case OpResetSorter:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			// the sequence survives, batches of a partial sort keep using it
			// to tell the first row apart
			seq := c.seq
			c.reset()
			c.seq = seq

		case OpSorterInsert:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.sorter.rows = append(c.sorter.rows, self.reg(in.P2).Rec)

		case OpSorterSort:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.sorter.sort()
			if len(c.sorter.rows) == 0 {
				next = in.P2
			}

		case OpSorterNext:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			c.sorter.pos++
			if c.sorter.pos < len(c.sorter.rows) {
				next = in.P2
			}

		case OpSorterData:
			c, err := self.mustCursor(pc, in.P1)
			if err != nil {
				return err
			}
			*self.reg(in.P2) = RecordValue(c.sorter.current())

		default:
			return errors.AssertionFailedf("instruction %d: unknown opcode %d", pc, in.Op)
		}

		pc = next
	}
	return nil
}
