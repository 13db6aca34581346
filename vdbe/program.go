package vdbe

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Instr is one instruction of the register machine. Jump targets may be
// forward labels (negative numbers) until the program is finalized.
type Instr struct {
	Op      int
	P1      int
	P2      int
	P3      int
	P4      any
	P5      uint16
	Comment string
}

// FuncCall is the P4 operand of OpFunction/OpAggStep/OpAggFinal
type FuncCall struct {
	Def  *FuncDef
	Coll *Coll
}

func (self *FuncCall) String() string {
	if self.Coll != nil && self.Coll != CollBinary {
		return fmt.Sprintf("%s(%d) %s", self.Def.Name, self.Def.NArg, self.Coll.Name)
	}
	return fmt.Sprintf("%s(%d)", self.Def.Name, self.Def.NArg)
}

// Program is both the builder used by the code generator and the executable
// artifact consumed by the interpreter.
type Program struct {
	ID       uuid.UUID
	Code     []Instr
	NMem     int // registers are numbered from 1 up to NMem inclusively
	NCursor  int
	ColNames []string

	labels    []int
	finalized bool
}

func NewProgram() *Program {
	return &Program{
		ID: uuid.New(),
	}
}

func (self *Program) CurrentAddr() int {
	return len(self.Code)
}

func (self *Program) AddOp4(op, p1, p2, p3 int, p4 any) int {
	addr := len(self.Code)
	self.Code = append(self.Code, Instr{
		Op: op,
		P1: p1,
		P2: p2,
		P3: p3,
		P4: p4,
	})
	return addr
}

func (self *Program) AddOp3(op, p1, p2, p3 int) int {
	return self.AddOp4(op, p1, p2, p3, nil)
}

func (self *Program) AddOp2(op, p1, p2 int) int {
	return self.AddOp4(op, p1, p2, 0, nil)
}

func (self *Program) AddOp1(op, p1 int) int {
	return self.AddOp4(op, p1, 0, 0, nil)
}

func (self *Program) AddOp0(op int) int {
	return self.AddOp4(op, 0, 0, 0, nil)
}

func (self *Program) Goto(label int) int {
	return self.AddOp2(OpGoto, 0, label)
}

// MakeLabel creates a new forward label. Labels are negative so they never
// collide with a real address.
func (self *Program) MakeLabel() int {
	self.labels = append(self.labels, -1)
	return -len(self.labels)
}

func (self *Program) ResolveLabel(label int) {
	idx := -1 - label
	if idx < 0 || idx >= len(self.labels) {
		panic(fmt.Sprintf("invalid label %d", label))
	}
	self.labels[idx] = len(self.Code)
}

func (self *Program) IsLabelResolved(label int) bool {
	idx := -1 - label
	return idx >= 0 && idx < len(self.labels) && self.labels[idx] >= 0
}

func (self *Program) Op(addr int) *Instr {
	if addr < 0 {
		addr = len(self.Code) + addr
	}
	return &self.Code[addr]
}

func (self *Program) ChangeOpcode(addr int, op int) { self.Op(addr).Op = op }
func (self *Program) ChangeP1(addr int, v int)      { self.Op(addr).P1 = v }
func (self *Program) ChangeP2(addr int, v int)      { self.Op(addr).P2 = v }
func (self *Program) ChangeP3(addr int, v int)      { self.Op(addr).P3 = v }
func (self *Program) ChangeP4(addr int, v any)      { self.Op(addr).P4 = v }

// ChangeP5 sets P5 of the most recently added instruction
func (self *Program) ChangeP5(v uint16) {
	if len(self.Code) > 0 {
		self.Code[len(self.Code)-1].P5 = v
	}
}

// JumpHere makes the jump at addr land on the next instruction to be coded
func (self *Program) JumpHere(addr int) {
	self.ChangeP2(addr, len(self.Code))
}

func (self *Program) ChangeToNoop(addr int) {
	self.Code[addr] = Instr{Op: OpNoop}
}

func (self *Program) Comment(format string, args ...any) {
	if len(self.Code) > 0 {
		self.Code[len(self.Code)-1].Comment = fmt.Sprintf(format, args...)
	}
}

func (self *Program) resolve(v int) (int, error) {
	if v >= 0 {
		return v, nil
	}
	idx := -1 - v
	if idx >= len(self.labels) {
		return 0, errors.AssertionFailedf("unknown label %d", v)
	}
	if self.labels[idx] < 0 {
		return 0, errors.AssertionFailedf("label %d is never resolved", v)
	}
	return self.labels[idx], nil
}

// Finalize replaces every label by its address. A program must be finalized
// before it can be executed.
func (self *Program) Finalize() error {
	if self.finalized {
		return nil
	}
	for addr := range self.Code {
		in := &self.Code[addr]
		mask := opJumps(in.Op)
		if IsCompareOp(in.Op) && in.P5&CmpStoreP2 != 0 {
			mask = 0
		}
		var err error
		if mask&jumpP1 != 0 {
			if in.P1, err = self.resolve(in.P1); err != nil {
				return errors.Wrapf(err, "instruction %d", addr)
			}
		}
		if mask&jumpP2 != 0 {
			if in.P2, err = self.resolve(in.P2); err != nil {
				return errors.Wrapf(err, "instruction %d", addr)
			}
		}
		if mask&jumpP3 != 0 {
			if in.P3, err = self.resolve(in.P3); err != nil {
				return errors.Wrapf(err, "instruction %d", addr)
			}
		}
	}
	self.finalized = true
	return nil
}

func (self *Program) Finalized() bool { return self.finalized }
