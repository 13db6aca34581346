package vdbe

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func collect(t *testing.T, p *Program) ([][]Value, error) {
	rows := [][]Value{}
	err := Exec(context.Background(), p, func(r []Value) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

func ints(rows [][]Value) []int64 {
	out := []int64{}
	for _, r := range rows {
		out = append(out, r[0].Int)
	}
	return out
}

func TestCounterLoop(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	done := p.MakeLabel()
	p.AddOp2(OpInteger, 0, 1)
	p.AddOp2(OpInteger, 3, 2)
	p.AddOp2(OpInteger, 1, 3)
	loop := p.CurrentAddr()
	p.AddOp3(OpAdd, 1, 3, 1)
	p.AddOp2(OpResultRow, 1, 1)
	p.AddOp2(OpDecrJumpZero, 2, done)
	p.Goto(loop)
	p.ResolveLabel(done)
	p.AddOp0(OpHalt)
	p.NMem = 3

	rows, err := collect(t, p)
	assert.Nil(err)
	assert.Equal([]int64{1, 2, 3}, ints(rows))
	assert.True(p.Finalized())
}

func TestUnresolvedLabel(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	l := p.MakeLabel()
	p.Goto(l)
	_, err := collect(t, p)
	assert.NotNil(err)
	assert.True(strings.Contains(err.Error(), "never resolved"))
}

func TestHaltError(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	p.AddOp4(OpHalt, 1, 0, 0, "boom")
	_, err := collect(t, p)
	assert.NotNil(err)
	assert.True(errors.Is(err, ErrRuntime))
	assert.Equal("boom", err.Error())
}

func TestCompareJump(t *testing.T) {
	assert := assert.New(t)

	// emits r1 only when r1 < r2, null never jumps unless asked to
	run := func(a, b Value, flags uint16) int {
		p := NewProgram()
		skip := p.MakeLabel()
		p.AddOp4(OpString8, 0, 1, 0, "")
		p.AddOp4(OpGe, 1, skip, 2, CollBinary)
		p.ChangeP5(flags)
		p.AddOp2(OpResultRow, 1, 1)
		p.ResolveLabel(skip)
		p.AddOp0(OpHalt)
		p.NMem = 2
		p.Code[0] = Instr{Op: OpNoop}
		m := &vm{prog: p, mem: make([]Value, 8), once: make([]bool, len(p.Code))}
		m.mem[1] = a
		m.mem[2] = b
		cnt := 0
		m.out = func([]Value) error {
			cnt++
			return nil
		}
		assert.Nil(p.Finalize())
		assert.Nil(m.run(context.Background()))
		return cnt
	}

	assert.Equal(1, run(IntValue(1), IntValue(2), 0))
	assert.Equal(0, run(IntValue(2), IntValue(2), 0))
	assert.Equal(1, run(Null(), IntValue(2), 0))
	assert.Equal(0, run(Null(), IntValue(2), CmpJumpIfNull))
	assert.Equal(0, run(Null(), Null(), CmpNullEq))
}

func TestCoroutine(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()

	// producer yields 10, 20 then ends
	body := p.MakeLabel()
	eof := p.MakeLabel()
	p.AddOp3(OpInitCoroutine, 1, 0, body)
	loop := p.AddOp2(OpYield, 1, eof)
	p.AddOp2(OpResultRow, 2, 1)
	p.Goto(loop)

	p.ResolveLabel(eof)
	p.AddOp0(OpHalt)

	p.ResolveLabel(body)
	p.AddOp2(OpInteger, 10, 2)
	p.AddOp1(OpYield, 1)
	p.AddOp2(OpInteger, 20, 2)
	p.AddOp1(OpYield, 1)
	p.AddOp1(OpEndCoroutine, 1)
	p.NMem = 2

	// the coroutine body sits after Halt, InitCoroutine with P2==0 falls
	// through into the consumer loop
	rows, err := collect(t, p)
	assert.Nil(err)
	assert.Equal([]int64{10, 20}, ints(rows))
}

func TestGosubOnce(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	sub := p.MakeLabel()
	end := p.MakeLabel()

	p.AddOp2(OpInteger, 0, 2)
	p.AddOp2(OpInteger, 3, 3)
	top := p.CurrentAddr()
	p.AddOp2(OpGosub, 1, sub)
	p.AddOp2(OpDecrJumpZero, 3, end)
	p.Goto(top)
	p.ResolveLabel(end)
	p.AddOp0(OpHalt)

	p.ResolveLabel(sub)
	once := p.AddOp0(OpOnce)
	p.AddOp2(OpInteger, 100, 2)
	p.JumpHere(once)
	p.AddOp2(OpResultRow, 2, 1)
	p.AddOp1(OpReturn, 1)
	p.NMem = 3

	rows, err := collect(t, p)
	assert.Nil(err)
	assert.Equal([]int64{100, 100, 100}, ints(rows))
}

func TestEphemeralSet(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()

	// insert 3,1,3,2 into a set, then scan it in key order
	p.AddOp4(OpOpenTEphemeral, 0, 1, 0, NewKeyDef(1))
	for _, v := range []int{3, 1, 3, 2} {
		p.AddOp2(OpInteger, v, 1)
		p.AddOp3(OpMakeRecord, 1, 1, 2)
		p.AddOp2(OpIdxInsert, 0, 2)
	}
	done := p.MakeLabel()
	p.AddOp2(OpRewind, 0, done)
	top := p.CurrentAddr()
	p.AddOp3(OpColumn, 0, 0, 3)
	p.AddOp2(OpResultRow, 3, 1)
	p.AddOp2(OpNext, 0, top)
	p.ResolveLabel(done)

	// membership test
	p.AddOp2(OpInteger, 2, 1)
	notHere := p.MakeLabel()
	p.AddOp4(OpNotFound, 0, notHere, 1, 1)
	p.AddOp2(OpInteger, 99, 3)
	p.AddOp2(OpResultRow, 3, 1)
	p.ResolveLabel(notHere)
	p.AddOp0(OpHalt)
	p.NCursor = 1
	p.NMem = 3

	rows, err := collect(t, p)
	assert.Nil(err)
	assert.Equal([]int64{1, 2, 3, 99}, ints(rows))
}

func TestSorter(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	kd := &KeyDef{Parts: []KeyPart{{Field: 0, Coll: CollBinary, Desc: true}}}
	p.AddOp4(OpSorterOpen, 0, 2, 0, kd)
	for idx, v := range []int{2, 5, 1, 5} {
		p.AddOp2(OpInteger, v, 1)
		p.AddOp2(OpInteger, idx, 2)
		p.AddOp3(OpMakeRecord, 1, 2, 3)
		p.AddOp2(OpSorterInsert, 0, 3)
	}
	done := p.MakeLabel()
	p.AddOp2(OpOpenPseudo, 1, 4)
	p.AddOp2(OpSorterSort, 0, done)
	top := p.CurrentAddr()
	p.AddOp2(OpSorterData, 0, 4)
	p.AddOp3(OpColumn, 1, 1, 5)
	p.AddOp2(OpResultRow, 5, 1)
	p.AddOp2(OpSorterNext, 0, top)
	p.ResolveLabel(done)
	p.AddOp0(OpHalt)
	p.NMem = 5

	rows, err := collect(t, p)
	assert.Nil(err)
	// stable on the ties
	assert.Equal([]int64{1, 3, 0, 2}, ints(rows))
}

func TestAggregate(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	sum := &FuncCall{Def: LookupFunc("sum", 1)}
	p.AddOp2(OpNull, 0, 2)
	for _, v := range []int{4, 5, 6} {
		p.AddOp2(OpInteger, v, 1)
		p.AddOp4(OpAggStep, 0, 1, 2, sum)
		p.ChangeP5(1)
	}
	p.AddOp4(OpAggFinal, 2, 1, 0, sum)
	p.AddOp2(OpResultRow, 2, 1)
	p.AddOp0(OpHalt)
	p.NMem = 2

	rows, err := collect(t, p)
	assert.Nil(err)
	assert.Equal([]int64{15}, ints(rows))
}

func TestExplain(t *testing.T) {
	assert := assert.New(t)
	p := NewProgram()
	p.AddOp2(OpInteger, 1, 1)
	p.Comment("one")
	p.AddOp4(OpOpenTEphemeral, 0, 1, 0, NewKeyDef(2))
	out := ExplainString(p)
	assert.True(strings.Contains(out, "Integer"))
	assert.True(strings.Contains(out, "one"))
	assert.True(strings.Contains(out, "k(binary,binary)"))
}
