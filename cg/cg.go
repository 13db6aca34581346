package cg

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Compile generates the register program of the query rooted at root. The
// arena is consumed: flattening and push-down rewrite its nodes in place
// and the code generator stores its own state in them.
func Compile(
	a *plan.Arena,
	root plan.NodeId,
	cfg *Config,
) (*vdbe.Program, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := a.Diag.Err(); err != nil {
		return nil, err
	}
	g := &queryCodeGen{
		arena:      a,
		cfg:        cfg,
		log:        cfg.logger(),
		v:          vdbe.NewProgram(),
		coroutines: make(map[int]*plan.SrcItem),
	}
	return g.compile(root)
}

// codegen from plan into register code. Sub generators, ie sortCodeGen and
// aggCodeGen, keep a pointer back to this struct and share the program and
// the register file with it.

type queryCodeGen struct {
	arena *plan.Arena
	cfg   *Config
	log   *slog.Logger
	v     *vdbe.Program
	nMem  int

	// first resource ceiling that was crossed, sticky
	err error

	// FROM terms implemented as a coroutine, keyed by cursor. Their columns
	// live in the registers the coroutine yields.
	coroutines map[int]*plan.SrcItem
}

func (self *queryCodeGen) compile(root plan.NodeId) (*vdbe.Program, error) {
	v := self.v
	v.AddOp2(vdbe.OpInit, 0, 0)

	dest := newDest(DestOutput, 0)
	if err := self.selectStmt(root, dest); err != nil {
		return nil, err
	}
	v.AddOp0(vdbe.OpHalt)

	if err := self.arena.Diag.Err(); err != nil {
		return nil, err
	}
	if err := self.check(); err != nil {
		return nil, err
	}

	for _, r := range self.arena.LeftMost(root).Result {
		v.ColNames = append(v.ColNames, r.Name)
	}
	v.NMem = self.nMem
	v.NCursor = self.arena.NCursor
	if err := v.Finalize(); err != nil {
		return nil, errors.Wrap(err, "finalize")
	}

	self.log.Debug(
		"program",
		slog.String("id", v.ID.String()),
		slog.Int("instructions", len(v.Code)),
		slog.Int("registers", v.NMem),
		slog.Int("cursors", v.NCursor),
	)
	return v, nil
}

// ----------------------------------------------------------------------------
// resources

func (self *queryCodeGen) newReg() int {
	return self.newRegs(1)
}

// newRegs reserves n consecutive registers and returns the first one
func (self *queryCodeGen) newRegs(n int) int {
	base := self.nMem + 1
	self.nMem += n
	if limit := self.cfg.MaxRegisters; limit > 0 && self.nMem > limit && self.err == nil {
		self.err = errors.Mark(
			errors.Newf("too many registers: %d exceeds %d", self.nMem, limit),
			ErrLimitExceeded,
		)
	}
	return base
}

func (self *queryCodeGen) newCursor() int {
	c := self.arena.NewCursor()
	if limit := self.cfg.MaxCursors; limit > 0 && self.arena.NCursor > limit && self.err == nil {
		self.err = errors.Mark(
			errors.Newf("too many cursors: %d exceeds %d", self.arena.NCursor, limit),
			ErrLimitExceeded,
		)
	}
	return c
}

func (self *queryCodeGen) checkColumns(s *plan.Select) {
	if limit := self.cfg.MaxColumns; limit > 0 && len(s.Result) > limit && self.err == nil {
		self.err = errors.Mark(
			errors.New("too many result columns"),
			ErrLimitExceeded,
		)
	}
}

// check returns the resource error, generation stops at the first phase
// boundary after it was raised
func (self *queryCodeGen) check() error {
	return self.err
}

// ----------------------------------------------------------------------------
// small emitters shared by every generator

// codeOffset skips the row while the OFFSET counter is positive
func (self *queryCodeGen) codeOffset(s *plan.Select, cont int) {
	if s.OffsetReg > 0 {
		self.v.AddOp3(vdbe.OpIfPos, s.OffsetReg, cont, 1)
		self.v.Comment("OFFSET")
	}
}

func (self *queryCodeGen) codeInt(i int, reg int) {
	self.v.AddOp2(vdbe.OpInteger, i, reg)
}

func (self *queryCodeGen) codeHalt(msg string) {
	self.v.AddOp4(vdbe.OpHalt, 1, 0, 0, msg)
}
