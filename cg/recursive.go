package cg

import (
	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Recursive common table expressions.
//
// The setup selects (the Prior chain) fill a queue. Then, until the queue
// is empty: one row is taken off the queue, output, and made the current
// row that the recursive select reads through its recursive FROM term; the
// recursive select runs once and appends its rows to the queue.
//
// Without ORDER BY the queue is a FIFO. With ORDER BY it is a priority
// queue keyed by the ORDER BY terms then a sequence number, the row itself
// rides along as a nested record. UNION keeps a second index next to the
// queue with every row ever queued, a row already seen is not queued again.

func (self *queryCodeGen) recursiveSelect(id plan.NodeId, dest *Dest) error {
	v := self.v
	s := self.arena.Node(id)
	if s.IsAgg() {
		self.arena.Diag.Errorf("codegen", "recursive aggregate queries not supported")
		return self.arena.Diag.Err()
	}

	iCurrent := -1
	for _, item := range s.Src {
		if item.Recursive {
			iCurrent = item.Cursor
			break
		}
	}
	if iCurrent < 0 {
		return errors.AssertionFailedf("recursive select %d does not read its own table", id)
	}
	nCol := len(s.Result)

	addrBreak := v.MakeLabel()
	if err := self.computeLimitRegisters(s, addrBreak); err != nil {
		return err
	}
	regLimit, regOffset := s.LimitReg, s.OffsetReg

	// the current row
	regCurrent := self.newReg()
	v.AddOp2(vdbe.OpOpenPseudo, iCurrent, regCurrent)
	v.Comment("current row")

	// the queue, and the distinct index right after it
	iQueue := self.newCursor()
	iDistinct := -1
	if s.Op == plan.OpUnion {
		iDistinct = self.newCursor()
	}
	destQueue := newDest(DestFifo, iQueue)
	if len(s.OrderBy) > 0 {
		destQueue.Mode = DestQueue
		destQueue.OrderBy = s.OrderBy
		kd := vdbe.NewKeyDef(len(s.OrderBy) + 1)
		for i, t := range s.OrderBy {
			coll := plan.ExprColl(t.Expr)
			if !plan.HasExplicitColl(t.Expr) {
				coll = self.multiSelectColl(s, t.OrigCol-1)
			}
			kd.Parts[i] = vdbe.KeyPart{
				Field: i,
				Coll:  binaryIfNil(coll),
				Desc:  t.Desc,
			}
		}
		kd.Parts[len(s.OrderBy)] = vdbe.KeyPart{
			Field: len(s.OrderBy),
			Coll:  vdbe.CollBinary,
		}
		v.AddOp4(vdbe.OpOpenTEphemeral, iQueue, 0, 0, kd)
		v.Comment("queue")
	} else {
		v.AddOp4(vdbe.OpOpenTEphemeral, iQueue, 0, 0, idKeyDef(nCol))
		v.Comment("fifo")
	}
	if iDistinct >= 0 {
		destQueue.Mode++
		v.AddOp4(vdbe.OpOpenTEphemeral, iDistinct, 0, 0, self.multiSelectKeyDef(s))
		v.Comment("queued rows")
	}

	// setup
	if err := self.selectStmt(s.Prior, destQueue); err != nil {
		return err
	}

	// take the next row off the queue
	addrTop := v.AddOp2(vdbe.OpRewind, iQueue, addrBreak)
	if destQueue.isQueue() {
		v.AddOp3(vdbe.OpColumn, iQueue, len(s.OrderBy)+1, regCurrent)
	} else {
		v.AddOp2(vdbe.OpRowData, iQueue, regCurrent)
	}
	v.AddOp1(vdbe.OpDelete, iQueue)

	// output it, the cursor of the current row is its source
	addrCont := v.MakeLabel()
	s.LimitReg, s.OffsetReg = regLimit, regOffset
	if err := self.selectInnerLoop(s, iCurrent, nil, nil, dest, addrCont, addrBreak); err != nil {
		return err
	}
	v.ResolveLabel(addrCont)

	// the recursive select, once per current row
	s.LimitReg, s.OffsetReg = 0, 0
	if err := self.alone(s, destQueue); err != nil {
		return err
	}
	s.LimitReg, s.OffsetReg = regLimit, regOffset
	v.Goto(addrTop)
	v.ResolveLabel(addrBreak)
	self.singleRowCheck(s)
	return nil
}
