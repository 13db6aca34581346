package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
)

// Destination of the rows produced by a select.
const (
	DestOutput    = iota // OpResultRow, one row at a time back to the caller
	DestMem              // scalar subquery, the single value lands in Parm
	DestSet              // IN (subquery), record inserted into index Parm
	DestUnion            // record inserted into index Parm, duplicates vanish
	DestExcept           // record removed from index Parm
	DestExists           // Parm is set to 1 on the first row
	DestDiscard          // nothing
	DestEphemTab         // opens table Parm, rows appended with a surrogate id
	DestTable            // like DestEphemTab, Parm is already open
	DestCoroutine        // row moved to Sdst, then Yield to Parm
	DestFifo             // queue of a recursive query without ORDER BY
	DestDistFifo         // DestFifo, Parm+1 holds every row ever queued
	DestQueue            // priority queue ordered by OrderBy
	DestDistQueue        // DestQueue, Parm+1 holds every row ever queued
)

func destName(mode int) string {
	switch mode {
	case DestOutput:
		return "output"
	case DestMem:
		return "mem"
	case DestSet:
		return "set"
	case DestUnion:
		return "union"
	case DestExcept:
		return "except"
	case DestExists:
		return "exists"
	case DestDiscard:
		return "discard"
	case DestEphemTab:
		return "ephemeral-table"
	case DestTable:
		return "table"
	case DestCoroutine:
		return "coroutine"
	case DestFifo:
		return "fifo"
	case DestDistFifo:
		return "distinct-fifo"
	case DestQueue:
		return "queue"
	case DestDistQueue:
		return "distinct-queue"
	default:
		return "???"
	}
}

// Dest is the Destination Descriptor handed down to a select. Sdst/NSdst are
// filled by whoever codes the result row first, the caller reads them back
// (coroutine consumers address the yielded row through them).
type Dest struct {
	Mode  int
	Parm  int
	Sdst  int
	NSdst int

	// ORDER BY of a DestQueue/DestDistQueue
	OrderBy []*plan.OrderTerm
}

func newDest(mode, parm int) *Dest {
	d := &Dest{
		Mode: mode,
		Parm: parm,
	}
	if mode == DestMem {
		d.Sdst = parm
		d.NSdst = 1
	}
	return d
}

// ignoresOrderBy reports whether the order of the rows can not be observed
// through the destination, ORDER BY and DISTINCT are dropped for those.
func (self *Dest) ignoresOrderBy() bool {
	switch self.Mode {
	case DestExists, DestUnion, DestExcept, DestDiscard, DestQueue,
		DestDistQueue, DestFifo, DestDistFifo:
		return true
	default:
		return false
	}
}

// ignoresDistinct reports whether duplicates are dropped by the destination
// itself or can not be observed through it
func (self *Dest) ignoresDistinct() bool {
	switch self.Mode {
	case DestExists, DestUnion, DestExcept, DestDiscard, DestDistFifo, DestDistQueue:
		return true
	default:
		return false
	}
}

func (self *Dest) isQueue() bool {
	return self.Mode == DestQueue || self.Mode == DestDistQueue
}
