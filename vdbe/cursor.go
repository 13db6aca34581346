package vdbe

import (
	"sort"
)

const (
	curTree = iota
	curSorter
	curPseudo
)

type sorter struct {
	key  *KeyDef
	rows [][]Value
	pos  int
}

func (self *sorter) sort() {
	sort.SliceStable(self.rows, func(i, j int) bool {
		return compareFields(self.rows[i], self.rows[j], self.key) < 0
	})
	self.pos = 0
}

func (self *sorter) current() []Value {
	if self.pos < len(self.rows) {
		return self.rows[self.pos]
	}
	return nil
}

type cursor struct {
	kind      int
	tree      *Tree
	ephemeral bool
	cur       *entry
	nullRow   bool
	sorter    *sorter
	pseudoReg int
	seq       int64
	nextId    int64
}

func (self *cursor) reset() {
	self.cur = nil
	self.nullRow = false
	self.seq = 0
	self.nextId = 0
	if self.tree != nil {
		self.tree.Clear()
	}
	if self.sorter != nil {
		self.sorter.rows = nil
		self.sorter.pos = 0
	}
}

func (self *cursor) row(mem []Value) []Value {
	if self.nullRow {
		return nil
	}
	switch self.kind {
	case curTree:
		if self.cur == nil {
			return nil
		}
		return self.cur.row()
	case curSorter:
		return self.sorter.current()
	default:
		return mem[self.pseudoReg].Rec
	}
}

func (self *cursor) column(i int, mem []Value) Value {
	r := self.row(mem)
	if i < len(r) {
		return r[i]
	}
	return Null()
}

func (self *cursor) rowid() Value {
	if self.nullRow || self.kind != curTree || self.cur == nil {
		return Null()
	}
	return IntValue(self.cur.rowid)
}
