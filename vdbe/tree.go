package vdbe

import (
	"github.com/google/btree"
)

const treeDegree = 16

type entry struct {
	rowid int64
	rec   []Value // key record, or the row itself for rowid tables
	data  []Value // full row for index entries, nil otherwise
	tree  *Tree
}

func (self *entry) Less(than btree.Item) bool {
	return self.tree.cmp(self, than.(*entry)) < 0
}

func (self *entry) row() []Value {
	if self.data != nil {
		return self.data
	}
	return self.rec
}

// Tree is an ordered relation. Rowid trees order rows by the integer key,
// otherwise the whole record is the key and ordered by the key descriptor.
// Base tables, their indexes and every ephemeral relation are trees.
type Tree struct {
	Name   string
	Key    *KeyDef
	IntKey bool

	bt       *btree.BTree
	maxRowid int64
}

func NewTableTree(name string) *Tree {
	return &Tree{
		Name:   name,
		IntKey: true,
		bt:     btree.New(treeDegree),
	}
}

func NewIndexTree(name string, key *KeyDef) *Tree {
	return &Tree{
		Name: name,
		Key:  key,
		bt:   btree.New(treeDegree),
	}
}

func (self *Tree) cmp(a, b *entry) int {
	if self.IntKey {
		switch {
		case a.rowid < b.rowid:
			return -1
		case a.rowid > b.rowid:
			return 1
		default:
			return 0
		}
	}
	return compareFields(a.rec, b.rec, self.Key)
}

func (self *Tree) Len() int { return self.bt.Len() }

func (self *Tree) Clear() {
	self.bt.Clear(false)
}

// InsertRow adds a row keyed by rowid, replacing an existing one
func (self *Tree) InsertRow(rowid int64, row []Value) {
	if rowid > self.maxRowid {
		self.maxRowid = rowid
	}
	self.bt.ReplaceOrInsert(&entry{rowid: rowid, rec: row, tree: self})
}

// NextRowid returns a rowid larger than every rowid seen
func (self *Tree) NextRowid() int64 {
	self.maxRowid++
	return self.maxRowid
}

// InsertIndex adds an index entry whose key is the record, row carries the
// whole table row so index scans are covering
func (self *Tree) InsertIndex(key []Value, rowid int64, row []Value) {
	self.bt.ReplaceOrInsert(&entry{rowid: rowid, rec: key, data: row, tree: self})
}

func (self *Tree) insertRecord(rec []Value) {
	self.bt.ReplaceOrInsert(&entry{rec: rec, tree: self})
}

func (self *Tree) delete(e *entry) {
	self.bt.Delete(e)
}

func (self *Tree) first() *entry {
	if x := self.bt.Min(); x != nil {
		return x.(*entry)
	}
	return nil
}

func (self *Tree) last() *entry {
	if x := self.bt.Max(); x != nil {
		return x.(*entry)
	}
	return nil
}

// next returns the smallest entry strictly greater than e, e does not need
// to be present anymore
func (self *Tree) next(e *entry) *entry {
	var out *entry
	self.bt.AscendGreaterOrEqual(e, func(i btree.Item) bool {
		x := i.(*entry)
		if self.cmp(x, e) == 0 {
			return true
		}
		out = x
		return false
	})
	return out
}

func (self *Tree) prev(e *entry) *entry {
	var out *entry
	self.bt.DescendLessOrEqual(e, func(i btree.Item) bool {
		x := i.(*entry)
		if self.cmp(x, e) == 0 {
			return true
		}
		out = x
		return false
	})
	return out
}

// seekPrefix finds the first entry whose record starts with the prefix
func (self *Tree) seekPrefix(prefix []Value) *entry {
	if self.IntKey {
		return nil
	}
	var out *entry
	pivot := &entry{rec: prefix, tree: self}
	self.bt.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		x := i.(*entry)
		if equalPrefix(prefix, x.rec, self.Key) {
			out = x
		}
		return false
	})
	return out
}

// Contains reports whether some record starts with the prefix
func (self *Tree) Contains(prefix []Value) bool {
	return self.seekPrefix(prefix) != nil
}

// Scan visits every row in key order until fn returns false
func (self *Tree) Scan(fn func(rowid int64, row []Value) bool) {
	self.bt.Ascend(func(i btree.Item) bool {
		x := i.(*entry)
		return fn(x.rowid, x.row())
	})
}
