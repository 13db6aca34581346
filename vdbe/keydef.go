package vdbe

import (
	"bytes"
	"fmt"
)

// KeyPart describes one column of a key: which field of the record it reads,
// the collation used for text and the direction.
type KeyPart struct {
	Field int
	Coll  *Coll
	Desc  bool
}

// KeyDef is the key/collation descriptor shared by sorters, ephemeral indexes
// and the Compare opcode. Once attached to an instruction it is never mutated,
// callers Dup it when a variant is needed.
type KeyDef struct {
	Parts []KeyPart
}

func NewKeyDef(n int) *KeyDef {
	kd := &KeyDef{
		Parts: make([]KeyPart, n),
	}
	for i := 0; i < n; i++ {
		kd.Parts[i] = KeyPart{
			Field: i,
			Coll:  CollBinary,
		}
	}
	return kd
}

func (self *KeyDef) Len() int {
	if self == nil {
		return 0
	}
	return len(self.Parts)
}

func (self *KeyDef) Dup() *KeyDef {
	if self == nil {
		return nil
	}
	out := &KeyDef{
		Parts: make([]KeyPart, len(self.Parts)),
	}
	copy(out.Parts, self.Parts)
	return out
}

// Reversed returns a copy with every direction flipped
func (self *KeyDef) Reversed() *KeyDef {
	out := self.Dup()
	if out == nil {
		return nil
	}
	for i := range out.Parts {
		out.Parts[i].Desc = !out.Parts[i].Desc
	}
	return out
}

// AllAsc returns a copy with every direction set to ascending, used when
// only equality matters
func (self *KeyDef) AllAsc() *KeyDef {
	out := self.Dup()
	if out == nil {
		return nil
	}
	for i := range out.Parts {
		out.Parts[i].Desc = false
	}
	return out
}

func (self *KeyDef) covers(field int) bool {
	if self == nil {
		return false
	}
	for _, p := range self.Parts {
		if p.Field == field {
			return true
		}
	}
	return false
}

func (self *KeyDef) String() string {
	if self == nil {
		return "k()"
	}
	buf := &bytes.Buffer{}
	buf.WriteString("k(")
	for idx, p := range self.Parts {
		if idx > 0 {
			buf.WriteString(",")
		}
		if p.Field != idx {
			buf.WriteString(fmt.Sprintf("#%d ", p.Field))
		}
		if p.Desc {
			buf.WriteString("-")
		}
		buf.WriteString(p.Coll.CollName())
	}
	buf.WriteString(")")
	return buf.String()
}

// compare a single field, a missing field sorts first regardless of the
// direction so a shorter search record is positioned before all records
// sharing its prefix
func cmpField(a, b []Value, f int, coll *Coll) (int, bool) {
	ina := f < len(a)
	inb := f < len(b)
	switch {
	case !ina && !inb:
		return 0, true
	case !ina:
		return -1, true
	case !inb:
		return 1, true
	default:
		return Compare(a[f], b[f], coll), false
	}
}

// compareFields compares two records. Fields named by the key parts come
// first, then every other field in position order with binary collation.
func compareFields(a, b []Value, kd *KeyDef) int {
	if kd != nil {
		for _, p := range kd.Parts {
			c, missing := cmpField(a, b, p.Field, p.Coll)
			if c == 0 {
				continue
			}
			if p.Desc && !missing {
				return -c
			}
			return c
		}
	}

	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		if kd.covers(i) {
			continue
		}
		if c, _ := cmpField(a, b, i, nil); c != 0 {
			return c
		}
	}
	return 0
}

// CompareRecords is the exported form used by tests and the storage layer
func CompareRecords(a, b []Value, kd *KeyDef) int {
	return compareFields(a, b, kd)
}

// equalPrefix checks whether the first len(prefix) fields of rec match the
// prefix under the collations of the key
func equalPrefix(prefix, rec []Value, kd *KeyDef) bool {
	if len(rec) < len(prefix) {
		return false
	}
	for i := range prefix {
		var coll *Coll
		if kd != nil {
			for _, p := range kd.Parts {
				if p.Field == i {
					coll = p.Coll
					break
				}
			}
		}
		if Compare(prefix[i], rec[i], coll) != 0 {
			return false
		}
	}
	return true
}

// compareRegs compares two register ranges of n cells, the i-th cell uses
// the i-th key part. Permutation maps the i-th compared cell to an offset.
func compareRegs(a, b []Value, n int, kd *KeyDef, perm []int) int {
	for i := 0; i < n; i++ {
		idx := i
		if perm != nil {
			idx = perm[i]
		}
		var coll *Coll
		desc := false
		if kd != nil && i < len(kd.Parts) {
			coll = kd.Parts[i].Coll
			desc = kd.Parts[i].Desc
		}
		c := Compare(a[idx], b[idx], coll)
		if c != 0 {
			if desc {
				return -c
			}
			return c
		}
	}
	return 0
}
