package vdbe

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Coll is a named collating sequence used to compare text values. A nil
// *Coll behaves like binary.
type Coll struct {
	Name string
	cmp  func(string, string) int
}

func (self *Coll) Compare(a, b string) int {
	if self == nil || self.cmp == nil {
		return strings.Compare(a, b)
	}
	return self.cmp(a, b)
}

func (self *Coll) CollName() string {
	if self == nil {
		return "binary"
	}
	return self.Name
}

// lockedCollator serializes access to a x/text collator, which keeps
// internal buffers and is not safe for concurrent use
type lockedCollator struct {
	sync.Mutex
	c *collate.Collator
}

func (self *lockedCollator) compare(a, b string) int {
	self.Lock()
	defer self.Unlock()
	return self.c.CompareString(a, b)
}

var (
	foldLock sync.Mutex
	folder   = cases.Fold()
)

func foldCase(s string) string {
	foldLock.Lock()
	defer foldLock.Unlock()
	return folder.String(s)
}

var (
	CollBinary = &Coll{Name: "binary", cmp: strings.Compare}

	CollNocase = &Coll{
		Name: "nocase",
		cmp: func(a, b string) int {
			return strings.Compare(foldCase(a), foldCase(b))
		},
	}

	CollRtrim = &Coll{
		Name: "rtrim",
		cmp: func(a, b string) int {
			return strings.Compare(
				strings.TrimRight(a, " "),
				strings.TrimRight(b, " "),
			)
		},
	}

	unicodeCollator = &lockedCollator{
		c: collate.New(language.Und),
	}
	unicodeCICollator = &lockedCollator{
		c: collate.New(language.Und, collate.IgnoreCase),
	}

	CollUnicode   = &Coll{Name: "unicode", cmp: unicodeCollator.compare}
	CollUnicodeCI = &Coll{Name: "unicode_ci", cmp: unicodeCICollator.compare}
)

var collList = []*Coll{
	CollBinary,
	CollNocase,
	CollRtrim,
	CollUnicode,
	CollUnicodeCI,
}

// LookupColl finds the collation by name, case insensitively. It returns nil
// if no such collation exists.
func LookupColl(name string) *Coll {
	n := strings.ToLower(name)
	for _, c := range collList {
		if c.Name == n {
			return c
		}
	}
	return nil
}
