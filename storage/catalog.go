package storage

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/vdbe"
	"golang.org/x/exp/slices"
)

const (
	ColAny = iota
	ColInt
	ColReal
	ColText
)

func ColumnType(name string) (int, error) {
	switch strings.ToLower(name) {
	case "", "any":
		return ColAny, nil
	case "int", "integer":
		return ColInt, nil
	case "real", "float", "double":
		return ColReal, nil
	case "text", "string", "varchar":
		return ColText, nil
	default:
		return ColAny, errors.Newf("unknown column type %q", name)
	}
}

type Column struct {
	Name string
	Type int
	Coll *vdbe.Coll
}

// Index is a secondary index over a table. Entries are keyed by the indexed
// columns followed by the rowid and carry the whole row, so scanning an index
// yields rows in index order.
type Index struct {
	Name    string
	Columns []int
	Unique  bool
	Tree    *vdbe.Tree
}

type Table struct {
	Name    string
	Columns []Column
	Rows    *vdbe.Tree
	Indexes []*Index
}

func (self *Table) ColumnIndex(name string) int {
	for idx, c := range self.Columns {
		if strings.EqualFold(c.Name, name) {
			return idx
		}
	}
	return -1
}

func (self *Table) Count() int {
	return self.Rows.Len()
}

func coerce(v vdbe.Value, ty int) vdbe.Value {
	if v.IsNull() {
		return v
	}
	switch ty {
	case ColInt:
		if v.Ty == vdbe.ValStr || v.Ty == vdbe.ValReal {
			if n, err := vdbe.MustBeInt(v); err == nil {
				return n
			}
		}
		if v.Ty == vdbe.ValStr {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return vdbe.RealValue(f)
			}
		}
	case ColReal:
		switch v.Ty {
		case vdbe.ValInt:
			return vdbe.RealValue(float64(v.Int))
		case vdbe.ValStr:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return vdbe.RealValue(f)
			}
		}
	case ColText:
		if v.Ty != vdbe.ValStr {
			return vdbe.StrValue(v.String())
		}
	}
	return v
}

func hasNull(vs []vdbe.Value) bool {
	return slices.IndexFunc(vs, vdbe.Value.IsNull) >= 0
}

func (self *Table) indexKey(idx *Index, row []vdbe.Value, rowid int64) []vdbe.Value {
	key := make([]vdbe.Value, 0, len(idx.Columns)+1)
	for _, c := range idx.Columns {
		key = append(key, row[c])
	}
	return append(key, vdbe.IntValue(rowid))
}

// Insert adds a row and maintains every index. Missing trailing values are
// NULL, values are coerced into the column type when they convert losslessly.
func (self *Table) Insert(row []vdbe.Value) (int64, error) {
	if len(row) > len(self.Columns) {
		return 0, errors.Newf("table %s has %d columns but %d values were supplied",
			self.Name, len(self.Columns), len(row))
	}
	full := make([]vdbe.Value, len(self.Columns))
	for i := range full {
		if i < len(row) {
			full[i] = coerce(row[i], self.Columns[i].Type)
		} else {
			full[i] = vdbe.Null()
		}
	}

	for _, idx := range self.Indexes {
		if !idx.Unique {
			continue
		}
		key := self.indexKey(idx, full, 0)
		key = key[:len(key)-1]
		if hasNull(key) {
			continue
		}
		if idx.Tree.Contains(key) {
			names := []string{}
			for _, c := range idx.Columns {
				names = append(names, self.Name+"."+self.Columns[c].Name)
			}
			return 0, errors.Newf("UNIQUE constraint failed: %s", strings.Join(names, ", "))
		}
	}

	rowid := self.Rows.NextRowid()
	self.Rows.InsertRow(rowid, full)
	for _, idx := range self.Indexes {
		idx.Tree.InsertIndex(self.indexKey(idx, full, rowid), rowid, full)
	}
	return rowid, nil
}

// AddIndex creates an index and fills it with the rows already present
func (self *Table) AddIndex(name string, columns []string, unique bool) (*Index, error) {
	for _, x := range self.Indexes {
		if strings.EqualFold(x.Name, name) {
			return nil, errors.Newf("index %s already exists", name)
		}
	}
	idx := &Index{
		Name:   name,
		Unique: unique,
	}
	kd := &vdbe.KeyDef{}
	for i, cname := range columns {
		c := self.ColumnIndex(cname)
		if c < 0 {
			return nil, errors.Newf("table %s has no column named %s", self.Name, cname)
		}
		idx.Columns = append(idx.Columns, c)
		kd.Parts = append(kd.Parts, vdbe.KeyPart{
			Field: i,
			Coll:  self.Columns[c].Coll,
		})
	}
	idx.Tree = vdbe.NewIndexTree(name, kd)

	var err error
	self.Rows.Scan(func(rowid int64, row []vdbe.Value) bool {
		key := self.indexKey(idx, row, rowid)
		if unique && !hasNull(key[:len(key)-1]) &&
			idx.Tree.Contains(key[:len(key)-1]) {
			err = errors.Newf("UNIQUE constraint failed while creating index %s", name)
			return false
		}
		idx.Tree.InsertIndex(key, rowid, row)
		return true
	})
	if err != nil {
		return nil, err
	}
	self.Indexes = append(self.Indexes, idx)
	return idx, nil
}

// Catalog is the set of base tables visible to the compiler
type Catalog struct {
	tables []*Table
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

func (self *Catalog) CreateTable(name string, columns []Column) (*Table, error) {
	if self.Lookup(name) != nil {
		return nil, errors.Newf("table %s already exists", name)
	}
	if len(columns) == 0 {
		return nil, errors.Newf("table %s must have at least one column", name)
	}
	seen := map[string]bool{}
	for idx := range columns {
		n := strings.ToLower(columns[idx].Name)
		if seen[n] {
			return nil, errors.Newf("duplicate column name: %s", columns[idx].Name)
		}
		seen[n] = true
		if columns[idx].Coll == nil {
			columns[idx].Coll = vdbe.CollBinary
		}
	}
	t := &Table{
		Name:    name,
		Columns: columns,
		Rows:    vdbe.NewTableTree(name),
	}
	self.tables = append(self.tables, t)
	return t, nil
}

func (self *Catalog) Lookup(name string) *Table {
	for _, t := range self.tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

func (self *Catalog) Tables() []*Table {
	return self.tables
}
