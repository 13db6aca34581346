package storage

import (
	"strings"
	"testing"

	"github.com/dianpeng/sql2vdbe/vdbe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsOf(t *Table) [][]vdbe.Value {
	out := [][]vdbe.Value{}
	t.Rows.Scan(func(_ int64, row []vdbe.Value) bool {
		out = append(out, row)
		return true
	})
	return out
}

func TestCatalogYaml(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cat, err := ParseCatalog([]byte(`
tables:
  - name: T1
    columns:
      - {name: a, type: int}
      - {name: b, type: text, collate: nocase}
    indexes:
      - {name: t1_b, columns: [b]}
      - {name: t1_a, columns: [a], unique: true}
    rows:
      - [3, "c"]
      - [1, "B"]
      - ["2", a]
      - [null]
`), "")
	require.Nil(err)

	tab := cat.Lookup("t1")
	require.NotNil(tab)
	assert.Equal(4, tab.Count())
	assert.Equal(1, tab.ColumnIndex("B"))

	rows := rowsOf(tab)
	assert.Equal(vdbe.IntValue(2), rows[2][0])
	assert.True(rows[3][1].IsNull())

	// index on b with nocase: NULL, a, B, c
	got := []string{}
	tab.Indexes[0].Tree.Scan(func(_ int64, row []vdbe.Value) bool {
		got = append(got, row[1].String())
		return true
	})
	assert.Equal([]string{"NULL", "a", "B", "c"}, got)

	_, err = tab.Insert([]vdbe.Value{vdbe.IntValue(3)})
	assert.NotNil(err)
	assert.True(strings.Contains(err.Error(), "UNIQUE constraint failed: t1.a"))
}

func TestCatalogErrors(t *testing.T) {
	assert := assert.New(t)
	{
		_, err := ParseCatalog([]byte(`
tables:
  - name: t
    columns:
      - {name: a, type: blob}
`), "")
		assert.NotNil(err)
	}
	{
		_, err := ParseCatalog([]byte(`
tables:
  - name: t
    columns:
      - {name: a, collate: klingon}
`), "")
		assert.NotNil(err)
		assert.True(strings.Contains(err.Error(), "no such collation sequence"))
	}
	{
		_, err := ParseCatalog([]byte(`
tables:
  - name: t
    colums: []
`), "")
		assert.NotNil(err)
	}
}

func TestLoadDelimited(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cat := NewCatalog()
	tab, err := cat.CreateTable("t", []Column{
		{Name: "a", Type: ColInt},
		{Name: "b", Type: ColAny},
		{Name: "c", Type: ColReal},
	})
	require.Nil(err)

	n, err := tab.Load(strings.NewReader("1,x,2\n2,1.5,\n3,NULL,4.25\n"), ",")
	require.Nil(err)
	assert.Equal(3, n)

	rows := rowsOf(tab)
	assert.Equal(vdbe.RealValue(2), rows[0][2])
	assert.Equal(vdbe.RealValue(1.5), rows[1][1])
	assert.True(rows[1][2].IsNull())
	assert.True(rows[2][1].IsNull())

	// default awk splitting on blanks
	tab2, err := cat.CreateTable("w", []Column{{Name: "a"}, {Name: "b"}})
	require.Nil(err)
	_, err = tab2.Load(strings.NewReader("  10   hello\n20 world  \n"), "")
	require.Nil(err)
	rows = rowsOf(tab2)
	assert.Equal(vdbe.IntValue(10), rows[0][0])
	assert.Equal(vdbe.StrValue("world"), rows[1][1])

	// a row wider than the table is an error naming its line
	tab3, err := cat.CreateTable("x", []Column{{Name: "a"}, {Name: "b"}})
	require.Nil(err)
	n, err = tab3.Load(strings.NewReader("1 2\n3 4 5\n6 7\n"), "")
	assert.NotNil(err)
	assert.Equal(1, n)
	assert.Contains(err.Error(), "x: line 2: 3 fields for 2 columns")
	assert.Equal(1, len(rowsOf(tab3)))
}
