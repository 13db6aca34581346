package cg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/storage"
	"github.com/dianpeng/sql2vdbe/vdbe"
	"github.com/stretchr/testify/assert"
)

// t1 = {1, 2, 3}, t2 = {2, 3, 4}, t3 carries duplicates for grouping
func testCatalog(t *testing.T) *storage.Catalog {
	cat := storage.NewCatalog()
	load := func(name string, cols []storage.Column, rows string) *storage.Table {
		tab, err := cat.CreateTable(name, cols)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tab.Load(strings.NewReader(rows), ""); err != nil {
			t.Fatal(err)
		}
		return tab
	}
	load("t1", []storage.Column{
		{Name: "a", Type: storage.ColInt},
		{Name: "b", Type: storage.ColText},
	}, "1 x\n2 y\n3 z\n")
	load("t2", []storage.Column{
		{Name: "a", Type: storage.ColInt},
		{Name: "c", Type: storage.ColText},
	}, "2 p\n3 q\n4 r\n")
	t3 := load("t3", []storage.Column{
		{Name: "k", Type: storage.ColText},
		{Name: "v", Type: storage.ColInt},
	}, "a 1\nb 5\na 3\nc 2\nb 7\na NULL\nc 4\n")
	if _, err := t3.AddIndex("t3_v", []string{"v"}, false); err != nil {
		t.Fatal(err)
	}
	return cat
}

func compileWith(cat *storage.Catalog, query string, cfg *Config) (*vdbe.Program, error) {
	c, err := sql.Parse(query)
	if err != nil {
		return nil, err
	}
	a, root, err := plan.Build(c, cat)
	if err != nil {
		return nil, err
	}
	return Compile(a, root, cfg)
}

func runProgram(prog *vdbe.Program) ([]string, error) {
	out := []string{}
	err := vdbe.Exec(context.Background(), prog, func(row []vdbe.Value) error {
		x := make([]string, len(row))
		for i, v := range row {
			x[i] = v.String()
		}
		out = append(out, strings.Join(x, " "))
		return nil
	})
	return out, err
}

func query(t *testing.T, cat *storage.Catalog, q string, cfg *Config) []string {
	prog, err := compileWith(cat, q, cfg)
	if err != nil {
		t.Fatalf("%s: %v", q, err)
	}
	rows, err := runProgram(prog)
	if err != nil {
		t.Fatalf("%s: %v\n%s", q, err, vdbe.ExplainString(prog))
	}
	return rows
}

func sorted(x []string) []string {
	y := append([]string(nil), x...)
	sort.Strings(y)
	return y
}

func hasOp(prog *vdbe.Program, op int) bool {
	for _, x := range prog.Code {
		if x.Op == op {
			return true
		}
	}
	return false
}

func TestCompound(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Equal(
		[]string{"1", "2", "3", "4"},
		sorted(query(t, cat, "select a from t1 union select a from t2", nil)),
	)
	assert.Equal(
		[]string{"2", "3"},
		sorted(query(t, cat, "select a from t1 intersect select a from t2", nil)),
	)
	assert.Equal(
		[]string{"1"},
		query(t, cat, "select a from t1 except select a from t2", nil),
	)
	assert.Equal(
		[]string{"1", "2", "2", "3", "3", "4"},
		query(t, cat, "select a from t1 union all select a from t2 order by 1", nil),
	)
	assert.Equal(
		[]string{"4", "3", "2", "1"},
		query(t, cat, "select a from t1 union select a from t2 order by 1 desc", nil),
	)
	assert.Equal(
		[]string{"2", "3"},
		query(t, cat, "select a from t1 intersect select a from t2 order by 1", nil),
	)
}

func TestLimit(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Empty(query(t, cat, "select a from t1 limit 0", nil))
	assert.Equal(3, len(query(t, cat, "select a from t1 limit -1", nil)))
	assert.Equal(
		[]string{"2", "3"},
		query(t, cat, "select a from t1 order by a limit 5 offset 1", nil),
	)
	assert.Equal(
		[]string{"4", "3"},
		query(t, cat, "select a from t2 order by a desc limit 2", nil),
	)
	assert.Equal(
		[]string{"1", "2", "3", "2"},
		query(t, cat, "select a from t1 union all select a from t2 limit 4", nil),
	)
}

func TestCountFastPath(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	prog, err := compileWith(cat, "select count(*) from t1", nil)
	assert.Nil(err)
	assert.True(hasOp(prog, vdbe.OpCount))
	rows, err := runProgram(prog)
	assert.Nil(err)
	assert.Equal([]string{"3"}, rows)

	prog, err = compileWith(cat, "select count(*) from t1", &Config{NoCountFastPath: true})
	assert.Nil(err)
	assert.False(hasOp(prog, vdbe.OpCount))
	rows, err = runProgram(prog)
	assert.Nil(err)
	assert.Equal([]string{"3"}, rows)

	// a WHERE clause needs the scan
	prog, err = compileWith(cat, "select count(*) from t1 where a > 1", nil)
	assert.Nil(err)
	assert.False(hasOp(prog, vdbe.OpCount))
}

// naiveGroupBy aggregates t3 in Go
func naiveGroupBy() []string {
	type acc struct {
		n, sum int
		max    int
		hasMax bool
	}
	groups := map[string]*acc{}
	for _, r := range [][2]interface{}{
		{"a", 1}, {"b", 5}, {"a", 3}, {"c", 2}, {"b", 7}, {"a", nil}, {"c", 4},
	} {
		k := r[0].(string)
		g, ok := groups[k]
		if !ok {
			g = &acc{}
			groups[k] = g
		}
		g.n++
		if v, ok := r[1].(int); ok {
			g.sum += v
			if !g.hasMax || v > g.max {
				g.max, g.hasMax = v, true
			}
		}
	}
	out := []string{}
	for k, g := range groups {
		out = append(out, fmt.Sprintf("%s %d %d %d", k, g.n, g.sum, g.max))
	}
	sort.Strings(out)
	return out
}

func TestGroupBy(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Equal(
		naiveGroupBy(),
		query(t, cat, "select k, count(*), sum(v), max(v) from t3 group by k", nil),
	)
	assert.Equal(
		[]string{"a 2", "b 2", "c 2"},
		query(t, cat, "select k, count(v) from t3 group by k order by k", nil),
	)
	assert.Equal(
		[]string{"b 12", "c 6"},
		query(t, cat, "select k, sum(v) from t3 group by k having sum(v) > 4", nil),
	)
	assert.Equal(
		[]string{"b 12", "c 6", "a 4"},
		query(t, cat, "select k, sum(v) from t3 group by k order by 2 desc", nil),
	)
}

func TestDistinctAsGroupBy(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	buf := &bytes.Buffer{}
	cfg := &Config{
		Logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	assert.Equal(
		[]string{"a", "b", "c"},
		query(t, cat, "select distinct k from t3 order by k", cfg),
	)
	assert.Contains(buf.String(), `msg="distinct as group by"`)

	assert.Equal(
		[]string{"a", "b", "c"},
		sorted(query(t, cat, "select distinct k from t3", nil)),
	)
}

func TestMinMax(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	for _, cfg := range []*Config{nil, {NoMinMax: true}} {
		assert.Equal([]string{"1"}, query(t, cat, "select min(v) from t3", cfg))
		assert.Equal([]string{"7"}, query(t, cat, "select max(v) from t3", cfg))
		assert.Equal([]string{"NULL"}, query(t, cat, "select max(v) from t3 where v > 100", cfg))
	}
}

// the same query gives the same rows whatever the rewrites turned on
func TestTransformTransparent(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	queries := []string{
		"select x from (select a * 10 as x from t1) where x > 10",
		"select s.a, t2.c from (select a from t1 where a < 3) as s left join t2 on s.a = t2.a",
		"select k, n from (select k, count(*) as n from t3 group by k) where n > 2",
		"select t1.a, s.m from t1, (select max(a) as m from t2) as s",
		"select a from (select a from t1 union all select a from t2) where a > 2",
		"select a from (select a from t2 order by a desc limit 2) order by a",
		"select distinct k from (select k from t3 where v > 1)",
	}
	configs := []*Config{
		{},
		{NoFlatten: true},
		{NoPushdown: true},
		{NoCoroutine: true},
		{NoFlatten: true, NoPushdown: true, NoCoroutine: true},
	}
	for _, q := range queries {
		expect := sorted(query(t, cat, q, configs[0]))
		for _, cfg := range configs[1:] {
			assert.Equal(expect, sorted(query(t, cat, q, cfg)), "%s %+v", q, *cfg)
		}
	}
}

func TestSubquery(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Equal(
		[]string{"2", "3"},
		query(t, cat, "select a from t1 where a in (select a from t2)", nil),
	)
	assert.Equal(
		[]string{"1"},
		query(t, cat, "select a from t1 where not exists (select 1 from t2 where t2.a = t1.a)", nil),
	)
	assert.Equal(
		[]string{"1 NULL", "2 p", "3 q"},
		query(t, cat, "select a, (select c from t2 where t2.a = t1.a) from t1", nil),
	)

	// more than one row faults at run time only
	prog, err := compileWith(cat, "select (select a from t2 where a > 2)", nil)
	assert.Nil(err)
	_, err = runProgram(prog)
	assert.True(errors.Is(err, vdbe.ErrRuntime))
	assert.Contains(err.Error(), "Expression subquery returned more than 1 row")

	prog, err = compileWith(cat, "select (select a from t2 where a > 3)", nil)
	assert.Nil(err)
	rows, err := runProgram(prog)
	assert.Nil(err)
	assert.Equal([]string{"4"}, rows)

	prog, err = compileWith(cat, "select (select a from t2 where a > 9)", nil)
	assert.Nil(err)
	rows, err = runProgram(prog)
	assert.Nil(err)
	assert.Equal([]string{"NULL"}, rows)
}

func TestRecursive(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Equal(
		[]string{"1", "2", "3", "4", "5"},
		query(t, cat, "with recursive c(x) as (values (1) union all select x + 1 from c limit 5) select x from c", nil),
	)
	assert.Equal(
		[]string{"0", "1", "2"},
		sorted(query(t, cat, "with recursive c(x) as (values (1) union select (x + 1) % 3 from c) select x from c", nil)),
	)
	assert.Equal(
		[]string{"1", "2", "3", "4", "5", "6", "7"},
		query(
			t,
			cat,
			"with recursive c(x) as (values (1) union all "+
				"select x * 2 + b.k from c, (select 0 as k union all select 1) as b "+
				"where x < 4 order by 1) select x from c",
			nil,
		),
	)

	_, err := compileWith(
		cat,
		"with recursive c(x) as (select 1 union all select count(*) from c) select x from c",
		nil,
	)
	assert.NotNil(err)
	assert.Contains(err.Error(), "recursive aggregate queries not supported")
}

func TestLimitExceeded(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	_, err := compileWith(cat, "select a, b from t1 order by b", &Config{MaxRegisters: 2})
	assert.True(errors.Is(err, ErrLimitExceeded))
	assert.Contains(err.Error(), "too many registers")

	_, err = compileWith(cat, "select t1.a from t1, t2 order by t2.c", &Config{MaxCursors: 1})
	assert.True(errors.Is(err, ErrLimitExceeded))

	_, err = compileWith(cat, "select a, b, a, b from t1", &Config{MaxColumns: 3})
	assert.True(errors.Is(err, ErrLimitExceeded))
	assert.Contains(err.Error(), "too many result columns")

	_, err = compileWith(cat, "select a, b from t1", &Config{MaxColumns: 3})
	assert.Nil(err)
}

func TestDebugLog(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	buf := &bytes.Buffer{}
	cfg := &Config{
		Logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	query(t, cat, "select count(*) from t1", cfg)
	assert.Contains(buf.String(), `msg="count fast path"`)
	assert.Contains(buf.String(), "msg=program")

	buf.Reset()
	query(t, cat, "select a from t1 union select a from t2", cfg)
	assert.Contains(buf.String(), "strategy=compound")
}

func TestDistinctAggregate(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Equal(
		[]string{"2"},
		query(t, cat, "select count(distinct a % 2) from t2", nil),
	)
	assert.Equal(
		[]string{"3 6"},
		query(t, cat, "select count(distinct k), count(v) from t3", nil),
	)
	assert.Equal(
		[]string{"0 1", "1 2"},
		sorted(query(t, cat, "select v % 2, count(distinct k) from t3 where v is not null group by 1", nil)),
	)
	assert.Equal(
		[]string{"a 2 4", "b 2 12", "c 2 6"},
		sorted(query(t, cat, "select k, count(distinct v), sum(distinct v) from t3 group by k", nil)),
	)
}

// an ORDER BY over a flattened UNION ALL orders the whole chain
func TestFlattenCompoundOrderBy(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	queries := []struct {
		q      string
		expect []string
	}{
		{
			"select a from (select a from t1 union all select a from t2) order by a limit 3",
			[]string{"1", "2", "2"},
		},
		{
			"select a from (select a from t1 union all select a from t2) order by 1 desc",
			[]string{"4", "3", "3", "2", "2", "1"},
		},
		{
			"select a, b from (select a, b from t1 union all select a, c from t2) order by 2 desc",
			[]string{"3 z", "2 y", "1 x", "4 r", "3 q", "2 p"},
		},
		{
			"select b from (select b from t1 union all select c from t2) order by b collate nocase",
			[]string{"p", "q", "r", "x", "y", "z"},
		},
	}
	for _, x := range queries {
		assert.Equal(x.expect, query(t, cat, x.q, nil), x.q)
		assert.Equal(x.expect, query(t, cat, x.q, &Config{NoFlatten: true}), x.q)
	}
}

func TestValuesList(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	assert.Equal(
		[]string{"1 a", "2 b", "3 c"},
		query(t, cat, "values (1, 'a'), (2, 'b'), (3, 'c')", nil),
	)
	assert.Equal(
		[]string{"1", "2", "3", "4"},
		query(t, cat, "values (1), (2) union all select a from t2 where a > 2", nil),
	)
	assert.Equal(
		[]string{"2", "3"},
		sorted(query(t, cat, "with v(x) as (values (1), (2), (3)) select x from v where x > 1", nil)),
	)
	assert.Equal(
		[]string{"1", "2"},
		query(t, cat, "values (1), (2), (3) limit 2", nil),
	)

	q := "values (0)"
	expect := []string{"0"}
	for i := 1; i < 500; i++ {
		q += fmt.Sprintf(", (%d)", i)
		expect = append(expect, fmt.Sprint(i))
	}
	assert.Equal(expect, query(t, cat, q, nil))

	buf := &bytes.Buffer{}
	cfg := &Config{
		Logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	query(t, cat, "values (1), (2), (3)", cfg)
	assert.Contains(buf.String(), `msg="values list" rows=3`)
}

func TestLimitCollate(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(t)

	_, err := compileWith(cat, "select a from t1 limit 1 collate nocase", nil)
	assert.NotNil(err)
	assert.Contains(err.Error(), `near "COLLATE": syntax error`)

	_, err = compileWith(cat, "select a from t1 limit 2 offset 1 collate binary", nil)
	assert.NotNil(err)
	assert.Contains(err.Error(), `near "COLLATE": syntax error`)
}
