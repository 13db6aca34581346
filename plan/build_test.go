package plan

import (
	"testing"

	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/vdbe"
	"github.com/stretchr/testify/assert"
)

func TestBuildSimple(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "select a as k, t1.b from t1 where k > 1")
		s := a.Node(root)
		assert.Equal(2, len(s.Result))
		assert.Equal("k", s.Result[0].Name)
		assert.Equal("b", s.Result[1].Name)
		assert.Equal(1, len(s.Src))
		assert.Equal("(c0.a > 1)", PrintExpr(s.Where))
		assert.False(s.IsAgg())
	}

	// star expansion skips the USING column of the right table
	{
		a, root := mustPlan(t, "select * from t1 join t2 using (a)")
		s := a.Node(root)
		assert.Equal(3, len(s.Result))
		assert.Equal("c0.a", PrintExpr(s.Result[0].Expr))
		assert.Equal("c0.b", PrintExpr(s.Result[1].Expr))
		assert.Equal("c1.c", PrintExpr(s.Result[2].Expr))
		assert.Equal("(c0.a = c1.a)", PrintExpr(s.Where))
		assert.True(s.Where.FromJoin)
	}

	{
		a, root := mustPlan(t, "select * from t1 natural join t2")
		s := a.Node(root)
		assert.Equal(3, len(s.Result))
		assert.Equal([]string{"a"}, s.Src[1].Using)
	}

	{
		a, root := mustPlan(t, "select t2.* from t1, t2")
		s := a.Node(root)
		assert.Equal(2, len(s.Result))
		assert.Equal("c1.a", PrintExpr(s.Result[0].Expr))
	}
}

func TestBuildAggregate(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "select b, count(*) from t1 group by 1 having count(*) > 1")
		s := a.Node(root)
		assert.True(s.IsAgg())
		assert.Equal(1, len(s.GroupBy))
		assert.Equal("c0.b", PrintExpr(s.GroupBy[0]))
		assert.Equal("(count(*) > 1)", PrintExpr(s.Having))
	}
	{
		a, root := mustPlan(t, "select min(a) from t1")
		s := a.Node(root)
		assert.True(s.Has(SfAggregate))
		assert.True(s.Has(SfMinMaxAgg))
	}
	{
		// scalar max with two arguments is not an aggregate
		a, root := mustPlan(t, "select max(a, 3) from t1")
		assert.False(a.Node(root).IsAgg())
	}
}

func TestBuildCompound(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "select a from t1 union select a from t2 except select y from t3 order by 1 desc")
		s := a.Node(root)
		assert.Equal(OpExcept, s.Op)
		assert.Equal(1, len(s.OrderBy))
		assert.Equal("1", PrintExpr(s.OrderBy[0].Expr))
		assert.True(s.OrderBy[0].Desc)
		assert.Equal(1, s.OrderBy[0].OrigCol)

		left := a.LeftMost(root)
		assert.Equal(OpSelect, left.Op)
		for x := s; ; x = a.Node(x.Prior) {
			assert.True(x.Has(SfCompound))
			if x.Prior == NoNode {
				break
			}
		}
	}

	// order by name is matched against the left-most select first
	{
		a, root := mustPlan(t, "select a, b from t1 union all select a, c from t2 order by b, c")
		s := a.Node(root)
		assert.Equal(2, s.OrderBy[0].OrigCol)
		assert.Equal(2, s.OrderBy[1].OrigCol)
	}

	// a COLLATE on a UNION order by moves the compound into a subquery
	{
		a, root := mustPlan(t, "select b from t1 union select c from t2 order by 1 collate nocase")
		s := a.Node(root)
		assert.Equal(NoNode, s.Prior)
		assert.Equal(1, len(s.Src))
		assert.NotEqual(NoNode, s.Src[0].Sub)
		assert.Equal(OpUnion, a.Node(s.Src[0].Sub).Op)
		assert.Equal("c2.b collate nocase", PrintExpr(s.OrderBy[0].Expr))
		assert.Equal(1, s.OrderBy[0].OrigCol)
	}

	// multi row VALUES on the right of a compound is a subquery
	{
		a, root := mustPlan(t, "select a from t1 union values (1), (2)")
		s := a.Node(root)
		assert.Equal(OpUnion, s.Op)
		assert.Equal(1, len(s.Src))
		sub := a.Node(s.Src[0].Sub)
		assert.True(sub.Has(SfMultiValue))
		assert.Equal(OpUnionAll, sub.Op)
	}

	{
		a, root := mustPlan(t, "values (1, 'x'), (2, 'y'), (3, 'z')")
		s := a.Node(root)
		assert.True(s.Has(SfValues))
		assert.Equal("column2", s.Result[1].Name)
		n := 0
		for x := root; x != NoNode; x = a.Node(x).Prior {
			n++
		}
		assert.Equal(3, n)
	}
}

func TestBuildCollation(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select x, y, x collate binary from t3")
	s := a.Node(root)
	assert.Equal(vdbe.CollNocase, ExprColl(s.Result[0].Expr))
	assert.Nil(ExprColl(s.Result[1].Expr))
	assert.Equal(vdbe.CollBinary, ExprColl(s.Result[2].Expr))
	assert.True(HasExplicitColl(s.Result[2].Expr))
}

func TestBuildSubquery(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "select a from t1 where exists (select 1 from t2 where t2.a = t1.a)")
		s := a.Node(root)
		assert.Equal(ExprExists, s.Where.Kind)
		sub := a.Node(s.Where.Sub)
		assert.True(sub.Has(SfCorrelated))
		assert.False(s.Has(SfCorrelated))

		set := a.ExprCursors(s.Where)
		assert.Equal("0;", set.Print())
	}
	{
		a, root := mustPlan(t, "select (select max(c) from t2) from t1")
		s := a.Node(root)
		assert.Equal(ExprSubquery, s.Result[0].Expr.Kind)
		assert.False(a.Node(s.Result[0].Expr.Sub).Has(SfCorrelated))
		assert.False(s.IsAgg())
	}
}

func TestBuildCte(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "with recursive c(n) as (values (1) union all select n + 1 from c where n < 10) select n from c")
		s := a.Node(root)
		item := s.Src[0]
		assert.Equal("c", item.Name)
		assert.Equal([]string{"n"}, item.Columns)
		cte := a.Node(item.Sub)
		assert.True(cte.Has(SfRecursive))
		assert.True(cte.Src[0].Recursive)
	}
	{
		// every reference gets its own copy
		a, root := mustPlan(t, "with x as (select a from t1) select * from x, x as y")
		s := a.Node(root)
		assert.NotEqual(s.Src[0].Sub, s.Src[1].Sub)
		assert.NotEqual(s.Src[0].Cursor, s.Src[1].Cursor)
	}
}

func TestBuildError(t *testing.T) {
	assert := assert.New(t)
	fail := func(code string, msg string) {
		_, _, err := compPlan(code)
		assert.NotNil(err, code)
		if err != nil {
			assert.Contains(err.Error(), msg, code)
		}
	}

	fail("select * from nope", "no such table: nope")
	fail("select z from t1", "no such column: z")
	fail("select a from t1, t2", "ambiguous column name: a")
	fail("select nope(a) from t1", "no such function: nope")
	fail("select abs(a, b) from t1", "wrong number of arguments to function abs()")
	fail("select a from t1 where sum(a) > 1", "misuse of aggregate function sum()")
	fail("select sum(sum(a)) from t1", "misuse of aggregate function sum()")
	fail("select group_concat(distinct b, ',') from t1", "DISTINCT aggregates must have exactly one argument")
	fail("select a from t1 group by sum(a)", "aggregate functions are not allowed in the GROUP BY clause")
	fail("select a from t1 order by 3", "1st ORDER BY term out of range - should be between 1 and 1")
	fail("select a from t1 union select b, a from t1", "do not have the same number of result columns")
	fail("select a from t1 union select a from t2 order by z", "1st ORDER BY term does not match any column in the result set")
	fail("select * from t1 natural join t2 using (a)", "a NATURAL join may not have an ON or USING clause")
	fail("select * from t1 join t2 using (b)", "cannot join using column b - column not present in both tables")
	fail("select *", "no tables specified")
	fail("select a collate klingon from t1", "no such collation sequence: klingon")
	fail("select a from t1 where a in (select a, c from t2)", "sub-select returns 2 columns - expected 1")
	fail("with c(x, y) as (select 1) select * from c", "table c has 1 values for 2 columns")
	fail("with c as (select * from c) select * from c", "circular reference: c")
	fail("with recursive c(n) as (values (1) union all select c.n from c, c as d) select * from c", "multiple references to recursive table: c")
	fail("with recursive c(n) as (values (1) union all select a from t1 where a in (select n from c)) select * from c", "recursive reference in a subquery: c")
}

// the parser accepts one constraint per join, the AST is patched here
func TestBuildOnUsing(t *testing.T) {
	assert := assert.New(t)
	code, err := sql.Parse("select * from t1 join t2 on t1.a = t2.a")
	assert.Nil(err)
	code.Select.From.VarList[1].Using = []string{"a"}
	_, _, err = Build(code, testCatalog())
	assert.NotNil(err)
	assert.Contains(err.Error(), "cannot have both ON and USING clauses in the same join")
}

func TestBuildRightJoin(t *testing.T) {
	assert := assert.New(t)
	a, root, err := compPlan("select * from t1 right join t2 on t1.a = t2.a")
	assert.Nil(err)
	assert.Equal(1, a.Diag.Errors())
	assert.Contains(a.Diag.Messages()[0], "RIGHT and FULL OUTER JOINs are not currently supported")
	assert.Equal(JtInner, a.Node(root).Src[1].JoinType)
}

func TestBuildLimitCollate(t *testing.T) {
	assert := assert.New(t)
	for _, code := range []string{
		"select a from t1 limit 1 collate nocase",
		"select a from t1 limit 1 offset 1 collate binary",
	} {
		a, _, err := compPlan(code)
		assert.Nil(err, code)
		assert.Equal(1, a.Diag.Errors(), code)
		assert.Contains(a.Diag.Err().Error(), `near "COLLATE": syntax error`, code)
	}
	a, _, err := compPlan("select a from t1 limit 1 offset 1")
	assert.Nil(err)
	assert.Equal(0, a.Diag.Errors())
}
