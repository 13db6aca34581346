package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenRestriction(t *testing.T) {
	assert := assert.New(t)
	keep := func(code string, i int) {
		a, root := mustPlan(t, code)
		before := a.Print(root)
		assert.False(a.Flatten(root, i), code)
		assert.Equal(before, a.Print(root), code)
	}

	// (1)
	keep("select count(*) from (select count(*) as n from t1) as s", 0)
	// (2a)
	keep("select n from t2, (select count(*) as n from t1) as s", 1)
	// (2b)
	keep("select n, (select 1) from (select count(*) as n from t1) as s", 0)
	// (5)
	keep("select x from (select distinct a as x from t1) as s", 0)
	// (6)
	keep("select distinct n from (select count(*) as n from t1) as s", 0)
	// (7)
	keep("select x from (select 1 as x) as s", 0)
	// (8)
	keep("select x from t2, (select a as x from t1 limit 2) as s", 1)
	// (9)
	keep("select count(x) from (select a as x from t1 limit 2) as s", 0)
	// (11)
	keep("select x from (select a as x from t1 order by a) as s order by x", 0)
	// (13)
	keep("select x from (select a as x from t1 limit 2) as s limit 1", 0)
	// (14)
	keep("select x from (select a as x from t1 limit 2 offset 1) as s", 0)
	// (16)
	keep("select count(x) from (select a as x from t1 order by a) as s", 0)
	// (17)
	keep("select x from (select a as x from t1 union select a from t2) as s", 0)
	// (19)
	keep("select x from (select a as x from t1 limit 2) as s where x > 1", 0)
	// (18)
	keep("select x from (select a as x from t1 union all select a from t2) as s order by x + 1", 0)
	// (21)
	keep("select distinct x from (select a as x from t1 limit 2) as s", 0)
	// (24)
	keep("select m from (select max(a) as m from t1) as s", 0)
	// (3)
	keep("select b from t1 left join (select a from t2) as s on t1.a = s.a", 1)
}

func TestFlattenLimit(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select x from (select a as x from t1 limit 2) as s")
	assert.True(a.Flatten(root, 0))
	s := a.Node(root)
	assert.Equal("2", PrintExpr(s.Limit))
	assert.Equal("c1.a", PrintExpr(s.Result[0].Expr))
	assert.Equal("x", s.Result[0].Name)
}

func TestFlattenJoin(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select t3.y, s.c from t3, (select t1.b, t2.c from t1 join t2 on t1.a = t2.a) as s where s.b = t3.x")
	assert.Equal(1, a.Normalize(root))
	s := a.Node(root)
	assert.Equal(3, len(s.Src))
	assert.Equal("t3", s.Src[0].Name)
	assert.Equal("t1", s.Src[1].Name)
	assert.Equal("t2", s.Src[2].Name)
	assert.Equal("((c2.a = c3.a) and (c2.b = c0.x))", PrintExpr(s.Where))
	assert.Equal("c3.c", PrintExpr(s.Result[1].Expr))
}

// a subquery inside of the parent is copied before it is rewritten
func TestFlattenCorrelated(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select x from (select a as x from t1) as s where exists (select 1 from t2 where t2.a = s.x)")
	s := a.Node(root)
	oldSub := s.Where.Sub
	assert.True(a.Flatten(root, 0))
	assert.NotEqual(oldSub, s.Where.Sub)
	inner := a.Node(s.Where.Sub)
	assert.Equal("(c2.a = c1.a)", PrintExpr(inner.Where))
	assert.Equal("(c2.a = c0.x)", PrintExpr(a.Node(oldSub).Where))
}
