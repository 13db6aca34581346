package plan

import (
	"testing"

	"github.com/dianpeng/sql2vdbe/vdbe"
	"github.com/stretchr/testify/assert"
)

func TestAggAnalyze(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, `
select b, sum(a), sum(a) + count(*)
from t1
group by b
having max(a) > 1
order by count(*)`)
	s := a.Node(root)
	info := a.AnalyzeAgg(s)

	assert.Equal(2, len(info.Columns))
	assert.Equal(3, len(info.Funcs))
	assert.Equal(1, info.NAccumulator)
	assert.Equal(2, info.NSortingColumn)

	// the GROUP BY column is read from the group key
	assert.Equal(0, info.Columns[0].SorterColumn)
	assert.Equal(1, info.Columns[1].SorterColumn)

	assert.Equal("agg[0](c0.b)", PrintExpr(s.Result[0].Expr))
	assert.Equal("agg[0]:sum(agg[1](c0.a))", PrintExpr(s.Result[1].Expr))
	assert.Equal("(agg[0]:sum(c0.a) + agg[1]:count(*))", PrintExpr(s.Result[2].Expr))
	assert.Equal("(agg[2]:max(agg[1](c0.a)) > 1)", PrintExpr(s.Having))
	assert.Equal("agg[1]:count(*)", PrintExpr(s.OrderBy[0].Expr))
	assert.True(s.Result[0].Expr.Agg == info)

	// the GROUP BY itself is evaluated by the scan
	assert.Equal("c0.b", PrintExpr(s.GroupBy[0]))
}

func TestAggSubquery(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select b, (select c from t2 where t2.c = t1.b) from t1 group by b")
	s := a.Node(root)
	info := a.AnalyzeAgg(s)
	assert.Equal(1, len(info.Columns))
	sub := a.Node(s.Result[1].Expr.Sub)
	assert.Equal("(c1.c = agg[0](c0.b))", PrintExpr(sub.Where))
	assert.Equal("c1.c", PrintExpr(sub.Result[0].Expr))
}

func TestAggMinMax(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "select max(a) from t1")
		info := a.AnalyzeAgg(a.Node(root))
		mm, arg := info.MinMax()
		assert.Equal(vdbe.MinMaxMax, mm)
		assert.Equal(ExprAggColumn, arg.Kind)
	}
	{
		a, root := mustPlan(t, "select min(a + 1) from t1")
		info := a.AnalyzeAgg(a.Node(root))
		mm, arg := info.MinMax()
		assert.Equal(vdbe.MinMaxNone, mm)
		assert.Nil(arg)
	}
	{
		a, root := mustPlan(t, "select max(a), min(a) from t1")
		info := a.AnalyzeAgg(a.Node(root))
		mm, _ := info.MinMax()
		assert.Equal(vdbe.MinMaxNone, mm)
	}
}

func TestAggCountStar(t *testing.T) {
	assert := assert.New(t)
	{
		a, root := mustPlan(t, "select count(*) from t1")
		s := a.Node(root)
		assert.True(a.AnalyzeAgg(s).ResultIsCountStar(s))
	}
	{
		a, root := mustPlan(t, "select count(a) from t1")
		s := a.Node(root)
		assert.False(a.AnalyzeAgg(s).ResultIsCountStar(s))
	}
}
