package plan

// expression helpers, substitution must leave its input alone

import (
	"testing"

	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/vdbe"
	"github.com/stretchr/testify/assert"
)

func TestExprSubst(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select a + b from t1 where a > 1 and b = 'x'")
	s := a.Node(root)
	e := s.Result[0].Expr

	out := a.Subst(e, 0, []*Expr{NewInt(7), NewInt(8)})
	assert.Equal("(7 + 8)", PrintExpr(out))
	assert.Equal("(c0.a + c0.b)", PrintExpr(e))

	// other cursors are untouched
	out = a.Subst(e, 1, []*Expr{NewInt(7), NewInt(8)})
	assert.Equal("(c0.a + c0.b)", PrintExpr(out))
	assert.True(out != e)

	terms := SplitAnd(s.Where)
	assert.Equal(2, len(terms))
	assert.Equal("(c0.a > 1)", PrintExpr(terms[0]))
	assert.Equal("(c0.b = 'x')", PrintExpr(terms[1]))
	assert.Nil(SplitAnd(nil))
	assert.True(And(nil, terms[0]) == terms[0])
}

func TestExprCursorSet(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select t1.a from t1, t2 where t1.a = t2.a and t1.b = 'x' and 1 = 1")
	s := a.Node(root)
	terms := SplitAnd(s.Where)
	assert.Equal(3, len(terms))

	{
		set := a.ExprCursors(terms[0])
		assert.Equal("0;1;", set.Print())
		assert.False(set.Single())
		assert.True(set.SubsetOf(CursorSet{0: true, 1: true, 2: true}))
		assert.False(set.SubsetOf(CursorSet{0: true}))
		assert.False(IsTableConstant(terms[0], 0))
	}
	{
		set := a.ExprCursors(terms[1])
		assert.True(set.Single())
		assert.True(set.Has(0))
		assert.True(IsTableConstant(terms[1], 0))
	}
	{
		set := a.ExprCursors(terms[2])
		assert.True(set.Static())
		assert.True(IsTableConstant(terms[2], 5))
	}
}

func TestExprEqual(t *testing.T) {
	assert := assert.New(t)
	a, root := mustPlan(t, "select a + 1, a + 1, a + 2, upper(b), upper(b) collate nocase from t1")
	r := a.Node(root).ResultExprs()
	assert.True(ExprEqual(r[0], r[1]))
	assert.False(ExprEqual(r[0], r[2]))
	assert.False(ExprEqual(r[3], r[4]))
	assert.True(ExprEqual(r[3], a.DupExpr(r[3])))
	assert.True(ExprListEqual(r[:1], r[1:2]))
	assert.False(ExprListEqual(r[:2], r[:1]))
}

func TestExprColl(t *testing.T) {
	assert := assert.New(t)
	col := NewColumn(0, 0, "x", vdbe.CollNocase)
	plain := NewColumn(1, 0, "y", nil)
	explicit := &Expr{
		Kind:   ExprCollate,
		Coll:   vdbe.CollRtrim,
		Left:   plain,
		Sub:    NoNode,
		AggIdx: -1,
	}

	assert.Equal(vdbe.CollNocase, CompareColl(col, plain))
	assert.Equal(vdbe.CollNocase, CompareColl(plain, col))
	assert.Equal(vdbe.CollRtrim, CompareColl(col, explicit))
	assert.Nil(CompareColl(plain, NewInt(1)))
	assert.Equal(vdbe.CollRtrim, ExprColl(NewBinary(sql.TkConcat, explicit, col)))
}
