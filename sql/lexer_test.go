package sql

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestComment(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer(`
-- last line
-- last line`)
		assert.True(l.Next() == TkEof)
	}

	{
		l := newLexer(`
-- abc
    id -- def
/* xyz */
`)
		assert.True(l.Next() == TkId)
		assert.True(l.Lexeme.Text == "id")
		assert.True(l.Next() == TkEof)
	}

	{
		l := newLexer(`/* abcd */    id /* multi
line */`)
		assert.True(l.Next() == TkId)
		assert.True(l.Lexeme.Text == "id")
		assert.True(l.Next() == TkEof)
	}

	{
		l := newLexer(`/* not closed`)
		assert.True(l.Next() == TkError)
	}
}

func TestOp(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer("+-*/%.(),;||")
		assert.True(l.Next() == TkAdd)
		assert.True(l.Next() == TkSub)
		assert.True(l.Next() == TkMul)
		assert.True(l.Next() == TkDiv)
		assert.True(l.Next() == TkMod)
		assert.True(l.Next() == TkDot)
		assert.True(l.Next() == TkLPar)
		assert.True(l.Next() == TkRPar)
		assert.True(l.Next() == TkComma)
		assert.True(l.Next() == TkSemicolon)
		assert.True(l.Next() == TkConcat)
		assert.True(l.Next() == TkEof)
	}

	{
		l := newLexer("> >= < <= <> != = ==")
		assert.True(l.Next() == TkGt)
		assert.True(l.Next() == TkGe)
		assert.True(l.Next() == TkLt)
		assert.True(l.Next() == TkLe)
		assert.True(l.Next() == TkNe)
		assert.True(l.Next() == TkNe)
		assert.True(l.Next() == TkEq)
		assert.True(l.Next() == TkEq)
		assert.True(l.Next() == TkEof)
	}

	{
		l := newLexer("a | b")
		assert.True(l.Next() == TkId)
		assert.True(l.Next() == TkError)
	}
}

func TestNum(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer("1 0x1F 1.5 .25 1e3 2E-2 99999999999999999999")
		assert.True(l.Next() == TkInt)
		assert.Equal(int64(1), l.Lexeme.Int)
		assert.True(l.Next() == TkInt)
		assert.Equal(int64(31), l.Lexeme.Int)
		assert.True(l.Next() == TkReal)
		assert.Equal(1.5, l.Lexeme.Real)
		assert.True(l.Next() == TkReal)
		assert.Equal(0.25, l.Lexeme.Real)
		assert.True(l.Next() == TkReal)
		assert.Equal(1000.0, l.Lexeme.Real)
		assert.True(l.Next() == TkReal)
		assert.Equal(0.02, l.Lexeme.Real)
		assert.True(l.Next() == TkReal)
		assert.Equal(1e20, l.Lexeme.Real)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer("0x")
		assert.True(l.Next() == TkError)
	}
}

func TestStr(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer(`'abc' 'it''s' ''`)
		assert.True(l.Next() == TkStr)
		assert.Equal("abc", l.Lexeme.Text)
		assert.True(l.Next() == TkStr)
		assert.Equal("it's", l.Lexeme.Text)
		assert.True(l.Next() == TkStr)
		assert.Equal("", l.Lexeme.Text)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer(`'abc`)
		assert.True(l.Next() == TkError)
	}
}

func TestId(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer(`Abc "Mixed Case" ` + "`q`" + ` _x1`)
		assert.True(l.Next() == TkId)
		assert.Equal("abc", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("Mixed Case", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("q", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("_x1", l.Lexeme.Text)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer(`""`)
		assert.True(l.Next() == TkError)
	}
}

func TestKeyword(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer(`SELECT distinct From where GROUP   BY order
by limit offset having union all intersect except values with recursive`)
		assert.True(l.Next() == TkSelect)
		assert.True(l.Next() == TkDistinct)
		assert.True(l.Next() == TkFrom)
		assert.True(l.Next() == TkWhere)
		assert.True(l.Next() == TkGroupBy)
		assert.True(l.Next() == TkOrderBy)
		assert.True(l.Next() == TkLimit)
		assert.True(l.Next() == TkOffset)
		assert.True(l.Next() == TkHaving)
		assert.True(l.Next() == TkUnion)
		assert.True(l.Next() == TkAll)
		assert.True(l.Next() == TkIntersect)
		assert.True(l.Next() == TkExcept)
		assert.True(l.Next() == TkValues)
		assert.True(l.Next() == TkWith)
		assert.True(l.Next() == TkRecursive)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer(`natural left outer join inner cross on using as asc desc`)
		assert.True(l.Next() == TkNatural)
		assert.True(l.Next() == TkLeft)
		assert.True(l.Next() == TkOuter)
		assert.True(l.Next() == TkJoin)
		assert.True(l.Next() == TkInner)
		assert.True(l.Next() == TkCross)
		assert.True(l.Next() == TkOn)
		assert.True(l.Next() == TkUsing)
		assert.True(l.Next() == TkAs)
		assert.True(l.Next() == TkAsc)
		assert.True(l.Next() == TkDesc)
		assert.True(l.Next() == TkEof)
	}
	{
		// keyword prefix is still an identifier
		l := newLexer(`selection ordering groupby isnull`)
		assert.True(l.Next() == TkId)
		assert.Equal("selection", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("ordering", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.True(l.Next() == TkId)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer(`case when then else end cast collate like escape is not null and or in between exists true false`)
		for _, tk := range []int{
			TkCase, TkWhen, TkThen, TkElse, TkEnd, TkCast, TkCollate, TkLike,
			TkEscape, TkIs, TkNot, TkNull, TkAnd, TkOr, TkIn, TkBetween, TkExists,
			TkTrue, TkFalse, TkEof,
		} {
			assert.Equal(TokenName(tk), TokenName(l.Next()))
		}
	}
}

func TestPosition(t *testing.T) {
	assert := assert.New(t)
	l := newLexer("select\n  @")
	assert.True(l.Next() == TkSelect)
	assert.True(l.Next() == TkError)
	assert.Contains(l.Lexeme.Text, "around position(2: 3)")
}
