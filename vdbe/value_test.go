package vdbe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareOrder(t *testing.T) {
	assert := assert.New(t)
	assert.True(Compare(Null(), IntValue(-100), nil) < 0)
	assert.True(Compare(IntValue(3), RealValue(2.5), nil) > 0)
	assert.True(Compare(IntValue(2), RealValue(2.0), nil) == 0)
	assert.True(Compare(RealValue(1e9), StrValue(""), nil) < 0)
	assert.True(Compare(StrValue("B"), StrValue("a"), nil) < 0)
	assert.True(Compare(StrValue("B"), StrValue("a"), CollNocase) > 0)
	assert.True(Compare(StrValue("abc  "), StrValue("abc"), CollRtrim) == 0)
	assert.True(Compare(StrValue("A"), StrValue("a"), CollUnicodeCI) == 0)
}

func TestArith(t *testing.T) {
	assert := assert.New(t)
	{
		v, err := arith(OpAdd, IntValue(1), StrValue("2"))
		assert.Nil(err)
		assert.Equal(IntValue(3), v)
	}
	{
		v, err := arith(OpDivide, IntValue(1), IntValue(0))
		assert.Nil(err)
		assert.True(v.IsNull())
	}
	{
		v, err := arith(OpMultiply, RealValue(1.5), IntValue(2))
		assert.Nil(err)
		assert.Equal("3.0", v.String())
	}
}

func TestMustBeInt(t *testing.T) {
	assert := assert.New(t)
	{
		v, err := MustBeInt(StrValue("12"))
		assert.Nil(err)
		assert.Equal(int64(12), v.Int)
	}
	{
		_, err := MustBeInt(StrValue("x"))
		assert.NotNil(err)
	}
	{
		_, err := MustBeInt(RealValue(1.5))
		assert.NotNil(err)
	}
}

func TestKeyDef(t *testing.T) {
	assert := assert.New(t)
	kd := &KeyDef{
		Parts: []KeyPart{
			{Field: 1, Coll: CollNocase},
			{Field: 0, Coll: CollBinary, Desc: true},
		},
	}
	a := []Value{IntValue(1), StrValue("x")}
	b := []Value{IntValue(2), StrValue("X")}
	assert.True(CompareRecords(a, b, kd) > 0)
	assert.True(CompareRecords(b, a, kd.Reversed()) > 0)
	assert.Equal("k(#1 nocase,#0 -binary)", kd.String())

	// a shorter record sorts before every record sharing its fields
	prefix := []Value{IntValue(1)}
	assert.True(CompareRecords(prefix, a, NewKeyDef(2)) < 0)
	assert.True(equalPrefix(prefix, a, NewKeyDef(2)))
}

func TestTreeWalk(t *testing.T) {
	assert := assert.New(t)
	tr := NewIndexTree("x", NewKeyDef(1))
	for _, v := range []int64{5, 1, 3} {
		tr.insertRecord([]Value{IntValue(v)})
	}
	assert.Equal(3, tr.Len())

	e := tr.first()
	assert.Equal(int64(1), e.rec[0].Int)
	e2 := tr.next(e)
	assert.Equal(int64(3), e2.rec[0].Int)

	// next still works from a deleted entry
	tr.delete(e2)
	e3 := tr.next(e2)
	assert.Equal(int64(5), e3.rec[0].Int)
	assert.Nil(tr.next(e3))
	assert.Equal(int64(1), tr.prev(e3).rec[0].Int)

	rt := NewTableTree("t")
	rt.InsertRow(rt.NextRowid(), []Value{StrValue("a")})
	rt.InsertRow(rt.NextRowid(), []Value{StrValue("b")})
	got := []string{}
	rt.Scan(func(rowid int64, row []Value) bool {
		got = append(got, row[0].Str)
		return true
	})
	assert.Equal([]string{"a", "b"}, got)
}

func TestLike(t *testing.T) {
	assert := assert.New(t)
	assert.True(likeMatch("a%", "ABC", 0))
	assert.True(likeMatch("a_c", "abc", 0))
	assert.False(likeMatch("a_c", "abbc", 0))
	assert.True(likeMatch("100!%", "100%", '!'))
	assert.False(likeMatch("100!%", "1000", '!'))
}
