package cg

import (
	"github.com/dianpeng/sql2vdbe/plan"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Key descriptors of the ephemeral relations. The planner leaves a nil
// collation for binary, key parts always carry an explicit one.

func binaryIfNil(c *vdbe.Coll) *vdbe.Coll {
	if c == nil {
		return vdbe.CollBinary
	}
	return c
}

func sameColl(a, b *vdbe.Coll) bool {
	return binaryIfNil(a) == binaryIfNil(b)
}

// orderByKeyDef keys the ORDER BY terms from start on, the first of them
// becomes field 0
func orderByKeyDef(
	terms []*plan.OrderTerm,
	exprs []*plan.Expr,
	start int,
) *vdbe.KeyDef {
	kd := &vdbe.KeyDef{}
	for i := start; i < len(terms); i++ {
		kd.Parts = append(kd.Parts, vdbe.KeyPart{
			Field: i - start,
			Coll:  binaryIfNil(plan.ExprColl(exprs[i])),
			Desc:  terms[i].Desc,
		})
	}
	return kd
}

// exprListKeyDef is an ascending key over every expression
func exprListKeyDef(exprs []*plan.Expr) *vdbe.KeyDef {
	kd := vdbe.NewKeyDef(len(exprs))
	for i, x := range exprs {
		kd.Parts[i].Coll = binaryIfNil(plan.ExprColl(x))
	}
	return kd
}

// rows of a materialized subquery are stored with a surrogate id appended,
// the id alone orders them
func idKeyDef(nCol int) *vdbe.KeyDef {
	return &vdbe.KeyDef{
		Parts: []vdbe.KeyPart{
			{Field: nCol, Coll: vdbe.CollBinary},
		},
	}
}

// multiSelectColl returns the collation of the i-th result column of a
// compound, the left-most select declaring one wins
func (self *queryCodeGen) multiSelectColl(s *plan.Select, i int) *vdbe.Coll {
	var coll *vdbe.Coll
	if s.Prior != plan.NoNode {
		coll = self.multiSelectColl(self.arena.Node(s.Prior), i)
	}
	if coll == nil && i < len(s.Result) {
		coll = plan.ExprColl(s.Result[i].Expr)
	}
	return coll
}

// multiSelectKeyDef keys every result column of the compound s belongs to,
// the collations are those of the whole chain
func (self *queryCodeGen) multiSelectKeyDef(s *plan.Select) *vdbe.KeyDef {
	for s.Next != plan.NoNode {
		s = self.arena.Node(s.Next)
	}
	kd := vdbe.NewKeyDef(len(s.Result))
	for i := range kd.Parts {
		kd.Parts[i].Coll = binaryIfNil(self.multiSelectColl(s, i))
	}
	return kd
}
