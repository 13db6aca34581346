package plan

import (
	"github.com/dianpeng/sql2vdbe/sql"
)

// PushDown copies the terms of an outer WHERE clause that only read the
// output of the subquery on cursor into the WHERE clause of every select
// of the subquery:
//
//	SELECT * FROM (SELECT a AS x, c-d AS y FROM t1) WHERE x=5 AND y=10
//
// becomes
//
//	SELECT * FROM (SELECT a AS x, c-d AS y FROM t1 WHERE a=5 AND c-d=10)
//	 WHERE x=5 AND y=10
//
// Nothing is pushed into an aggregate, a recursive query or a subquery
// with a LIMIT. Terms synthesized from ON, USING or NATURAL are left where
// they are. The caller must not push into the right operand of a LEFT
// JOIN. It returns the number of copied terms.
func (self *Arena) PushDown(sub NodeId, where *Expr, cursor int) int {
	if where == nil {
		return 0
	}
	for x := sub; x != NoNode; x = self.Node(x).Prior {
		if self.Node(x).Has(SfAggregate | SfRecursive) {
			return 0
		}
	}
	if self.Node(sub).Limit != nil {
		return 0
	}

	n := 0
	for where.Kind == ExprBinary && where.Op == sql.TkAnd {
		n += self.PushDown(sub, where.Right, cursor)
		where = where.Left
	}
	if where.FromJoin {
		return n
	}
	if IsTableConstant(where, cursor) {
		n++
		for x := sub; x != NoNode; x = self.Node(x).Prior {
			s := self.Node(x)
			s.Where = And(s.Where, self.Subst(where, cursor, s.ResultExprs()))
		}
	}
	return n
}
