package plan

import (
	"golang.org/x/exp/slices"
)

// Flatten tries to merge the subquery of the i-th FROM term into the node
// parent:
//
//	SELECT a FROM (SELECT x+y AS a FROM t1 WHERE z<100) WHERE a>5
//
// becomes
//
//	SELECT x+y AS a FROM t1 WHERE z<100 AND x+y>5
//
// It returns true when the tree was rewritten. The numbered restrictions
// below decide whether merging keeps the meaning of the query, they are
// checked in this exact order.
func (self *Arena) Flatten(parent NodeId, i int) bool {
	p := self.Node(parent)
	if p.Prior != NoNode || i < 0 || i >= len(p.Src) {
		return false
	}
	item := p.Src[i]
	if item.Sub == NoNode {
		return false
	}
	sub := self.Node(item.Sub)
	isAgg := p.IsAgg()
	subIsAgg := sub.IsAgg()
	nSrc := len(p.Src)

	if subIsAgg {
		if isAgg {
			return false // (1)
		}
		if nSrc > 1 {
			return false // (2a)
		}
		if HasSubquery(p.Where) || anySubquery(p.ResultExprs()) || anySubquery(p.OrderExprs()) {
			return false // (2b)
		}
	}
	if sub.Limit != nil && p.Limit != nil {
		return false // (13)
	}
	if sub.Offset != nil {
		return false // (14)
	}
	if p.Has(SfCompound) && sub.Limit != nil {
		return false // (15)
	}
	if len(sub.Src) == 0 {
		return false // (7)
	}
	if sub.Has(SfDistinct) {
		return false // (5)
	}
	if sub.Limit != nil && (nSrc > 1 || isAgg) {
		return false // (8) (9)
	}
	if p.Has(SfDistinct) && subIsAgg {
		return false // (6)
	}
	if len(p.OrderBy) > 0 && len(sub.OrderBy) > 0 {
		return false // (11)
	}
	if isAgg && len(sub.OrderBy) > 0 {
		return false // (16)
	}
	if sub.Limit != nil && p.Where != nil {
		return false // (19)
	}
	if sub.Limit != nil && p.Has(SfDistinct) {
		return false // (21)
	}
	if sub.Has(SfRecursive | SfMinMaxAgg) {
		return false // (22) (24)
	}
	if p.Has(SfRecursive) && sub.Prior != NoNode {
		return false // (23)
	}
	// (3) the right operand of a LEFT JOIN is never flattened
	if item.JoinType&JtOuter != 0 {
		return false
	}

	if sub.Prior != NoNode {
		// (17) a UNION ALL chain of plain selects
		if isAgg || p.Has(SfDistinct) || nSrc != 1 {
			return false
		}
		for x := sub; x != nil; {
			if len(x.OrderBy) > 0 {
				return false // (20)
			}
			if x.Has(SfDistinct|SfAggregate) ||
				(x.Prior != NoNode && x.Op != OpUnionAll) ||
				len(x.Src) < 1 {
				return false
			}
			if x.Prior == NoNode {
				break
			}
			x = self.Node(x.Prior)
		}
		// (18)
		for _, o := range p.OrderBy {
			if o.OrigCol == 0 {
				return false
			}
		}
	}

	// A compound subquery turns the parent into a UNION ALL chain with one
	// copy of the parent, without ORDER BY and LIMIT, per term. The ORDER BY
	// left on the parent then applies to the whole chain.
	if sub.Prior != NoNode {
		for k, o := range p.OrderBy {
			p.OrderBy[k] = o.ByColumn()
		}
	}
	for s := sub.Prior; s != NoNode; s = self.Node(s).Prior {
		pNew := self.copyForCompound(p)
		pNew.Prior = p.Prior
		if p.Prior != NoNode {
			self.Node(p.Prior).Next = pNew.Id
		}
		pNew.Next = p.Id
		p.Prior = pNew.Id
		p.Op = OpUnionAll
		p.Flags |= SfCompound
		pNew.Flags |= SfCompound
	}

	iParent := item.Cursor
	s := sub
	for x := p; x != nil; {
		subSrc := s.Src
		if x == p {
			jt := item.JoinType
			src := slices.Clone(x.Src[:i])
			src = append(src, subSrc...)
			src = append(src, x.Src[i+1:]...)
			x.Src = src
			x.Src[i].JoinType = jt
		} else {
			x.Src = slices.Clone(subSrc)
			if len(x.Src) > 0 {
				x.Src[0].JoinType = JtInner
			}
		}

		if len(s.OrderBy) > 0 {
			for _, o := range s.OrderBy {
				o.OrigCol = 0
			}
			x.OrderBy = s.OrderBy
			s.OrderBy = nil
		}

		where := self.DupExpr(s.Where)
		if subIsAgg {
			x.Having = And(self.DupExpr(s.Having), x.Where)
			x.Where = where
			x.GroupBy = self.DupExprList(s.GroupBy)
			x.Flags |= SfAggregate
		} else {
			x.Where = And(where, x.Where)
		}
		self.substSelect(x.Id, iParent, s.ResultExprs(), false)

		x.Flags |= s.Flags & (SfDistinct | SfCorrelated)
		if s.Limit != nil {
			x.Limit = s.Limit
			s.Limit = nil
		}

		if x.Prior == NoNode {
			break
		}
		x = self.Node(x.Prior)
		s = self.Node(s.Prior)
	}
	return true
}

// copyForCompound duplicates the parent minus its FROM clause, ORDER BY,
// LIMIT and its compound links
func (self *Arena) copyForCompound(p *Select) *Select {
	out := self.NewSelect()
	out.Op = p.Op
	out.Flags = p.Flags
	out.Where = self.DupExpr(p.Where)
	out.GroupBy = self.DupExprList(p.GroupBy)
	out.Having = self.DupExpr(p.Having)
	for _, r := range p.Result {
		out.Result = append(out.Result, &ResultCol{
			Expr: self.DupExpr(r.Expr),
			Name: r.Name,
			Span: r.Span,
		})
	}
	return out
}

func anySubquery(l []*Expr) bool {
	for _, x := range l {
		if HasSubquery(x) {
			return true
		}
	}
	return false
}

// Normalize flattens the FROM subqueries of a simple select until no more
// term can be merged, flattening may expose a new candidate at the same
// position so the scan restarts after every success. It returns the number
// of flattened terms.
func (self *Arena) Normalize(id NodeId) int {
	p := self.Node(id)
	n := 0
	for i := 0; p.Prior == NoNode && i < len(p.Src); i++ {
		if p.Src[i].Sub == NoNode {
			continue
		}
		if self.Flatten(id, i) {
			n++
			i = -1
		}
	}
	return n
}
