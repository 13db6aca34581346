package plan

// Subst returns a copy of e in which every column read from cursor is
// replaced by a copy of the matching expression of result. The input is
// never modified, subqueries inside of e are copied before they are
// rewritten.
func (self *Arena) Subst(e *Expr, cursor int, result []*Expr) *Expr {
	if e == nil {
		return nil
	}
	if e.Kind == ExprColumn && e.Cursor == cursor {
		out := self.DupExpr(result[e.Column])
		if e.FromJoin {
			out.FromJoin = true
		}
		return out
	}

	out := *e
	out.Left = self.Subst(e.Left, cursor, result)
	out.Right = self.Subst(e.Right, cursor, result)
	out.List = self.SubstList(e.List, cursor, result)
	if e.Sub != NoNode {
		out.Sub = self.DupSelect(e.Sub)
		self.substSelect(out.Sub, cursor, result, true)
	}
	return &out
}

func (self *Arena) SubstList(l []*Expr, cursor int, result []*Expr) []*Expr {
	if l == nil {
		return nil
	}
	out := make([]*Expr, len(l))
	for i, x := range l {
		out[i] = self.Subst(x, cursor, result)
	}
	return out
}

// substSelect rewrites a node the caller owns exclusively, every clause is
// replaced by its substituted copy. doPrior extends the rewrite to the whole
// compound chain on the left of id.
func (self *Arena) substSelect(id NodeId, cursor int, result []*Expr, doPrior bool) {
	for id != NoNode {
		s := self.Node(id)
		for _, r := range s.Result {
			r.Expr = self.Subst(r.Expr, cursor, result)
		}
		s.GroupBy = self.SubstList(s.GroupBy, cursor, result)
		for _, o := range s.OrderBy {
			o.Expr = self.Subst(o.Expr, cursor, result)
		}
		s.Having = self.Subst(s.Having, cursor, result)
		s.Where = self.Subst(s.Where, cursor, result)
		for _, item := range s.Src {
			item.On = self.Subst(item.On, cursor, result)
			if item.Sub != NoNode {
				self.substSelect(item.Sub, cursor, result, true)
			}
		}
		if !doPrior {
			break
		}
		id = s.Prior
	}
}
