package plan

import (
	"fmt"
	"strings"

	"github.com/dianpeng/sql2vdbe/sql"
	"github.com/dianpeng/sql2vdbe/vdbe"
)

// Printing the query nodes out, for testing, debugging, visualization purpose
// etc ... Columns print as c<cursor>.<name> since names alone are ambiguous
// once subqueries are flattened.

func PrintExpr(e *Expr) string {
	buf := &strings.Builder{}
	doPrintExpr(e, buf)
	return buf.String()
}

func printExprList(l []*Expr, buf *strings.Builder) {
	for i, x := range l {
		if i > 0 {
			buf.WriteString(", ")
		}
		doPrintExpr(x, buf)
	}
}

func doPrintExpr(e *Expr, buf *strings.Builder) {
	if e == nil {
		buf.WriteString("--")
		return
	}

	switch e.Kind {
	case ExprConst:
		switch e.Value.Ty {
		case vdbe.ValStr:
			buf.WriteString("'" + strings.ReplaceAll(e.Value.Str, "'", "''") + "'")
		case vdbe.ValNull:
			buf.WriteString("null")
		default:
			buf.WriteString(e.Value.String())
		}

	case ExprColumn:
		buf.WriteString(fmt.Sprintf("c%d.%s", e.Cursor, e.Name))

	case ExprAggColumn:
		buf.WriteString(fmt.Sprintf("agg[%d](c%d.%s)", e.AggIdx, e.Cursor, e.Name))

	case ExprAggFunc, ExprFunc:
		if e.Kind == ExprAggFunc && e.AggIdx >= 0 {
			buf.WriteString(fmt.Sprintf("agg[%d]:", e.AggIdx))
		}
		buf.WriteString(e.Name)
		buf.WriteString("(")
		if e.Distinct {
			buf.WriteString("distinct ")
		}
		if e.Kind == ExprAggFunc && len(e.List) == 0 {
			buf.WriteString("*")
		}
		printExprList(e.List, buf)
		buf.WriteString(")")

	case ExprUnary:
		switch e.Op {
		case sql.TkSub:
			buf.WriteString("-")
		case sql.TkNot:
			buf.WriteString("not ")
		}
		doPrintExpr(e.Left, buf)

	case ExprBinary:
		buf.WriteString("(")
		doPrintExpr(e.Left, buf)
		buf.WriteString(" " + sql.BinOpString(e.Op) + " ")
		doPrintExpr(e.Right, buf)
		if len(e.List) > 0 {
			buf.WriteString(" escape ")
			doPrintExpr(e.List[0], buf)
		}
		buf.WriteString(")")

	case ExprCase:
		buf.WriteString("case")
		if e.Left != nil {
			buf.WriteString(" ")
			doPrintExpr(e.Left, buf)
		}
		for i := 0; i+1 < len(e.List); i += 2 {
			buf.WriteString(" when ")
			doPrintExpr(e.List[i], buf)
			buf.WriteString(" then ")
			doPrintExpr(e.List[i+1], buf)
		}
		if e.Right != nil {
			buf.WriteString(" else ")
			doPrintExpr(e.Right, buf)
		}
		buf.WriteString(" end")

	case ExprCast:
		buf.WriteString("cast(")
		doPrintExpr(e.Left, buf)
		buf.WriteString(" as " + e.Name + ")")

	case ExprCollate:
		doPrintExpr(e.Left, buf)
		buf.WriteString(" collate " + e.Name)

	case ExprSubquery:
		buf.WriteString(fmt.Sprintf("subquery(#%d)", e.Sub))

	case ExprExists:
		if e.Not {
			buf.WriteString("not ")
		}
		buf.WriteString(fmt.Sprintf("exists(#%d)", e.Sub))

	case ExprIn:
		doPrintExpr(e.Left, buf)
		if e.Not {
			buf.WriteString(" not")
		}
		buf.WriteString(fmt.Sprintf(" in(#%d)", e.Sub))
	}
}

func flagString(flags int) string {
	names := []string{
		"distinct",
		"aggregate",
		"values",
		"multi-value",
		"recursive",
		"minmax",
		"compound",
		"correlated",
		"single-row",
		"fixed-limit",
	}
	var out []string
	for i, n := range names {
		if flags&(1<<i) != 0 {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return "--"
	}
	return strings.Join(out, " ")
}

func joinString(jt int) string {
	switch {
	case jt&JtLeft != 0:
		if jt&JtNatural != 0 {
			return "natural left"
		}
		return "left"
	case jt&JtCross != 0:
		return "cross"
	case jt&JtNatural != 0:
		return "natural"
	default:
		return "inner"
	}
}

// Print dumps the compound chain ending at id, left-most select first, and
// every subquery reachable from it
func (self *Arena) Print(id NodeId) string {
	buf := &strings.Builder{}
	self.printChain(id, buf, "")
	return buf.String()
}

func (self *Arena) printChain(id NodeId, buf *strings.Builder, indent string) {
	var chain []*Select
	for x := id; x != NoNode; x = self.Node(x).Prior {
		chain = append(chain, self.Node(x))
	}
	for i := len(chain) - 1; i >= 0; i-- {
		self.printSelect(chain[i], buf, indent)
	}
}

func (self *Arena) printSelect(s *Select, buf *strings.Builder, indent string) {
	line := func(f string, args ...interface{}) {
		buf.WriteString(indent)
		buf.WriteString(fmt.Sprintf(f, args...))
		buf.WriteString("\n")
	}
	var subs []NodeId
	collect := func(e *Expr) {
		Walk(e, func(x *Expr) bool {
			if x.IsSubquery() {
				subs = append(subs, x.Sub)
			}
			return true
		})
	}

	line("##> Select #%d", s.Id)
	line("Op: %s", OpName(s.Op))
	line("Flags: %s", flagString(s.Flags))
	for i, r := range s.Result {
		line("Result[%d]: %s as %s", i, PrintExpr(r.Expr), r.Name)
		collect(r.Expr)
	}
	for i, item := range s.Src {
		src := item.DisplayName()
		if item.Sub != NoNode {
			src = fmt.Sprintf("%s(#%d)", src, item.Sub)
		}
		if item.Recursive {
			src += " recursive"
		}
		line("From[%d]: %s cursor=%d join=%s", i, src, item.Cursor, joinString(item.JoinType))
		if item.On != nil {
			line("On[%d]: %s", i, PrintExpr(item.On))
			collect(item.On)
		}
	}
	if s.Where != nil {
		line("Where: %s", PrintExpr(s.Where))
		collect(s.Where)
	}
	for i, g := range s.GroupBy {
		line("GroupBy[%d]: %s", i, PrintExpr(g))
	}
	if s.Having != nil {
		line("Having: %s", PrintExpr(s.Having))
		collect(s.Having)
	}
	for i, o := range s.OrderBy {
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		line("OrderBy[%d]: %s %s", i, PrintExpr(o.Expr), dir)
	}
	if s.Limit != nil {
		line("Limit: %s", PrintExpr(s.Limit))
	}
	if s.Offset != nil {
		line("Offset: %s", PrintExpr(s.Offset))
	}

	for _, item := range s.Src {
		if item.Sub != NoNode {
			self.printChain(item.Sub, buf, indent+"  ")
		}
	}
	for _, sub := range subs {
		self.printChain(sub, buf, indent+"  ")
	}
}
