package sql

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	ConstNull = iota
	ConstBool
	ConstStr
	ConstInt
	ConstReal
)

const (
	ExprConst = iota
	ExprRef
	ExprCall
	ExprUnary
	ExprBinary
	ExprCase
	ExprCast
	ExprCollate
	ExprSubquery
)

const (
	SelectVarCol = iota
	SelectVarStar
)

const (
	OrderAsc = iota
	OrderDesc
)

// join operator placed in front of a FROM term
const (
	JoinComma = iota
	JoinInner
	JoinCross
	JoinLeft
	JoinRight
	JoinFull
)

// compound operators
const (
	CompoundUnion = iota
	CompoundUnionAll
	CompoundExcept
	CompoundIntersect
)

const (
	SubqueryScalar = iota
	SubqueryExists
	SubqueryIn
)

type CodeInfo struct {
	Start   int
	End     int
	Snippet string
}

// Select statement, ie the only one we support for now :)

type SelectVar interface {
	Type() int
	CInfo() CodeInfo

	// Just an index that is unique within the projection, starting from 0
	Index() int

	// If the field has an aliased, via as keyword, then it returns otherwise
	// returns an empty string
	Alias() string
}

type Col struct {
	CodeInfo CodeInfo
	ColIndex int
	As       string
	Value    Expr
}

// Star is either a bare * or a table qualified t.*
type Star struct {
	CodeInfo CodeInfo
	ColIndex int
	Table    string
}

func (self *Col) Type() int       { return SelectVarCol }
func (self *Col) CInfo() CodeInfo { return self.CodeInfo }
func (self *Col) Index() int      { return self.ColIndex }
func (self *Col) Alias() string   { return self.As }

func (self *Star) Type() int       { return SelectVarStar }
func (self *Star) CInfo() CodeInfo { return self.CodeInfo }
func (self *Star) Index() int      { return self.ColIndex }
func (self *Star) Alias() string   { return "" }

type SelectVarList []SelectVar

type Projection struct {
	CodeInfo  CodeInfo
	ValueList SelectVarList
}

func (self *SelectVarList) HasStar() bool {
	for _, y := range *self {
		if y.Type() == SelectVarStar {
			return true
		}
	}
	return false
}

func (self *Projection) HasStar() bool {
	return self.ValueList.HasStar()
}

// FromVar is one term of the FROM clause, either a named table (or CTE) or
// a parenthesized subquery. The join fields describe how it is joined with
// the terms on its left.
type FromVar struct {
	CodeInfo CodeInfo
	Join     int
	Natural  bool
	Name     string
	Subquery *Select
	Alias    string
	On       Expr
	Using    []string
}

type From struct {
	CodeInfo CodeInfo
	VarList  []*FromVar
}

// Where clause, just a list of expressions
type Where struct {
	CodeInfo  CodeInfo
	Condition Expr
}

type Having Where

type GroupBy struct {
	CodeInfo CodeInfo
	Name     []Expr
}

type OrderTerm struct {
	Value Expr
	Order int
}

type OrderBy struct {
	CodeInfo CodeInfo
	Term     []*OrderTerm
}

type Limit struct {
	CodeInfo CodeInfo
	Limit    Expr
	Offset   Expr
}

type CTE struct {
	CodeInfo CodeInfo
	Name     string
	Columns  []string
	Select   *Select
}

type With struct {
	CodeInfo  CodeInfo
	Recursive bool
	List      []*CTE
}

// CompoundTerm chains another select core after the current one
type CompoundTerm struct {
	Op     int
	Select *Select
}

type Select struct {
	CodeInfo CodeInfo
	With     *With
	Distinct bool // whether a distinct selection, ie dedup

	Projection *Projection // projection
	Values     [][]Expr    // VALUES rows, the select has no projection then
	From       *From       // from clause
	Where      *Where      // where clause
	GroupBy    *GroupBy    // group by
	Having     *Having     // having

	// compound terms following this core, ORDER BY/LIMIT of the head apply to
	// the whole compound
	Compound []*CompoundTerm

	OrderBy *OrderBy // order by
	Limit   *Limit   // limit clause
}

func (self *Select) IsValues() bool { return self.Values != nil }

type Code struct {
	CodeInfo CodeInfo
	Select   *Select
}

/** -------------------------------------------------------------------------
 ** Expression
 ** -----------------------------------------------------------------------*/
type Const struct {
	Ty       int
	Bool     bool
	String   string
	Real     float64
	Int      int64
	CodeInfo CodeInfo
}

// Ref is a column name, optionally qualified by a table name
type Ref struct {
	Table    string
	Id       string
	CodeInfo CodeInfo
}

type Call struct {
	Name       string
	Distinct   bool
	Star       bool // count(*)
	Parameters []Expr
	CodeInfo   CodeInfo
}

type Unary struct {
	Op       []int
	Operand  Expr
	CodeInfo CodeInfo
}

type Binary struct {
	Op       int
	L        Expr
	R        Expr
	Escape   Expr // LIKE ... ESCAPE
	CodeInfo CodeInfo
}

type CaseWhen struct {
	Cond  Expr
	Value Expr
}

type Case struct {
	Base     Expr // optional, CASE base WHEN ...
	When     []*CaseWhen
	Else     Expr
	CodeInfo CodeInfo
}

type Cast struct {
	Operand  Expr
	TypeName string
	CodeInfo CodeInfo
}

type Collate struct {
	Operand  Expr
	Name     string
	CodeInfo CodeInfo
}

// Subquery used inside of an expression, scalar (SELECT ...), EXISTS and
// lhs IN (SELECT ...)
type Subquery struct {
	Kind     int
	Not      bool
	L        Expr
	Select   *Select
	CodeInfo CodeInfo
}

type Expr interface {
	Type() int
	CInfo() CodeInfo
}

func (self *Const) Type() int       { return ExprConst }
func (self *Const) CInfo() CodeInfo { return self.CodeInfo }

func (self *Ref) Type() int       { return ExprRef }
func (self *Ref) CInfo() CodeInfo { return self.CodeInfo }

func (self *Call) Type() int       { return ExprCall }
func (self *Call) CInfo() CodeInfo { return self.CodeInfo }

func (self *Unary) Type() int       { return ExprUnary }
func (self *Unary) CInfo() CodeInfo { return self.CodeInfo }

func (self *Binary) Type() int       { return ExprBinary }
func (self *Binary) CInfo() CodeInfo { return self.CodeInfo }

func (self *Case) Type() int       { return ExprCase }
func (self *Case) CInfo() CodeInfo { return self.CodeInfo }

func (self *Cast) Type() int       { return ExprCast }
func (self *Cast) CInfo() CodeInfo { return self.CodeInfo }

func (self *Collate) Type() int       { return ExprCollate }
func (self *Collate) CInfo() CodeInfo { return self.CodeInfo }

func (self *Subquery) Type() int       { return ExprSubquery }
func (self *Subquery) CInfo() CodeInfo { return self.CodeInfo }

/* ----------------------------------------------------------------------------
 * Visitor
 * ---------------------------------------------------------------------------*/

// ExprVisitor is driven in pre order, returning false from an Accept skips
// the children of that node. Subqueries are not entered.
type ExprVisitor interface {
	AcceptConst(*Const) (bool, error)
	AcceptRef(*Ref) (bool, error)
	AcceptCall(*Call) (bool, error)
	AcceptUnary(*Unary) (bool, error)
	AcceptBinary(*Binary) (bool, error)
	AcceptCase(*Case) (bool, error)
	AcceptCast(*Cast) (bool, error)
	AcceptCollate(*Collate) (bool, error)
	AcceptSubquery(*Subquery) (bool, error)
}

func visitExprList(visitor ExprVisitor, list ...Expr) error {
	for _, x := range list {
		if x == nil {
			continue
		}
		if err := visitExprPreOrder(visitor, x); err != nil {
			return err
		}
	}
	return nil
}

func visitExprPreOrder(
	visitor ExprVisitor,
	expr Expr,
) error {
	switch expr.Type() {
	case ExprConst:
		_, err := visitor.AcceptConst(expr.(*Const))
		return err

	case ExprRef:
		_, err := visitor.AcceptRef(expr.(*Ref))
		return err

	case ExprCall:
		call := expr.(*Call)
		if goon, err := visitor.AcceptCall(call); err != nil || !goon {
			return err
		}
		return visitExprList(visitor, call.Parameters...)

	case ExprUnary:
		unary := expr.(*Unary)
		if goon, err := visitor.AcceptUnary(unary); err != nil || !goon {
			return err
		}
		return visitExprPreOrder(visitor, unary.Operand)

	case ExprBinary:
		binary := expr.(*Binary)
		if goon, err := visitor.AcceptBinary(binary); err != nil || !goon {
			return err
		}
		return visitExprList(visitor, binary.L, binary.R, binary.Escape)

	case ExprCase:
		c := expr.(*Case)
		if goon, err := visitor.AcceptCase(c); err != nil || !goon {
			return err
		}
		if err := visitExprList(visitor, c.Base); err != nil {
			return err
		}
		for _, w := range c.When {
			if err := visitExprList(visitor, w.Cond, w.Value); err != nil {
				return err
			}
		}
		return visitExprList(visitor, c.Else)

	case ExprCast:
		c := expr.(*Cast)
		if goon, err := visitor.AcceptCast(c); err != nil || !goon {
			return err
		}
		return visitExprPreOrder(visitor, c.Operand)

	case ExprCollate:
		c := expr.(*Collate)
		if goon, err := visitor.AcceptCollate(c); err != nil || !goon {
			return err
		}
		return visitExprPreOrder(visitor, c.Operand)

	case ExprSubquery:
		s := expr.(*Subquery)
		if goon, err := visitor.AcceptSubquery(s); err != nil || !goon {
			return err
		}
		return visitExprList(visitor, s.L)

	default:
		return nil
	}
}

func VisitExprPreOrder(
	visitor ExprVisitor,
	expr Expr,
) error {
	return visitExprPreOrder(visitor, expr)
}

// exprWalker adapts a plain function into a visitor
type exprWalker struct {
	fn func(Expr) bool
}

func (self *exprWalker) AcceptConst(x *Const) (bool, error)       { return self.fn(x), nil }
func (self *exprWalker) AcceptRef(x *Ref) (bool, error)           { return self.fn(x), nil }
func (self *exprWalker) AcceptCall(x *Call) (bool, error)         { return self.fn(x), nil }
func (self *exprWalker) AcceptUnary(x *Unary) (bool, error)       { return self.fn(x), nil }
func (self *exprWalker) AcceptBinary(x *Binary) (bool, error)     { return self.fn(x), nil }
func (self *exprWalker) AcceptCase(x *Case) (bool, error)         { return self.fn(x), nil }
func (self *exprWalker) AcceptCast(x *Cast) (bool, error)         { return self.fn(x), nil }
func (self *exprWalker) AcceptCollate(x *Collate) (bool, error)   { return self.fn(x), nil }
func (self *exprWalker) AcceptSubquery(x *Subquery) (bool, error) { return self.fn(x), nil }

// WalkExpr visits the expression in pre order
func WalkExpr(expr Expr, fn func(Expr) bool) {
	if expr == nil {
		return
	}
	_ = visitExprPreOrder(&exprWalker{fn: fn}, expr)
}

/* ----------------------------------------------------------------------------
 * Clone
 * ---------------------------------------------------------------------------*/
func cloneExprList(in []Expr) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, 0, len(in))
	for _, x := range in {
		out = append(out, cloneExpr(x))
	}
	return out
}

func cloneExpr(
	in Expr,
) Expr {
	if in == nil {
		return nil
	}
	switch in.Type() {
	case ExprConst:
		value := *in.(*Const)
		return &value
	case ExprRef:
		value := *in.(*Ref)
		return &value
	case ExprCall:
		c := in.(*Call)
		return &Call{
			Name:       c.Name,
			Distinct:   c.Distinct,
			Star:       c.Star,
			Parameters: cloneExprList(c.Parameters),
			CodeInfo:   c.CodeInfo,
		}
	case ExprUnary:
		u := in.(*Unary)
		return &Unary{
			Op:       append([]int{}, u.Op...),
			Operand:  cloneExpr(u.Operand),
			CodeInfo: u.CodeInfo,
		}
	case ExprBinary:
		b := in.(*Binary)
		return &Binary{
			Op:       b.Op,
			L:        cloneExpr(b.L),
			R:        cloneExpr(b.R),
			Escape:   cloneExpr(b.Escape),
			CodeInfo: b.CodeInfo,
		}
	case ExprCase:
		c := in.(*Case)
		out := &Case{
			Base:     cloneExpr(c.Base),
			Else:     cloneExpr(c.Else),
			CodeInfo: c.CodeInfo,
		}
		for _, w := range c.When {
			out.When = append(out.When, &CaseWhen{
				Cond:  cloneExpr(w.Cond),
				Value: cloneExpr(w.Value),
			})
		}
		return out
	case ExprCast:
		c := in.(*Cast)
		return &Cast{
			Operand:  cloneExpr(c.Operand),
			TypeName: c.TypeName,
			CodeInfo: c.CodeInfo,
		}
	case ExprCollate:
		c := in.(*Collate)
		return &Collate{
			Operand:  cloneExpr(c.Operand),
			Name:     c.Name,
			CodeInfo: c.CodeInfo,
		}
	case ExprSubquery:
		// the select is immutable after parsing, sharing it is fine
		s := in.(*Subquery)
		return &Subquery{
			Kind:     s.Kind,
			Not:      s.Not,
			L:        cloneExpr(s.L),
			Select:   s.Select,
			CodeInfo: s.CodeInfo,
		}
	default:
		return nil
	}
}

func CloneExpr(in Expr) Expr {
	return cloneExpr(in)
}

/* ----------------------------------------------------------------------------
 * Printing
 * ---------------------------------------------------------------------------*/

func BinOpString(op int) string {
	switch op {
	case TkAdd:
		return "+"
	case TkSub:
		return "-"
	case TkMul:
		return "*"
	case TkDiv:
		return "/"
	case TkMod:
		return "%"
	case TkConcat:
		return "||"
	case TkLt:
		return "<"
	case TkLe:
		return "<="
	case TkGt:
		return ">"
	case TkGe:
		return ">="
	case TkEq:
		return "="
	case TkNe:
		return "<>"
	case TkAnd:
		return "and"
	case TkOr:
		return "or"
	case TkIs:
		return "is"
	case TkIsNot:
		return "is not"
	case TkLike:
		return "like"
	case TkNotLike:
		return "not like"
	default:
		panic("unreachable")
	}
}

func doPrintExprConst(c *Const, buf *bytes.Buffer) {
	switch c.Ty {
	case ConstBool:
		buf.WriteString(fmt.Sprintf("%t", c.Bool))
	case ConstStr:
		buf.WriteString("'" + strings.ReplaceAll(c.String, "'", "''") + "'")
	case ConstInt:
		buf.WriteString(fmt.Sprintf("%d", c.Int))
	case ConstReal:
		buf.WriteString(fmt.Sprintf("%g", c.Real))
	case ConstNull:
		buf.WriteString("null")
	default:
		panic("unreachable")
	}
}

func doPrintExprList(list []Expr, buf *bytes.Buffer) {
	for idx, x := range list {
		if idx > 0 {
			buf.WriteString(", ")
		}
		doPrintExpr(x, buf)
	}
}

func doPrintExpr(expr Expr, buf *bytes.Buffer) {
	switch expr.Type() {
	case ExprConst:
		doPrintExprConst(expr.(*Const), buf)

	case ExprRef:
		r := expr.(*Ref)
		if r.Table != "" {
			buf.WriteString(r.Table)
			buf.WriteString(".")
		}
		buf.WriteString(r.Id)

	case ExprCall:
		c := expr.(*Call)
		buf.WriteString(c.Name)
		buf.WriteString("(")
		if c.Distinct {
			buf.WriteString("distinct ")
		}
		if c.Star {
			buf.WriteString("*")
		}
		doPrintExprList(c.Parameters, buf)
		buf.WriteString(")")

	case ExprUnary:
		u := expr.(*Unary)
		for _, o := range u.Op {
			switch o {
			case TkAdd:
				buf.WriteString("+")
			case TkSub:
				buf.WriteString("-")
			case TkNot:
				buf.WriteString("not ")
			default:
				panic("unreachable")
			}
		}
		doPrintExpr(u.Operand, buf)

	case ExprBinary:
		b := expr.(*Binary)
		buf.WriteString("(")
		doPrintExpr(b.L, buf)
		buf.WriteString(" " + BinOpString(b.Op) + " ")
		doPrintExpr(b.R, buf)
		if b.Escape != nil {
			buf.WriteString(" escape ")
			doPrintExpr(b.Escape, buf)
		}
		buf.WriteString(")")

	case ExprCase:
		c := expr.(*Case)
		buf.WriteString("case")
		if c.Base != nil {
			buf.WriteString(" ")
			doPrintExpr(c.Base, buf)
		}
		for _, w := range c.When {
			buf.WriteString(" when ")
			doPrintExpr(w.Cond, buf)
			buf.WriteString(" then ")
			doPrintExpr(w.Value, buf)
		}
		if c.Else != nil {
			buf.WriteString(" else ")
			doPrintExpr(c.Else, buf)
		}
		buf.WriteString(" end")

	case ExprCast:
		c := expr.(*Cast)
		buf.WriteString("cast(")
		doPrintExpr(c.Operand, buf)
		buf.WriteString(" as ")
		buf.WriteString(c.TypeName)
		buf.WriteString(")")

	case ExprCollate:
		c := expr.(*Collate)
		doPrintExpr(c.Operand, buf)
		buf.WriteString(" collate ")
		buf.WriteString(c.Name)

	case ExprSubquery:
		s := expr.(*Subquery)
		switch s.Kind {
		case SubqueryExists:
			if s.Not {
				buf.WriteString("not ")
			}
			buf.WriteString("exists ")
		case SubqueryIn:
			doPrintExpr(s.L, buf)
			if s.Not {
				buf.WriteString(" not")
			}
			buf.WriteString(" in ")
		}
		buf.WriteString("(")
		doPrintSelect(s.Select, buf)
		buf.WriteString(")")

	default:
		panic("unreachable")
	}
}

// ----------------------------------------------------------------------------
// Statement
// ----------------------------------------------------------------------------
func doPrintStmtProjection(projection *Projection, buf *bytes.Buffer) {
	for idx, x := range projection.ValueList {
		if idx > 0 {
			buf.WriteString(", ")
		}
		switch x.Type() {
		case SelectVarCol:
			col := x.(*Col)
			doPrintExpr(col.Value, buf)
			if col.As != "" {
				buf.WriteString(" as ")
				buf.WriteString(col.As)
			}

		default:
			if t := x.(*Star).Table; t != "" {
				buf.WriteString(t)
				buf.WriteString(".")
			}
			buf.WriteString("*")
		}
	}
}

func joinString(v *FromVar) string {
	natural := ""
	if v.Natural {
		natural = "natural "
	}
	switch v.Join {
	case JoinInner:
		return " " + natural + "join "
	case JoinCross:
		return " cross join "
	case JoinLeft:
		return " " + natural + "left join "
	case JoinRight:
		return " " + natural + "right join "
	case JoinFull:
		return " " + natural + "full join "
	default:
		return ", "
	}
}

func doPrintStmtFrom(from *From, buf *bytes.Buffer) {
	buf.WriteString("\nfrom ")

	for idx, x := range from.VarList {
		if idx > 0 {
			buf.WriteString(joinString(x))
		}
		if x.Subquery != nil {
			buf.WriteString("(")
			doPrintSelect(x.Subquery, buf)
			buf.WriteString(")")
		} else {
			buf.WriteString(x.Name)
		}
		if x.Alias != "" {
			buf.WriteString(" as ")
			buf.WriteString(x.Alias)
		}
		if x.On != nil {
			buf.WriteString(" on ")
			doPrintExpr(x.On, buf)
		}
		if x.Using != nil {
			buf.WriteString(" using(")
			buf.WriteString(strings.Join(x.Using, ", "))
			buf.WriteString(")")
		}
	}
}

func doPrintStmtOrderBy(orderBy *OrderBy, buf *bytes.Buffer) {
	buf.WriteString("\norder by ")
	for idx, x := range orderBy.Term {
		if idx > 0 {
			buf.WriteString(", ")
		}
		doPrintExpr(x.Value, buf)
		if x.Order == OrderDesc {
			buf.WriteString(" desc")
		}
	}
}

func doPrintStmtLimit(limit *Limit, buf *bytes.Buffer) {
	buf.WriteString("\nlimit ")
	doPrintExpr(limit.Limit, buf)
	if limit.Offset != nil {
		buf.WriteString(" offset ")
		doPrintExpr(limit.Offset, buf)
	}
}

func compoundString(op int) string {
	switch op {
	case CompoundUnion:
		return "union"
	case CompoundUnionAll:
		return "union all"
	case CompoundExcept:
		return "except"
	default:
		return "intersect"
	}
}

func doPrintCore(s *Select, buf *bytes.Buffer) {
	if s.IsValues() {
		buf.WriteString("values ")
		for idx, row := range s.Values {
			if idx > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString("(")
			doPrintExprList(row, buf)
			buf.WriteString(")")
		}
		return
	}

	if s.Distinct {
		buf.WriteString("select distinct\n")
	} else {
		buf.WriteString("select\n")
	}

	doPrintStmtProjection(s.Projection, buf)
	if s.From != nil {
		doPrintStmtFrom(s.From, buf)
	}
	if s.Where != nil {
		buf.WriteString("\nwhere ")
		doPrintExpr(s.Where.Condition, buf)
	}
	if s.GroupBy != nil {
		buf.WriteString("\ngroup by ")
		doPrintExprList(s.GroupBy.Name, buf)
	}
	if s.Having != nil {
		buf.WriteString("\nhaving ")
		doPrintExpr(s.Having.Condition, buf)
	}
}

func doPrintSelect(s *Select, buf *bytes.Buffer) {
	if s.With != nil {
		buf.WriteString("with ")
		if s.With.Recursive {
			buf.WriteString("recursive ")
		}
		for idx, c := range s.With.List {
			if idx > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(c.Name)
			if c.Columns != nil {
				buf.WriteString("(")
				buf.WriteString(strings.Join(c.Columns, ", "))
				buf.WriteString(")")
			}
			buf.WriteString(" as (")
			doPrintSelect(c.Select, buf)
			buf.WriteString(")")
		}
		buf.WriteString("\n")
	}

	doPrintCore(s, buf)
	for _, c := range s.Compound {
		buf.WriteString("\n")
		buf.WriteString(compoundString(c.Op))
		buf.WriteString("\n")
		doPrintCore(c.Select, buf)
	}

	if s.OrderBy != nil {
		doPrintStmtOrderBy(s.OrderBy, buf)
	}
	if s.Limit != nil {
		doPrintStmtLimit(s.Limit, buf)
	}
}

func PrintExpr(expr Expr) string {
	if expr == nil {
		return ""
	}
	b := &bytes.Buffer{}
	doPrintExpr(expr, b)
	return b.String()
}

func PrintSelect(s *Select) string {
	b := &bytes.Buffer{}
	doPrintSelect(s, b)
	return b.String()
}

func PrintCode(c *Code) string {
	b := &bytes.Buffer{}
	doPrintSelect(c.Select, b)
	return b.String()
}
