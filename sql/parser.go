package sql

// parser of the sql, which is tailered for our own usage. We briefly describe
// the grammar of sql as following EBNF
//
// ### statement -------------------------------------------------------------
//
// code := select ';'?
// select :=
//     with?
//     core (compound-op core)*
//     order-by?
//     limit?
//
// with := WITH RECURSIVE? cte (',' cte)*
// cte := ID ('(' id-list ')')? AS '(' select ')'
//
// compound-op := UNION ALL? | INTERSECT | EXCEPT
//
// core :=
//     SELECT (DISTINCT|ALL)? projection
//     from?
//     where?
//     group-by?
//     having?   |
//     VALUES '(' expr-list ')' (',' '(' expr-list ')')*
//
// projection := project-var (',' project-var)*
// project-var := '*' | ID '.' '*' | expr as?
// as := AS? ID
//
// from := FROM from-var (join-op from-var join-constraint?)*
// from-var := (ID | '(' select ')') as?
// join-op := ',' | NATURAL? (LEFT OUTER? | INNER | CROSS | RIGHT | FULL)? JOIN
// join-constraint := ON expr | USING '(' id-list ')'
//
// where := WHERE expr
//
// group-by := GROUPBY expr-list
//
// having := HAVING expr
//
// order-by := ORDERBY order-term (',' order-term)*
// order-term := expr (ASC | DESC)?
//
// limit := LIMIT expr ((OFFSET | ',') expr)?
//
// ### expression -------------------------------------------------------------
// expr :=
//   binary |
//   NOT expr |
//   unary
//
// binary := expr binary-op expr
// binary-op := OR | AND | = | <> | IS NOT? | NOT? IN | NOT? LIKE | NOT? BETWEEN
//              | < | <= | > | >= | + | - | * | / | % | '||'
//
// unary := ('+' | '-')* primary
// primary := atomic (COLLATE ID)*
//
// atomic :=
//   const |
//   col-ref |
//   call |
//   '(' expr ')' |
//   '(' select ')' |
//   EXISTS '(' select ')' |
//   CASE expr? (WHEN expr THEN expr)+ (ELSE expr)? END |
//   CAST '(' expr AS ID ')'
//
// col-ref := ID ('.' ID)?
// call := ID '(' (DISTINCT? expr-list | '*')? ')'
//
// const := INT | FLOAT | TRUE | FALSE | NULL | STR
//
// ----------------------------------------------------------------------------

import (
	"github.com/cockroachdb/errors"
)

const (
	stageNA = iota
	stageInProjection
)

type Parser struct {
	L     *Lexer
	stage int // used to notify certain grammar
}

func newParser(xx string) *Parser {
	return &Parser{
		L: newLexer(xx),
	}
}

func NewParser(xx string) *Parser {
	return newParser(xx)
}

func (self *Parser) posStart() int {
	return self.L.tokenStart
}

func (self *Parser) posEnd() int {
	return self.L.lastEnd
}

func (self *Parser) snippet(start, end int) string {
	if start >= end {
		start = end
	}
	return self.L.Source[start:end]
}

func (self *Parser) err(msg string) error {
	if self.L.Token == TkError {
		return errors.Newf("%s", self.L.Lexeme.Text)
	} else {
		return errors.Newf("%s: %s", self.L.dinfo(), msg)
	}
}

func (self *Parser) expect(tk int) error {
	if self.L.Token == tk {
		self.L.Next()
		return nil
	} else {
		return self.err("unexpected token " + TokenName(self.L.Token) + ", expect " + TokenName(tk))
	}
}

func (self *Parser) currentCodeInfo(start int) CodeInfo {
	return CodeInfo{
		Start:   start,
		End:     self.posEnd(),
		Snippet: self.snippet(start, self.posEnd()),
	}
}

func (self *Parser) Parse() (*Code, error) {
	c := &Code{}

	self.L.Next()
	start := self.posStart()

	switch self.L.Token {
	case TkSelect, TkWith, TkValues:
		if n, err := self.parseSelect(); err != nil {
			return nil, err
		} else {
			c.Select = n
		}
	default:
		return nil, self.err("unknown statement, expect *select*")
	}

	c.CodeInfo = self.currentCodeInfo(start)

	if self.L.Token == TkSemicolon {
		self.L.Next()
	}
	if self.L.Token != TkEof {
		return nil, self.err("dangling code after parser thinks the statement is finished")
	}
	return c, nil
}

func (self *Parser) isSelectStart() bool {
	switch self.L.Token {
	case TkSelect, TkWith, TkValues:
		return true
	default:
		return false
	}
}

func compoundOp(tk int) int {
	switch tk {
	case TkUnion:
		return CompoundUnion
	case TkExcept:
		return CompoundExcept
	case TkIntersect:
		return CompoundIntersect
	default:
		return -1
	}
}

// full select statement, ie with clause, compound terms and the trailing
// order by/limit which belongs to the whole compound
func (self *Parser) parseSelect() (*Select, error) {
	start := self.posStart()

	var with *With
	if self.L.Token == TkWith {
		if n, err := self.parseWith(); err != nil {
			return nil, err
		} else {
			with = n
		}
	}

	head, err := self.parseCore()
	if err != nil {
		return nil, err
	}
	head.With = with

	for {
		op := compoundOp(self.L.Token)
		if op == -1 {
			break
		}
		if self.L.Next() == TkAll {
			if op != CompoundUnion {
				return nil, self.err("ALL is only allowed after UNION")
			}
			op = CompoundUnionAll
			self.L.Next()
		}
		if self.L.Token != TkSelect && self.L.Token != TkValues {
			return nil, self.err("expect SELECT or VALUES after compound operator")
		}
		core, err := self.parseCore()
		if err != nil {
			return nil, err
		}
		head.Compound = append(head.Compound, &CompoundTerm{
			Op:     op,
			Select: core,
		})
	}

LOOP:
	for {
		switch self.L.Token {
		case TkOrderBy:
			if head.OrderBy != nil {
				return nil, self.err("order by clause has already been specified")
			}
			if n, err := self.parseOrderBy(); err != nil {
				return nil, err
			} else {
				head.OrderBy = n
			}

		case TkLimit:
			if head.Limit != nil {
				return nil, self.err("limit caluse has already been specified")
			}
			if n, err := self.parseLimit(); err != nil {
				return nil, err
			} else {
				head.Limit = n
			}

		default:
			break LOOP
		}
	}

	head.CodeInfo = self.currentCodeInfo(start)
	return head, nil
}

func (self *Parser) parseWith() (*With, error) {
	start := self.posStart()
	with := &With{}

	if self.L.Next() == TkRecursive {
		with.Recursive = true
		self.L.Next()
	}

	if err := self.parseSqlList(
		func(_ int) error {
			cteStart := self.posStart()
			if self.L.Token != TkId {
				return self.err("expect a name for common table expression")
			}
			cte := &CTE{
				Name: self.L.Lexeme.Text,
			}
			if self.L.Next() == TkLPar {
				self.L.Next()
				if n, err := self.parseIdList(); err != nil {
					return err
				} else {
					cte.Columns = n
				}
			}
			if err := self.expect(TkAs); err != nil {
				return err
			}
			if err := self.expect(TkLPar); err != nil {
				return err
			}
			if !self.isSelectStart() {
				return self.err("expect a select for common table expression")
			}
			if n, err := self.parseSelect(); err != nil {
				return err
			} else {
				cte.Select = n
			}
			if err := self.expect(TkRPar); err != nil {
				return err
			}
			cte.CodeInfo = self.currentCodeInfo(cteStart)
			with.List = append(with.List, cte)
			return nil
		},
	); err != nil {
		return nil, err
	}

	with.CodeInfo = self.currentCodeInfo(start)
	return with, nil
}

// id (',' id)* ')', the leading '(' has been consumed
func (self *Parser) parseIdList() ([]string, error) {
	out := []string{}
	if err := self.parseSqlList(
		func(_ int) error {
			if self.L.Token != TkId {
				return self.err("expect an identifier in the name list")
			}
			out = append(out, self.L.Lexeme.Text)
			self.L.Next()
			return nil
		},
	); err != nil {
		return nil, err
	}
	if err := self.expect(TkRPar); err != nil {
		return nil, err
	}
	return out, nil
}

func (self *Parser) parseCore() (*Select, error) {
	if self.L.Token == TkValues {
		return self.parseValues()
	}

	start := self.posStart()
	self.L.Next() // skip the *select* keyword

	var projection *Projection
	var from *From
	var where *Where
	var groupBy *GroupBy
	var having *Having

	distinct := false

	switch self.L.Token {
	case TkDistinct:
		distinct = true
		self.L.Next()
	case TkAll:
		self.L.Next()
	}

	// projection
	if n, err := self.parseProjection(); err != nil {
		return nil, err
	} else {
		projection = n
	}

LOOP:
	for {
		switch self.L.Token {
		case TkFrom:
			if from != nil {
				return nil, self.err("from cluase has already been specified")
			}

			if n, err := self.parseFrom(); err != nil {
				return nil, err
			} else {
				from = n
			}

		case TkWhere:
			if where != nil {
				return nil, self.err("where clause has already been specified")
			}
			if n, err := self.parseWhere(); err != nil {
				return nil, err
			} else {
				where = n
			}

		case TkGroupBy:
			if groupBy != nil {
				return nil, self.err("group by clause has already been specified")
			}
			if n, err := self.parseGroupBy(); err != nil {
				return nil, err
			} else {
				groupBy = n
			}

		case TkHaving:
			if having != nil {
				return nil, self.err("having clause has already been specified")
			}
			if n, err := self.parseHaving(); err != nil {
				return nil, err
			} else {
				having = n
			}

		default:
			break LOOP
		}
	}

	if having != nil && groupBy == nil {
		return nil, self.err("a GROUP BY clause is required before HAVING")
	}

	return &Select{
		CodeInfo:   self.currentCodeInfo(start),
		Distinct:   distinct,
		Projection: projection,
		From:       from,
		Where:      where,
		GroupBy:    groupBy,
		Having:     having,
	}, nil
}

func (self *Parser) parseValues() (*Select, error) {
	start := self.posStart()
	self.L.Next() // eat values

	rows := [][]Expr{}
	if err := self.parseSqlList(
		func(_ int) error {
			if err := self.expect(TkLPar); err != nil {
				return err
			}
			row := []Expr{}
			if err := self.parseSqlList(
				func(_ int) error {
					if e, err := self.parseExpr(); err != nil {
						return err
					} else {
						row = append(row, e)
					}
					return nil
				},
			); err != nil {
				return err
			}
			if err := self.expect(TkRPar); err != nil {
				return err
			}
			if len(rows) > 0 && len(rows[0]) != len(row) {
				return self.err("all VALUES must have the same number of terms")
			}
			rows = append(rows, row)
			return nil
		},
	); err != nil {
		return nil, err
	}

	return &Select{
		CodeInfo: self.currentCodeInfo(start),
		Values:   rows,
	}, nil
}

func (self *Parser) parseProjectionVar(idx int) (SelectVar, error) {
	start := self.posStart()

	switch self.L.Token {
	case TkMul: // star
		self.L.Next()
		return &Star{
			CodeInfo: self.currentCodeInfo(start),
			ColIndex: idx,
		}, nil

	default:
		var val Expr
		alias := ""
		self.stage = stageInProjection

		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			val = e
		}

		self.stage = stageNA

		// t.* is parsed as a reference to column *
		if val.Type() == ExprRef && val.(*Ref).Id == "*" {
			return &Star{
				CodeInfo: self.currentCodeInfo(start),
				ColIndex: idx,
				Table:    val.(*Ref).Table,
			}, nil
		}
		if hasStarRef(val) {
			return nil, self.err("table.* can only be used as a standalone projection")
		}

		switch self.L.Token {
		case TkAs:
			if self.L.Next() != TkId && self.L.Token != TkStr {
				return nil, self.err("expect an alias identifier after *as*")
			}
			alias = self.L.Lexeme.Text
			self.L.Next()
		case TkId:
			alias = self.L.Lexeme.Text
			self.L.Next()
		}

		return &Col{
			CodeInfo: self.currentCodeInfo(start),
			ColIndex: idx,
			As:       alias,
			Value:    val,
		}, nil
	}
}

func hasStarRef(e Expr) bool {
	found := false
	WalkExpr(e, func(x Expr) bool {
		if x.Type() == ExprRef && x.(*Ref).Id == "*" {
			found = true
		}
		return !found
	})
	return found
}

// SQLLIST, which is a name I coin to represent grammar like following :
// element (',' element)*, the difference between the normal one is that the
// list will never be empty.  This sort of list is kind of stupid, since we need
// to at least expect one from the vars, and afterwards, we expect another one
// *after* a ',' here.  this is same for *projection*, *from*, *order by*

func (self *Parser) parseSqlList(
	visitor func(int) error,
) error {
	if err := visitor(0); err != nil {
		return err
	}
	idx := 1

	for {
		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
		if err := visitor(idx); err != nil {
			return err
		}
		idx++
	}

	return nil
}

func (self *Parser) parseProjection() (*Projection, error) {
	x := SelectVarList{}
	start := self.posStart()

	if err := self.parseSqlList(
		func(idx int) error {
			if n, err := self.parseProjectionVar(idx); err != nil {
				return err
			} else {
				x = append(x, n)
			}
			return nil
		},
	); err != nil {
		return nil, err
	}

	return &Projection{
		CodeInfo:  self.currentCodeInfo(start),
		ValueList: x,
	}, nil
}

// join operator in front of a from var, returns -1 when there is none
func (self *Parser) parseJoinOp() (int, bool, error) {
	natural := false
	join := -1

	if self.L.Token == TkComma {
		self.L.Next()
		return JoinComma, false, nil
	}

	if self.L.Token == TkNatural {
		natural = true
		self.L.Next()
	}

	switch self.L.Token {
	case TkJoin:
		join = JoinInner
	case TkInner:
		join = JoinInner
		self.L.Next()
	case TkCross:
		join = JoinCross
		self.L.Next()
	case TkLeft:
		join = JoinLeft
		if self.L.Next() == TkOuter {
			self.L.Next()
		}
	case TkRight:
		join = JoinRight
		if self.L.Next() == TkOuter {
			self.L.Next()
		}
	case TkFull:
		join = JoinFull
		if self.L.Next() == TkOuter {
			self.L.Next()
		}
	default:
		if natural {
			return -1, false, self.err("expect JOIN after NATURAL")
		}
		return -1, false, nil
	}

	if self.L.Token != TkJoin {
		return -1, false, self.err("expect JOIN keyword")
	}
	self.L.Next()
	return join, natural, nil
}

func (self *Parser) parseFromVar() (*FromVar, error) {
	start := self.posStart()
	fromVar := &FromVar{}

	switch self.L.Token {
	case TkId:
		fromVar.Name = self.L.Lexeme.Text
		self.L.Next()

	case TkLPar:
		self.L.Next()
		if !self.isSelectStart() {
			return nil, self.err("expect a subquery inside of '(' in from clause")
		}
		if n, err := self.parseSelect(); err != nil {
			return nil, err
		} else {
			fromVar.Subquery = n
		}
		if err := self.expect(TkRPar); err != nil {
			return nil, err
		}

	default:
		return nil, self.err("expect a table name or a subquery in from clause")
	}

	switch self.L.Token {
	case TkAs:
		if self.L.Next() != TkId {
			return nil, self.err("expect an alias identifier after *as*")
		}
		fromVar.Alias = self.L.Lexeme.Text
		self.L.Next()
	case TkId:
		fromVar.Alias = self.L.Lexeme.Text
		self.L.Next()
	}

	fromVar.CodeInfo = self.currentCodeInfo(start)
	return fromVar, nil
}

func (self *Parser) parseJoinConstraint(v *FromVar) error {
	switch self.L.Token {
	case TkOn:
		self.L.Next()
		if e, err := self.parseExpr(); err != nil {
			return err
		} else {
			v.On = e
		}
	case TkUsing:
		if err := self.expect(TkUsing); err != nil {
			return err
		}
		if err := self.expect(TkLPar); err != nil {
			return err
		}
		if n, err := self.parseIdList(); err != nil {
			return err
		} else {
			v.Using = n
		}
	}
	return nil
}

func (self *Parser) parseFrom() (*From, error) {
	start := self.posStart()
	self.L.Next()

	out := &From{}
	join := JoinComma
	natural := false

	for {
		v, err := self.parseFromVar()
		if err != nil {
			return nil, err
		}
		v.Join = join
		v.Natural = natural
		if err := self.parseJoinConstraint(v); err != nil {
			return nil, err
		}
		out.VarList = append(out.VarList, v)

		join, natural, err = self.parseJoinOp()
		if err != nil {
			return nil, err
		}
		if join == -1 {
			break
		}
	}

	if out.VarList[0].On != nil || out.VarList[0].Using != nil {
		return nil, self.err("a JOIN clause is required before ON and USING")
	}

	out.CodeInfo = self.currentCodeInfo(start)
	return out, nil
}

func (self *Parser) parseWhere() (*Where, error) {
	start := self.posStart()

	self.L.Next()
	if n, err := self.parseExpr(); err != nil {
		return nil, err
	} else {
		return &Where{
			CodeInfo:  self.currentCodeInfo(start),
			Condition: n,
		}, nil
	}
}

func (self *Parser) parseGroupBy() (*GroupBy, error) {
	gb := &GroupBy{}
	start := self.posStart()

	self.L.Next() // eat group by

	if err := self.parseSqlList(
		func(idx int) error {
			if c, err := self.parseExpr(); err != nil {
				return err
			} else {
				gb.Name = append(gb.Name, c)
			}
			return nil
		},
	); err != nil {
		return nil, err
	}

	gb.CodeInfo = self.currentCodeInfo(start)
	return gb, nil
}

func (self *Parser) parseHaving() (*Having, error) {
	if x, err := self.parseWhere(); err != nil {
		return nil, err
	} else {
		return (*Having)(x), nil
	}
}

func (self *Parser) parseOrderBy() (*OrderBy, error) {
	oB := &OrderBy{}
	start := self.posStart()
	self.L.Next() // eat order by

	// list of expression to be used for sorting keys, each has its own order
	if err := self.parseSqlList(
		func(idx int) error {
			term := &OrderTerm{
				Order: OrderAsc,
			}
			if c, err := self.parseExpr(); err != nil {
				return err
			} else {
				term.Value = c
			}
			switch self.L.Token {
			case TkAsc:
				self.L.Next()
			case TkDesc:
				term.Order = OrderDesc
				self.L.Next()
			}
			oB.Term = append(oB.Term, term)
			return nil
		},
	); err != nil {
		return nil, err
	}

	oB.CodeInfo = self.currentCodeInfo(start)
	return oB, nil
}

func (self *Parser) parseLimit() (*Limit, error) {
	start := self.posStart()
	limit := &Limit{}

	self.L.Next()
	if e, err := self.parseExpr(); err != nil {
		return nil, err
	} else {
		limit.Limit = e
	}

	switch self.L.Token {
	case TkOffset:
		self.L.Next()
		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			limit.Offset = e
		}

	case TkComma:
		// LIMIT offset, limit
		self.L.Next()
		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			limit.Offset = limit.Limit
			limit.Limit = e
		}
	}

	limit.CodeInfo = self.currentCodeInfo(start)
	return limit, nil
}

// ----------------------------------------------------------------------------
// Expression Parsing
// ----------------------------------------------------------------------------

func (self *Parser) parseExpr() (Expr, error) {
	return self.parseBinary()
}

const maxOpPrec = 8
const notOpPrec = 2
const invalidOpPrec = -1

func (self *Parser) binPrec(tk int) int {
	switch tk {
	case TkOr:
		return 0
	case TkAnd:
		return 1
	case TkEq, TkNe, TkIs, TkIn, TkLike, TkBetween, TkNot:
		return 3
	case TkLt, TkLe, TkGt, TkGe:
		return 4
	case TkAdd, TkSub:
		return 5
	case TkMul, TkDiv, TkMod:
		return 6
	case TkConcat:
		return 7
	default:
		return invalidOpPrec
	}
}

// Binary parsing, precedence climbing
func (self *Parser) doParseBin(prec int) (Expr, error) {
	if prec == maxOpPrec {
		return self.parseUnary()
	}

	start := self.posStart()

	var l Expr

	// prefix NOT binds looser than comparison, ie NOT a = b is NOT (a = b)
	if prec <= notOpPrec && self.L.Token == TkNot {
		self.L.Next()
		operand, err := self.doParseBin(notOpPrec)
		if err != nil {
			return nil, err
		}
		l = &Unary{
			Op:       []int{TkNot},
			Operand:  operand,
			CodeInfo: self.currentCodeInfo(start),
		}
	} else {
		x, err := self.parseUnary()
		if err != nil {
			return nil, err
		}
		l = x
	}

	return self.doParseBinRest(l, prec, start)
}

func (self *Parser) parseBinary() (Expr, error) {
	return self.doParseBin(0)
}

func (self *Parser) doParseBinBetweenRHS(
	prec int,
) (Expr, Expr, error) {
	lowerBound, err := self.doParseBin(prec)
	if err != nil {
		return nil, nil, err
	}

	if self.L.Token != TkAnd {
		return nil, nil, self.err("expect AND for BETWEEN operator")
	}
	self.L.Next()

	upperBound, err := self.doParseBin(prec)
	if err != nil {
		return nil, nil, err
	}

	return lowerBound, upperBound, nil
}

// IN's rhs is either a subquery or a list of expression
func (self *Parser) doParseBinInRHS() ([]Expr, *Select, error) {
	if self.L.Token != TkLPar {
		return nil, nil, self.err("expect '(' for IN operator's rhs")
	}
	self.L.Next()

	if self.isSelectStart() {
		sub, err := self.parseSelect()
		if err != nil {
			return nil, nil, err
		}
		if err := self.expect(TkRPar); err != nil {
			return nil, nil, err
		}
		return nil, sub, nil
	}

	out := []Expr{}

	for self.L.Token != TkRPar {
		if v, err := self.parseExpr(); err != nil {
			return nil, nil, err
		} else {
			out = append(out, v)
		}
		if self.L.Token == TkComma {
			self.L.Next()
		} else if self.L.Token != TkRPar {
			return nil, nil, self.err("expect a ',' or ')' after element in IN's rhs")
		}
	}

	self.L.Next()
	if len(out) == 0 {
		return nil, nil, self.err("IN operator's RHS is an empty set, which is not allowed")
	}
	return out, nil, nil
}

func (self *Parser) negate(e Expr, start int) Expr {
	return &Unary{
		Op:       []int{TkNot},
		Operand:  e,
		CodeInfo: self.currentCodeInfo(start),
	}
}

func (self *Parser) doParseBinRest(lhs Expr,
	prec int,
	start int,
) (Expr, error) {

	for {
		tk := self.L.Token
		nextPrec := self.binPrec(tk)

		if nextPrec == invalidOpPrec {
			break
		} else if nextPrec < prec {
			break
		}

		ntk := self.L.Next() // eat the operator token
		not := false

		switch tk {
		case TkNot:
			not = true
			switch ntk {
			case TkIn, TkBetween, TkLike:
				tk = ntk
				self.L.Next()
			default:
				return nil, self.err(
					"NOT operator shows up, but expect a suffix operator, " +
						"example like NOT IN, NOT BETWEEN, NOT LIKE ... ",
				)
			}

		case TkIs:
			if ntk == TkNot {
				tk = TkIsNot
				self.L.Next()
			}
		}

		var newNode Expr
		switch tk {
		case TkBetween:
			if lower, upper, err := self.doParseBinBetweenRHS(nextPrec + 1); err != nil {
				return nil, err
			} else {
				ge := &Binary{
					Op:       TkGe,
					L:        lhs,
					R:        lower,
					CodeInfo: self.currentCodeInfo(start),
				}

				le := &Binary{
					Op:       TkLe,
					L:        CloneExpr(lhs),
					R:        upper,
					CodeInfo: self.currentCodeInfo(start),
				}

				between := &Binary{
					Op:       TkAnd,
					L:        ge,
					R:        le,
					CodeInfo: self.currentCodeInfo(start),
				}

				if !not {
					newNode = between
				} else {
					newNode = self.negate(between, start)
				}
			}

		case TkIn:
			if v, sub, err := self.doParseBinInRHS(); err != nil {
				return nil, err
			} else if sub != nil {
				newNode = &Subquery{
					Kind:     SubqueryIn,
					Not:      not,
					L:        lhs,
					Select:   sub,
					CodeInfo: self.currentCodeInfo(start),
				}
			} else {
				var out Expr

				for idx, vv := range v {
					l := lhs
					if idx > 0 {
						l = CloneExpr(lhs)
					}
					eq := &Binary{
						Op:       TkEq,
						L:        l,
						R:        vv,
						CodeInfo: self.currentCodeInfo(start),
					}

					if out == nil {
						out = eq
					} else {
						out = &Binary{
							Op:       TkOr,
							L:        out,
							R:        eq,
							CodeInfo: self.currentCodeInfo(start),
						}
					}
				}

				if not {
					newNode = self.negate(out, start)
				} else {
					newNode = out
				}
			}

		case TkLike:
			v, err := self.doParseBin(nextPrec + 1)
			if err != nil {
				return nil, err
			}
			like := &Binary{
				Op: TkLike,
				L:  lhs,
				R:  v,
			}
			if not {
				like.Op = TkNotLike
			}
			if self.L.Token == TkEscape {
				self.L.Next()
				if esc, err := self.doParseBin(nextPrec + 1); err != nil {
					return nil, err
				} else {
					like.Escape = esc
				}
			}
			like.CodeInfo = self.currentCodeInfo(start)
			newNode = like

		default:
			if v, err := self.doParseBin(nextPrec + 1); err != nil {
				return nil, err
			} else {
				newNode = &Binary{
					Op:       tk,
					L:        lhs,
					R:        v,
					CodeInfo: self.currentCodeInfo(start),
				}
			}
		}

		lhs = newNode
	}

	return lhs, nil
}

func (self *Parser) parseUnary() (Expr, error) {
	opList := []int{}

	start := self.posStart()

	for {
		cur := self.L.Token
		if cur == TkAdd || cur == TkSub || cur == TkNot {
			opList = append(opList, cur)
			self.L.Next()
		} else {
			break
		}
	}

	expr, err := self.parsePrimary()
	if err != nil {
		return nil, err
	}

	if len(opList) > 0 {
		// fold a negative literal, mostly for LIMIT -1
		if len(opList) == 1 && opList[0] == TkSub && expr.Type() == ExprConst {
			c := expr.(*Const)
			switch c.Ty {
			case ConstInt:
				c.Int = -c.Int
				c.CodeInfo = self.currentCodeInfo(start)
				return c, nil
			case ConstReal:
				c.Real = -c.Real
				c.CodeInfo = self.currentCodeInfo(start)
				return c, nil
			}
		}
		return &Unary{
			Op:       opList,
			Operand:  expr,
			CodeInfo: self.currentCodeInfo(start),
		}, nil
	} else {
		return expr, nil
	}
}

func (self *Parser) parsePrimary() (Expr, error) {
	start := self.posStart()

	atomic, err := self.parseAtomic()
	if err != nil {
		return nil, err
	}

	for self.L.Token == TkCollate {
		if n := self.L.Next(); n != TkId && n != TkStr {
			return nil, self.err("expect a collation name after COLLATE")
		}
		name := self.L.lowerText()
		self.L.Next()
		atomic = &Collate{
			Operand:  atomic,
			Name:     name,
			CodeInfo: self.currentCodeInfo(start),
		}
	}

	return atomic, nil
}

func (self *Parser) parseCall(name string, start int) (Expr, error) {
	call := &Call{
		Name: name,
	}

	switch self.L.Next() {
	case TkRPar:

	case TkMul:
		call.Star = true
		self.L.Next()
		if self.L.Token != TkRPar {
			return nil, self.err("expect ')' after '*' in function call")
		}

	default:
		if self.L.Token == TkDistinct {
			call.Distinct = true
			self.L.Next()
		}
		if err := self.parseSqlList(
			func(_ int) error {
				if e, err := self.parseExpr(); err != nil {
					return err
				} else {
					call.Parameters = append(call.Parameters, e)
				}
				return nil
			},
		); err != nil {
			return nil, err
		}
		if self.L.Token != TkRPar {
			return nil, self.err("expect ')' to close function call")
		}
	}

	self.L.Next()
	call.CodeInfo = self.currentCodeInfo(start)
	return call, nil
}

func (self *Parser) parseCase(start int) (Expr, error) {
	c := &Case{}

	if self.L.Next() != TkWhen {
		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			c.Base = e
		}
	}

	for self.L.Token == TkWhen {
		self.L.Next()
		w := &CaseWhen{}
		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			w.Cond = e
		}
		if err := self.expect(TkThen); err != nil {
			return nil, err
		}
		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			w.Value = e
		}
		c.When = append(c.When, w)
	}

	if len(c.When) == 0 {
		return nil, self.err("expect at least one WHEN branch in CASE")
	}

	if self.L.Token == TkElse {
		self.L.Next()
		if e, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			c.Else = e
		}
	}

	if err := self.expect(TkEnd); err != nil {
		return nil, err
	}
	c.CodeInfo = self.currentCodeInfo(start)
	return c, nil
}

func (self *Parser) parseCast(start int) (Expr, error) {
	self.L.Next()
	if err := self.expect(TkLPar); err != nil {
		return nil, err
	}

	operand, err := self.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := self.expect(TkAs); err != nil {
		return nil, err
	}
	if self.L.Token != TkId {
		return nil, self.err("expect a type name in CAST")
	}
	ty := self.L.lowerText()
	self.L.Next()
	if err := self.expect(TkRPar); err != nil {
		return nil, err
	}

	return &Cast{
		Operand:  operand,
		TypeName: ty,
		CodeInfo: self.currentCodeInfo(start),
	}, nil
}

func (self *Parser) parseSubquery(kind int, start int) (Expr, error) {
	if err := self.expect(TkLPar); err != nil {
		return nil, err
	}
	if !self.isSelectStart() {
		return nil, self.err("expect a subquery")
	}
	sub, err := self.parseSelect()
	if err != nil {
		return nil, err
	}
	if err := self.expect(TkRPar); err != nil {
		return nil, err
	}
	return &Subquery{
		Kind:     kind,
		Select:   sub,
		CodeInfo: self.currentCodeInfo(start),
	}, nil
}

func (self *Parser) parseConstExpr() *Const {
	start := self.posStart()

	switch self.L.Token {
	case TkTrue, TkFalse:
		booleanVal := self.L.Token == TkTrue
		self.L.Next()
		return &Const{
			Ty:       ConstBool,
			Bool:     booleanVal,
			CodeInfo: self.currentCodeInfo(start),
		}

	case TkNull:
		self.L.Next()
		return &Const{
			Ty:       ConstNull,
			CodeInfo: self.currentCodeInfo(start),
		}

	case TkStr:
		str := self.L.Lexeme.Text
		self.L.Next()
		return &Const{
			Ty:       ConstStr,
			String:   str,
			CodeInfo: self.currentCodeInfo(start),
		}

	case TkInt:
		v := self.L.Lexeme.Int
		self.L.Next()
		return &Const{
			Ty:       ConstInt,
			Int:      v,
			CodeInfo: self.currentCodeInfo(start),
		}

	case TkReal:
		v := self.L.Lexeme.Real
		self.L.Next()
		return &Const{
			Ty:       ConstReal,
			Real:     v,
			CodeInfo: self.currentCodeInfo(start),
		}

	default:
		return nil
	}
}

func (self *Parser) parseAtomic() (Expr, error) {
	start := self.posStart()

	switch self.L.Token {
	case TkTrue, TkFalse, TkNull, TkStr, TkInt, TkReal:
		c := self.parseConstExpr()
		if c == nil {
			panic("unreachable")
		}
		return c, nil

	case TkId:
		id := self.L.Lexeme.Text

		switch self.L.Next() {
		case TkLPar:
			return self.parseCall(id, start)

		case TkDot:
			switch self.L.Next() {
			case TkId:
				col := self.L.Lexeme.Text
				self.L.Next()
				return &Ref{
					Table:    id,
					Id:       col,
					CodeInfo: self.currentCodeInfo(start),
				}, nil

			case TkMul:
				if self.stage != stageInProjection {
					return nil, self.err("table.* can only be used in projection")
				}
				self.L.Next()
				return &Ref{
					Table:    id,
					Id:       "*",
					CodeInfo: self.currentCodeInfo(start),
				}, nil

			default:
				return nil, self.err("expect a column name after '.'")
			}

		default:
			return &Ref{
				Id:       id,
				CodeInfo: self.currentCodeInfo(start),
			}, nil
		}

	case TkLPar:
		self.L.Next()
		if self.isSelectStart() {
			sub, err := self.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := self.expect(TkRPar); err != nil {
				return nil, err
			}
			return &Subquery{
				Kind:     SubqueryScalar,
				Select:   sub,
				CodeInfo: self.currentCodeInfo(start),
			}, nil
		}

		// nested expression keeps the outer stage off, t.* is not an operand
		stage := self.stage
		self.stage = stageNA
		e, err := self.parseExpr()
		self.stage = stage
		if err != nil {
			return nil, err
		}
		if err := self.expect(TkRPar); err != nil {
			return nil, err
		}
		return e, nil

	case TkExists:
		self.L.Next()
		return self.parseSubquery(SubqueryExists, start)

	case TkCase:
		return self.parseCase(start)

	case TkCast:
		return self.parseCast(start)

	default:
		return nil, self.err("unexpected token for expression")
	}
}
