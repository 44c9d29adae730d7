// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package parser implements a Pratt (precedence-climbing) parser for
// the engine's SQL dialect, in the same registerPrefix/registerInfix
// idiom as github.com/ha1tch/tsqlparser/parser from the retrieval pack.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/sql/lexer"
	"github.com/vellumdb/vellum/internal/sql/token"
)

const (
	_ int = iota
	LOWEST
	OR_PREC
	AND_PREC
	NOT_PREC
	COMPARE
	BETWEEN_PREC
	CONCAT_PREC
	SUM
	PRODUCT
	PREFIX
	CALL
	INDEX
)

var precedences = map[token.Type]int{
	token.OR:       OR_PREC,
	token.AND:      AND_PREC,
	token.EQ:       COMPARE,
	token.NEQ:      COMPARE,
	token.LT:       COMPARE,
	token.GT:       COMPARE,
	token.LTE:      COMPARE,
	token.GTE:      COMPARE,
	token.IS:       COMPARE,
	token.LIKE:     BETWEEN_PREC,
	token.ILIKE:    BETWEEN_PREC,
	token.BETWEEN:  BETWEEN_PREC,
	token.IN:       BETWEEN_PREC,
	token.CONCAT:   CONCAT_PREC,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.ASTERISK: PRODUCT,
	token.SLASH:    PRODUCT,
	token.PERCENT:  PRODUCT,
	token.LPAREN:   CALL,
	token.DOT:      INDEX,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser turns a token stream into an AST. errors accumulates parse
// failures the way plan/pir's errorf records one error per offending
// construct rather than aborting at the first.
type Parser struct {
	l      *lexer.Lexer
	errors []string

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.Type]prefixParseFn
	infixParseFns  map[token.Type]infixParseFn
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l, errors: []string{}}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifierOrCall)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.FLOAT, p.parseFloatLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.TRUE, p.parseBoolLiteral)
	p.registerPrefix(token.FALSE, p.parseBoolLiteral)
	p.registerPrefix(token.NULL, p.parseNullLiteral)
	p.registerPrefix(token.ASTERISK, p.parseStar)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.NOT, p.parseNotExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedOrSubquery)
	p.registerPrefix(token.CASE, p.parseCaseExpression)
	p.registerPrefix(token.CAST, p.parseCastExpression)
	p.registerPrefix(token.EXISTS, p.parseExistsExpression)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	for _, t := range []token.Type{token.PLUS, token.MINUS, token.ASTERISK, token.SLASH,
		token.PERCENT, token.EQ, token.NEQ, token.LT, token.GT, token.LTE, token.GTE,
		token.AND, token.OR, token.CONCAT} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(token.DOT, p.parseDotExpression)
	p.registerInfix(token.BETWEEN, p.parseBetweenExpression)
	p.registerInfix(token.NOT, p.parseNotInfixExpression)
	p.registerInfix(token.IN, p.parseInExpression)
	p.registerInfix(token.LIKE, p.parseLikeExpression)
	p.registerInfix(token.ILIKE, p.parseLikeExpression)
	p.registerInfix(token.IS, p.parseIsExpression)

	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) registerPrefix(t token.Type, fn prefixParseFn) { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.Type, fn infixParseFn)   { p.infixParseFns[t] = fn }

func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curIs(t token.Type) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t token.Type) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("line %d: expected %s, got %s (%q)", p.peekToken.Line, t, p.peekToken.Type, p.peekToken.Literal)
	return false
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseProgram parses a ';'-separated sequence of statements.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.curIs(token.EOF) {
		if p.curIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		for !p.curIs(token.SEMICOLON) && !p.curIs(token.EOF) {
			p.nextToken()
		}
	}
	return prog
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.WITH:
		return p.parseWithStatement()
	case token.SELECT:
		return p.parseSelectStatement()
	case token.CREATE:
		return p.parseCreateTableStatement()
	case token.DROP:
		return p.parseDropTableStatement()
	case token.INSERT:
		return p.parseInsertStatement()
	default:
		p.errorf("line %d: unexpected token %s at start of statement", p.curToken.Line, p.curToken.Type)
		return nil
	}
}

// ---- WITH / CTEs ----

// parseWithStatement parses `WITH [RECURSIVE] name [(cols)] AS (query)
// [, ...] <select>` and attaches the bindings to the final SELECT, the
// way the trailing statement is the only one the planner ever sees as
// a top-level Query result.
func (p *Parser) parseWithStatement() *ast.SelectStatement {
	if p.peekIs(token.RECURSIVE) {
		p.nextToken()
	}
	var ctes []ast.CTE
	for {
		if !p.expectPeek(token.IDENT) {
			return &ast.SelectStatement{Token: p.curToken}
		}
		cte := ast.CTE{Name: p.curToken.Literal}
		if p.peekIs(token.LPAREN) {
			p.nextToken()
			p.nextToken()
			for !p.curIs(token.RPAREN) {
				cte.Cols = append(cte.Cols, p.curToken.Literal)
				p.nextToken()
				if p.curIs(token.COMMA) {
					p.nextToken()
				}
			}
		}
		if !p.expectPeek(token.AS) {
			return &ast.SelectStatement{Token: p.curToken}
		}
		if !p.expectPeek(token.LPAREN) {
			return &ast.SelectStatement{Token: p.curToken}
		}
		p.nextToken()
		cte.Query = p.parseSelectStatement()
		if !p.expectPeek(token.RPAREN) {
			return &ast.SelectStatement{Token: p.curToken}
		}
		ctes = append(ctes, cte)
		if p.peekIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		break
	}
	if !p.expectPeek(token.SELECT) {
		return &ast.SelectStatement{Token: p.curToken}
	}
	stmt := p.parseSelectStatement()
	stmt.With = ctes
	return stmt
}

// ---- SELECT ----

func (p *Parser) parseSelectStatement() *ast.SelectStatement {
	stmt := &ast.SelectStatement{Token: p.curToken}
	if p.peekIs(token.DISTINCT) {
		p.nextToken()
		stmt.Distinct = true
	} else if p.peekIs(token.ALL) {
		p.nextToken()
	}

	p.nextToken()
	stmt.Items = p.parseSelectList()

	if p.peekIs(token.FROM) {
		p.nextToken()
		p.nextToken()
		stmt.From = p.parseTableExpr(LOWEST)
		// a comma-separated FROM list desugars to chained CROSS JOINs,
		// per spec.md section 4.8's "multi-table FROM ... desugared to
		// chained CROSS JOINs."
		for p.peekIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			right := p.parseTableExpr(LOWEST)
			stmt.From = &ast.JoinExpr{Token: p.curToken, Kind: "cross", Left: stmt.From, Right: right}
		}
	}
	if p.peekIs(token.WHERE) {
		p.nextToken()
		p.nextToken()
		stmt.Where = p.parseExpression(LOWEST)
	}
	if p.peekIs(token.GROUP) {
		p.nextToken()
		if !p.expectPeek(token.BY) {
			return stmt
		}
		p.nextToken()
		stmt.GroupBy = p.parseExpressionList()
	}
	if p.peekIs(token.HAVING) {
		p.nextToken()
		p.nextToken()
		stmt.Having = p.parseExpression(LOWEST)
	}
	for p.peekIs(token.UNION) || p.peekIs(token.INTERSECT) || p.peekIs(token.EXCEPT) {
		p.nextToken()
		kind := strings.ToLower(p.curToken.Type.String())
		all := false
		if p.peekIs(token.ALL) {
			p.nextToken()
			all = true
		} else if p.peekIs(token.DISTINCT) {
			p.nextToken()
		}
		if !p.expectPeek(token.SELECT) {
			return stmt
		}
		right := p.parseSelectStatement()
		stmt.SetOps = append(stmt.SetOps, ast.SetOp{Kind: kind, All: all, Right: right})
	}
	if p.peekIs(token.ORDER) {
		p.nextToken()
		if !p.expectPeek(token.BY) {
			return stmt
		}
		p.nextToken()
		stmt.OrderBy = p.parseOrderKeys()
	}
	if p.peekIs(token.LIMIT) {
		p.nextToken()
		p.nextToken()
		stmt.Limit = p.parseExpression(LOWEST)
	}
	if p.peekIs(token.OFFSET) {
		p.nextToken()
		p.nextToken()
		stmt.Offset = p.parseExpression(LOWEST)
	}
	return stmt
}

func (p *Parser) parseSelectList() []ast.SelectItem {
	var items []ast.SelectItem
	items = append(items, p.parseSelectItem())
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		items = append(items, p.parseSelectItem())
	}
	return items
}

func (p *Parser) parseSelectItem() ast.SelectItem {
	expr := p.parseExpression(LOWEST)
	item := ast.SelectItem{Expr: expr}
	if p.peekIs(token.AS) {
		p.nextToken()
		p.nextToken()
		item.Alias = p.curToken.Literal
	} else if p.peekIs(token.IDENT) {
		p.nextToken()
		item.Alias = p.curToken.Literal
	}
	return item
}

func (p *Parser) parseExpressionList() []ast.Expression {
	var list []ast.Expression
	list = append(list, p.parseExpression(LOWEST))
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}
	return list
}

func (p *Parser) parseOrderKeys() []ast.OrderKey {
	var keys []ast.OrderKey
	keys = append(keys, p.parseOrderKey())
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		keys = append(keys, p.parseOrderKey())
	}
	return keys
}

func (p *Parser) parseOrderKey() ast.OrderKey {
	k := ast.OrderKey{Expr: p.parseExpression(LOWEST)}
	if p.peekIs(token.ASC) {
		p.nextToken()
	} else if p.peekIs(token.DESC) {
		p.nextToken()
		k.Desc = true
	}
	if p.peekIs(token.NULLS) {
		p.nextToken()
		if p.peekIs(token.FIRST) {
			p.nextToken()
			k.NullsFirst, k.NullsSet = true, true
		} else if p.peekIs(token.LAST) {
			p.nextToken()
			k.NullsFirst, k.NullsSet = false, true
		}
	}
	return k
}

// ---- FROM / joins ----

func (p *Parser) parseTableExpr(precedence int) ast.TableExpr {
	left := p.parsePrimaryTableExpr()
	for {
		kind, ok := p.peekJoinKind()
		if !ok {
			break
		}
		p.consumeJoinKeyword()
		if !p.expectPeek(token.JOIN) {
			return left
		}
		p.nextToken()
		right := p.parsePrimaryTableExpr()
		j := &ast.JoinExpr{Token: p.curToken, Kind: kind, Left: left, Right: right}
		if kind != "cross" {
			if !p.expectPeek(token.ON) {
				return left
			}
			p.nextToken()
			j.On = p.parseExpression(LOWEST)
		}
		left = j
	}
	return left
}

// peekJoinKind inspects the upcoming tokens for a join keyword sequence
// without consuming them, reporting the join kind if one is present.
func (p *Parser) peekJoinKind() (string, bool) {
	switch p.peekToken.Type {
	case token.JOIN:
		return "inner", true
	case token.INNER:
		return "inner", true
	case token.CROSS:
		return "cross", true
	case token.LEFT:
		return "left", true
	case token.RIGHT:
		return "right", true
	case token.FULL:
		return "full", true
	}
	return "", false
}

// consumeJoinKeyword advances past the join-kind keyword(s) preceding
// the mandatory JOIN token (e.g. "LEFT OUTER", "INNER", "CROSS").
func (p *Parser) consumeJoinKeyword() {
	p.nextToken()
	switch p.curToken.Type {
	case token.LEFT, token.RIGHT, token.FULL:
		if p.peekIs(token.OUTER) {
			p.nextToken()
		}
	}
}

func (p *Parser) parsePrimaryTableExpr() ast.TableExpr {
	if p.curIs(token.LPAREN) {
		tok := p.curToken
		p.nextToken()
		if p.curIs(token.SELECT) {
			sub := p.parseSelectStatement()
			if !p.expectPeek(token.RPAREN) {
				return nil
			}
			d := &ast.DerivedTable{Token: tok, Query: sub}
			p.parseOptionalAlias(&d.Alias)
			return d
		}
		inner := p.parseTableExpr(LOWEST)
		if !p.expectPeek(token.RPAREN) {
			return inner
		}
		return inner
	}
	name := p.curToken.Literal
	tok := p.curToken
	if p.peekIs(token.LPAREN) {
		p.nextToken()
		p.nextToken()
		var args []ast.Expression
		if !p.curIs(token.RPAREN) {
			args = p.parseExpressionList()
			if !p.expectPeek(token.RPAREN) {
				return nil
			}
		}
		t := &ast.TableName{Token: tok, Func: name, Args: args}
		p.parseOptionalAlias(&t.Alias)
		return t
	}
	t := &ast.TableName{Token: tok, Name: name}
	p.parseOptionalAlias(&t.Alias)
	return t
}

func (p *Parser) parseOptionalAlias(alias *string) {
	if p.peekIs(token.AS) {
		p.nextToken()
		p.nextToken()
		*alias = p.curToken.Literal
	} else if p.peekIs(token.IDENT) {
		p.nextToken()
		*alias = p.curToken.Literal
	}
}

// ---- expressions ----

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.errorf("line %d: no prefix parse function for %s (%q)", p.curToken.Line, p.curToken.Type, p.curToken.Literal)
		return nil
	}
	left := prefix()

	for !p.peekIs(token.SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifierOrCall() ast.Expression {
	tok := p.curToken
	name := p.curToken.Literal
	if p.peekIs(token.LPAREN) {
		return p.parseFunctionCall(tok, name)
	}
	return &ast.Identifier{Token: tok, Value: name}
}

func (p *Parser) parseFunctionCall(tok token.Token, name string) ast.Expression {
	p.nextToken() // consume LPAREN
	fc := &ast.FunctionCall{Token: tok, Name: name}
	p.nextToken()
	if p.curIs(token.DISTINCT) {
		fc.Distinct = true
		p.nextToken()
	}
	if p.curIs(token.ASTERISK) && p.peekIs(token.RPAREN) {
		fc.Args = []ast.Expression{&ast.Star{Token: p.curToken}}
		p.nextToken()
	} else if !p.curIs(token.RPAREN) {
		fc.Args = append(fc.Args, p.parseExpression(LOWEST))
		for p.peekIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			fc.Args = append(fc.Args, p.parseExpression(LOWEST))
		}
		if !p.expectPeek(token.RPAREN) {
			return fc
		}
	}
	if p.peekIs(token.FILTER) {
		p.nextToken()
		if !p.expectPeek(token.LPAREN) {
			return fc
		}
		if !p.expectPeek(token.WHERE) {
			return fc
		}
		p.nextToken()
		fc.FilterWhere = p.parseExpression(LOWEST)
		if !p.expectPeek(token.RPAREN) {
			return fc
		}
	}
	if p.peekIs(token.OVER) {
		p.nextToken()
		fc.Over = p.parseWindowSpec()
	}
	return fc
}

func (p *Parser) parseWindowSpec() *ast.WindowSpec {
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	spec := &ast.WindowSpec{}
	if p.peekIs(token.PARTITION) {
		p.nextToken()
		if !p.expectPeek(token.BY) {
			return spec
		}
		p.nextToken()
		spec.PartitionBy = p.parseExpressionList()
	}
	if p.peekIs(token.ORDER) {
		p.nextToken()
		if !p.expectPeek(token.BY) {
			return spec
		}
		p.nextToken()
		spec.OrderBy = p.parseOrderKeys()
	}
	if p.peekIs(token.ROWS) || p.peekIs(token.RANGE) {
		p.nextToken()
		spec.HasFrame = true
		spec.FrameRows = p.curIs(token.ROWS)
		p.nextToken()
		if p.curIs(token.BETWEEN) {
			p.nextToken()
			spec.Start = p.parseFrameBound()
			if !p.expectPeek(token.AND) {
				return spec
			}
			p.nextToken()
			spec.End = p.parseFrameBound()
		} else {
			// single-bound frame: START defaults END to CURRENT ROW
			spec.Start = p.parseFrameBound()
			spec.End = ast.FrameBound{Current: true}
		}
	}
	if !p.expectPeek(token.RPAREN) {
		return spec
	}
	return spec
}

func (p *Parser) parseFrameBound() ast.FrameBound {
	if p.curIs(token.UNBOUNDED) {
		p.nextToken()
		b := ast.FrameBound{Unbounded: true, Preceding: p.curIs(token.PRECEDING)}
		return b
	}
	if p.curIs(token.CURRENT) {
		p.nextToken() // ROW
		return ast.FrameBound{Current: true}
	}
	n, _ := strconv.ParseInt(p.curToken.Literal, 10, 64)
	p.nextToken()
	preceding := p.curIs(token.PRECEDING)
	return ast.FrameBound{Offset: n, Preceding: preceding}
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	v, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		p.errorf("line %d: invalid integer literal %q", p.curToken.Line, p.curToken.Literal)
	}
	return &ast.IntegerLiteral{Token: p.curToken, Value: v}
}

func (p *Parser) parseFloatLiteral() ast.Expression {
	v, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.errorf("line %d: invalid float literal %q", p.curToken.Line, p.curToken.Literal)
	}
	return &ast.FloatLiteral{Token: p.curToken, Value: v}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBoolLiteral() ast.Expression {
	return &ast.BoolLiteral{Token: p.curToken, Value: p.curIs(token.TRUE)}
}

func (p *Parser) parseNullLiteral() ast.Expression {
	return &ast.NullLiteral{Token: p.curToken}
}

func (p *Parser) parseStar() ast.Expression {
	return &ast.Star{Token: p.curToken}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	tok := p.curToken
	op := p.curToken.Literal
	p.nextToken()
	right := p.parseExpression(PREFIX)
	return &ast.PrefixExpression{Token: tok, Operator: op, Right: right}
}

func (p *Parser) parseNotExpression() ast.Expression {
	tok := p.curToken
	if p.peekIs(token.EXISTS) {
		p.nextToken()
		ee := p.parseExistsExpression().(*ast.ExistsExpression)
		ee.Not = true
		return ee
	}
	p.nextToken()
	right := p.parseExpression(NOT_PREC)
	return &ast.PrefixExpression{Token: tok, Operator: "NOT", Right: right}
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	op := p.curToken.Literal
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.InfixExpression{Token: tok, Left: left, Operator: op, Right: right}
}

func (p *Parser) parseDotExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	rightName := p.curToken.Literal
	var parts []string
	switch l := left.(type) {
	case *ast.Identifier:
		parts = []string{l.Value, rightName}
	case *ast.QualifiedIdentifier:
		parts = append(append([]string{}, l.Parts...), rightName)
	default:
		p.errorf("line %d: invalid left side of '.'", tok.Line)
	}
	return &ast.QualifiedIdentifier{Token: tok, Parts: parts}
}

func (p *Parser) parseBetweenExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	low := p.parseExpression(CONCAT_PREC)
	if !p.expectPeek(token.AND) {
		return nil
	}
	p.nextToken()
	high := p.parseExpression(BETWEEN_PREC)
	return &ast.BetweenExpression{Token: tok, Expr: left, Low: low, High: high}
}

// parseNotInfixExpression handles NOT arriving in infix position, i.e.
// `expr NOT BETWEEN/IN/LIKE ...`.
func (p *Parser) parseNotInfixExpression(left ast.Expression) ast.Expression {
	switch p.peekToken.Type {
	case token.BETWEEN:
		p.nextToken()
		be := p.parseBetweenExpression(left).(*ast.BetweenExpression)
		be.Not = true
		return be
	case token.IN:
		p.nextToken()
		ie := p.parseInExpression(left).(*ast.InExpression)
		ie.Not = true
		return ie
	case token.LIKE, token.ILIKE:
		p.nextToken()
		le := p.parseLikeExpression(left).(*ast.LikeExpression)
		le.Not = true
		return le
	}
	p.errorf("line %d: unexpected NOT in infix position", p.curToken.Line)
	return left
}

func (p *Parser) parseInExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	ie := &ast.InExpression{Token: tok, Left: left}
	p.nextToken()
	if p.curIs(token.SELECT) {
		ie.Subquery = p.parseSelectStatement()
	} else {
		ie.List = append(ie.List, p.parseExpression(LOWEST))
		for p.peekIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			ie.List = append(ie.List, p.parseExpression(LOWEST))
		}
	}
	if !p.expectPeek(token.RPAREN) {
		return ie
	}
	return ie
}

func (p *Parser) parseLikeExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	ci := p.curIs(token.ILIKE)
	p.nextToken()
	pattern := p.parseExpression(BETWEEN_PREC)
	return &ast.LikeExpression{Token: tok, Left: left, CaseInsens: ci, Pattern: pattern}
}

func (p *Parser) parseIsExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	not := false
	if p.peekIs(token.NOT) {
		p.nextToken()
		not = true
	}
	if !p.expectPeek(token.NULL) {
		return nil
	}
	return &ast.IsNullExpression{Token: tok, Left: left, Not: not}
}

func (p *Parser) parseGroupedOrSubquery() ast.Expression {
	tok := p.curToken
	p.nextToken()
	if p.curIs(token.SELECT) {
		sub := p.parseSelectStatement()
		if !p.expectPeek(token.RPAREN) {
			return nil
		}
		return &ast.ScalarSubquery{Token: tok, Query: sub}
	}
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseCaseExpression() ast.Expression {
	tok := p.curToken
	ce := &ast.CaseExpression{Token: tok}
	p.nextToken()
	if !p.curIs(token.WHEN) {
		ce.Value = p.parseExpression(LOWEST)
		p.nextToken()
	}
	for p.curIs(token.WHEN) {
		p.nextToken()
		cond := p.parseExpression(LOWEST)
		if !p.expectPeek(token.THEN) {
			return ce
		}
		p.nextToken()
		result := p.parseExpression(LOWEST)
		ce.Whens = append(ce.Whens, ast.WhenClause{Condition: cond, Result: result})
		p.nextToken()
	}
	if p.curIs(token.ELSE) {
		p.nextToken()
		ce.Else = p.parseExpression(LOWEST)
		p.nextToken()
	}
	if !p.curIs(token.END) {
		p.errorf("line %d: expected END to close CASE", p.curToken.Line)
	}
	return ce
}

func (p *Parser) parseCastExpression() ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.AS) {
		return nil
	}
	p.nextToken()
	target := p.curToken.Literal
	for p.peekIs(token.IDENT) {
		p.nextToken()
		target += " " + p.curToken.Literal
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return &ast.CastExpression{Token: tok, Expr: expr, Target: strings.ToUpper(target)}
}

func (p *Parser) parseExistsExpression() ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	if !p.expectPeek(token.SELECT) {
		return nil
	}
	sub := p.parseSelectStatement()
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return &ast.ExistsExpression{Token: tok, Subquery: sub}
}

// ---- DDL ----

func (p *Parser) parseCreateTableStatement() *ast.CreateTableStatement {
	stmt := &ast.CreateTableStatement{Token: p.curToken}
	if p.peekIs(token.OR) {
		p.nextToken()
		if !p.expectPeek(token.REPLACE) {
			return stmt
		}
		stmt.OrReplace = true
	}
	if !p.expectPeek(token.TABLE) {
		return stmt
	}
	if p.peekIs(token.IF) {
		p.nextToken()
		if !p.expectPeek(token.NOT) {
			return stmt
		}
		if !p.expectPeek(token.EXISTS) {
			return stmt
		}
		stmt.IfNotExists = true
	}
	if !p.expectPeek(token.IDENT) {
		return stmt
	}
	stmt.Name = p.curToken.Literal

	if p.peekIs(token.AS) {
		p.nextToken()
		if !p.expectPeek(token.SELECT) {
			return stmt
		}
		stmt.AsSelect = p.parseSelectStatement()
		return stmt
	}

	if !p.expectPeek(token.LPAREN) {
		return stmt
	}
	p.nextToken()
	for !p.curIs(token.RPAREN) {
		name := p.curToken.Literal
		p.nextToken()
		typ := p.curToken.Literal
		for p.peekIs(token.IDENT) {
			p.nextToken()
			typ += " " + p.curToken.Literal
		}
		stmt.Columns = append(stmt.Columns, ast.ColumnDef{Name: name, Type: strings.ToUpper(typ)})
		if p.peekIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseDropTableStatement() *ast.DropTableStatement {
	stmt := &ast.DropTableStatement{Token: p.curToken}
	if !p.expectPeek(token.TABLE) {
		return stmt
	}
	if p.peekIs(token.IF) {
		p.nextToken()
		if !p.expectPeek(token.EXISTS) {
			return stmt
		}
		stmt.IfExists = true
	}
	if !p.expectPeek(token.IDENT) {
		return stmt
	}
	stmt.Name = p.curToken.Literal
	return stmt
}

func (p *Parser) parseInsertStatement() *ast.InsertStatement {
	stmt := &ast.InsertStatement{Token: p.curToken}
	if !p.expectPeek(token.INTO) {
		return stmt
	}
	if !p.expectPeek(token.IDENT) {
		return stmt
	}
	stmt.Table = p.curToken.Literal
	if p.peekIs(token.LPAREN) {
		p.nextToken()
		p.nextToken()
		for !p.curIs(token.RPAREN) {
			stmt.Columns = append(stmt.Columns, p.curToken.Literal)
			p.nextToken()
			if p.curIs(token.COMMA) {
				p.nextToken()
			}
		}
	}
	if p.peekIs(token.VALUES) {
		p.nextToken()
		for {
			if !p.expectPeek(token.LPAREN) {
				return stmt
			}
			p.nextToken()
			row := p.parseExpressionList()
			stmt.Values = append(stmt.Values, row)
			if !p.expectPeek(token.RPAREN) {
				return stmt
			}
			if p.peekIs(token.COMMA) {
				p.nextToken()
				continue
			}
			break
		}
		return stmt
	}
	if p.peekIs(token.SELECT) {
		p.nextToken()
		stmt.Query = p.parseSelectStatement()
	}
	return stmt
}
