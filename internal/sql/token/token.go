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

// Package token defines the lexical tokens of the engine's SQL dialect,
// the parser-facing half of spec.md section 4.8's SQL planner input.
package token

// Type identifies a lexical token's category.
type Type int

const (
	ILLEGAL Type = iota
	EOF

	// Identifiers and literals
	IDENT
	INT
	FLOAT
	STRING

	// Operators
	PLUS
	MINUS
	ASTERISK
	SLASH
	PERCENT
	EQ
	NEQ
	LT
	GT
	LTE
	GTE
	CONCAT // ||

	// Delimiters
	COMMA
	SEMICOLON
	LPAREN
	RPAREN
	DOT

	keyword_beg
	SELECT
	FROM
	WHERE
	GROUP
	BY
	HAVING
	ORDER
	LIMIT
	OFFSET
	AS
	DISTINCT
	ALL
	JOIN
	INNER
	LEFT
	RIGHT
	FULL
	OUTER
	CROSS
	ON
	AND
	OR
	NOT
	IN
	EXISTS
	BETWEEN
	LIKE
	ILIKE
	IS
	NULL
	TRUE
	FALSE
	ASC
	DESC
	NULLS
	FIRST
	LAST
	UNION
	INTERSECT
	EXCEPT
	CASE
	WHEN
	THEN
	ELSE
	END
	CAST
	OVER
	PARTITION
	ROWS
	RANGE
	UNBOUNDED
	PRECEDING
	FOLLOWING
	CURRENT
	ROW
	FILTER
	CREATE
	TABLE
	DROP
	IF
	REPLACE
	INSERT
	INTO
	VALUES
	WITH
	RECURSIVE
	keyword_end
)

var tokenNames = map[Type]string{
	ILLEGAL: "ILLEGAL", EOF: "EOF", IDENT: "IDENT", INT: "INT", FLOAT: "FLOAT",
	STRING: "STRING", PLUS: "+", MINUS: "-", ASTERISK: "*", SLASH: "/",
	PERCENT: "%", EQ: "=", NEQ: "<>", LT: "<", GT: ">", LTE: "<=", GTE: ">=",
	CONCAT: "||", COMMA: ",", SEMICOLON: ";", LPAREN: "(", RPAREN: ")", DOT: ".",
}

var keywords = map[string]Type{
	"SELECT": SELECT, "FROM": FROM, "WHERE": WHERE, "GROUP": GROUP, "BY": BY,
	"HAVING": HAVING, "ORDER": ORDER, "LIMIT": LIMIT, "OFFSET": OFFSET,
	"AS": AS, "DISTINCT": DISTINCT, "ALL": ALL, "JOIN": JOIN, "INNER": INNER,
	"LEFT": LEFT, "RIGHT": RIGHT, "FULL": FULL, "OUTER": OUTER, "CROSS": CROSS,
	"ON": ON, "AND": AND, "OR": OR, "NOT": NOT, "IN": IN, "EXISTS": EXISTS,
	"BETWEEN": BETWEEN, "LIKE": LIKE, "ILIKE": ILIKE, "IS": IS, "NULL": NULL,
	"TRUE": TRUE, "FALSE": FALSE, "ASC": ASC, "DESC": DESC, "NULLS": NULLS,
	"FIRST": FIRST, "LAST": LAST, "UNION": UNION, "INTERSECT": INTERSECT,
	"EXCEPT": EXCEPT, "CASE": CASE, "WHEN": WHEN, "THEN": THEN, "ELSE": ELSE,
	"END": END, "CAST": CAST, "OVER": OVER, "PARTITION": PARTITION,
	"ROWS": ROWS, "RANGE": RANGE, "UNBOUNDED": UNBOUNDED, "PRECEDING": PRECEDING,
	"FOLLOWING": FOLLOWING, "CURRENT": CURRENT, "ROW": ROW, "FILTER": FILTER,
	"CREATE": CREATE, "TABLE": TABLE, "DROP": DROP, "IF": IF, "REPLACE": REPLACE,
	"INSERT": INSERT, "INTO": INTO, "VALUES": VALUES,
	"WITH": WITH, "RECURSIVE": RECURSIVE,
}

// String returns the canonical spelling of a token type, the symbol
// text for punctuation and the upper-cased keyword for the rest.
func (t Type) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	for kw, typ := range keywords {
		if typ == t {
			return kw
		}
	}
	return "UNKNOWN"
}

// LookupIdent classifies ident as a keyword token or a plain IDENT.
func LookupIdent(ident string) Type {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

func (t Type) IsKeyword() bool { return t > keyword_beg && t < keyword_end }

// Token is one scanned lexeme with its source position.
type Token struct {
	Type    Type
	Literal string
	Line    int
	Column  int
}
