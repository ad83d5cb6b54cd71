// Package parser implements the S-expression reader for smog.
//
// The parser is one of the external collaborators spec.md §1 places out
// of scope for the compiler/VM/GC core; it exists here so the rest of
// the module has a concrete front end to drive end to end. It converts
// a token stream (from package lexer) directly into the Value graph
// spec.md §6 describes as the compiler's AST input: interior nodes are
// arrays tagged as forms — `(f a b)` parses into an Array whose first
// element is the symbol `f` — and there is no separate node hierarchy
// alongside Value.
//
// Parser Architecture:
//
// Recursive descent with one token of lookahead (curTok / peekTok), the
// same two-token-window style as a Pratt-free recursive descent reader:
// each grammar production is one parsing function, and functions call
// each other recursively to handle nesting.
//
// Grammar (informal):
//
//	Program   := Expr*
//	Expr      := Number | String | Symbol | True | False | Nil
//	           | '(' Expr* ')'             -- form
//	           | '[' Expr* ']'             -- sugar for (array Expr*)
//	           | '{' Expr* '}'             -- sugar for (dict Expr*)
//	           | "'" Expr                  -- sugar for (quote Expr)
//
// Error Handling:
//
// The parser records each error in the `errors` slice and stops at the
// first one: ParseProgram returns that error and parses nothing further.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/lexer"
	"github.com/kristofer/smog/pkg/value"
)

// Parser reads a token stream into Values. It is stateful and
// single-use: create a new one per source file or snippet.
type Parser struct {
	l      *lexer.Lexer
	alloc  *gc.Allocator
	curTok lexer.Token
	peekTok lexer.Token
	errors []string
}

// New creates a parser over src, allocating every Value it produces
// through alloc so the result is immediately GC-tracked.
func New(alloc *gc.Allocator, src string) *Parser {
	p := &Parser{l: lexer.New(src), alloc: alloc}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

// Errors returns every syntax error accumulated so far.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...)+
		fmt.Sprintf(" (line %d, column %d)", p.curTok.Line, p.curTok.Column))
}

// ParseProgram reads every top-level expression in the source. Multiple
// top-level expressions are wrapped in an implicit `(do ...)` form so
// CompileTopLevel always receives a single AST node; a single top-level
// expression is returned bare.
func (p *Parser) ParseProgram() (value.Value, error) {
	var exprs []value.Value
	for p.curTok.Type != lexer.TokenEOF {
		e, err := p.parseExpr()
		if err != nil {
			return value.Nil, err
		}
		exprs = append(exprs, e)
	}
	if len(p.errors) > 0 {
		return value.Nil, fmt.Errorf("parse errors: %v", p.errors)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	form := value.NewArray(p.alloc, len(exprs)+1)
	arr := form.AsArray()
	arr.Push(value.NewSymbol(p.alloc, "do"))
	for _, e := range exprs {
		arr.Push(e)
	}
	return form, nil
}

// parseExpr dispatches on the current token to the production it heads.
func (p *Parser) parseExpr() (value.Value, error) {
	switch p.curTok.Type {
	case lexer.TokenNumber:
		return p.parseNumber()
	case lexer.TokenString:
		v := value.NewString(p.alloc, p.curTok.Literal)
		p.nextToken()
		return v, nil
	case lexer.TokenSymbol:
		v := value.NewSymbol(p.alloc, p.curTok.Literal)
		p.nextToken()
		return v, nil
	case lexer.TokenTrue:
		p.nextToken()
		return value.Bool(true), nil
	case lexer.TokenFalse:
		p.nextToken()
		return value.Bool(false), nil
	case lexer.TokenNil:
		p.nextToken()
		return value.Nil, nil
	case lexer.TokenQuote:
		return p.parseQuote()
	case lexer.TokenLParen:
		return p.parseSeq(lexer.TokenRParen, "")
	case lexer.TokenLBracket:
		return p.parseSeq(lexer.TokenRBracket, "array")
	case lexer.TokenLBrace:
		return p.parseSeq(lexer.TokenRBrace, "dict")
	default:
		p.errorf("unexpected token %s %q", p.curTok.Type, p.curTok.Literal)
		p.nextToken()
		return value.Nil, fmt.Errorf("%s", p.errors[len(p.errors)-1])
	}
}

func (p *Parser) parseNumber() (value.Value, error) {
	n, err := strconv.ParseFloat(p.curTok.Literal, 64)
	if err != nil {
		p.errorf("invalid number literal %q", p.curTok.Literal)
		p.nextToken()
		return value.Nil, fmt.Errorf("%s", p.errors[len(p.errors)-1])
	}
	p.nextToken()
	return value.Number(n), nil
}

// parseQuote reads `'expr` as sugar for `(quote expr)`.
func (p *Parser) parseQuote() (value.Value, error) {
	p.nextToken() // consume '
	inner, err := p.parseExpr()
	if err != nil {
		return value.Nil, err
	}
	form := value.NewArray(p.alloc, 2)
	arr := form.AsArray()
	arr.Push(value.NewSymbol(p.alloc, "quote"))
	arr.Push(inner)
	return form, nil
}

// parseSeq reads a parenthesized/bracketed/braced sequence of
// sub-expressions up to close. When head is non-empty it is prepended
// as a leading symbol — the desugaring for `[...]` and `{...}` literal
// syntax into `(array ...)` / `(dict ...)` forms (spec.md §6: array and
// dict literals produce actual runtime containers, constructed the same
// way the `array`/`dict` special forms construct them dynamically).
func (p *Parser) parseSeq(close lexer.TokenType, head string) (value.Value, error) {
	openLine := p.curTok.Line
	p.nextToken() // consume opening delimiter

	var elems []value.Value
	for p.curTok.Type != close {
		if p.curTok.Type == lexer.TokenEOF {
			p.errorf("unexpected EOF, unterminated sequence opened at line %d", openLine)
			return value.Nil, fmt.Errorf("%s", p.errors[len(p.errors)-1])
		}
		e, err := p.parseExpr()
		if err != nil {
			return value.Nil, err
		}
		elems = append(elems, e)
	}
	p.nextToken() // consume closing delimiter

	n := len(elems)
	if head != "" {
		n++
	}
	form := value.NewArray(p.alloc, n)
	arr := form.AsArray()
	if head != "" {
		arr.Push(value.NewSymbol(p.alloc, head))
	}
	for _, e := range elems {
		arr.Push(e)
	}
	return form, nil
}
