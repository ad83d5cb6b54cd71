package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextToken_Delimiters(t *testing.T) {
	l := New("( ) [ ] { } '")
	want := []TokenType{
		TokenLParen, TokenRParen, TokenLBracket, TokenRBracket,
		TokenLBrace, TokenRBrace, TokenQuote, TokenEOF,
	}
	for i, wt := range want {
		tok := l.NextToken()
		require.Equalf(t, wt, tok.Type, "token %d", i)
	}
}

func TestNextToken_Numbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"-7", "-7"},
		{"3.14", "3.14"},
		{"-0.5", "-0.5"},
		{"1e10", "1e10"},
		{"1e-10", "1e-10"},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		require.Equal(t, TokenNumber, tok.Type, tt.input)
		require.Equal(t, tt.want, tok.Literal, tt.input)
	}
}

func TestNextToken_String(t *testing.T) {
	l := New(`"hello\nworld"`)
	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	require.Equal(t, "hello\nworld", tok.Literal)
}

func TestNextToken_UnterminatedString(t *testing.T) {
	l := New(`"oops`)
	tok := l.NextToken()
	require.Equal(t, TokenIllegal, tok.Type)
}

func TestNextToken_SymbolsAndKeywords(t *testing.T) {
	l := New("+ - fact make-adder true false nil")
	tests := []struct {
		typ TokenType
		lit string
	}{
		{TokenSymbol, "+"},
		{TokenSymbol, "-"},
		{TokenSymbol, "fact"},
		{TokenSymbol, "make-adder"},
		{TokenTrue, "true"},
		{TokenFalse, "false"},
		{TokenNil, "nil"},
	}
	for _, tt := range tests {
		tok := l.NextToken()
		require.Equal(t, tt.typ, tok.Type, tt.lit)
		require.Equal(t, tt.lit, tok.Literal)
	}
}

func TestNextToken_CommentsAndWhitespace(t *testing.T) {
	l := New("; a comment\n  42 ; trailing\n")
	tok := l.NextToken()
	require.Equal(t, TokenNumber, tok.Type)
	require.Equal(t, "42", tok.Literal)
	require.Equal(t, TokenEOF, l.NextToken().Type)
}

func TestTokenize_FactorialSource(t *testing.T) {
	src := `(do (:= fact (fn [n acc] (if (= n 0) acc (fact (- n 1) (* acc n))))) (fact 10 1))`
	toks, err := New(src).Tokenize()
	require.NoError(t, err)
	require.Equal(t, TokenEOF, toks[len(toks)-1].Type)
	var opens, closes int
	for _, tok := range toks {
		if tok.Type == TokenLParen {
			opens++
		}
		if tok.Type == TokenRParen {
			closes++
		}
	}
	require.Equal(t, opens, closes)
}
