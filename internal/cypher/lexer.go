package cypher

import (
	"fmt"
	"strings"
)

// TokenType classifies a lexer token.
type TokenType int

const (
	TokMatch TokenType = iota
	TokWhere
	TokReturn
	TokOrder
	TokBy
	TokSkip
	TokLimit
	TokAnd
	TokOr
	TokNot
	TokAs
	TokDistinct
	TokCount
	TokContains
	TokStarts
	TokEnds
	TokWith
	TokAsc
	TokDesc

	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokLBrace
	TokRBrace
	TokDash
	TokGT
	TokLT
	TokGTE
	TokLTE
	TokEQ
	TokNEQ
	TokRegex
	TokColon
	TokDot
	TokDotDot
	TokStar
	TokComma
	TokPipe

	TokIdent
	TokString
	TokNumber

	TokEOF
)

// Token is a single lexer token.
type Token struct {
	Type  TokenType
	Value string
	Pos   int // byte offset in the input
}

func (t Token) String() string {
	if t.Type == TokEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q at pos %d", t.Value, t.Pos)
}

var keywords = map[string]TokenType{
	"MATCH":    TokMatch,
	"WHERE":    TokWhere,
	"RETURN":   TokReturn,
	"ORDER":    TokOrder,
	"BY":       TokBy,
	"SKIP":     TokSkip,
	"LIMIT":    TokLimit,
	"AND":      TokAnd,
	"OR":       TokOr,
	"NOT":      TokNot,
	"AS":       TokAs,
	"DISTINCT": TokDistinct,
	"COUNT":    TokCount,
	"CONTAINS": TokContains,
	"STARTS":   TokStarts,
	"ENDS":     TokEnds,
	"WITH":     TokWith,
	"ASC":      TokAsc,
	"DESC":     TokDesc,
}

// symbols lists operator spellings, longest first.
var symbols = []struct {
	text string
	typ  TokenType
}{
	{"<>", TokNEQ}, {"!=", TokNEQ}, {"<=", TokLTE}, {">=", TokGTE}, {"=~", TokRegex}, {"..", TokDotDot},
	{"(", TokLParen}, {")", TokRParen}, {"[", TokLBracket}, {"]", TokRBracket},
	{"{", TokLBrace}, {"}", TokRBrace}, {"-", TokDash}, {">", TokGT}, {"<", TokLT},
	{"=", TokEQ}, {":", TokColon}, {".", TokDot}, {"*", TokStar}, {",", TokComma}, {"|", TokPipe},
}

// Lex splits a query into tokens. The last token is always TokEOF.
func Lex(input string) ([]Token, error) {
	var out []Token
	pos := 0
	for pos < len(input) {
		ch := input[pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			pos++
			continue
		case strings.HasPrefix(input[pos:], "//"):
			for pos < len(input) && input[pos] != '\n' {
				pos++
			}
			continue
		case strings.HasPrefix(input[pos:], "/*"):
			end := strings.Index(input[pos+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at pos %d", pos)
			}
			pos += end + 4
			continue
		case ch == '"' || ch == '\'':
			tok, next, err := lexString(input, pos)
			if err != nil {
				return nil, err
			}
			out = append(out, tok)
			pos = next
			continue
		case isDigit(ch):
			start := pos
			for pos < len(input) && isDigit(input[pos]) {
				pos++
			}
			// A single dot followed by a digit is a decimal point; ".." is a range.
			if pos+1 < len(input) && input[pos] == '.' && isDigit(input[pos+1]) {
				pos++
				for pos < len(input) && isDigit(input[pos]) {
					pos++
				}
			}
			out = append(out, Token{Type: TokNumber, Value: input[start:pos], Pos: start})
			continue
		case isIdentStart(ch):
			start := pos
			for pos < len(input) && isIdentPart(input[pos]) {
				pos++
			}
			word := input[start:pos]
			if kw, ok := keywords[strings.ToUpper(word)]; ok {
				out = append(out, Token{Type: kw, Value: strings.ToUpper(word), Pos: start})
			} else {
				out = append(out, Token{Type: TokIdent, Value: word, Pos: start})
			}
			continue
		case ch == '`':
			end := strings.IndexByte(input[pos+1:], '`')
			if end < 0 {
				return nil, fmt.Errorf("unterminated identifier at pos %d", pos)
			}
			out = append(out, Token{Type: TokIdent, Value: input[pos+1 : pos+1+end], Pos: pos})
			pos += end + 2
			continue
		}

		matched := false
		for _, s := range symbols {
			if strings.HasPrefix(input[pos:], s.text) {
				out = append(out, Token{Type: s.typ, Value: s.text, Pos: pos})
				pos += len(s.text)
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("unexpected char %q at pos %d", string(ch), pos)
		}
	}
	return append(out, Token{Type: TokEOF, Pos: pos}), nil
}

func lexString(input string, start int) (Token, int, error) {
	quote := input[start]
	var sb strings.Builder
	for pos := start + 1; pos < len(input); pos++ {
		ch := input[pos]
		if ch == '\\' && pos+1 < len(input) {
			pos++
			sb.WriteByte(input[pos])
			continue
		}
		if ch == quote {
			return Token{Type: TokString, Value: sb.String(), Pos: start}, pos + 1, nil
		}
		sb.WriteByte(ch)
	}
	return Token{}, 0, fmt.Errorf("unterminated string at pos %d", start)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
