package cypher

import (
	"fmt"
	"strconv"
)

// Parser converts a token stream into an AST.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a Cypher query string into an AST.
func Parse(input string) (*Query, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}
	p := &Parser{tokens: tokens}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Type != TokEOF {
		return nil, fmt.Errorf("unexpected %s", t)
	}
	return q, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	t := p.peek()
	p.pos++
	return t
}

// accept consumes the next token when it has type typ.
func (p *Parser) accept(typ TokenType) bool {
	if p.peek().Type == typ {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType, what string) (Token, error) {
	t := p.advance()
	if t.Type != typ {
		return t, fmt.Errorf("expected %s, got %s", what, t)
	}
	return t, nil
}

func (p *Parser) parseQuery() (*Query, error) {
	if _, err := p.expect(TokMatch, "MATCH"); err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, fmt.Errorf("match pattern: %w", err)
	}
	q := &Query{Match: &MatchClause{Pattern: pat}}

	if p.accept(TokWhere) {
		if q.Where, err = p.parseOr(); err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
	}
	if p.accept(TokReturn) {
		if q.Return, err = p.parseReturn(); err != nil {
			return nil, fmt.Errorf("return: %w", err)
		}
	}
	return q, nil
}

func (p *Parser) parsePattern() (*Pattern, error) {
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	pat := &Pattern{Elements: []PatternElement{node}}
	for t := p.peek().Type; t == TokDash || t == TokLT; t = p.peek().Type {
		rel, err := p.parseRel()
		if err != nil {
			return nil, err
		}
		next, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		pat.Elements = append(pat.Elements, rel, next)
	}
	return pat, nil
}

// parseRel reads -[...]->, <-[...]- or -[...]-; the bracket part is optional.
func (p *Parser) parseRel() (*RelPattern, error) {
	rel := &RelPattern{MinHops: 1, MaxHops: 1}
	leading := p.accept(TokLT)
	if _, err := p.expect(TokDash, "'-' in relationship"); err != nil {
		return nil, err
	}
	if p.accept(TokLBracket) {
		if err := p.parseRelBody(rel); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokDash, "'-' after relationship"); err != nil {
		return nil, err
	}
	trailing := p.accept(TokGT)

	switch {
	case leading && trailing:
		return nil, fmt.Errorf("relationship cannot point both ways at pos %d", p.peek().Pos)
	case trailing:
		rel.Direction = Outbound
	case leading:
		rel.Direction = Inbound
	default:
		rel.Direction = Both
	}
	return rel, nil
}

func (p *Parser) parseRelBody(rel *RelPattern) error {
	if p.peek().Type == TokIdent {
		rel.Variable = p.advance().Value
	}
	if p.accept(TokColon) {
		for {
			t, err := p.expect(TokIdent, "relationship type")
			if err != nil {
				return err
			}
			rel.Types = append(rel.Types, t.Value)
			if !p.accept(TokPipe) {
				break
			}
			p.accept(TokColon) // tolerate :A|:B
		}
	}
	if p.accept(TokStar) {
		p.parseHops(rel)
	}
	_, err := p.expect(TokRBracket, "']'")
	return err
}

// parseHops reads the range after '*': *N..M, *..M, *N.., *N or a bare *.
func (p *Parser) parseHops(rel *RelPattern) {
	rel.MinHops, rel.MaxHops = 1, 0
	if p.peek().Type == TokNumber {
		n, _ := strconv.Atoi(p.advance().Value)
		if !p.accept(TokDotDot) {
			rel.MaxHops = n
			return
		}
		rel.MinHops = n
	} else if !p.accept(TokDotDot) {
		return
	}
	if p.peek().Type == TokNumber {
		rel.MaxHops, _ = strconv.Atoi(p.advance().Value)
	}
}

func (p *Parser) parseNodePattern() (*NodePattern, error) {
	if _, err := p.expect(TokLParen, "'(' for node pattern"); err != nil {
		return nil, err
	}
	node := &NodePattern{}
	if p.peek().Type == TokIdent {
		node.Variable = p.advance().Value
	}
	if p.accept(TokColon) {
		t, err := p.expect(TokIdent, "label name")
		if err != nil {
			return nil, err
		}
		node.Label = t.Value
	}
	if p.accept(TokLBrace) {
		props, err := p.parseInlineProps()
		if err != nil {
			return nil, err
		}
		node.Props = props
	}
	if _, err := p.expect(TokRParen, "')' to close node pattern"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseInlineProps() (map[string]string, error) {
	props := make(map[string]string)
	for !p.accept(TokRBrace) {
		if len(props) > 0 {
			if _, err := p.expect(TokComma, "',' between properties"); err != nil {
				return nil, err
			}
		}
		key, err := p.expect(TokIdent, "property key")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokColon, "':' after property key"); err != nil {
			return nil, err
		}
		val, err := p.literal()
		if err != nil {
			return nil, err
		}
		props[key.Value] = val
	}
	return props, nil
}

// parseOr, parseAnd and parseUnary implement OR < AND < NOT precedence.
func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(TokOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept(TokAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.accept(TokNot) {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	}
	if p.accept(TokLParen) {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return p.parseCondition()
}

func (p *Parser) parseCondition() (Condition, error) {
	var c Condition
	v, err := p.expect(TokIdent, "variable in condition")
	if err != nil {
		return c, err
	}
	if _, err := p.expect(TokDot, "'.' after variable"); err != nil {
		return c, err
	}
	prop, err := p.expect(TokIdent, "property name")
	if err != nil {
		return c, err
	}
	c.Variable, c.Property = v.Value, prop.Value

	op := p.advance()
	switch op.Type {
	case TokEQ, TokNEQ, TokRegex, TokGT, TokLT, TokGTE, TokLTE:
		c.Operator = op.Value
		if op.Type == TokNEQ {
			c.Operator = "<>"
		}
	case TokContains:
		c.Operator = "CONTAINS"
	case TokStarts, TokEnds:
		if _, err := p.expect(TokWith, "WITH after "+op.Value); err != nil {
			return c, err
		}
		c.Operator = op.Value + " WITH"
	default:
		return c, fmt.Errorf("expected comparison operator, got %s", op)
	}

	c.Value, err = p.literal()
	return c, err
}

// literal reads a string, number (optionally negative) or bare word such as true.
func (p *Parser) literal() (string, error) {
	t := p.advance()
	switch t.Type {
	case TokString, TokNumber, TokIdent:
		return t.Value, nil
	case TokDash:
		n, err := p.expect(TokNumber, "number after '-'")
		if err != nil {
			return "", err
		}
		return "-" + n.Value, nil
	}
	return "", fmt.Errorf("expected value, got %s", t)
}

func (p *Parser) parseReturn() (*ReturnClause, error) {
	r := &ReturnClause{OrderDir: "ASC", Distinct: p.accept(TokDistinct)}
	for {
		item, err := p.parseReturnItem()
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, item)
		if !p.accept(TokComma) {
			break
		}
	}

	if p.accept(TokOrder) {
		if _, err := p.expect(TokBy, "BY after ORDER"); err != nil {
			return nil, err
		}
		t, err := p.expect(TokIdent, "ORDER BY field")
		if err != nil {
			return nil, err
		}
		r.OrderBy = t.Value
		if p.accept(TokDot) {
			prop, err := p.expect(TokIdent, "property after '.'")
			if err != nil {
				return nil, err
			}
			r.OrderBy += "." + prop.Value
		}
		if p.accept(TokDesc) {
			r.OrderDir = "DESC"
		} else {
			p.accept(TokAsc)
		}
	}

	if p.accept(TokSkip) {
		n, err := p.count("SKIP")
		if err != nil {
			return nil, err
		}
		r.Skip = n
	}
	if p.accept(TokLimit) {
		n, err := p.count("LIMIT")
		if err != nil {
			return nil, err
		}
		r.Limit = n
	}
	return r, nil
}

func (p *Parser) count(clause string) (int, error) {
	t, err := p.expect(TokNumber, "number after "+clause)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(t.Value)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", clause, t.Value, err)
	}
	return n, nil
}

func (p *Parser) parseReturnItem() (ReturnItem, error) {
	var item ReturnItem
	if p.accept(TokCount) {
		item.Func = "COUNT"
		if _, err := p.expect(TokLParen, "'(' after COUNT"); err != nil {
			return item, err
		}
		if p.accept(TokStar) {
			item.Variable = "*"
		} else {
			v, err := p.expect(TokIdent, "variable in COUNT()")
			if err != nil {
				return item, err
			}
			item.Variable = v.Value
		}
		if _, err := p.expect(TokRParen, "')' after COUNT"); err != nil {
			return item, err
		}
	} else {
		v, err := p.expect(TokIdent, "variable in RETURN item")
		if err != nil {
			return item, err
		}
		item.Variable = v.Value
		if p.accept(TokDot) {
			prop, err := p.expect(TokIdent, "property after '.'")
			if err != nil {
				return item, err
			}
			item.Property = prop.Value
		}
	}
	if p.accept(TokAs) {
		a, err := p.expect(TokIdent, "alias after AS")
		if err != nil {
			return item, err
		}
		item.Alias = a.Value
	}
	return item, nil
}
