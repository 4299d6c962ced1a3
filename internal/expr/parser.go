package expr

import "fmt"

type node interface{}

type litNode struct{ val any }

type identNode struct{ name string }

type memberNode struct {
	obj  node
	name string
}

type indexNode struct{ obj, idx node }

type callNode struct {
	name string
	args []node
}

type unaryNode struct {
	op string
	x  node
}

type binaryNode struct {
	op   string
	l, r node
}

type ternaryNode struct{ cond, then, els node }

type arrayNode struct{ items []node }

type objectField struct {
	key string
	val node
}

type objectNode struct{ fields []objectField }

type pipeNode struct {
	x    node
	name string
	args []node
}

type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.parsePipe()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, fmt.Errorf("unexpected token %q at offset %d", p.peek().text, p.peek().pos)
	}
	return n, nil
}

func (p *parser) peek() token  { return p.tokens[p.pos] }
func (p *parser) atEOF() bool  { return p.peek().kind == tokEOF }
func (p *parser) next() token  { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) accept(text string) bool {
	if p.peek().kind == tokPunct && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if p.accept(text) {
		return nil
	}
	return fmt.Errorf("expected %q, got %q at offset %d", text, p.peek().text, p.peek().pos)
}

// parsePipe handles the lowest-precedence operator: x | fn:arg1:arg2.
// Pipe arguments are parsed at additive level so the argument separator
// ':' never collides with the ternary ':'.
func (p *parser) parsePipe() (node, error) {
	left, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	for p.accept("|") {
		name := p.peek()
		if name.kind != tokIdent {
			return nil, fmt.Errorf("expected transform name after '|' at offset %d", name.pos)
		}
		p.next()
		var args []node
		for p.accept(":") {
			arg, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		left = pipeNode{x: left, name: name.text, args: args}
	}
	return left, nil
}

func (p *parser) parseTernary() (node, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.accept("?") {
		return cond, nil
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return ternaryNode{cond: cond, then: then, els: els}, nil
}

func (p *parser) parseOr() (node, error) {
	return p.parseBinary([]string{"||"}, p.parseAnd)
}

func (p *parser) parseAnd() (node, error) {
	return p.parseBinary([]string{"&&"}, p.parseEquality)
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary([]string{"==", "!="}, p.parseRelational)
}

func (p *parser) parseRelational() (node, error) {
	return p.parseBinary([]string{"<=", ">=", "<", ">"}, p.parseAdditive)
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary([]string{"*", "/", "%"}, p.parseUnary)
}

func (p *parser) parseBinary(ops []string, sub func() (node, error)) (node, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range ops {
			if p.peek().kind == tokPunct && p.peek().text == op {
				matched = op
				break
			}
		}
		if matched == "" {
			return left, nil
		}
		p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: matched, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.accept("!") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "!", x: x}, nil
	}
	if p.accept("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "-", x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			name := p.peek()
			if name.kind != tokIdent {
				return nil, fmt.Errorf("expected property name after '.' at offset %d", name.pos)
			}
			p.next()
			x = memberNode{obj: x, name: name.text}
		case p.accept("["):
			idx, err := p.parsePipe()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = indexNode{obj: x, idx: idx}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return litNode{val: t.num}, nil
	case tokString:
		p.next()
		return litNode{val: t.text}, nil
	case tokIdent:
		p.next()
		switch t.text {
		case "true":
			return litNode{val: true}, nil
		case "false":
			return litNode{val: false}, nil
		case "null", "nil":
			return litNode{val: nil}, nil
		}
		if p.accept("(") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return callNode{name: t.text, args: args}, nil
		}
		return identNode{name: t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			p.next()
			inner, err := p.parsePipe()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			p.next()
			return p.parseArrayLiteral()
		case "{":
			p.next()
			return p.parseObjectLiteral()
		}
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", t.text, t.pos)
}

func (p *parser) parseArgs() ([]node, error) {
	var args []node
	if p.accept(")") {
		return args, nil
	}
	for {
		arg, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.accept(",") {
			continue
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) parseArrayLiteral() (node, error) {
	var items []node
	if p.accept("]") {
		return arrayNode{}, nil
	}
	for {
		item, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.accept(",") {
			continue
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		return arrayNode{items: items}, nil
	}
}

func (p *parser) parseObjectLiteral() (node, error) {
	var fields []objectField
	if p.accept("}") {
		return objectNode{}, nil
	}
	for {
		keyTok := p.peek()
		if keyTok.kind != tokIdent && keyTok.kind != tokString {
			return nil, fmt.Errorf("expected object key at offset %d", keyTok.pos)
		}
		p.next()
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		val, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		fields = append(fields, objectField{key: keyTok.text, val: val})
		if p.accept(",") {
			continue
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		return objectNode{fields: fields}, nil
	}
}
