package workflow

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Conditions are small boolean expressions over the run context:
//
//	entity.type == "task" and "urgent" in entity.tags
//	not (entity.metadata.priority in ["low", "none"])
//	{{ entity.name }} != ""
//
// Operands are string, number, true/false/null and list literals, and dotted
// paths into the run context (a missing path is null). A bare {{ path }} is
// the same as path; placeholders inside string literals are substituted as
// text. Operators: == != < <= > >= in, not in, and, or, not, parentheses.
// Nothing else is evaluated.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokNumber
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"' || c == '\'':
			start := i
			i++
			var sb strings.Builder
			for i < len(expr) && expr[i] != c {
				if expr[i] == '\\' && i+1 < len(expr) {
					i++
				}
				sb.WriteByte(expr[i])
				i++
			}
			if i >= len(expr) {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			i++
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})
		case strings.HasPrefix(expr[i:], "{{"):
			end := strings.Index(expr[i:], "}}")
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder at %d", i)
			}
			path := strings.TrimSpace(expr[i+2 : i+end])
			if path == "" {
				return nil, fmt.Errorf("empty placeholder at %d", i)
			}
			toks = append(toks, token{kind: tokIdent, text: path, pos: i})
			i += end + 2
		case c >= '0' && c <= '9' || (c == '-' && i+1 < len(expr) && expr[i+1] >= '0' && expr[i+1] <= '9'):
			start := i
			i++
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: expr[start:i], pos: start})
		case isIdentByte(c):
			start := i
			for i < len(expr) && (isIdentByte(expr[i]) || expr[i] == '.' || expr[i] >= '0' && expr[i] <= '9') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: expr[start:i], pos: start})
		default:
			start := i
			if i+1 < len(expr) {
				switch two := expr[i : i+2]; two {
				case "==", "!=", "<=", ">=":
					toks = append(toks, token{kind: tokOp, text: two, pos: start})
					i += 2
					continue
				}
			}
			switch c {
			case '<', '>', '(', ')', '[', ']', ',':
				toks = append(toks, token{kind: tokOp, text: string(c), pos: start})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q at %d", c, i)
			}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(expr)}), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

type condParser struct {
	toks     []token
	pos      int
	data     map[string]any
	resolver *Resolver
}

// EvaluateCondition evaluates expr against data. Syntax errors and invalid
// comparisons are returned as errors.
func EvaluateCondition(expr string, data map[string]any, resolver *Resolver) (bool, error) {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	toks, err := tokenize(expr)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expr, err)
	}
	p := &condParser{toks: toks, data: data, resolver: resolver}
	v, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expr, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return false, fmt.Errorf("condition %q: unexpected %q at %d", expr, t.text, t.pos)
	}
	return truthy(v), nil
}

func (p *condParser) peek() token { return p.toks[p.pos] }

func (p *condParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *condParser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *condParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *condParser) parseNot() (any, error) {
	if p.isKeyword("not") {
		p.next()
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	var op string
	switch t := p.peek(); {
	case t.kind == tokOp && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == "<=" || t.text == ">" || t.text == ">="):
		op = p.next().text
	case p.isKeyword("in"):
		p.next()
		op = "in"
	case p.isKeyword("not") && p.pos+1 < len(p.toks) &&
		p.toks[p.pos+1].kind == tokIdent && strings.EqualFold(p.toks[p.pos+1].text, "in"):
		p.next()
		p.next()
		op = "not in"
	default:
		return left, nil
	}

	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "in":
		return contains(right, left), nil
	case "not in":
		return !contains(right, left), nil
	default:
		return compareOrdered(op, left, right)
	}
}

func (p *condParser) parsePrimary() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return p.resolver.Resolve(t.text, p.data), nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return f, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "none":
			return nil, nil
		case "and", "or", "not", "in":
			return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
		}
		v, _ := Lookup(p.data, t.text)
		return v, nil
	case tokOp:
		switch t.text {
		case "(":
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.isOp(")") {
				return nil, fmt.Errorf("expected ) at %d", p.peek().pos)
			}
			p.next()
			return v, nil
		case "[":
			list := []any{}
			if p.isOp("]") {
				p.next()
				return list, nil
			}
			for {
				v, err := p.parsePrimary()
				if err != nil {
					return nil, err
				}
				list = append(list, v)
				if p.isOp(",") {
					p.next()
					continue
				}
				if p.isOp("]") {
					p.next()
					return list, nil
				}
				return nil, fmt.Errorf("expected , or ] at %d", p.peek().pos)
			}
		}
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	default:
		return nil, fmt.Errorf("unexpected end of expression")
	}
}

// truthy follows the usual rules: null, false, zero, and empty strings,
// lists and maps are false.
func truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// normalize maps numeric kinds to float64 and string slices to []any so
// values from YAML, JSON and Go records compare alike.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	la, aok := a.([]any)
	lb, bok := b.([]any)
	if aok && bok {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !valuesEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	ma, aok := a.(map[string]any)
	mb, bok := b.(map[string]any)
	if aok && bok {
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !valuesEqual(va, vb) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func contains(container, item any) bool {
	switch c := normalize(container).(type) {
	case []any:
		for _, v := range c {
			if valuesEqual(v, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[s]
		return found
	default:
		return false
	}
}

func compareOrdered(op string, a, b any) (bool, error) {
	a, b = normalize(a), normalize(b)
	var cmp int
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return false, fmt.Errorf("cannot compare %v %s %v", a, op, b)
		}
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	case string:
		y, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare %v %s %v", a, op, b)
		}
		cmp = strings.Compare(x, y)
	default:
		return false, fmt.Errorf("cannot compare %v %s %v", a, op, b)
	}
	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}
