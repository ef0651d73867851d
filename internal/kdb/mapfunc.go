package kdb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// MapFunc emits the view rows of one document. doc is the decoded document
// including _id and _rev.
type MapFunc func(doc map[string]interface{}, emit func(key, value interface{}))

// mapRegistry resolves map function sources. Registered Go functions win;
// other sources go through the expression compiler.
type mapRegistry struct {
	mu    sync.RWMutex
	funcs map[string]MapFunc
}

func newMapRegistry() *mapRegistry {
	return &mapRegistry{funcs: make(map[string]MapFunc)}
}

func (reg *mapRegistry) Register(source string, fn MapFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.funcs[normalizeSource(source)] = fn
}

func (reg *mapRegistry) Compile(view, source string) (MapFunc, error) {
	source = normalizeSource(source)
	reg.mu.RLock()
	fn, ok := reg.funcs[source]
	reg.mu.RUnlock()
	if ok {
		return fn, nil
	}
	if !strings.HasPrefix(source, "function") {
		return nil, fmt.Errorf("Compilation of the map function in the '%s' view failed: Expression does not eval to a function. (%s): %w", view, source, ErrCompilation)
	}
	fn, err := compileMapSource(source)
	if err != nil {
		return nil, fmt.Errorf("Compilation of the map function in the '%s' view failed: %s: %w", view, err, ErrCompilation)
	}
	return fn, nil
}

func normalizeSource(source string) string {
	return strings.TrimSpace(source)
}

// The compiler accepts the common shape of CouchDB map functions:
//
//	function (doc) { if (doc.type === "a" && doc.b) { emit(doc.b, null); } }
//
// Expressions are member paths on the document argument, literals, array
// and object literals, comparisons, !, && and ||.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '_' || c == '$' || unicode.IsLetter(rune(c)):
			j := i
			for j < len(src) && (src[j] == '_' || src[j] == '$' || unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			tokens = append(tokens, token{tokIdent, src[i:j]})
			i = j
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.' || src[j] == 'e' || src[j] == 'E') {
				j++
			}
			tokens = append(tokens, token{tokNumber, src[i:j]})
			i = j
		case c == '"' || c == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, token{tokString, sb.String()})
			i = j + 1
		default:
			matched := false
			for _, p := range []string{"===", "!==", "==", "!=", "&&", "||", "<=", ">="} {
				if strings.HasPrefix(src[i:], p) {
					tokens = append(tokens, token{tokPunct, p})
					i += len(p)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if !strings.ContainsRune("(){}[],;.:!<>", rune(c)) {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
			tokens = append(tokens, token{tokPunct, string(c)})
			i++
		}
	}
	return append(tokens, token{kind: tokEOF}), nil
}

type undefinedValue struct{}

var undefined = undefinedValue{}

type expr func(env map[string]interface{}) interface{}

type stmt func(env map[string]interface{}, emit func(key, value interface{}))

type mapParser struct {
	tokens []token
	pos    int
}

func (p *mapParser) peek() token { return p.tokens[p.pos] }

func (p *mapParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *mapParser) is(text string) bool {
	t := p.peek()
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == text
}

func (p *mapParser) expect(text string) error {
	if !p.is(text) {
		return fmt.Errorf("expected %q, found %q", text, p.peek().text)
	}
	p.next()
	return nil
}

func compileMapSource(source string) (MapFunc, error) {
	tokens, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &mapParser{tokens: tokens}
	if err := p.expect("function"); err != nil {
		return nil, err
	}
	if p.peek().kind == tokIdent {
		p.next()
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	arg := p.next()
	if arg.kind != tokIdent {
		return nil, fmt.Errorf("expected argument name")
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF && !p.is(";") {
		return nil, fmt.Errorf("unexpected %q after function body", p.peek().text)
	}
	name := arg.text
	return func(doc map[string]interface{}, emit func(key, value interface{})) {
		env := map[string]interface{}{name: doc}
		for _, s := range body {
			s(env, emit)
		}
	}, nil
}

func (p *mapParser) block() ([]stmt, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var stmts []stmt
	for !p.is("}") {
		if p.peek().kind == tokEOF {
			return nil, fmt.Errorf("unexpected end of function")
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	p.next()
	return stmts, nil
}

func (p *mapParser) statement() (stmt, error) {
	switch {
	case p.is(";"):
		p.next()
		return nil, nil
	case p.is("{"):
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		return func(env map[string]interface{}, emit func(key, value interface{})) {
			for _, s := range body {
				s(env, emit)
			}
		}, nil
	case p.is("if"):
		p.next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		then, err := p.statement()
		if err != nil {
			return nil, err
		}
		var otherwise stmt
		if p.is("else") {
			p.next()
			if otherwise, err = p.statement(); err != nil {
				return nil, err
			}
		}
		return func(env map[string]interface{}, emit func(key, value interface{})) {
			if truthy(cond(env)) {
				if then != nil {
					then(env, emit)
				}
			} else if otherwise != nil {
				otherwise(env, emit)
			}
		}, nil
	case p.is("emit"):
		p.next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		key, err := p.expression()
		if err != nil {
			return nil, err
		}
		value := expr(func(map[string]interface{}) interface{} { return nil })
		if p.is(",") {
			p.next()
			if value, err = p.expression(); err != nil {
				return nil, err
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		if p.is(";") {
			p.next()
		}
		return func(env map[string]interface{}, emit func(key, value interface{})) {
			emit(defined(key(env)), defined(value(env)))
		}, nil
	}
	return nil, fmt.Errorf("unsupported statement at %q", p.peek().text)
}

func (p *mapParser) expression() (expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.is("||") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(env map[string]interface{}) interface{} {
			if v := l(env); truthy(v) {
				return v
			}
			return right(env)
		}
	}
	return left, nil
}

func (p *mapParser) and() (expr, error) {
	left, err := p.comparison()
	if err != nil {
		return nil, err
	}
	for p.is("&&") {
		p.next()
		right, err := p.comparison()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(env map[string]interface{}) interface{} {
			if v := l(env); !truthy(v) {
				return v
			}
			return right(env)
		}
	}
	return left, nil
}

func (p *mapParser) comparison() (expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokPunct {
		return left, nil
	}
	switch t.text {
	case "==", "===", "!=", "!==", "<", "<=", ">", ">=":
	default:
		return left, nil
	}
	p.next()
	right, err := p.unary()
	if err != nil {
		return nil, err
	}
	op := t.text
	return func(env map[string]interface{}) interface{} {
		a, b := left(env), right(env)
		switch op {
		case "==":
			return looseEqual(a, b)
		case "===":
			return strictEqual(a, b)
		case "!=":
			return !looseEqual(a, b)
		case "!==":
			return !strictEqual(a, b)
		}
		if typeRank(defined(a)) != typeRank(defined(b)) || a == undefined || b == undefined {
			return false
		}
		c := CompareKeys(a, b)
		switch op {
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		}
		return c >= 0
	}, nil
}

func (p *mapParser) unary() (expr, error) {
	if p.is("!") {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return func(env map[string]interface{}) interface{} {
			return !truthy(operand(env))
		}, nil
	}
	return p.postfix()
}

func (p *mapParser) postfix() (expr, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.is("."):
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, fmt.Errorf("expected member name")
			}
			base = member(base, constant(name.text))
		case p.is("["):
			p.next()
			index, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			base = member(base, index)
		default:
			return base, nil
		}
	}
}

func constant(v interface{}) expr {
	return func(map[string]interface{}) interface{} { return v }
}

func member(base, index expr) expr {
	return func(env map[string]interface{}) interface{} {
		switch obj := base(env).(type) {
		case map[string]interface{}:
			key, ok := index(env).(string)
			if !ok {
				return undefined
			}
			if v, ok := obj[key]; ok {
				return v
			}
		case []interface{}:
			if n, ok := toNumber(index(env)); ok {
				i := int(n)
				if float64(i) == n && i >= 0 && i < len(obj) {
					return obj[i]
				}
			} else if name, _ := index(env).(string); name == "length" {
				return json.Number(strconv.Itoa(len(obj)))
			}
		case string:
			if name, _ := index(env).(string); name == "length" {
				return json.Number(strconv.Itoa(len(obj)))
			}
		}
		return undefined
	}
}

func (p *mapParser) primary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if _, err := strconv.ParseFloat(t.text, 64); err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return constant(json.Number(t.text)), nil
	case tokString:
		return constant(t.text), nil
	case tokIdent:
		switch t.text {
		case "null":
			return constant(nil), nil
		case "true":
			return constant(true), nil
		case "false":
			return constant(false), nil
		case "undefined":
			return constant(undefined), nil
		}
		name := t.text
		return func(env map[string]interface{}) interface{} {
			if v, ok := env[name]; ok {
				return v
			}
			return undefined
		}, nil
	case tokPunct:
		switch t.text {
		case "(":
			e, err := p.expression()
			if err != nil {
				return nil, err
			}
			return e, p.expect(")")
		case "[":
			var items []expr
			for !p.is("]") {
				item, err := p.expression()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if !p.is(",") {
					break
				}
				p.next()
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			return func(env map[string]interface{}) interface{} {
				list := make([]interface{}, len(items))
				for i, item := range items {
					list[i] = defined(item(env))
				}
				return list
			}, nil
		case "{":
			keys := []string{}
			var values []expr
			for !p.is("}") {
				k := p.next()
				if k.kind != tokIdent && k.kind != tokString {
					return nil, fmt.Errorf("expected object key")
				}
				if err := p.expect(":"); err != nil {
					return nil, err
				}
				v, err := p.expression()
				if err != nil {
					return nil, err
				}
				keys = append(keys, k.text)
				values = append(values, v)
				if !p.is(",") {
					break
				}
				p.next()
			}
			if err := p.expect("}"); err != nil {
				return nil, err
			}
			return func(env map[string]interface{}) interface{} {
				obj := make(map[string]interface{}, len(keys))
				for i, k := range keys {
					if v := values[i](env); v != undefined {
						obj[k] = v
					}
				}
				return obj
			}, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

func defined(v interface{}) interface{} {
	if v == undefined {
		return nil
	}
	return v
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number, float64:
		n, _ := toNumber(x)
		return n != 0
	}
	return true
}

func strictEqual(a, b interface{}) bool {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an == bn
	}
	switch a.(type) {
	case nil, undefinedValue, bool, string:
		return a == b
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if (a == nil || a == undefined) && (b == nil || b == undefined) {
		return true
	}
	return strictEqual(a, b)
}
