package tool

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var expressionCharset = regexp.MustCompile(`^[\d\s\+\-\*/%\^\(\)\.]+$`)

// Evaluate computes an arithmetic expression with + - * / % ^ and parentheses.
func Evaluate(expression string) (float64, error) {
	if expression == "" {
		return 0, errors.New("expression is empty")
	}
	if !expressionCharset.MatchString(expression) {
		return 0, errors.New("expression contains invalid characters")
	}

	p := &calcParser{src: expression}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	p.skip()
	if !p.done() {
		return 0, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("expression result is not finite")
	}
	return v, nil
}

// calcParser is a recursive-descent parser; ^ is right associative.
type calcParser struct {
	src string
	pos int
}

func (p *calcParser) sum() (float64, error) {
	acc, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		p.skip()
		op, ok := p.accept('+', '-')
		if !ok {
			return acc, nil
		}
		rhs, err := p.product()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			acc += rhs
		} else {
			acc -= rhs
		}
	}
}

func (p *calcParser) product() (float64, error) {
	acc, err := p.power()
	if err != nil {
		return 0, err
	}
	for {
		p.skip()
		op, ok := p.accept('*', '/', '%')
		if !ok {
			return acc, nil
		}
		rhs, err := p.power()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			acc *= rhs
		case '/':
			if rhs == 0 {
				return 0, errors.New("division by zero")
			}
			acc /= rhs
		case '%':
			if rhs == 0 {
				return 0, errors.New("modulo by zero")
			}
			acc = math.Mod(acc, rhs)
		}
	}
}

func (p *calcParser) power() (float64, error) {
	base, err := p.unary()
	if err != nil {
		return 0, err
	}
	p.skip()
	if _, ok := p.accept('^'); !ok {
		return base, nil
	}
	exp, err := p.power()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *calcParser) unary() (float64, error) {
	p.skip()
	op, ok := p.accept('+', '-')
	if !ok {
		return p.operand()
	}
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	if op == '-' {
		return -v, nil
	}
	return v, nil
}

func (p *calcParser) operand() (float64, error) {
	p.skip()
	if _, ok := p.accept('('); ok {
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		p.skip()
		if _, ok := p.accept(')'); !ok {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return v, nil
	}

	start := p.pos
	dots := 0
	for !p.done() {
		ch := p.src[p.pos]
		if ch == '.' {
			dots++
		} else if ch < '0' || ch > '9' {
			break
		}
		p.pos++
	}
	raw := p.src[start:p.pos]
	if raw == "" || raw == "." {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	if dots > 1 {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return v, nil
}

func (p *calcParser) accept(ops ...byte) (byte, bool) {
	if p.done() {
		return 0, false
	}
	for _, op := range ops {
		if p.src[p.pos] == op {
			p.pos++
			return op, true
		}
	}
	return 0, false
}

func (p *calcParser) skip() {
	for !p.done() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *calcParser) done() bool {
	return p.pos >= len(p.src)
}
