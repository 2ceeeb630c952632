package goimpfit

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Mode tells how a node combines impedance.
type Mode int

const (
	LEAF Mode = iota
	SERIES
	PARALLEL
)

// Node is one vertex of a parsed circuit: an element leaf or a binary
// series/parallel combination.
type Node struct {
	Mode  Mode
	Kind  Kind // LEAF only
	Label byte // digit written after the element letter, LEAF only
	Left  *Node
	Right *Node
}

// Circuit is an immutable parsed topology. It is safe for concurrent use.
type Circuit struct {
	code      string
	root      *Node
	leaves    []*Node
	numParams int
}

// Parse builds a circuit from a topology such as "s(R1,p(s(R1,W2),E2))".
// Whitespace is ignored.
func Parse(code string) (*Circuit, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)

	p := &parser{code: clean}
	if len(clean) == 0 {
		return nil, p.errorf(ErrMalformedTopology, "empty topology")
	}
	root, err := p.node()
	if err != nil {
		return nil, err
	}
	if p.pos != len(clean) {
		return nil, p.errorf(ErrMalformedTopology, "unexpected %q after complete expression", clean[p.pos])
	}

	c := &Circuit{code: clean, root: root}
	c.collect(root)
	return c, nil
}

// MustParse is like Parse but panics on error. Intended for constant topologies.
func MustParse(code string) *Circuit {
	c, err := Parse(code)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Circuit) collect(n *Node) {
	if n.Mode == LEAF {
		c.leaves = append(c.leaves, n)
		c.numParams += n.Kind.Arity()
		return
	}
	c.collect(n.Left)
	c.collect(n.Right)
}

// Code returns the topology string the circuit was parsed from, without whitespace.
func (c *Circuit) Code() string { return c.code }

// Root returns the top node of the expression tree.
func (c *Circuit) Root() *Node { return c.root }

// NumParams is the sum of the arities of all elements.
func (c *Circuit) NumParams() int { return c.numParams }

// Elements lists element kinds in left-to-right order.
func (c *Circuit) Elements() []Kind {
	kinds := make([]Kind, len(c.leaves))
	for i, l := range c.leaves {
		kinds[i] = l.Kind
	}
	return kinds
}

// ParameterNames names each parameter after its element kind and occurrence,
// e.g. R0, R1, W0.A, W0.tau, E0.Q, E0.alpha.
func (c *Circuit) ParameterNames() []string {
	seen := make(map[Kind]int)
	names := make([]string, 0, c.numParams)
	for _, l := range c.leaves {
		base := string(rune(l.Kind)) + strconv.Itoa(seen[l.Kind])
		seen[l.Kind]++
		labels := elements[l.Kind].labels
		if len(labels) == 0 {
			names = append(names, base)
			continue
		}
		for _, s := range labels {
			names = append(names, base+"."+s)
		}
	}
	return names
}

// SameShape reports whether two circuits have the same nesting and element
// kinds, ignoring the digits written after element letters.
func (c *Circuit) SameShape(o *Circuit) bool {
	return sameShape(c.root, o.root)
}

func sameShape(a, b *Node) bool {
	if a.Mode != b.Mode {
		return false
	}
	if a.Mode == LEAF {
		return a.Kind == b.Kind
	}
	return sameShape(a.Left, b.Left) && sameShape(a.Right, b.Right)
}

func (c *Circuit) String() string {
	var b strings.Builder
	writeNode(&b, c.root)
	return b.String()
}

func writeNode(b *strings.Builder, n *Node) {
	switch n.Mode {
	case SERIES:
		b.WriteString("s(")
	case PARALLEL:
		b.WriteString("p(")
	default:
		b.WriteByte(byte(n.Kind))
		b.WriteByte(n.Label)
		return
	}
	writeNode(b, n.Left)
	b.WriteByte(',')
	writeNode(b, n.Right)
	b.WriteByte(')')
}

// Impedance evaluates the circuit at every frequency. Parameters are consumed
// left to right in the order elements appear in the topology.
func (c *Circuit) Impedance(params []float64, freqs []float64) ([]complex128, error) {
	if len(params) != c.numParams {
		return nil, &ParamCountError{Want: c.numParams, Got: len(params)}
	}
	off := 0
	return c.eval(c.root, params, &off, freqs), nil
}

func (c *Circuit) eval(n *Node, params []float64, off *int, freqs []float64) []complex128 {
	if n.Mode == LEAF {
		k := n.Kind.Arity()
		p := params[*off : *off+k]
		*off += k
		return elements[n.Kind].fn(p, freqs)
	}
	z1 := c.eval(n.Left, params, off, freqs)
	z2 := c.eval(n.Right, params, off, freqs)
	for i := range z1 {
		z1[i] = sum(z1[i], z2[i], n.Mode)
	}
	return z1
}

func sum(z1 complex128, z2 complex128, mode Mode) complex128 {
	if mode == SERIES {
		return z1 + z2
	}
	// a zero impedance branch shorts the parallel pair
	if z1 == 0 || z2 == 0 {
		return 0
	}
	return 1 / (1/z1 + 1/z2)
}

// CircuitImpedance parses code and returns [Re, Im] pairs for every frequency.
func CircuitImpedance(code string, freqs []float64, values []float64) ([][2]float64, error) {
	c, err := Parse(code)
	if err != nil {
		return nil, err
	}
	z, err := c.Impedance(values, freqs)
	if err != nil {
		return nil, err
	}
	return ToPairs(z), nil
}

// ToPairs splits complex samples into [Re, Im] pairs.
func ToPairs(z []complex128) [][2]float64 {
	res := make([][2]float64, len(z))
	for i, v := range z {
		res[i] = [2]float64{real(v), imag(v)}
	}
	return res
}

type parser struct {
	code string
	pos  int
}

func (p *parser) errorf(kind error, format string, args ...any) error {
	return &ParseError{Code: p.code, Pos: p.pos, Msg: fmt.Sprintf(format, args...), Kind: kind}
}

func (p *parser) node() (*Node, error) {
	if p.pos >= len(p.code) {
		return nil, p.errorf(ErrMalformedTopology, "unexpected end of topology")
	}
	ch := p.code[p.pos]
	switch {
	case ch == 's' || ch == 'p':
		mode := SERIES
		if ch == 'p' {
			mode = PARALLEL
		}
		p.pos++
		if err := p.expect('('); err != nil {
			return nil, err
		}
		left, err := p.node()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		right, err := p.node()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return &Node{Mode: mode, Left: left, Right: right}, nil

	case ch >= 'A' && ch <= 'Z':
		k := Kind(ch)
		if !k.Valid() {
			return nil, p.errorf(ErrUnknownElement, "unknown element %q", ch)
		}
		p.pos++
		if p.pos >= len(p.code) || !isDigit(p.code[p.pos]) {
			return nil, p.errorf(ErrMalformedTopology, "element %q must be followed by a digit", ch)
		}
		label := p.code[p.pos]
		p.pos++
		if p.pos < len(p.code) && isDigit(p.code[p.pos]) {
			return nil, p.errorf(ErrMalformedTopology, "element %q takes a single digit", ch)
		}
		return &Node{Mode: LEAF, Kind: k, Label: label}, nil

	case ch >= 'a' && ch <= 'z':
		return nil, p.errorf(ErrUnknownElement, "unknown element %q", ch)

	default:
		return nil, p.errorf(ErrMalformedTopology, "unexpected %q", ch)
	}
}

func (p *parser) expect(ch byte) error {
	if p.pos >= len(p.code) {
		return p.errorf(ErrMalformedTopology, "expected %q, got end of topology", ch)
	}
	if p.code[p.pos] != ch {
		return p.errorf(ErrMalformedTopology, "expected %q, got %q", ch, p.code[p.pos])
	}
	p.pos++
	return nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
