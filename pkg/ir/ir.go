// Package ir defines the computation graph a compiled script is lowered to.
//
// Every node evaluates to one value per bar. Numeric nodes carry float64
// series with NaN as the undefined value; boolean nodes use 1/0 with NaN for
// undefined; string nodes exist only as operands of equality tests against
// string inputs. Nodes are immutable after construction and may be shared:
// a node referenced from several places is one computation.
package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

// Kind is the value type of a node.
type Kind int

const (
	Num Kind = iota
	Bool
	Str
)

func (k Kind) String() string {
	switch k {
	case Num:
		return "number"
	case Bool:
		return "bool"
	case Str:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is one operation of the graph.
type Node interface {
	Kind() Kind
	String() string
}

// ---------------------------------------------------------------------------
// Leaves
// ---------------------------------------------------------------------------

// Const is a literal broadcast to every bar. NaN renders as na.
type Const struct {
	Value float64
	K     Kind
}

func (c *Const) Kind() Kind { return c.K }

func (c *Const) String() string {
	if c.K == Bool {
		if c.Value != 0 {
			return "true"
		}
		return "false"
	}
	return formatFloat(c.Value)
}

// StrConst is a string literal.
type StrConst struct {
	Value string
}

func (*StrConst) Kind() Kind { return Str }

func (s *StrConst) String() string { return strconv.Quote(s.Value) }

// Input reads a declared input, resolved per compute call.
type Input struct {
	Name string
	K    Kind
}

func (in *Input) Kind() Kind { return in.K }

func (in *Input) String() string { return "input(" + in.Name + ")" }

// Column reads a bar-table column or a composite derived from the table.
type Column struct {
	Name string
}

func (*Column) Kind() Kind { return Num }

func (c *Column) String() string { return c.Name }

// Columns are the names a Column may carry.
var Columns = []string{
	"open", "high", "low", "close", "volume",
	"hl2", "hlc3", "ohlc4", "hlcc4", "bar_index", "time",
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Arith is an elementwise arithmetic operation: + - * / %.
type Arith struct {
	Op   string
	X, Y Node
}

func (*Arith) Kind() Kind { return Num }

func (a *Arith) String() string { return "(" + a.X.String() + " " + a.Op + " " + a.Y.String() + ")" }

// Compare is an elementwise comparison: < <= > >= == !=. An undefined
// operand gives an undefined result. Two string operands compare as text.
type Compare struct {
	Op   string
	X, Y Node
}

func (*Compare) Kind() Kind { return Bool }

func (c *Compare) String() string { return "(" + c.X.String() + " " + c.Op + " " + c.Y.String() + ")" }

// And is elementwise three-valued conjunction; false wins over undefined.
type And struct {
	X, Y Node
}

func (*And) Kind() Kind { return Bool }

func (a *And) String() string { return "(" + a.X.String() + ") & (" + a.Y.String() + ")" }

// Or is elementwise three-valued disjunction; true wins over undefined.
type Or struct {
	X, Y Node
}

func (*Or) Kind() Kind { return Bool }

func (o *Or) String() string { return "(" + o.X.String() + ") | (" + o.Y.String() + ")" }

// Not is elementwise negation; undefined stays undefined.
type Not struct {
	X Node
}

func (*Not) Kind() Kind { return Bool }

func (n *Not) String() string { return "~(" + n.X.String() + ")" }

// Neg is arithmetic negation.
type Neg struct {
	X Node
}

func (*Neg) Kind() Kind { return Num }

func (n *Neg) String() string { return "-(" + n.X.String() + ")" }

// Cond selects Then where Cond is true and Else where it is false. An
// undefined condition gives an undefined result.
type Cond struct {
	If, Then, Else Node
}

func (c *Cond) Kind() Kind { return c.Then.Kind() }

func (c *Cond) String() string {
	return "where(" + c.If.String() + ", " + c.Then.String() + ", " + c.Else.String() + ")"
}

// History is X delayed by Offset bars.
type History struct {
	X      Node
	Offset int
}

func (h *History) Kind() Kind { return h.X.Kind() }

func (h *History) String() string { return h.X.String() + "[" + strconv.Itoa(h.Offset) + "]" }

// Mask coerces undefined to false. Every signal root is a Mask.
type Mask struct {
	X Node
}

func (*Mask) Kind() Kind { return Bool }

func (m *Mask) String() string { return "fillna(" + m.X.String() + ", false)" }

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Scalar is a call argument fixed before evaluation: a literal Value, or the
// value of the named Input.
type Scalar struct {
	Kind  ta.ParamKind
	Value float64
	Input string
}

func (s Scalar) String() string {
	if s.Input != "" {
		return "input(" + s.Input + ")"
	}
	if s.Kind == ta.BoolParam {
		if s.Value != 0 {
			return "true"
		}
		return "false"
	}
	return formatFloat(s.Value)
}

// Call is one call site of a cataloged function. It is evaluated once per
// compute no matter how many Outputs read from it.
type Call struct {
	ID      string
	Series  []Node
	Scalars []Scalar
	// Args records the rendered argument order: true for a series argument,
	// false for a scalar.
	Args []bool
	// Outputs is the descriptor's output count.
	Outputs int
}

// String renders the call with its arguments in parameter order.
func (c *Call) String() string {
	parts := make([]string, 0, len(c.Args))
	si, ki := 0, 0
	for _, isSeries := range c.Args {
		if isSeries {
			parts = append(parts, c.Series[si].String())
			si++
		} else {
			parts = append(parts, c.Scalars[ki].String())
			ki++
		}
	}
	return c.ID + "(" + strings.Join(parts, ", ") + ")"
}

// Output reads one result of a call site.
type Output struct {
	Call  *Call
	Index int
	Name  string
	K     Kind
}

func (o *Output) Kind() Kind { return o.K }

func (o *Output) String() string {
	if o.Call.Outputs <= 1 {
		return o.Call.String()
	}
	return o.Call.String() + "." + o.Name
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Binding records a named value for rendering.
type Binding struct {
	Name string
	Node Node
}

// Program is the lowered script.
type Program struct {
	// Signals holds one masked boolean root per signal.
	Signals [types.NumSignals]Node
	// Bindings lists top-level assignments in source order.
	Bindings []Binding
	// Calls lists every call site.
	Calls []*Call
	// Lengths lists every length argument, for warmup.
	Lengths []Scalar
	// Nodes is the number of nodes created.
	Nodes int
}

// Signal returns the root for one signal.
func (p *Program) Signal(s types.Signal) Node { return p.Signals[s] }

// String renders the bindings and the four signal roots, one per line.
func (p *Program) String() string {
	var b strings.Builder
	for _, bd := range p.Bindings {
		fmt.Fprintf(&b, "%s = %s\n", bd.Name, bd.Node)
	}
	for i, n := range p.Signals {
		fmt.Fprintf(&b, "%s = %s\n", types.Signal(i), n)
	}
	return b.String()
}

// Warmup is 2 × the largest length argument. Input-backed lengths are read
// through lookup; lengths lookup cannot resolve are skipped.
func (p *Program) Warmup(lookup func(input string) (float64, bool)) int {
	maxLen := 0.0
	for _, s := range p.Lengths {
		v := s.Value
		if s.Input != "" {
			var ok bool
			if v, ok = lookup(s.Input); !ok {
				continue
			}
		}
		maxLen = math.Max(maxLen, v)
	}
	return 2 * int(maxLen)
}

// Children returns the direct operands of n.
func Children(n Node) []Node {
	switch x := n.(type) {
	case *Arith:
		return []Node{x.X, x.Y}
	case *Compare:
		return []Node{x.X, x.Y}
	case *And:
		return []Node{x.X, x.Y}
	case *Or:
		return []Node{x.X, x.Y}
	case *Not:
		return []Node{x.X}
	case *Neg:
		return []Node{x.X}
	case *Cond:
		return []Node{x.If, x.Then, x.Else}
	case *History:
		return []Node{x.X}
	case *Mask:
		return []Node{x.X}
	case *Output:
		return x.Call.Series
	}
	return nil
}

// Walk visits n and its operands depth-first, each shared node once.
func Walk(n Node, fn func(Node)) {
	seen := map[Node]bool{}
	var visit func(Node)
	visit = func(n Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		fn(n)
		for _, c := range Children(n) {
			visit(c)
		}
	}
	visit(n)
}

func formatFloat(v float64) string {
	if v != v {
		return "na"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
