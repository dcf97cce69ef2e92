package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category governs what a node exchanges with the graph boundary.
type Category int

const (
	CategoryInput   Category = iota // receives the tick input, result not collected
	CategoryProcess                 // no tick input, result not collected
	CategoryOutput                  // no tick input, result collected
	CategoryIPO                     // receives the tick input, result collected
)

var categoryNames = [...]string{"input", "process", "output", "ipo"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory accepts the names produced by Category.String.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if strings.EqualFold(s, name) {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node category %q", s)
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Category) receivesInput() bool { return c == CategoryInput || c == CategoryIPO }
func (c Category) emitsResult() bool   { return c == CategoryOutput || c == CategoryIPO }

// Processor is the computation a node performs once per physical execution.
// It reads from the node's inputs, writes to its outputs with Emit and
// returns the node's result. input is the tick input for Input/IPO nodes and
// nil otherwise.
type Processor interface {
	Process(ec *ExecutionContext, input any) (any, error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ec *ExecutionContext, input any) (any, error)

func (f ProcessorFunc) Process(ec *ExecutionContext, input any) (any, error) { return f(ec, input) }

// Creator is an optional Processor hook run when the node joins a graph.
type Creator interface {
	OnCreate(n *Node)
}

// Remover is an optional Processor hook run when the node leaves a graph.
type Remover interface {
	OnRemove(n *Node)
}

// Point is a 2D position. The engine stores it for editors and never reads it.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit of computation. It owns its attributes exclusively.
type Node struct {
	graph  *Graph
	handle Handle
	seq    int // insertion order within the graph

	typeID      string
	id          string
	label       string
	category    Category
	priority    int
	selfExecute bool
	inputs      []*Input
	outputs     []*Output
	internal    map[string]any
	position    Point
	proc        Processor

	// per-tick state
	executed bool
	running  bool
	runs     int
	result   any
	err      error
	elapsed  time.Duration
}

// Option configures a Node at construction.
type Option func(*Node)

func WithID(id string) Option          { return func(n *Node) { n.id = id } }
func WithPriority(p int) Option        { return func(n *Node) { n.priority = p } }
func WithSelfExecute(on bool) Option   { return func(n *Node) { n.selfExecute = on } }
func WithPosition(p Point) Option      { return func(n *Node) { n.position = p } }
func WithProcessor(p Processor) Option { return func(n *Node) { n.proc = p } }

// WithInternalData seeds the node's persisted key/value bag.
func WithInternalData(data map[string]any) Option {
	return func(n *Node) {
		for k, v := range data {
			n.internal[k] = v
		}
	}
}

// NewNode creates a detached node. Without WithID the node gets a random stable id.
func NewNode(typeID, label string, category Category, opts ...Option) *Node {
	n := &Node{
		typeID:   typeID,
		label:    label,
		category: category,
		internal: make(map[string]any),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.id == "" {
		n.id = uuid.NewString()
	}
	return n
}

func (n *Node) Handle() Handle         { return n.handle }
func (n *Node) ID() string             { return n.id }
func (n *Node) TypeID() string         { return n.typeID }
func (n *Node) Label() string          { return n.label }
func (n *Node) Category() Category     { return n.category }
func (n *Node) Priority() int          { return n.priority }
func (n *Node) SelfExecute() bool      { return n.selfExecute }
func (n *Node) Position() Point        { return n.position }
func (n *Node) Processor() Processor   { return n.proc }
func (n *Node) Graph() *Graph          { return n.graph }
func (n *Node) Executed() bool         { return n.executed }
func (n *Node) Err() error             { return n.err }
func (n *Node) Elapsed() time.Duration { return n.elapsed }
func (n *Node) Result() any            { return n.result }
func (n *Node) Runs() int              { return n.runs }

func (n *Node) SetTypeID(typeID string)  { n.typeID = typeID }
func (n *Node) SetLabel(label string)    { n.label = label }
func (n *Node) SetCategory(c Category)   { n.category = c }
func (n *Node) SetPriority(p int)        { n.priority = p }
func (n *Node) SetSelfExecute(on bool)   { n.selfExecute = on }
func (n *Node) SetPosition(p Point)      { n.position = p }
func (n *Node) SetProcessor(p Processor) { n.proc = p }

// SetID changes the stable id. Attached nodes keep their id so the graph's
// index stays valid.
func (n *Node) SetID(id string) error {
	if n.graph != nil {
		return fmt.Errorf("node %s: cannot change id while attached to a graph", n.id)
	}
	if id == "" {
		return fmt.Errorf("node %s: empty id", n.id)
	}
	n.id = id
	return nil
}

// InternalData returns the live key/value bag persisted with the node.
func (n *Node) InternalData() map[string]any { return n.internal }

// SetInternalData replaces the key/value bag.
func (n *Node) SetInternalData(data map[string]any) {
	n.internal = make(map[string]any, len(data))
	for k, v := range data {
		n.internal[k] = v
	}
}

// Value returns one entry of the internal data.
func (n *Node) Value(key string) (any, bool) {
	v, ok := n.internal[key]
	return v, ok
}

// SetValue stores one entry of the internal data.
func (n *Node) SetValue(key string, v any) { n.internal[key] = v }

// AddInput appends a new input attribute. An empty id gets a generated one.
func (n *Node) AddInput(label, id string) *Input {
	in := NewInput(label, id)
	in.owner = n
	if n.graph != nil {
		n.graph.attachInput(in)
	}
	n.inputs = append(n.inputs, in)
	return in
}

// AddOutput appends a new output attribute. An empty id gets a generated one.
func (n *Node) AddOutput(label, id string) *Output {
	out := NewOutput(label, id)
	out.owner = n
	if n.graph != nil {
		n.graph.attachOutput(out)
	}
	n.outputs = append(n.outputs, out)
	return out
}

// Inputs returns the input attributes in declaration order.
func (n *Node) Inputs() []*Input {
	out := make([]*Input, len(n.inputs))
	copy(out, n.inputs)
	return out
}

// Outputs returns the output attributes in declaration order.
func (n *Node) Outputs() []*Output {
	out := make([]*Output, len(n.outputs))
	copy(out, n.outputs)
	return out
}

// Input returns the i-th input, or nil when out of range.
func (n *Node) Input(i int) *Input {
	if i < 0 || i >= len(n.inputs) {
		return nil
	}
	return n.inputs[i]
}

// Output returns the i-th output, or nil when out of range.
func (n *Node) Output(i int) *Output {
	if i < 0 || i >= len(n.outputs) {
		return nil
	}
	return n.outputs[i]
}

// InputByLabel returns the first input with the given label.
func (n *Node) InputByLabel(label string) *Input {
	for _, in := range n.inputs {
		if in.label == label {
			return in
		}
	}
	return nil
}

// OutputByLabel returns the first output with the given label.
func (n *Node) OutputByLabel(label string) *Output {
	for _, out := range n.outputs {
		if out.label == label {
			return out
		}
	}
	return nil
}

// ClearConnections detaches every input and output of the node.
func (n *Node) ClearConnections() {
	for _, in := range n.inputs {
		in.clearConnection()
	}
	for _, out := range n.outputs {
		out.clearConnections()
	}
}

func (n *Node) reset() {
	n.executed = false
	n.running = false
	n.runs = 0
	n.err = nil
}

// execute runs the processor unless the node already ran this tick (and is
// not self-executing) or is currently on the execution stack. ran reports
// whether the processor was invoked.
func (n *Node) execute(ec *ExecutionContext, input any) (out any, ran bool, err error) {
	if n.running || (n.executed && !n.selfExecute) {
		return n.result, false, nil
	}
	if n.proc == nil {
		n.executed = true
		n.runs++
		n.result = nil
		return nil, true, nil
	}

	n.running = true
	start := time.Now()
	defer func() {
		ran = true
		n.running = false
		n.elapsed = time.Since(start)
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			n.err = err
			out = nil
			err = &NodeError{NodeID: n.id, Label: n.label, TypeID: n.typeID, Err: err}
			return
		}
		n.err = nil
		n.executed = true
		n.runs++
		n.result = out
	}()

	out, err = n.proc.Process(ec, input)
	return out, true, err
}

// Status is a read-only view of a node's state after a tick.
type Status struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	TypeID    string   `json:"type"`
	Category  Category `json:"category"`
	Priority  int      `json:"priority"`
	Executed  bool     `json:"executed"`
	Runs      int      `json:"runs"`
	ElapsedMs float64  `json:"elapsed_ms"`
	Error     string   `json:"error,omitempty"`
}

// Status snapshots the node.
func (n *Node) Status() Status {
	s := Status{
		ID:        n.id,
		Label:     n.label,
		TypeID:    n.typeID,
		Category:  n.category,
		Priority:  n.priority,
		Executed:  n.executed,
		Runs:      n.runs,
		ElapsedMs: float64(n.elapsed.Microseconds()) / 1000,
	}
	if n.err != nil {
		s.Error = n.err.Error()
	}
	return s
}
