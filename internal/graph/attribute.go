package graph

import (
	"github.com/google/uuid"
)

// Handle is a graph-assigned identifier, unique for the lifetime of the process.
// Handles are never persisted; stable ids are.
type Handle uint64

// Direction distinguishes input attributes from output attributes.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// DefaultBufferSize is the input buffer capacity used when none is configured.
const DefaultBufferSize = 16

// newAttributeID derives a stable id for an attribute created without one.
func newAttributeID(label string) string {
	return label + "-" + uuid.NewString()
}

// -----------------------------------------------------------------------
// Output
// -----------------------------------------------------------------------

// Output is a connection endpoint that fans values out to any number of inputs.
type Output struct {
	handle   Handle
	id       string
	label    string
	owner    *Node
	children []*Input // ordered, no duplicates
	last     any
	hasLast  bool
}

// NewOutput creates a detached output attribute. An empty id gets a generated one.
func NewOutput(label, id string) *Output {
	if id == "" {
		id = newAttributeID(label)
	}
	return &Output{id: id, label: label}
}

func (o *Output) Handle() Handle        { return o.handle }
func (o *Output) ID() string            { return o.id }
func (o *Output) Label() string         { return o.label }
func (o *Output) SetLabel(label string) { o.label = label }
func (o *Output) Owner() *Node          { return o.owner }
func (o *Output) Direction() Direction  { return DirectionOutput }
func (o *Output) Last() (any, bool)     { return o.last, o.hasLast }

// SetID replaces the stable id used by persisted connections.
func (o *Output) SetID(id string) { o.id = id }

// ConnectedTo reports whether in is one of the output's children.
func (o *Output) ConnectedTo(in *Input) bool { return o.indexOf(in) >= 0 }

// Children returns the connected inputs in connection order.
func (o *Output) Children() []*Input {
	out := make([]*Input, len(o.children))
	copy(out, o.children)
	return out
}

// Emit records v as the last value and pushes it into every connected input.
func (o *Output) Emit(v any) {
	o.last = v
	o.hasLast = true
	for _, in := range o.children {
		in.push(v)
	}
}

func (o *Output) indexOf(in *Input) int {
	for i, c := range o.children {
		if c == in {
			return i
		}
	}
	return -1
}

// clearConnections detaches every child and forgets the last value.
func (o *Output) clearConnections() {
	for len(o.children) > 0 {
		Disconnect(o, o.children[len(o.children)-1])
	}
	o.last = nil
	o.hasLast = false
}

// -----------------------------------------------------------------------
// Input
// -----------------------------------------------------------------------

// Input is a connection endpoint with at most one parent output.
// Received values are queued in a bounded FIFO; when it overflows the oldest
// value is dropped. The most recent value is kept as a fallback for reads
// against an empty buffer.
type Input struct {
	handle   Handle
	id       string
	label    string
	owner    *Node
	parent   *Output
	buf      []any
	capacity int
	last     any
	hasLast  bool
}

// NewInput creates a detached input attribute. An empty id gets a generated one.
func NewInput(label, id string) *Input {
	if id == "" {
		id = newAttributeID(label)
	}
	return &Input{id: id, label: label}
}

func (in *Input) Handle() Handle        { return in.handle }
func (in *Input) ID() string            { return in.id }
func (in *Input) Label() string         { return in.label }
func (in *Input) SetLabel(label string) { in.label = label }
func (in *Input) Owner() *Node          { return in.owner }
func (in *Input) Direction() Direction  { return DirectionInput }
func (in *Input) Parent() *Output       { return in.parent }
func (in *Input) Connected() bool       { return in.parent != nil }
func (in *Input) Len() int              { return len(in.buf) }

// SetID replaces the stable id used by persisted connections.
func (in *Input) SetID(id string) { in.id = id }

// Capacity reports the buffer bound.
func (in *Input) Capacity() int {
	if in.capacity <= 0 {
		return DefaultBufferSize
	}
	return in.capacity
}

// SetCapacity changes the buffer bound, dropping the oldest values if the
// buffer already holds more than n.
func (in *Input) SetCapacity(n int) {
	in.capacity = n
	if extra := len(in.buf) - in.Capacity(); extra > 0 {
		in.buf = append(in.buf[:0], in.buf[extra:]...)
	}
}

// Read pops the oldest buffered value. With an empty buffer it returns the
// last received value; ok is false only if nothing was ever received.
func (in *Input) Read() (v any, ok bool) {
	if len(in.buf) > 0 {
		v = in.buf[0]
		in.buf[0] = nil
		in.buf = in.buf[1:]
		return v, true
	}
	return in.last, in.hasLast
}

// Drain pops every buffered value, oldest first. It never returns the
// last-value fallback.
func (in *Input) Drain() []any {
	if len(in.buf) == 0 {
		return nil
	}
	out := make([]any, len(in.buf))
	copy(out, in.buf)
	in.buf = in.buf[:0]
	return out
}

func (in *Input) push(v any) {
	if len(in.buf) >= in.Capacity() {
		in.buf[0] = nil
		in.buf = in.buf[1:]
	}
	in.buf = append(in.buf, v)
	in.last = v
	in.hasLast = true
}

func (in *Input) clearValues() {
	in.buf = nil
	in.last = nil
	in.hasLast = false
}

// clearConnection detaches the input from its parent, if any.
func (in *Input) clearConnection() {
	if in.parent != nil {
		Disconnect(in.parent, in)
	}
	in.clearValues()
}

// -----------------------------------------------------------------------
// Connection protocol
// -----------------------------------------------------------------------

// Connection is one output→input link.
type Connection struct {
	Output *Output
	Input  *Input
}

// Connect links out to in. It is a no-op if the link already exists; an
// existing parent of in is disconnected first. Both sides are updated together.
// It reports whether the link was created.
func Connect(out *Output, in *Input) bool {
	if out == nil || in == nil || out.indexOf(in) >= 0 {
		return false
	}
	if in.parent != nil {
		Disconnect(in.parent, in)
	}
	out.children = append(out.children, in)
	in.parent = out
	return true
}

// Disconnect removes the link between out and in and clears the values
// buffered in in. It reports whether a link was removed.
func Disconnect(out *Output, in *Input) bool {
	if out == nil || in == nil {
		return false
	}
	i := out.indexOf(in)
	if i < 0 {
		return false
	}
	out.children = append(out.children[:i], out.children[i+1:]...)
	in.parent = nil
	in.clearValues()
	return true
}
