package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrDuplicateNodeID = errors.New("duplicate node id")
	ErrAlreadyAttached = errors.New("node already belongs to a graph")
	ErrNotAttached     = errors.New("attribute is not owned by a node of this graph")
	ErrTickExpired     = errors.New("execution context used after its tick ended")
	ErrBusy            = errors.New("graph is already processing a tick")
)

// NodeError is a processing failure raised by a node during a tick.
type NodeError struct {
	NodeID string
	Label  string
	TypeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.Label, e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// FailedNode returns the innermost NodeError in err's chain. A node that
// drives others (RunDependents and friends) wraps their failures, so the
// innermost one names the node whose processor actually failed.
func FailedNode(err error) *NodeError {
	var found *NodeError
	for {
		var ne *NodeError
		if !errors.As(err, &ne) {
			return found
		}
		found = ne
		err = ne.Err
	}
}
