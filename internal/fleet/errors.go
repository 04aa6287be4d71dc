package fleet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrPoolFull is returned for a task submitted to a pool with no free slot.
	ErrPoolFull = errors.New("pool has no free slot")

	// ErrPoolClosed is returned for a task submitted after Shutdown.
	ErrPoolClosed = errors.New("pool is shut down")

	// ErrNoResults is returned by GatherResults for nodes that keep no results.
	ErrNoResults = errors.New("node does not expose results")
)

// PreconditionError reports a load that cannot be spread across the fleet.
// Nothing has been dispatched when it is returned.
type PreconditionError struct {
	VirtualUsers int
	Nodes        int

	// Rate is set when the rate budget, not the user count, is too small
	Rate TemporalRate
}

func (e *PreconditionError) Error() string {
	switch {
	case e.Nodes < 1:
		return fmt.Sprintf("no nodes to spread %d virtual users into", e.VirtualUsers)
	case !e.Rate.IsUnlimited():
		msg := fmt.Sprintf("max overall rate of %s is not enough to spread into %d nodes", e.Rate, e.Nodes)
		if longer, ok := e.Rate.over(e.Nodes); ok {
			msg += fmt.Sprintf(" (express the same rate as %s)", longer)
		}
		return msg
	default:
		return fmt.Sprintf("%d virtual users are not enough to spread into %d nodes", e.VirtualUsers, e.Nodes)
	}
}

// NodeError is the failure of one node within a multicast operation.
type NodeError struct {
	// Label names the operation, e.g. "apply load"
	Label string
	Node  string
	Index int
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s failed on %s: %v", e.Label, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// DispatchError aggregates every node failure of one multicast operation.
//
// errors.As(err, &nodeErr) finds the first failure; Failures lists all of them
// in node order.
type DispatchError struct {
	Label string
	Nodes int

	failures []*NodeError
	errs     *multierror.Error
}

func newDispatchError(label string, nodes int, failures []*NodeError) *DispatchError {
	e := &DispatchError{Label: label, Nodes: nodes, failures: failures}

	var errs *multierror.Error
	for _, failure := range failures {
		errs = multierror.Append(errs, failure)
	}
	errs.ErrorFormat = e.format
	e.errs = errs

	return e
}

func (e *DispatchError) format(errs []error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s failed on %d of %d nodes:", e.Label, len(errs), e.Nodes)
	for _, err := range errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *DispatchError) Error() string {
	return e.errs.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.errs.Unwrap()
}

// Failures returns the failed nodes in node order.
func (e *DispatchError) Failures() []*NodeError {
	out := make([]*NodeError, len(e.failures))
	copy(out, e.failures)
	return out
}

// FailedNodes returns the names of the failed nodes in node order.
func (e *DispatchError) FailedNodes() []string {
	names := make([]string, len(e.failures))
	for i, failure := range e.failures {
		names[i] = failure.Node
	}
	return names
}
