package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wesleyorama2/lunge-fleet/internal/agent"
	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// Local runs its share of the load in-process. It is used by
// `dispatch --local N` and in tests.
type Local struct {
	name   string
	runner *agent.Runner

	mu   sync.Mutex
	last *agent.Response
}

// NewLocal creates an in-process node backed by runner.
func NewLocal(name string, runner *agent.Runner) *Local {
	return &Local{name: name, runner: runner}
}

func (n *Local) String() string {
	return n.name
}

// ApplyLoad runs options on the local runner and keeps the outcome for FetchResults.
func (n *Local) ApplyLoad(ctx context.Context, options fleet.DispatchOptions) error {
	summary, err := n.runner.Run(ctx, options)

	response := &agent.Response{Status: agent.StatusOK, Summary: summary}
	if err != nil {
		response.Status = agent.StatusError
		response.Error = err.Error()
	}

	n.mu.Lock()
	n.last = response
	n.mu.Unlock()

	return err
}

// FetchResults returns the last run in the same shape an agent serves it.
func (n *Local) FetchResults(ctx context.Context) ([]byte, error) {
	n.mu.Lock()
	last := n.last
	n.mu.Unlock()

	if last == nil {
		return nil, fmt.Errorf("%s has not run any load yet", n.name)
	}
	return json.MarshalIndent(last, "", "  ")
}

// Last returns the summary of the last run, or nil.
func (n *Local) Last() *agent.Summary {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.last == nil {
		return nil
	}
	return n.last.Summary
}
