package fleet_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// spyNode records every ApplyLoad call and returns err.
type spyNode struct {
	name    string
	err     error
	delay   time.Duration
	results []byte

	mu    sync.Mutex
	calls []fleet.DispatchOptions
	done  atomic.Bool
}

func (n *spyNode) String() string { return n.name }

func (n *spyNode) ApplyLoad(ctx context.Context, options fleet.DispatchOptions) error {
	n.mu.Lock()
	n.calls = append(n.calls, options)
	n.mu.Unlock()

	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.done.Store(true)
	return n.err
}

func (n *spyNode) FetchResults(ctx context.Context) ([]byte, error) {
	if n.err != nil {
		return nil, n.err
	}
	return n.results, nil
}

func (n *spyNode) Calls() []fleet.DispatchOptions {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]fleet.DispatchOptions(nil), n.calls...)
}

func newSpies(count int) ([]*spyNode, []fleet.Node) {
	spies := make([]*spyNode, count)
	nodes := make([]fleet.Node, count)
	for i := range spies {
		spies[i] = &spyNode{name: fmt.Sprintf("node-%d", i)}
		nodes[i] = spies[i]
	}
	return spies, nodes
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func testOptions(virtualUsers int) fleet.DispatchOptions {
	return fleet.DispatchOptions{
		Target: fleet.Target{URL: "http://target.test"},
		Behavior: fleet.Behavior{
			Load: fleet.LoadProfile{
				VirtualUsers: virtualUsers,
				Hold:         time.Minute,
				Ramp:         4 * time.Minute,
				Flat:         time.Minute,
			},
			Seed: 7,
		},
	}
}

func TestCoordinator_DispatchAppliesPartitionToEveryNode(t *testing.T) {
	spies, nodes := newSpies(4)
	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	options := testOptions(100)

	report, err := coordinator.Dispatch(context.Background(), options)
	require.NoError(t, err)

	assert.Equal(t, fleet.PhaseSucceeded, report.Phase)
	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Nodes, 4)
	assert.Empty(t, report.Failed())
	assert.Equal(t, int64(4), report.Durations.TotalRequests)

	for i, spy := range spies {
		calls := spy.Calls()
		require.Len(t, calls, 1, "node %d", i)
		assert.Equal(t, fleet.PartitionOptions(options, 4, i), calls[0])
		assert.Equal(t, 25, calls[0].Behavior.Load.VirtualUsers)
		assert.Equal(t, i > 0, calls[0].Behavior.SkipSetup)

		assert.Equal(t, i, report.Nodes[i].Index)
		assert.Equal(t, spy.name, report.Nodes[i].Node)
		assert.Equal(t, fmt.Sprintf("multicast-apply-load-worker-%d", i), report.Nodes[i].Worker)
		assert.Equal(t, calls[0], report.Nodes[i].Options)
	}
}

func TestCoordinator_NotEnoughUsersDispatchesNothing(t *testing.T) {
	spies, nodes := newSpies(5)
	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))

	report, err := coordinator.Dispatch(context.Background(), testOptions(4))

	var precondition *fleet.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, 4, precondition.VirtualUsers)
	assert.Equal(t, 5, precondition.Nodes)
	assert.EqualError(t, err, "4 virtual users are not enough to spread into 5 nodes")
	assert.Equal(t, fleet.PhaseFailed, report.Phase)

	for _, spy := range spies {
		assert.Empty(t, spy.Calls())
	}
}

func TestCoordinator_EmptyFleet(t *testing.T) {
	coordinator := fleet.NewCoordinator(nil, fleet.WithLogger(quietLogger()))

	_, err := coordinator.Dispatch(context.Background(), testOptions(10))

	var precondition *fleet.PreconditionError
	assert.ErrorAs(t, err, &precondition)
}

func TestCoordinator_OneFailureIsReportedAndOthersStillRun(t *testing.T) {
	spies, nodes := newSpies(5)
	boom := errors.New("connection refused")
	spies[2].err = boom
	for i, spy := range spies {
		if i != 2 {
			spy.delay = 50 * time.Millisecond
		}
	}

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	report, err := coordinator.Dispatch(context.Background(), testOptions(50))
	require.Error(t, err)

	var dispatchErr *fleet.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, []string{"node-2"}, dispatchErr.FailedNodes())
	assert.Contains(t, err.Error(), "apply load failed on node-2")
	assert.ErrorIs(t, err, boom)

	var nodeErr *fleet.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, 2, nodeErr.Index)

	// no sibling was cancelled
	for i, spy := range spies {
		assert.Len(t, spy.Calls(), 1, "node %d", i)
		if i != 2 {
			assert.True(t, spy.done.Load(), "node %d should have finished", i)
		}
	}

	assert.Equal(t, fleet.PhaseFailed, report.Phase)
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "node-2", failed[0].Node)
	assert.Contains(t, failed[0].Error, "connection refused")
}

func TestCoordinator_EveryFailureIsReported(t *testing.T) {
	spies, nodes := newSpies(3)
	spies[0].err = errors.New("first")
	spies[2].err = errors.New("third")

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	_, err := coordinator.Dispatch(context.Background(), testOptions(30))

	var dispatchErr *fleet.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, []string{"node-0", "node-2"}, dispatchErr.FailedNodes())
	assert.Len(t, dispatchErr.Failures(), 2)
	assert.Contains(t, err.Error(), "apply load failed on 2 of 3 nodes")
}

func TestCoordinator_NodesRunConcurrently(t *testing.T) {
	const count = 6
	var started sync.WaitGroup
	started.Add(count)
	released := make(chan struct{})
	go func() {
		started.Wait()
		close(released)
	}()

	nodes := make([]fleet.Node, count)
	for i := range nodes {
		nodes[i] = nodeFunc(func(ctx context.Context, _ fleet.DispatchOptions) error {
			started.Done()
			select {
			case <-released:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("nodes did not run at the same time")
			}
		})
	}

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	_, err := coordinator.Dispatch(context.Background(), testOptions(count))
	assert.NoError(t, err)
}

func TestCoordinator_PanickingNodeIsAFailure(t *testing.T) {
	spies, nodes := newSpies(3)
	nodes[1] = nodeFunc(func(context.Context, fleet.DispatchOptions) error {
		panic("node exploded")
	})

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	_, err := coordinator.Dispatch(context.Background(), testOptions(3))

	var dispatchErr *fleet.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, []string{"node-1"}, dispatchErr.FailedNodes())
	assert.Contains(t, err.Error(), "node exploded")
	assert.Len(t, spies[0].Calls(), 1)
	assert.Len(t, spies[2].Calls(), 1)
}

func TestCoordinator_IsANode(t *testing.T) {
	innerSpies, innerNodes := newSpies(2)
	inner := fleet.NewCoordinator(innerNodes, fleet.WithLogger(quietLogger()))
	outerSpy := &spyNode{name: "solo"}

	outer := fleet.NewCoordinator([]fleet.Node{inner, outerSpy}, fleet.WithLogger(quietLogger()))
	err := outer.ApplyLoad(context.Background(), testOptions(40))
	require.NoError(t, err)

	// 40 users over the outer fleet, then 20 over the inner one
	for _, spy := range innerSpies {
		calls := spy.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, 10, calls[0].Behavior.Load.VirtualUsers)
	}
	require.Len(t, outerSpy.Calls(), 1)
	assert.Equal(t, 20, outerSpy.Calls()[0].Behavior.Load.VirtualUsers)
	assert.Equal(t, "fleet of 2 nodes", inner.String())
}

func TestCoordinator_UnnamedNodesGetIndexNames(t *testing.T) {
	nodes := []fleet.Node{
		nodeFunc(func(context.Context, fleet.DispatchOptions) error { return nil }),
		nodeFunc(func(context.Context, fleet.DispatchOptions) error { return errors.New("nope") }),
	}

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	_, err := coordinator.Dispatch(context.Background(), testOptions(2))

	assert.EqualError(t, err, "apply load failed on 1 of 2 nodes:\n\t* apply load failed on node-1: nope")
}

func TestCoordinator_LogsDispatch(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, nodes := newSpies(2)

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(logrus.NewEntry(logger)))
	report, err := coordinator.Dispatch(context.Background(), testOptions(2))
	require.NoError(t, err)

	require.NotEmpty(t, hook.AllEntries())
	last := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, report.ID, last.Data["dispatch"])
	assert.Equal(t, "apply load", last.Data["label"])
	assert.Equal(t, fleet.PhaseSucceeded, last.Data["phase"])
}

func TestCoordinator_NodesIsACopy(t *testing.T) {
	_, nodes := newSpies(2)
	coordinator := fleet.NewCoordinator(nodes)

	got := coordinator.Nodes()
	got[0] = nil
	assert.NotNil(t, coordinator.Nodes()[0])
}

func TestCoordinator_GatherResults(t *testing.T) {
	spies, nodes := newSpies(3)
	for i, spy := range spies {
		spy.results = []byte(fmt.Sprintf(`{"node":%d}`, i))
	}
	dir := filepath.Join(t.TempDir(), "results")

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	require.NoError(t, coordinator.GatherResults(context.Background(), dir))

	for i := range spies {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("node-%d.json", i)))
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"node":%d}`, i), string(data))
	}
}

func TestCoordinator_GatherResultsReportsNodesWithoutResults(t *testing.T) {
	spies, nodes := newSpies(2)
	spies[0].results = []byte(`{}`)
	nodes = append(nodes, nodeFunc(func(context.Context, fleet.DispatchOptions) error { return nil }))

	coordinator := fleet.NewCoordinator(nodes, fleet.WithLogger(quietLogger()))
	err := coordinator.GatherResults(context.Background(), t.TempDir())

	var dispatchErr *fleet.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, []string{"node-2"}, dispatchErr.FailedNodes())
	assert.ErrorIs(t, err, fleet.ErrNoResults)
	assert.Contains(t, err.Error(), "gather results failed on node-2")
}

// nodeFunc adapts a function to the Node interface.
type nodeFunc func(ctx context.Context, options fleet.DispatchOptions) error

func (f nodeFunc) ApplyLoad(ctx context.Context, options fleet.DispatchOptions) error {
	return f(ctx, options)
}
