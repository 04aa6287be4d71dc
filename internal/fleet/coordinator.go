package fleet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/lunge-fleet/internal/metrics"
)

const (
	labelApplyLoad     = "apply load"
	labelGatherResults = "gather results"
)

// Node is one load-generating worker.
//
// ApplyLoad runs the given load to completion (or failure) before returning.
// A Node may implement fmt.Stringer to name itself in logs and errors.
type Node interface {
	ApplyLoad(ctx context.Context, options DispatchOptions) error
}

// ResultSource is implemented by nodes that keep the results of their last run.
type ResultSource interface {
	FetchResults(ctx context.Context) ([]byte, error)
}

// Phase is the state of one dispatch.
type Phase string

const (
	PhaseValidating  Phase = "validating"
	PhaseDispatching Phase = "dispatching"
	PhaseJoining     Phase = "joining"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// NodeResult is the outcome of one node within a multicast.
type NodeResult struct {
	Index    int             `json:"index" yaml:"index"`
	Node     string          `json:"node" yaml:"node"`
	Worker   string          `json:"worker" yaml:"worker"`
	Options  DispatchOptions `json:"options" yaml:"options"`
	Duration time.Duration   `json:"duration" yaml:"duration"`
	Err      error           `json:"-" yaml:"-"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report describes one dispatch after it has ended.
type Report struct {
	ID        string           `json:"id" yaml:"id"`
	Label     string           `json:"label" yaml:"label"`
	Phase     Phase            `json:"phase" yaml:"phase"`
	Nodes     []NodeResult     `json:"nodes" yaml:"nodes"`
	Durations metrics.Snapshot `json:"durations" yaml:"durations"`
	Started   time.Time        `json:"started" yaml:"started"`
	Finished  time.Time        `json:"finished" yaml:"finished"`
}

// Failed returns the results of the nodes that failed.
func (r *Report) Failed() []NodeResult {
	var failed []NodeResult
	for _, n := range r.Nodes {
		if n.Err != nil {
			failed = append(failed, n)
		}
	}
	return failed
}

// Coordinator applies one load profile across an ordered list of nodes.
//
// The coordinator borrows the nodes: it never mutates them and keeps no
// state between calls, so one Coordinator may be used for many dispatches.
// A Coordinator is itself a Node, so fleets can be nested.
type Coordinator struct {
	nodes []Node
	log   *log.Entry
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for dispatch progress.
func WithLogger(entry *log.Entry) Option {
	return func(c *Coordinator) {
		c.log = entry
	}
}

// NewCoordinator creates a coordinator over nodes, in dispatch order.
func NewCoordinator(nodes []Node, opts ...Option) *Coordinator {
	c := &Coordinator{
		nodes: append([]Node(nil), nodes...),
		log:   log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Nodes returns the nodes in dispatch order.
func (c *Coordinator) Nodes() []Node {
	return append([]Node(nil), c.nodes...)
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("fleet of %d nodes", len(c.nodes))
}

// ApplyLoad dispatches options across the fleet. See Dispatch.
func (c *Coordinator) ApplyLoad(ctx context.Context, options DispatchOptions) error {
	_, err := c.Dispatch(ctx, options)
	return err
}

// Dispatch partitions the load in options and applies each share to its node.
//
// All nodes run concurrently on a pool with one slot per node. Every node is
// joined even after another has failed; a failing node does not cancel the
// others. The returned error is a *PreconditionError when the load cannot be
// spread (nothing is dispatched), a *DispatchError naming every failed node,
// or nil. The report is returned in every case.
func (c *Coordinator) Dispatch(ctx context.Context, options DispatchOptions) (*Report, error) {
	report := &Report{
		ID:      uuid.NewString(),
		Label:   labelApplyLoad,
		Phase:   PhaseValidating,
		Started: time.Now(),
	}
	logger := c.log.WithFields(log.Fields{"dispatch": report.ID, "label": report.Label})

	plans, err := Plan(options, len(c.nodes))
	if err != nil {
		report.Phase = PhaseFailed
		report.Finished = time.Now()
		logger.WithError(err).Error("cannot spread load")
		return report, err
	}

	global := options.Behavior.Load
	logger.Infof("spreading %d virtual users over %d nodes (ramp %s, rate %s)",
		global.VirtualUsers, len(c.nodes), global.Ramp, global.MaxOverallRate)

	err = c.multicast(ctx, report, logger, func(ctx context.Context, node Node, index int) error {
		return node.ApplyLoad(ctx, plans[index])
	})
	for i := range report.Nodes {
		report.Nodes[i].Options = plans[i]
	}

	return report, err
}

// GatherResults collects the results of the last run from every node into dir,
// one <node>.json file per node. Nodes that are not a ResultSource fail with
// ErrNoResults. Like Dispatch, every node is joined and all failures reported.
func (c *Coordinator) GatherResults(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	report := &Report{
		ID:      uuid.NewString(),
		Label:   labelGatherResults,
		Phase:   PhaseDispatching,
		Started: time.Now(),
	}
	logger := c.log.WithFields(log.Fields{"dispatch": report.ID, "label": report.Label})

	return c.multicast(ctx, report, logger, func(ctx context.Context, node Node, index int) error {
		source, ok := node.(ResultSource)
		if !ok {
			return ErrNoResults
		}
		data, err := source.FetchResults(ctx)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, resultFileName(nodeName(node, index)))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		return nil
	})
}

// multicast runs operation against every node on a fresh pool, joins all of
// them and fills report with the outcome.
func (c *Coordinator) multicast(
	ctx context.Context,
	report *Report,
	logger *log.Entry,
	operation func(ctx context.Context, node Node, index int) error,
) error {
	label := report.Label
	pool := NewPool(label, len(c.nodes))
	logger.WithField("workers", pool.Size()).Debug("worker pool started")

	report.Phase = PhaseDispatching
	tasks := make([]*Task, len(c.nodes))
	names := make([]string, len(c.nodes))
	for i, node := range c.nodes {
		names[i] = nodeName(node, i)
		taskLog := logger.WithFields(log.Fields{"node": names[i], "index": i, "worker": pool.WorkerName(i)})

		tasks[i] = pool.Submit(func() error {
			taskLog.Debug("started")
			if err := operation(ctx, node, i); err != nil {
				return err
			}
			taskLog.Debug("finished")
			return nil
		})
	}

	report.Phase = PhaseJoining
	durations := metrics.NewRecorderWithConfig(metrics.NodeDurationConfig())
	report.Nodes = make([]NodeResult, len(c.nodes))
	var failures []*NodeError
	for i, task := range tasks {
		err := task.Wait()
		if err != nil {
			nodeErr := &NodeError{Label: label, Node: names[i], Index: i, Err: err}
			failures = append(failures, nodeErr)
			err = nodeErr
			logger.WithFields(log.Fields{"node": names[i], "index": i}).WithError(err).Error("node failed")
		}
		durations.RecordLatency(task.Duration(), err == nil, 0)
		report.Nodes[i] = NodeResult{
			Index:    i,
			Node:     names[i],
			Worker:   task.Worker,
			Duration: task.Duration(),
			Err:      err,
		}
		if err != nil {
			report.Nodes[i].Error = err.Error()
		}
	}
	pool.Shutdown()

	report.Durations = durations.Snapshot()
	report.Finished = time.Now()

	if len(failures) > 0 {
		report.Phase = PhaseFailed
		err := newDispatchError(label, len(c.nodes), failures)
		logger.WithField("phase", report.Phase).Errorf("%d of %d nodes failed", len(failures), len(c.nodes))
		return err
	}

	report.Phase = PhaseSucceeded
	logger.WithField("phase", report.Phase).Infof("%s succeeded on %d nodes in %s",
		label, len(c.nodes), report.Finished.Sub(report.Started).Round(time.Millisecond))
	return nil
}

func nodeName(node Node, index int) string {
	if s, ok := node.(fmt.Stringer); ok {
		if name := s.String(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("node-%d", index)
}

func resultFileName(name string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	return replacer.Replace(name) + ".json"
}
