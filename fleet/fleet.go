package fleet

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/lunge-fleet/internal/agent"
	"github.com/wesleyorama2/lunge-fleet/internal/config"
	core "github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/metrics"
	"github.com/wesleyorama2/lunge-fleet/internal/node"
)

type (
	// LoadProfile is the target concurrency curve of a load test.
	LoadProfile = core.LoadProfile
	// TemporalRate is an amount of change per unit of time.
	TemporalRate = core.TemporalRate
	// Target describes the system under test.
	Target = core.Target
	// Behavior describes what the virtual users do.
	Behavior = core.Behavior
	// DispatchOptions is the payload applied to a node.
	DispatchOptions = core.DispatchOptions
	// Node is one load-generating worker.
	Node = core.Node
	// Coordinator applies one load profile across an ordered list of nodes.
	Coordinator = core.Coordinator
	// Report describes one dispatch after it has ended.
	Report = core.Report
	// NodeResult is the outcome of one node.
	NodeResult = core.NodeResult

	// PreconditionError reports a load that cannot be spread across the fleet.
	PreconditionError = core.PreconditionError
	// DispatchError aggregates every node failure of one dispatch.
	DispatchError = core.DispatchError
	// NodeError is the failure of one node.
	NodeError = core.NodeError

	// Config is a parsed fleet file.
	Config = config.FleetConfig
)

var (
	// Unlimited returns a rate that never throttles.
	Unlimited = core.Unlimited
	// Partition computes the share of a global load run by one node.
	Partition = core.Partition
	// Plan returns the options of every node in a fleet of the given size.
	Plan = core.Plan
	// NewCoordinator creates a coordinator over nodes, in dispatch order.
	NewCoordinator = core.NewCoordinator
	// WithLogger sets the logger of a Coordinator.
	WithLogger = core.WithLogger
)

// NewHTTPNode returns a node driving the agent at url. A zero timeout
// leaves each run unbounded.
func NewHTTPNode(name, url string, timeout time.Duration) Node {
	return node.NewHTTP(name, url, node.WithTimeout(timeout))
}

// NewLocalNode returns a node that runs its share in this process.
func NewLocalNode(name string) Node {
	return node.NewLocal(name, agent.NewRunner(
		agent.WithLogger(log.WithField("node", name)),
	))
}

// LoadConfig loads and validates a fleet file.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Result contains the outcome of one fleet run.
type Result struct {
	// Name is the name of the fleet file
	Name string `json:"name,omitempty"`

	// Report is the per-node outcome of the dispatch
	Report *Report `json:"report"`

	// Local holds the request metrics of the in-process nodes, by name
	Local map[string]metrics.Snapshot `json:"local,omitempty"`

	// Passed is true when every node succeeded
	Passed bool `json:"passed"`
}

// Runner provides a high-level API for running a fleet file.
//
//	cfg, _ := fleet.LoadConfig("fleet.yaml")
//	runner := fleet.NewRunner(cfg, fleet.WithLocalNodes(2))
//	result, _ := runner.Run(context.Background())
type Runner struct {
	config     *Config
	localNodes int
	extra      []Node
	log        *log.Entry
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLocalNodes adds n in-process nodes after the agents of the fleet file.
func WithLocalNodes(n int) RunnerOption {
	return func(r *Runner) {
		r.localNodes = n
	}
}

// WithNodes adds nodes after the agents of the fleet file.
func WithNodes(nodes ...Node) RunnerOption {
	return func(r *Runner) {
		r.extra = append(r.extra, nodes...)
	}
}

// WithRunLogger sets the logger of the run.
func WithRunLogger(entry *log.Entry) RunnerOption {
	return func(r *Runner) {
		r.log = entry
	}
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *Config, opts ...RunnerOption) *Runner {
	r := &Runner{config: cfg, log: log.NewEntry(log.StandardLogger())}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run spreads the fleet file's load over its nodes and waits for every node.
//
// The result is returned whenever the dispatch took place, even if some nodes
// failed; err then names every failed node.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	nodes := append(r.config.BuildNodes(nil), r.extra...)
	var locals []*node.Local
	for i := 0; i < r.localNodes; i++ {
		name := fmt.Sprintf("local-%d", i)
		local := node.NewLocal(name, agent.NewRunner(agent.WithLogger(r.log.WithField("node", name))))
		locals = append(locals, local)
		nodes = append(nodes, local)
	}

	coordinator := NewCoordinator(nodes, WithLogger(r.log.WithField("fleet", r.config.Name)))
	report, err := coordinator.Dispatch(ctx, r.config.DispatchOptions())

	result := &Result{
		Name:   r.config.Name,
		Report: report,
		Passed: err == nil,
	}
	for _, local := range locals {
		if summary := local.Last(); summary != nil {
			if result.Local == nil {
				result.Local = make(map[string]metrics.Snapshot)
			}
			result.Local[local.String()] = summary.Metrics
		}
	}
	return result, err
}

// Run loads the fleet file at path and runs it.
func Run(ctx context.Context, path string, opts ...RunnerOption) (*Result, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewRunner(cfg, opts...).Run(ctx)
}
