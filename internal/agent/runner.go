package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/lunge-fleet/internal/client"
	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/metrics"
	"github.com/wesleyorama2/lunge-fleet/internal/rate"
	"github.com/wesleyorama2/lunge-fleet/internal/users"
)

// DefaultTick is how often the runner adjusts the VU count to the schedule.
const DefaultTick = 100 * time.Millisecond

// ErrAllRequestsFailed is returned when a run sent requests but none succeeded.
var ErrAllRequestsFailed = errors.New("every request against the target failed")

// Observer receives live updates from a run, e.g. to export them as metrics.
type Observer interface {
	ObserveRequest(latency time.Duration, success bool)
	SetActiveVUs(count int)
}

// Summary is the outcome of one run on one node.
type Summary struct {
	Options        fleet.DispatchOptions `json:"options"`
	SetupPerformed bool                  `json:"setupPerformed"`
	Started        time.Time             `json:"started"`
	Finished       time.Time             `json:"finished"`
	PeakVUs        int                   `json:"peakVUs"`
	UsersCreated   int64                 `json:"usersCreated"`
	UserFailures   int64                 `json:"userFailures"`
	Metrics        metrics.Snapshot      `json:"metrics"`
	Throttle       rate.Stats            `json:"throttle"`
}

// Runner applies one node's share of the load to the target.
type Runner struct {
	generator  users.Generator
	httpClient *http.Client
	observer   Observer
	tick       time.Duration
	log        *log.Entry
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithGenerator fixes the user generator instead of picking one per run
// from the behaviour's UserGenerator name.
func WithGenerator(generator users.Generator) RunnerOption {
	return func(r *Runner) {
		r.generator = generator
	}
}

// WithHTTPClient sets the transport used against the target.
func WithHTTPClient(hc *http.Client) RunnerOption {
	return func(r *Runner) {
		r.httpClient = hc
	}
}

// WithObserver forwards live request outcomes and VU counts to o.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithTick sets how often VUs are adjusted to the schedule.
func WithTick(tick time.Duration) RunnerOption {
	return func(r *Runner) {
		if tick > 0 {
			r.tick = tick
		}
	}
}

// WithLogger sets the logger of the runner.
func WithLogger(entry *log.Entry) RunnerOption {
	return func(r *Runner) {
		r.log = entry
	}
}

// NewRunner creates a runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		httpClient: &http.Client{},
		tick:       DefaultTick,
		log:        log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	return r
}

// Run applies options to the target and blocks until the schedule ends.
//
// Unless SkipSetup is set the target is probed once before any virtual user
// starts. Every virtual user obtains an identity from the user generator and
// then requests the target in a loop, sharing one throttle so the node as a
// whole stays under MaxOverallRate.
func (r *Runner) Run(ctx context.Context, options fleet.DispatchOptions) (*Summary, error) {
	load := options.Behavior.Load
	if err := load.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load: %w", err)
	}
	if options.Target.URL == "" {
		return nil, errors.New("target url is required")
	}

	generator := r.generator
	if generator == nil {
		var err error
		if generator, err = users.New(options.Behavior.UserGenerator, r.httpClient); err != nil {
			return nil, err
		}
	}

	logger := r.log.WithFields(log.Fields{"target": options.Target.URL, "vus": load.VirtualUsers})
	summary := &Summary{Options: options, Started: time.Now()}

	if !options.Behavior.SkipSetup {
		logger.Info("setting up target")
		if err := r.setup(ctx, options); err != nil {
			summary.Finished = time.Now()
			return summary, fmt.Errorf("setup failed: %w", err)
		}
		summary.SetupPerformed = true
	}

	e := &execution{
		runner:    r,
		options:   options,
		generator: generator,
		schedule:  NewSchedule(load),
		throttle:  rate.New(load.MaxOverallRate),
		recorder:  metrics.NewRecorder(),
		log:       logger,
	}
	logger.Infof("running %d virtual users for %s (hold %s, ramp %s, flat %s, rate %s)",
		load.VirtualUsers, load.Total(), load.Hold, load.Ramp, load.Flat, load.MaxOverallRate)
	e.execute(ctx)

	summary.Finished = time.Now()
	summary.PeakVUs = int(e.peakVUs.Load())
	summary.UsersCreated = e.usersCreated.Load()
	summary.UserFailures = e.userFailures.Load()
	summary.Metrics = e.recorder.Snapshot()
	summary.Throttle = e.throttle.Stats()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Metrics.TotalRequests > 0 && summary.Metrics.SuccessRequests == 0 {
		return summary, ErrAllRequestsFailed
	}
	return summary, nil
}

// setup checks that the target answers before any load is applied.
func (r *Runner) setup(ctx context.Context, options fleet.DispatchOptions) error {
	resp, err := r.adminClient(options.Target).Do(ctx, client.NewRequest(http.MethodGet, ""))
	if err != nil {
		return fmt.Errorf("target %s is unreachable: %w", options.Target.URL, err)
	}
	if resp.IsServerError() {
		return fmt.Errorf("target %s is unhealthy: %s", options.Target.URL, resp.Status)
	}
	return nil
}

func (r *Runner) adminClient(target fleet.Target) *client.Client {
	return r.targetClient(target.URL, target.Username, target.Password)
}

func (r *Runner) targetClient(url, username, password string) *client.Client {
	return client.NewClient(
		client.WithHTTPClient(r.httpClient),
		client.WithBaseURL(url),
		client.WithBasicAuth(username, password),
		client.WithHeader("User-Agent", "lunge-fleet-agent"),
	)
}

// execution is the state of one Runner.Run call.
type execution struct {
	runner    *Runner
	options   fleet.DispatchOptions
	generator users.Generator
	schedule  *Schedule
	throttle  *rate.Throttle
	recorder  *metrics.Recorder
	log       *log.Entry

	startTime time.Time
	wg        sync.WaitGroup
	vusMu     sync.Mutex
	vus       []context.CancelFunc

	peakVUs      atomic.Int32
	usersCreated atomic.Int64
	userFailures atomic.Int64
}

func (e *execution) execute(ctx context.Context) {
	e.startTime = time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.schedule.Total())
	defer cancel()

	ticker := time.NewTicker(e.runner.tick)
	defer ticker.Stop()

	phase := ""
	for {
		elapsed := time.Since(e.startTime)
		if p := e.schedule.PhaseAt(elapsed); p != phase {
			phase = p
			e.log.WithField("phase", phase).Debug("schedule phase changed")
		}
		e.adjustVUs(runCtx, e.schedule.TargetVUs(elapsed))

		select {
		case <-runCtx.Done():
			e.stopAll()
			return
		case <-ticker.C:
		}
	}
}

// adjustVUs spawns or stops virtual users until count are active.
func (e *execution) adjustVUs(ctx context.Context, count int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	current := len(e.vus)
	if count > current {
		for i := current; i < count; i++ {
			vuCtx, stop := context.WithCancel(ctx)
			e.vus = append(e.vus, stop)
			e.wg.Add(1)
			go e.runVU(vuCtx, i)
		}
	} else if count < current {
		for i := current - 1; i >= count; i-- {
			e.vus[i]()
		}
		e.vus = e.vus[:count]
	}

	if int32(count) > e.peakVUs.Load() {
		e.peakVUs.Store(int32(count))
	}
	e.recorder.SetActiveVUs(count)
	e.runner.observer.SetActiveVUs(count)
}

func (e *execution) stopAll() {
	e.vusMu.Lock()
	for _, stop := range e.vus {
		stop()
	}
	e.vus = nil
	e.vusMu.Unlock()

	e.wg.Wait()
	e.recorder.SetActiveVUs(0)
	e.runner.observer.SetActiveVUs(0)
}

// runVU runs a single virtual user until ctx is done.
func (e *execution) runVU(ctx context.Context, id int) {
	defer e.wg.Done()

	user, err := e.generator.GenerateUser(ctx, e.options)
	if err != nil {
		if ctx.Err() == nil {
			e.userFailures.Add(1)
			e.log.WithField("vu", id).WithError(err).Warn("failed to generate user")
		}
		return
	}
	e.usersCreated.Add(1)

	vuClient := e.runner.targetClient(e.options.Target.URL, user.Name, user.Password)

	for {
		if err := e.throttle.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		resp, err := vuClient.Do(ctx, client.NewRequest(http.MethodGet, ""))
		if ctx.Err() != nil {
			// stopped mid-request; the outcome says nothing about the target
			return
		}

		if err != nil {
			latency := time.Since(start)
			e.recorder.RecordLatency(latency, false, 0)
			e.runner.observer.ObserveRequest(latency, false)

			// the target refused or dropped the connection; back off for a tick
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.runner.tick):
			}
			continue
		}

		success := !resp.IsServerError() && !resp.IsClientError()
		e.recorder.RecordLatency(resp.Timing.TotalTime, success, int64(len(resp.Body)))
		e.runner.observer.ObserveRequest(resp.Timing.TotalTime, success)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(time.Duration, bool) {}
func (nopObserver) SetActiveVUs(int)                   {}
