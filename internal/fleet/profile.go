// Package fleet splits one logical load profile across a fleet of load-generating
// nodes and applies the per-node profiles concurrently.
//
// The package has two parts:
//
//   - Partition / PartitionOptions / Plan: pure functions that turn a global
//     LoadProfile into per-node profiles with a staggered ramp.
//   - Coordinator: fans the per-node options out to every Node through a
//     fixed-size Pool, joins every outcome and reports failures per node.
//
// # Example
//
//	coordinator := fleet.NewCoordinator([]fleet.Node{nodeA, nodeB, nodeC})
//	report, err := coordinator.Dispatch(ctx, fleet.DispatchOptions{
//	    Target: fleet.Target{URL: "https://shop.example.com"},
//	    Behavior: fleet.Behavior{
//	        Load: fleet.LoadProfile{
//	            VirtualUsers: 90,
//	            Hold:         time.Minute,
//	            Ramp:         3 * time.Minute,
//	            Flat:         10 * time.Minute,
//	        },
//	    },
//	})
package fleet

import (
	"fmt"
	"math"
	"time"
)

// TemporalRate is an amount of change per unit of time, e.g. 400 requests per second.
//
// A non-positive Change, an infinite Change or a non-positive Per
// all mean the rate is unlimited.
type TemporalRate struct {
	Change float64       `json:"change" yaml:"change"`
	Per    time.Duration `json:"per" yaml:"per"`
}

// Unlimited returns a rate that never throttles.
func Unlimited() TemporalRate {
	return TemporalRate{}
}

// IsUnlimited reports whether the rate imposes no ceiling.
func (r TemporalRate) IsUnlimited() bool {
	return r.Change <= 0 || r.Per <= 0 || math.IsInf(r.Change, 1) || math.IsNaN(r.Change)
}

// PerSecond returns the rate normalised to one second, or +Inf when unlimited.
func (r TemporalRate) PerSecond() float64 {
	if r.IsUnlimited() {
		return math.Inf(1)
	}
	return r.Change / r.Per.Seconds()
}

// over restates r over a minute or an hour, whichever first gives every one
// of nodes at least one request per period.
func (r TemporalRate) over(nodes int) (TemporalRate, bool) {
	for _, per := range []time.Duration{time.Minute, time.Hour} {
		if per <= r.Per {
			continue
		}
		change := math.Round(r.PerSecond()*per.Seconds()*1e6) / 1e6
		if change >= float64(nodes) {
			return TemporalRate{Change: change, Per: per}, true
		}
	}
	return TemporalRate{}, false
}

func (r TemporalRate) String() string {
	if r.IsUnlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%g per %s", r.Change, r.Per)
}

// LoadProfile is the target concurrency curve of a load test.
//
// The virtual users stay idle for Hold, ramp up linearly over Ramp and then
// run at full concurrency for Flat. MaxOverallRate caps the aggregate rate
// of requests across every virtual user covered by the profile.
type LoadProfile struct {
	VirtualUsers   int           `json:"virtualUsers" yaml:"virtualUsers"`
	Hold           time.Duration `json:"hold" yaml:"hold"`
	Ramp           time.Duration `json:"ramp" yaml:"ramp"`
	Flat           time.Duration `json:"flat" yaml:"flat"`
	MaxOverallRate TemporalRate  `json:"maxOverallRate" yaml:"maxOverallRate"`
}

// Total returns the wall-clock length of the profile.
func (p LoadProfile) Total() time.Duration {
	return p.Hold + p.Ramp + p.Flat
}

// Validate checks the profile on its own, independent of any fleet size.
func (p LoadProfile) Validate() error {
	if p.VirtualUsers <= 0 {
		return fmt.Errorf("virtual users must be > 0, got %d", p.VirtualUsers)
	}
	if p.Hold < 0 || p.Ramp < 0 || p.Flat < 0 {
		return fmt.Errorf("hold, ramp and flat cannot be negative (hold %s, ramp %s, flat %s)", p.Hold, p.Ramp, p.Flat)
	}
	return nil
}

// Target describes the system under test.
type Target struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Behavior describes what the virtual users of one node do.
type Behavior struct {
	// Load is the concurrency curve for this node (or the whole fleet before partitioning)
	Load LoadProfile `json:"load" yaml:"load"`

	// SkipSetup disables one-time setup of the target
	SkipSetup bool `json:"skipSetup,omitempty" yaml:"skipSetup,omitempty"`

	// Seed makes user identities and random choices reproducible
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// FirstUser is the fleet-wide number of this node's first virtual user,
	// so nodes sharing a seed still draw disjoint identities
	FirstUser int `json:"firstUser,omitempty" yaml:"firstUser,omitempty"`

	// Scenario names the set of actions the virtual users execute
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty"`

	// UserGenerator selects how virtual users obtain their identity
	UserGenerator string `json:"userGenerator,omitempty" yaml:"userGenerator,omitempty"`
}

// DispatchOptions is the payload applied to a single node.
type DispatchOptions struct {
	Target   Target   `json:"target" yaml:"target"`
	Behavior Behavior `json:"behavior" yaml:"behavior"`
}
