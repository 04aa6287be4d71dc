// Package config loads and validates fleet files.
//
// A fleet file describes one load test spread over a fleet of agents:
//
//	name: checkout soak
//	target:
//	  url: https://shop.example.com
//	  username: admin
//	  password: "{{SHOP_ADMIN_PASSWORD}}"
//	load:
//	  virtualUsers: 100
//	  hold: 5m
//	  ramp: 10m
//	  flat: 5m
//	  maxOverallRate: { change: 400, per: 1s }
//	behavior:
//	  seed: 42
//	  userGenerator: sequence
//	nodes:
//	  - name: vu-1
//	    url: http://10.0.0.11:8089
//
// {{NAME}} placeholders in the target are replaced from the environment.
package config

import (
	"time"
)

// FleetConfig is the root of a fleet file.
type FleetConfig struct {
	// Name is a human-readable name for the test
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Target is the system under test
	Target TargetConfig `json:"target" yaml:"target"`

	// Load is the global load, before it is spread over the nodes
	Load LoadSection `json:"load" yaml:"load"`

	// Behavior controls what the virtual users do
	Behavior BehaviorConfig `json:"behavior,omitempty" yaml:"behavior,omitempty"`

	// Nodes are the agents, in dispatch order; the first one sets up the target
	Nodes []NodeConfig `json:"nodes,omitempty" yaml:"nodes,omitempty"`
}

// TargetConfig describes the system under test.
type TargetConfig struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// LoadSection is the global load profile.
type LoadSection struct {
	VirtualUsers int      `json:"virtualUsers" yaml:"virtualUsers"`
	Hold         Duration `json:"hold,omitempty" yaml:"hold,omitempty"`
	Ramp         Duration `json:"ramp,omitempty" yaml:"ramp,omitempty"`
	Flat         Duration `json:"flat,omitempty" yaml:"flat,omitempty"`

	// MaxOverallRate caps the fleet's request rate; absent means unlimited
	MaxOverallRate *RateConfig `json:"maxOverallRate,omitempty" yaml:"maxOverallRate,omitempty"`
}

// RateConfig is an amount of requests per period, e.g. 400 per 1s.
type RateConfig struct {
	Change float64  `json:"change" yaml:"change"`
	Per    Duration `json:"per" yaml:"per"`
}

// BehaviorConfig controls what the virtual users do.
type BehaviorConfig struct {
	Seed          int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Scenario      string `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	UserGenerator string `json:"userGenerator,omitempty" yaml:"userGenerator,omitempty"`

	// SkipSetup skips target setup on every node, including the first
	SkipSetup bool `json:"skipSetup,omitempty" yaml:"skipSetup,omitempty"`
}

// NodeConfig is one agent of the fleet.
type NodeConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	URL  string `json:"url" yaml:"url"`

	// Timeout bounds the node's whole run (default: the load's total length plus 5m)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
