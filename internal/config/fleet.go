package config

import (
	"net/http"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/node"
)

// LoadProfile converts the load section.
func (c *FleetConfig) LoadProfile() fleet.LoadProfile {
	profile := fleet.LoadProfile{
		VirtualUsers:   c.Load.VirtualUsers,
		Hold:           c.Load.Hold.Std(),
		Ramp:           c.Load.Ramp.Std(),
		Flat:           c.Load.Flat.Std(),
		MaxOverallRate: fleet.Unlimited(),
	}
	if rate := c.Load.MaxOverallRate; rate != nil {
		profile.MaxOverallRate = fleet.TemporalRate{Change: rate.Change, Per: rate.Per.Std()}
	}
	return profile
}

// DispatchOptions returns the global options to spread over the fleet.
func (c *FleetConfig) DispatchOptions() fleet.DispatchOptions {
	return fleet.DispatchOptions{
		Target: fleet.Target{
			URL:      c.Target.URL,
			Username: c.Target.Username,
			Password: c.Target.Password,
		},
		Behavior: fleet.Behavior{
			Load:          c.LoadProfile(),
			SkipSetup:     c.Behavior.SkipSetup,
			Seed:          c.Behavior.Seed,
			Scenario:      c.Behavior.Scenario,
			UserGenerator: c.Behavior.UserGenerator,
		},
	}
}

// BuildNodes creates an HTTP node per configured agent, in order.
// hc is the transport to reach the agents and may be nil.
func (c *FleetConfig) BuildNodes(hc *http.Client) []fleet.Node {
	nodes := make([]fleet.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		nodes[i] = node.NewHTTP(n.Name, n.URL,
			node.WithTimeout(n.Timeout.Std()),
			node.WithHTTPClient(hc),
		)
	}
	return nodes
}
