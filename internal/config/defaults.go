package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/lunge-fleet/internal/users"
)

// NodeTimeoutMargin is added to the load's length for the default node timeout.
const NodeTimeoutMargin = 5 * time.Minute

// ApplyDefaults fills in omitted values:
//   - node names default to node-<index>
//   - node timeouts default to the load's total length plus NodeTimeoutMargin
//   - the user generator defaults to sequence
func ApplyDefaults(c *FleetConfig) {
	if c.Behavior.UserGenerator == "" {
		c.Behavior.UserGenerator = users.NameSequence
	}

	total := c.Load.Hold + c.Load.Ramp + c.Load.Flat
	for i := range c.Nodes {
		if c.Nodes[i].Name == "" {
			c.Nodes[i].Name = fmt.Sprintf("node-%d", i)
		}
		if c.Nodes[i].Timeout == 0 {
			c.Nodes[i].Timeout = total + Duration(NodeTimeoutMargin)
		}
	}
}
