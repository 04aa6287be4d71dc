package fleet

import (
	"fmt"
	"math"
	"time"
)

// Partition computes the share of global that the node at index runs.
//
// Every node gets floor(VirtualUsers/nodeCount) users and an equal slice of the
// ramp. Holds grow and flats shrink with the index, so node i starts ramping
// only once nodes 0..i-1 have finished theirs and every node ends at the same
// moment. Seen from the target the fleet ramps once, over the full global ramp.
//
// Leftover users and rate budget from uneven division are dropped.
//
// Partition panics unless 1 <= nodeCount and 0 <= index < nodeCount.
func Partition(global LoadProfile, nodeCount, index int) LoadProfile {
	if nodeCount < 1 {
		panic(fmt.Sprintf("fleet: node count must be at least 1, got %d", nodeCount))
	}
	if index < 0 || index >= nodeCount {
		panic(fmt.Sprintf("fleet: node index %d out of range [0, %d)", index, nodeCount))
	}

	rampPerNode := global.Ramp / time.Duration(nodeCount)

	return LoadProfile{
		VirtualUsers:   global.VirtualUsers / nodeCount,
		Hold:           global.Hold + rampPerNode*time.Duration(index),
		Ramp:           rampPerNode,
		Flat:           global.Flat + rampPerNode*time.Duration(nodeCount-index-1),
		MaxOverallRate: partitionRate(global.MaxOverallRate, nodeCount),
	}
}

func partitionRate(rate TemporalRate, nodeCount int) TemporalRate {
	if rate.IsUnlimited() {
		return rate
	}
	return TemporalRate{
		Change: math.Floor(rate.Change / float64(nodeCount)),
		Per:    rate.Per,
	}
}

// PartitionOptions derives the options of the node at index from the global options.
//
// Target and behaviour are copied, the load is replaced by Partition and every
// node except the first skips setup. FirstUser advances by the users of the
// nodes before index.
func PartitionOptions(options DispatchOptions, nodeCount, index int) DispatchOptions {
	behavior := options.Behavior
	behavior.Load = Partition(options.Behavior.Load, nodeCount, index)
	behavior.FirstUser += index * behavior.Load.VirtualUsers
	if index > 0 {
		behavior.SkipSetup = true
	}

	return DispatchOptions{
		Target:   options.Target,
		Behavior: behavior,
	}
}

// CheckSpread returns a *PreconditionError when the global load cannot be
// spread across nodeCount nodes.
func CheckSpread(global LoadProfile, nodeCount int) error {
	if nodeCount < 1 || nodeCount > global.VirtualUsers {
		return &PreconditionError{VirtualUsers: global.VirtualUsers, Nodes: nodeCount}
	}
	if rate := global.MaxOverallRate; !rate.IsUnlimited() && rate.Change < float64(nodeCount) {
		return &PreconditionError{VirtualUsers: global.VirtualUsers, Nodes: nodeCount, Rate: rate}
	}
	return nil
}

// Plan returns the options of every node in a fleet of nodeCount nodes.
func Plan(options DispatchOptions, nodeCount int) ([]DispatchOptions, error) {
	if err := CheckSpread(options.Behavior.Load, nodeCount); err != nil {
		return nil, err
	}

	plans := make([]DispatchOptions, nodeCount)
	for i := range plans {
		plans[i] = PartitionOptions(options, nodeCount, i)
	}
	return plans, nil
}
