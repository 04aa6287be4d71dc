// Package agent runs the load of a single fleet node and serves it over HTTP.
//
// A worker node runs `lunge-fleet agent`; the coordinator posts each node's
// share of the load to its agent, which ramps virtual users against the
// target following the share's schedule.
package agent

import (
	"time"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// Phase names of a schedule.
const (
	PhaseHold = "hold"
	PhaseRamp = "ramp"
	PhaseFlat = "flat"
	PhaseDone = "done"
)

// Stage is one linear segment of a schedule: over Duration the VU count
// moves from the previous stage's target to Target.
type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// Schedule is the VU curve of one node.
type Schedule struct {
	stages []Stage
}

// NewSchedule builds the schedule of load: idle for Hold, a linear ramp to
// VirtualUsers over Ramp, then VirtualUsers for Flat.
func NewSchedule(load fleet.LoadProfile) *Schedule {
	return &Schedule{stages: []Stage{
		{Name: PhaseHold, Duration: load.Hold, Target: 0},
		{Name: PhaseRamp, Duration: load.Ramp, Target: load.VirtualUsers},
		{Name: PhaseFlat, Duration: load.Flat, Target: load.VirtualUsers},
	}}
}

// Total returns the length of the schedule.
func (s *Schedule) Total() time.Duration {
	var total time.Duration
	for _, stage := range s.stages {
		total += stage.Duration
	}
	return total
}

// TargetVUs returns how many virtual users should be active after elapsed.
// Within a stage the count is interpolated linearly and rounded to the
// nearest user. Zero-length stages are skipped.
func (s *Schedule) TargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for _, stage := range s.stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return prevTarget
}

// PhaseAt returns the name of the stage running after elapsed, or PhaseDone.
func (s *Schedule) PhaseAt(elapsed time.Duration) string {
	var stageEnd time.Duration
	for _, stage := range s.stages {
		stageEnd += stage.Duration
		if elapsed < stageEnd {
			return stage.Name
		}
	}
	return PhaseDone
}
