package users

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// TimeControlling pads every call of Inner up to Target, so generating a user
// takes the same wall-clock time on every node.
type TimeControlling struct {
	Target time.Duration
	Inner  Generator
}

// OverrunError is returned when the inner generator takes longer than the target.
type OverrunError struct {
	Target  time.Duration
	Elapsed time.Duration
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("user generation took %s, longer than the target of %s", e.Elapsed.Round(time.Millisecond), e.Target)
}

func (g *TimeControlling) GenerateUser(ctx context.Context, options fleet.DispatchOptions) (User, error) {
	start := time.Now()
	user, err := g.Inner.GenerateUser(ctx, options)
	if err != nil {
		return User{}, err
	}

	elapsed := time.Since(start)
	if elapsed > g.Target {
		return User{}, &OverrunError{Target: g.Target, Elapsed: elapsed}
	}

	timer := time.NewTimer(g.Target - elapsed)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return User{}, ctx.Err()
	case <-timer.C:
		return user, nil
	}
}
