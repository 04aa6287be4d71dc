// Package users provides the identities virtual users log in with.
package users

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// Generator names accepted by New.
const (
	NameSequence        = "sequence"
	NameREST            = "rest"
	NamePredictableREST = "predictable-rest"
)

// User is the identity of one virtual user.
type User struct {
	Name     string `json:"name"`
	Password string `json:"-"`
}

// Generator produces the identity of the next virtual user on a node.
type Generator interface {
	GenerateUser(ctx context.Context, options fleet.DispatchOptions) (User, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, options fleet.DispatchOptions) (User, error)

func (f GeneratorFunc) GenerateUser(ctx context.Context, options fleet.DispatchOptions) (User, error) {
	return f(ctx, options)
}

// Names returns the generator names New understands.
func Names() []string {
	return []string{NameSequence, NameREST, NamePredictableREST}
}

// New returns the generator registered under name. An empty name selects
// the sequence generator. hc is the transport for generators that talk to
// the target and may be nil.
func New(name string, hc *http.Client) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameSequence:
		return NewSequence(), nil
	case NameREST:
		return &REST{Timeout: DefaultRESTTimeout, HTTPClient: hc}, nil
	case NamePredictableREST:
		return NewPredictableREST(hc), nil
	default:
		return nil, fmt.Errorf("unknown user generator %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
}

// NewPredictableREST creates users over REST and pads every call to two
// minutes, so each node spends the same time generating users no matter how
// fast the target answers.
func NewPredictableREST(hc *http.Client) Generator {
	return &TimeControlling{
		Target: 2 * time.Minute,
		Inner:  &REST{Timeout: 2 * time.Minute, HTTPClient: hc},
	}
}
