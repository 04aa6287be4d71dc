package users

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// Sequence derives identities from the behaviour's seed and the target host,
// so the n-th user of a node is the same on every run with the same seed.
// Numbering starts at the behaviour's FirstUser, so the nodes of one fleet
// draw disjoint users. The target is expected to know these users already.
type Sequence struct {
	mu   sync.Mutex
	next map[string]int
}

// NewSequence creates a sequence generator.
func NewSequence() *Sequence {
	return &Sequence{next: make(map[string]int)}
}

func (s *Sequence) GenerateUser(ctx context.Context, options fleet.DispatchOptions) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	host := options.Target.URL
	if u, err := url.Parse(options.Target.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	first := options.Behavior.FirstUser
	key := fmt.Sprintf("%s/%d", host, options.Behavior.Seed)
	counter := fmt.Sprintf("%s/%d", key, first)

	s.mu.Lock()
	n := first + s.next[counter]
	s.next[counter]++
	s.mu.Unlock()

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", key, n)))
	return User{
		Name:     fmt.Sprintf("vu-%d-%d", options.Behavior.Seed, n),
		Password: hex.EncodeToString(sum[:8]),
	}, nil
}
