package client

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"

	"forumdm/internal/pkg/clock"
)

// TokenSource issues correlation tokens: ULIDs with monotonic entropy, so
// tokens minted in the same millisecond still sort in issue order.
type TokenSource struct {
	mu      sync.Mutex
	clock   clock.Clock
	entropy io.Reader
}

// NewTokenSource returns a source stamping tokens with c's time. A nil
// clock means the real one.
func NewTokenSource(c clock.Clock) *TokenSource {
	if c == nil {
		c = clock.Real()
	}
	return &TokenSource{clock: c, entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns a new token.
func (s *TokenSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
}
