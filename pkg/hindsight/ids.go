package hindsight

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource produces lexicographically monotonic, sortable ids so that
// `id` ordering approximates `createdAt` ordering. ulid's monotonic
// entropy source is not safe for concurrent use, so calls are serialized.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var defaultIDs = newIDSource()

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) new() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// newID returns a new monotonic sortable id.
func newID() string {
	return defaultIDs.new()
}
