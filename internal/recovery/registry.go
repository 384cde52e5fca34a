// Package recovery tracks short-lived account recovery codes. Each user
// holds at most a fixed number of outstanding codes; codes expire on their
// own after the configured TTL and are consumed at most once.
package recovery

import (
	"errors"
	"sync"
	"time"

	"github.com/tradesim/exchange-engine/internal/expiring"
)

// ErrTooManyCodes is returned when a user already holds the maximum number
// of outstanding codes.
var ErrTooManyCodes = errors.New("recovery: too many outstanding codes")

// Registry issues and consumes per-user recovery codes. The zero value is
// not usable; construct with NewRegistry.
type Registry struct {
	mu    sync.Mutex
	limit int
	ttl   time.Duration
	codes map[int64]*expiring.List[string]
}

// NewRegistry creates a registry allowing limit outstanding codes per user,
// each expiring after ttl.
func NewRegistry(limit int, ttl time.Duration) *Registry {
	return &Registry{
		limit: limit,
		ttl:   ttl,
		codes: make(map[int64]*expiring.List[string]),
	}
}

// Issue records a new code for the user. It fails when the user is already
// at the outstanding-code limit; existing codes are never evicted to make
// room.
func (r *Registry) Issue(userID int64, code string) error {
	list := r.listFor(userID)
	if list.Full() {
		return ErrTooManyCodes
	}
	list.Add(code)
	return nil
}

// Consume removes the code if it is outstanding for the user and reports
// whether it was. A consumed or expired code never matches again.
func (r *Registry) Consume(userID int64, code string) bool {
	r.mu.Lock()
	list, ok := r.codes[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return list.Remove(code)
}

// Outstanding returns the user's live code count.
func (r *Registry) Outstanding(userID int64) int {
	r.mu.Lock()
	list, ok := r.codes[userID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return list.Len()
}

func (r *Registry) listFor(userID int64) *expiring.List[string] {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.codes[userID]
	if !ok {
		list = expiring.NewList[string](r.limit, r.ttl)
		r.codes[userID] = list
	}
	return list
}
