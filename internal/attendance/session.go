package attendance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Session is one marking session: a seeded draft plus the roster and lecture it covers.
type Session struct {
	ID        string    `json:"id"`
	Lecture   Lecture   `json:"lecture"`
	Roster    []Student `json:"-"`
	Draft     *Draft    `json:"-"`
	CreatedAt time.Time `json:"created_at"`

	members map[string]struct{}

	mu       sync.Mutex
	lastSeen time.Time
	// last results, kept so failed operations can be retried alone
	results []Result
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) setResults(r []Result) {
	s.mu.Lock()
	s.results = r
	s.mu.Unlock()
}

// LastResults returns the outcome of the session's latest commit.
func (s *Session) LastResults() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}

// OnRoster reports whether a student belongs to the session's roster.
func (s *Session) OnRoster(studentID string) bool {
	if s.members == nil {
		for _, st := range s.Roster {
			if st.ID == studentID {
				return true
			}
		}
		return false
	}
	_, ok := s.members[studentID]
	return ok
}

// Stats tallies the session's draft over its roster.
func (s *Session) Stats() Stats { return Aggregate(s.Draft, s.Roster) }

// Sessions is the in-memory registry of open marking sessions. Drafts are ephemeral:
// sessions idle for longer than the TTL are evicted by Sweep.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*Session
	ttl   time.Duration
	clock Clock
}

func NewSessions(ttl time.Duration, clock Clock) *Sessions {
	if clock == nil {
		clock = RealClock()
	}
	return &Sessions{items: make(map[string]*Session), ttl: ttl, clock: clock}
}

func (r *Sessions) Put(s *Session) {
	s.touch(r.clock.Now())
	r.mu.Lock()
	r.items[s.ID] = s
	r.mu.Unlock()
}

// Get returns an open session and refreshes its idle timer.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return nil, NotFound("session %s not found", id)
	}
	s.touch(r.clock.Now())
	return s, nil
}

func (r *Sessions) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	delete(r.items, id)
	return ok
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many were dropped.
func (r *Sessions) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.clock.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.items {
		if s.idleSince().Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n
}

// Schedule registers a periodic Sweep on c.
func (r *Sessions) Schedule(c *cron.Cron, every time.Duration, onSweep func(evicted int)) (cron.EntryID, error) {
	if every <= 0 {
		return 0, fmt.Errorf("sweep interval must be positive, got %s", every)
	}
	return c.AddFunc("@every "+every.String(), func() {
		n := r.Sweep()
		if onSweep != nil {
			onSweep(n)
		}
	})
}
