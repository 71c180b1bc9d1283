package attendance

import (
	"context"
	"sync"
)

// LockState is the two-state attendance lock of a lecture.
type LockState int

const (
	Unlocked LockState = iota
	Locked
)

func (s LockState) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Gate is the single guarded entry point for attendance mutations of one lecture.
//
// Draft writes run under the gate's read lock, so once Lock returns no further write can
// land. Commits register as in-flight: a commit that started before Lock is allowed to
// finish, a new one is refused.
type Gate struct {
	lectureID string

	mu    sync.RWMutex
	state LockState

	cmu      sync.Mutex
	idle     *sync.Cond
	inflight int
}

func NewGate(lectureID string, initial LockState) *Gate {
	g := &Gate{lectureID: lectureID, state: initial}
	g.idle = sync.NewCond(&g.cmu)
	return g
}

func (g *Gate) LectureID() string { return g.lectureID }

func (g *Gate) State() LockState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) Locked() bool { return g.State() == Locked }

// Lock moves the gate to Locked. It reports whether the state changed; locking an
// already locked gate is a no-op.
func (g *Gate) Lock() bool { return g.transition(Locked) }

// Unlock moves the gate to Unlocked, idempotently.
func (g *Gate) Unlock() bool { return g.transition(Unlocked) }

// Sync aligns the gate with a persisted state observed elsewhere.
func (g *Gate) Sync(state LockState) { g.transition(state) }

func (g *Gate) transition(to LockState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == to {
		return false
	}
	g.state = to
	return true
}

// Do runs fn only while the gate is unlocked, holding the state steady for its duration.
func (g *Gate) Do(fn func()) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == Locked {
		return ErrLocked
	}
	fn()
	return nil
}

// BeginCommit registers an in-flight commit. The returned func must be called when the
// commit finishes.
func (g *Gate) BeginCommit() (func(), error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == Locked {
		return nil, ErrLocked
	}
	g.cmu.Lock()
	g.inflight++
	g.cmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.cmu.Lock()
			g.inflight--
			if g.inflight == 0 {
				g.idle.Broadcast()
			}
			g.cmu.Unlock()
		})
	}, nil
}

// InFlight returns the number of commits currently running.
func (g *Gate) InFlight() int {
	g.cmu.Lock()
	defer g.cmu.Unlock()
	return g.inflight
}

// Wait blocks until no commit is in flight.
func (g *Gate) Wait() {
	g.cmu.Lock()
	for g.inflight > 0 {
		g.idle.Wait()
	}
	g.cmu.Unlock()
}

// WaitContext is Wait bounded by ctx.
func (g *Gate) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
