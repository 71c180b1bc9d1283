package attendance

import "sync"

// Draft is the working copy of one lecture's marks during a marking session.
// It is never the system of record.
type Draft struct {
	gate *Gate

	mu      sync.RWMutex
	entries map[string]Status
	changed bool
}

// Seed builds a draft from the lecture's existing records. Records for other lectures
// are ignored; students without a record stay unset.
func Seed(gate *Gate, records []AttendanceRecord) *Draft {
	d := &Draft{gate: gate, entries: make(map[string]Status, len(records))}
	for _, r := range records {
		if r.LectureID != gate.LectureID() || !r.Status.Valid() {
			continue
		}
		d.entries[r.StudentID] = r.Status
	}
	return d
}

// Restore rebuilds a draft from a saved snapshot of entries.
func Restore(gate *Gate, entries map[string]Status) *Draft {
	d := &Draft{gate: gate, entries: make(map[string]Status, len(entries))}
	for id, s := range entries {
		if s.Valid() {
			d.entries[id] = s
		}
	}
	return d
}

func (d *Draft) Gate() *Gate       { return d.gate }
func (d *Draft) LectureID() string { return d.gate.LectureID() }

// Get returns the explicit mark for a student, if any.
func (d *Draft) Get(studentID string) (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.entries[studentID]
	return s, ok
}

// Display returns the mark shown for a student; unmarked students show as absent.
func (d *Draft) Display(studentID string) Status {
	if s, ok := d.Get(studentID); ok {
		return s
	}
	return StatusAbsent
}

// Entries returns a copy of all explicit marks.
func (d *Draft) Entries() map[string]Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Status, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

func (d *Draft) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Changed reports whether the draft was mutated since it was seeded.
func (d *Draft) Changed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.changed
}

// SetStatus marks one student. It fails with ErrLocked, leaving the draft untouched,
// while the lecture is locked.
func (d *Draft) SetStatus(studentID string, status Status) error {
	if studentID == "" {
		return Invalid("student id required")
	}
	if !status.Valid() {
		return Invalid("invalid status " + string(status))
	}
	return d.gate.Do(func() {
		d.mu.Lock()
		d.entries[studentID] = status
		d.changed = true
		d.mu.Unlock()
	})
}

// BulkSetStatus marks every listed student, or none of them: the lock is checked once
// before any entry is written.
func (d *Draft) BulkSetStatus(studentIDs []string, status Status) error {
	if !status.Valid() {
		return Invalid("invalid status " + string(status))
	}
	for _, id := range studentIDs {
		if id == "" {
			return Invalid("student id required")
		}
	}
	return d.gate.Do(func() {
		d.mu.Lock()
		for _, id := range studentIDs {
			d.entries[id] = status
		}
		if len(studentIDs) > 0 {
			d.changed = true
		}
		d.mu.Unlock()
	})
}
