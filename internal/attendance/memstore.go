package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. It backs tests and the memory driver.
type MemoryStore struct {
	mu        sync.RWMutex
	clock     Clock
	lectures  map[string]Lecture
	students  map[string]Student
	offerings map[string]CourseOffering
	records   map[string]AttendanceRecord
	pairs     map[string]string // pairKey -> record id
	jobs      map[string]CommitJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:     RealClock(),
		lectures:  make(map[string]Lecture),
		students:  make(map[string]Student),
		offerings: make(map[string]CourseOffering),
		records:   make(map[string]AttendanceRecord),
		pairs:     make(map[string]string),
		jobs:      make(map[string]CommitJob),
	}
}

func (m *MemoryStore) GetLecture(_ context.Context, id string) (Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lectures[id]
	if !ok {
		return Lecture{}, NotFound("lecture %s not found", id)
	}
	return l, nil
}

func (m *MemoryStore) ListLectures(_ context.Context, f LectureFilter) ([]Lecture, error) {
	m.mu.RLock()
	out := make([]Lecture, 0, len(m.lectures))
	for _, l := range m.lectures {
		if f.CourseOfferingID != "" && l.CourseOfferingID != f.CourseOfferingID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, l)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateLecture(_ context.Context, l Lecture) (Lecture, error) {
	if l.ID == "" {
		return Lecture{}, Invalid("lecture id required")
	}
	if l.Status == "" {
		l.Status = LectureScheduled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.clock.Now()
	}
	m.lectures[l.ID] = l
	return l, nil
}

func (m *MemoryStore) SetLectureLocked(_ context.Context, id string, locked bool) (Lecture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lectures[id]
	if !ok {
		return Lecture{}, NotFound("lecture %s not found", id)
	}
	l.Locked = locked
	m.lectures[id] = l
	return l, nil
}

func (m *MemoryStore) SetLectureStatus(_ context.Context, id string, status LectureStatus) (Lecture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lectures[id]
	if !ok {
		return Lecture{}, NotFound("lecture %s not found", id)
	}
	l.Status = status
	m.lectures[id] = l
	return l, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, NotFound("student %s not found", id)
	}
	return s, nil
}

func (m *MemoryStore) ListStudents(_ context.Context, f StudentFilter) ([]Student, error) {
	var ids map[string]struct{}
	if len(f.IDs) > 0 {
		ids = SetOf(f.IDs)
	}
	m.mu.RLock()
	out := make([]Student, 0, len(m.students))
	for _, s := range m.students {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if ids != nil {
			if _, ok := ids[s.ID]; !ok {
				continue
			}
		}
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RollNumber != out[j].RollNumber {
			return out[i].RollNumber < out[j].RollNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateStudent(_ context.Context, s Student) (Student, error) {
	if s.ID == "" {
		return Student{}, Invalid("student id required")
	}
	if s.Status == "" {
		s.Status = StudentActive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.clock.Now()
	}
	m.students[s.ID] = s
	return s, nil
}

func (m *MemoryStore) GetOffering(_ context.Context, id string) (CourseOffering, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offerings[id]
	if !ok {
		return CourseOffering{}, NotFound("course offering %s not found", id)
	}
	o.EnrolledStudents = append([]string(nil), o.EnrolledStudents...)
	return o, nil
}

func (m *MemoryStore) ListOfferings(_ context.Context, status string) ([]CourseOffering, error) {
	m.mu.RLock()
	out := make([]CourseOffering, 0, len(m.offerings))
	for _, o := range m.offerings {
		if status != "" && o.Status != status {
			continue
		}
		o.EnrolledStudents = append([]string(nil), o.EnrolledStudents...)
		out = append(out, o)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateOffering(_ context.Context, o CourseOffering) (CourseOffering, error) {
	if o.ID == "" {
		return CourseOffering{}, Invalid("course offering id required")
	}
	if o.Status == "" {
		o.Status = "active"
	}
	o.EnrolledStudents = append([]string(nil), o.EnrolledStudents...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.clock.Now()
	}
	m.offerings[o.ID] = o
	return o, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, f RecordFilter) ([]AttendanceRecord, error) {
	m.mu.RLock()
	out := make([]AttendanceRecord, 0)
	for _, r := range m.records {
		if f.LectureID != "" && r.LectureID != f.LectureID {
			continue
		}
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.CourseOfferingID != "" && r.CourseOfferingID != f.CourseOfferingID {
			continue
		}
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortNewestFirst(records []AttendanceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		if !records[i].MarkedAt.Equal(records[j].MarkedAt) {
			return records[i].MarkedAt.After(records[j].MarkedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func (m *MemoryStore) FindRecord(_ context.Context, lectureID, studentID string) (AttendanceRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairs[pairKey(lectureID, studentID)]
	if !ok {
		return AttendanceRecord{}, false, nil
	}
	return m.records[id], true, nil
}

func (m *MemoryStore) CreateRecord(_ context.Context, r AttendanceRecord) (AttendanceRecord, error) {
	if r.ID == "" || r.LectureID == "" || r.StudentID == "" {
		return AttendanceRecord{}, Invalid("record id, lecture id and student id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(r.LectureID, r.StudentID)
	if id, ok := m.pairs[key]; ok {
		existing := m.records[id]
		existing.Status = r.Status
		existing.MarkedAt = r.MarkedAt
		m.records[id] = existing
		return existing, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.clock.Now()
	}
	m.records[r.ID] = r
	m.pairs[key] = r.ID
	return r, nil
}

func (m *MemoryStore) UpdateRecordStatus(_ context.Context, id string, status Status, markedAt time.Time) (AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return AttendanceRecord{}, NotFound("attendance record %s not found", id)
	}
	r.Status = status
	r.MarkedAt = markedAt
	m.records[id] = r
	return r, nil
}

func (m *MemoryStore) DeleteRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return NotFound("attendance record %s not found", id)
	}
	delete(m.records, id)
	delete(m.pairs, pairKey(r.LectureID, r.StudentID))
	return nil
}

func (m *MemoryStore) CreateJob(_ context.Context, j CommitJob) (CommitJob, error) {
	if j.ID == "" {
		return CommitJob{}, Invalid("job id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	m.jobs[j.ID] = cloneJob(j)
	return j, nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (CommitJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return CommitJob{}, NotFound("commit job %s not found", id)
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, j CommitJob) (CommitJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.jobs[j.ID]
	if !ok {
		return CommitJob{}, NotFound("commit job %s not found", j.ID)
	}
	j.CreatedAt = prev.CreatedAt
	j.UpdatedAt = m.clock.Now()
	m.jobs[j.ID] = cloneJob(j)
	return j, nil
}

func cloneJob(j CommitJob) CommitJob {
	entries := make(map[string]Status, len(j.Entries))
	for k, v := range j.Entries {
		entries[k] = v
	}
	j.Entries = entries
	j.Results = append([]JobResult(nil), j.Results...)
	return j
}

// RecordCount reports how many records are stored.
func (m *MemoryStore) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
