package attendance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	gate := NewGate("lec-1", Unlocked)
	d := Seed(gate, []AttendanceRecord{
		{ID: "r1", LectureID: "lec-1", StudentID: "A", Status: StatusLate},
		{ID: "r2", LectureID: "lec-2", StudentID: "B", Status: StatusPresent},
		{ID: "r3", LectureID: "lec-1", StudentID: "C", Status: "bogus"},
	})

	assert.Equal(t, map[string]Status{"A": StatusLate}, d.Entries())
	assert.False(t, d.Changed())

	_, ok := d.Get("B")
	assert.False(t, ok, "records of other lectures are ignored")
	assert.Equal(t, StatusAbsent, d.Display("B"), "unmarked students display as absent")
	assert.Equal(t, 1, d.Len(), "display default is never written")
}

func TestDraft_SetStatus(t *testing.T) {
	tests := []struct {
		name    string
		student string
		status  Status
		wantErr error
	}{
		{name: "marks student", student: "A", status: StatusPresent},
		{name: "empty student", student: "", status: StatusPresent, wantErr: ErrInvalid},
		{name: "unknown status", student: "A", status: "sleeping", wantErr: ErrInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Seed(NewGate("lec-1", Unlocked), nil)
			err := d.SetStatus(tc.student, tc.status)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Zero(t, d.Len())
				return
			}
			require.NoError(t, err)
			got, ok := d.Get(tc.student)
			assert.True(t, ok)
			assert.Equal(t, tc.status, got)
			assert.True(t, d.Changed())
		})
	}
}

func TestDraft_LockedRejectsWrites(t *testing.T) {
	gate := NewGate("lec-1", Unlocked)
	d := Seed(gate, []AttendanceRecord{{LectureID: "lec-1", StudentID: "A", Status: StatusPresent}})
	require.True(t, gate.Lock())

	before := d.Entries()
	err := d.SetStatus("A", StatusAbsent)
	assert.ErrorIs(t, err, ErrLocked)
	err = d.BulkSetStatus([]string{"A", "B", "C"}, StatusLate)
	assert.ErrorIs(t, err, ErrLocked)

	assert.Equal(t, before, d.Entries())
	assert.Equal(t, StatusPresent, d.Display("A"))
	assert.False(t, d.Changed())

	// reads stay available
	assert.Equal(t, 1, Aggregate(d, []Student{{ID: "A"}}).Present)
}

func TestDraft_BulkSetStatusAllOrNothing(t *testing.T) {
	d := Seed(NewGate("lec-1", Unlocked), nil)

	err := d.BulkSetStatus([]string{"A", "", "C"}, StatusPresent)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Zero(t, d.Len())

	require.NoError(t, d.BulkSetStatus([]string{"A", "B", "C"}, StatusPresent))
	assert.Equal(t, map[string]Status{"A": StatusPresent, "B": StatusPresent, "C": StatusPresent}, d.Entries())
}

func TestRestore(t *testing.T) {
	d := Restore(NewGate("lec-1", Unlocked), map[string]Status{"A": StatusExcused, "B": "nope"})
	assert.Equal(t, map[string]Status{"A": StatusExcused}, d.Entries())
	assert.Equal(t, "lec-1", d.LectureID())
}

func TestGate_Transitions(t *testing.T) {
	g := NewGate("lec-1", Locked)
	assert.True(t, g.Locked(), "initial state follows the persisted lecture")

	assert.False(t, g.Lock(), "lock on a locked gate is a no-op")
	assert.True(t, g.Unlock())
	assert.False(t, g.Unlock())
	assert.Equal(t, Unlocked, g.State())
	assert.Equal(t, "unlocked", g.State().String())

	g.Sync(Locked)
	assert.Equal(t, "locked", g.State().String())
}

func TestGate_InFlightCommitSurvivesLock(t *testing.T) {
	g := NewGate("lec-1", Unlocked)
	done, err := g.BeginCommit()
	require.NoError(t, err)
	assert.Equal(t, 1, g.InFlight())

	g.Lock()
	_, err = g.BeginCommit()
	assert.ErrorIs(t, err, ErrLocked, "no new commit once locked")

	waited := make(chan struct{})
	go func() {
		g.Wait()
		close(waited)
	}()
	done()
	done() // second call is a no-op
	<-waited
	assert.Zero(t, g.InFlight())
}

func TestGate_NoWriteAfterLockReturns(t *testing.T) {
	g := NewGate("lec-1", Unlocked)
	d := Seed(g, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_ = d.SetStatus(string(rune('a'+i%26))+"-student", StatusPresent)
		}(i)
	}
	close(start)
	g.Lock()
	snapshot := d.Entries()
	wg.Wait()
	assert.Equal(t, snapshot, d.Entries())
}
