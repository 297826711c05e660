package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryInstant() time.Time {
	return time.Date(2025, 9, 30, 15, 0, 0, 0, time.UTC)
}

func TestScheduler_FiresAtEntryTime(t *testing.T) {
	s := NewScheduler(entryInstant(), 5*time.Minute)
	require.NoError(t, s.Arm())
	assert.Equal(t, SchedArmed, s.State())

	assert.Equal(t, ActionWait, s.Poll(entryInstant().Add(-time.Minute)))
	assert.Equal(t, ActionFireEntry, s.Poll(entryInstant()))
	assert.Equal(t, SchedEntryFired, s.State())

	// A second poll never fires again.
	assert.Equal(t, ActionNone, s.Poll(entryInstant().Add(time.Second)))
}

func TestScheduler_LateStartWithinTolerance(t *testing.T) {
	s := NewScheduler(entryInstant(), 5*time.Minute)
	require.NoError(t, s.Arm())

	// Process restarted 4 minutes late: still fires.
	assert.Equal(t, ActionFireEntry, s.Poll(entryInstant().Add(4*time.Minute)))
}

func TestScheduler_LateStartPastToleranceSkipsDay(t *testing.T) {
	s := NewScheduler(entryInstant(), 5*time.Minute)
	require.NoError(t, s.Arm())

	assert.Equal(t, ActionSkipDay, s.Poll(entryInstant().Add(5*time.Minute+time.Second)))
	assert.Equal(t, SchedDone, s.State())
	assert.Equal(t, ActionNone, s.Poll(entryInstant().Add(6*time.Minute)))
}

func TestScheduler_ExactToleranceBoundaryFires(t *testing.T) {
	s := NewScheduler(entryInstant(), 5*time.Minute)
	require.NoError(t, s.Arm())

	assert.Equal(t, ActionFireEntry, s.Poll(entryInstant().Add(5*time.Minute)))
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := NewScheduler(entryInstant(), time.Minute)
	assert.Equal(t, SchedIdle, s.State())
	assert.Equal(t, ActionNone, s.Poll(entryInstant()), "idle scheduler never fires")

	require.NoError(t, s.Arm())
	assert.Error(t, s.Arm(), "double arm rejected")

	s.Poll(entryInstant())
	s.MarkEntered()
	assert.Equal(t, SchedExitWindow, s.State())
	s.MarkDone()
	assert.Equal(t, SchedDone, s.State())
}

func TestSimClock(t *testing.T) {
	start := entryInstant()
	c := NewSimClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	<-c.After(30 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())
}
