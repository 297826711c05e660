package strategy

import (
	"fmt"
	"sync"
	"time"
)

// Clock abstracts wall time so the same scheduling and exit logic runs
// against real time in live mode and simulated time in backtests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the system clock.
func RealClock() Clock { return realClock{} }

// SimClock is a manually advanced Clock for backtests and tests.
type SimClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimClock creates a simulated clock starting at t.
func NewSimClock(t time.Time) *SimClock {
	return &SimClock{now: t}
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After fires immediately after advancing the simulated clock by d.
func (c *SimClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the simulated clock forward by d.
func (c *SimClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the simulated clock to t.
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SchedulerState is the lifecycle state of the entry scheduler.
type SchedulerState string

const (
	SchedIdle       SchedulerState = "IDLE"
	SchedArmed      SchedulerState = "ARMED"
	SchedEntryFired SchedulerState = "ENTRY_FIRED"
	SchedExitWindow SchedulerState = "EXIT_WINDOW"
	SchedDone       SchedulerState = "DONE"
)

// SchedulerAction is what the engine should do after a poll.
type SchedulerAction string

const (
	ActionWait      SchedulerAction = "WAIT"       // not yet entry time
	ActionFireEntry SchedulerAction = "FIRE_ENTRY" // place the position now
	ActionSkipDay   SchedulerAction = "SKIP_DAY"   // entry window missed, stand down
	ActionNone      SchedulerAction = "NONE"       // entry already handled
)

// Scheduler fires the entry trigger at the configured instant. A process
// started after the entry time still fires if it is within the late
// tolerance; past that the whole day is skipped rather than entering a
// position with no time left to manage it.
type Scheduler struct {
	entryAt   time.Time
	tolerance time.Duration

	mu    sync.Mutex
	state SchedulerState
}

// NewScheduler creates an idle scheduler for one trading day.
func NewScheduler(entryAt time.Time, tolerance time.Duration) *Scheduler {
	return &Scheduler{entryAt: entryAt, tolerance: tolerance, state: SchedIdle}
}

// EntryAt returns the instant entry fires.
func (s *Scheduler) EntryAt() time.Time { return s.entryAt }

// State returns the scheduler's current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm moves the scheduler from IDLE to ARMED. Returns an error if the
// scheduler already ran.
func (s *Scheduler) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SchedIdle {
		return fmt.Errorf("scheduler already %s", s.state)
	}
	s.state = SchedArmed
	return nil
}

// Poll evaluates the entry trigger at the given instant. FIRE_ENTRY is
// returned at most once per scheduler.
func (s *Scheduler) Poll(now time.Time) SchedulerAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SchedArmed {
		return ActionNone
	}
	if now.Before(s.entryAt) {
		return ActionWait
	}
	if now.Sub(s.entryAt) > s.tolerance {
		s.state = SchedDone
		return ActionSkipDay
	}
	s.state = SchedEntryFired
	return ActionFireEntry
}

// MarkEntered moves the scheduler into the exit window once the position
// is on.
func (s *Scheduler) MarkEntered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SchedEntryFired {
		s.state = SchedExitWindow
	}
}

// MarkDone terminates the scheduler.
func (s *Scheduler) MarkDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SchedDone
}
