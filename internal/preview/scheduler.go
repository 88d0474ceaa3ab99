package preview

import (
	"sync"
	"time"
)

// DefaultDelay is the quiet period after the last change before a preview
// is requested.
const DefaultDelay = 250 * time.Millisecond

// Action receives the snapshot that survived the quiet period together
// with its delivery number. Numbers start at 1 and increase with every
// delivery, in the order deliveries were taken.
type Action func(seq uint64, snapshot string)

// Scheduler coalesces bursts of snapshots into a single action call. Each
// Schedule restarts the countdown; only the latest snapshot is delivered
// once the countdown runs out uninterrupted.
type Scheduler struct {
	delay  time.Duration
	action Action

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	delivered  uint64
	pending    string
	hasPending bool
	stopped    bool
}

// NewScheduler creates a scheduler calling action after delay of quiet. A
// non-positive delay uses DefaultDelay.
func NewScheduler(delay time.Duration, action Action) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{delay: delay, action: action}
}

// Schedule records snapshot as the latest content and restarts the
// countdown.
func (s *Scheduler) Schedule(snapshot string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.pending = snapshot
	s.hasPending = true
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
	}

	gen := s.generation
	s.timer = time.AfterFunc(s.delay, func() {
		s.fire(gen)
	})
}

// fire runs the action unless a later Schedule, Flush or Stop superseded
// the countdown that started it. A timer whose Stop lost the race ends up
// here with an old generation.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.stopped || !s.hasPending {
		s.mu.Unlock()
		return
	}
	seq, snapshot := s.take()
	s.mu.Unlock()

	s.action(seq, snapshot)
}

// Flush delivers the pending snapshot now, if there is one.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.stopped || !s.hasPending {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
	seq, snapshot := s.take()
	s.mu.Unlock()

	s.action(seq, snapshot)
}

// Pending reports whether a countdown is running.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPending && !s.stopped
}

// Stop cancels any pending countdown. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.generation++
	s.hasPending = false
	s.pending = ""
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// take must be called with mu held. Numbering here, rather than in the
// action, keeps sequence order equal to take order.
func (s *Scheduler) take() (uint64, string) {
	snapshot := s.pending
	s.pending = ""
	s.hasPending = false
	s.timer = nil
	s.delivered++
	return s.delivered, snapshot
}
