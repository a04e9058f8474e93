// Package equeue implements the bounded EventQueue of spec §4.4: a ring of
// N=64 pending events per direction (local/remote) per dispatcher, each
// slot carrying the event, a completion channel, and a state tag.
//
// spec §9 flags the source's per-caller-thread completion semaphore pool
// as a wart and recommends keying completion on the event slot itself
// instead; this implementation does that directly — every Slot owns its
// own one-shot completion channel, the same one-result-per-request shape
// smux's writeRequest/writeResult pair uses for its shaper/send loop
// (session.go: `result: make(chan writeResult, 1)`).
package equeue

import (
	"sync"

	"github.com/luxonis/xlink/internal/wire"
)

// Size is the number of slots per queue (spec §4.4).
const Size = 64

// Result is what a Slot's Done channel delivers once the scheduler has
// finished processing the request the slot holds.
type Result struct {
	Response *wire.Event
	Err      error
}

// Slot is one ring entry: the event, its dispatcher-queue state, and a
// one-shot completion channel posted to exactly once.
type Slot struct {
	mu    sync.Mutex
	state wire.State
	event *wire.Event
	done  chan Result
}

func (s *Slot) State() wire.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Slot) SetState(st wire.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Slot) Event() *wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

func (s *Slot) SetEvent(e *wire.Event) {
	s.mu.Lock()
	s.event = e
	s.mu.Unlock()
}

// Done returns the channel the original caller (for a Local-origin slot)
// or the scheduler itself (for a Remote-origin slot, where nobody waits)
// can select on.
func (s *Slot) Done() <-chan Result { return s.done }

// Complete posts resp/err exactly once and marks the slot Served so
// Enqueue can reuse it. The scheduler calls it, and so does link teardown
// (through FreeWithState) from whichever goroutine tears the link down.
func (s *Slot) Complete(resp *wire.Event, err error) {
	select {
	case s.done <- Result{Response: resp, Err: err}:
	default:
		// already completed (e.g. Dropped path matched a late response
		// after the caller already gave up); drop silently.
	}
	s.mu.Lock()
	s.state = wire.Served
	s.event = nil
	s.mu.Unlock()
}

// Queue is a fixed-size ring of Slots for one direction (local or remote)
// of one dispatcher.
type Queue struct {
	mu      sync.Mutex
	slots   [Size]*Slot
	cur     int // next slot index to consider for allocation
	curProc int // next slot index to consider in NextToProcess
}

// New returns an empty Queue with all slots pre-allocated and Served.
func New() *Queue {
	q := &Queue{}
	for i := range q.slots {
		q.slots[i] = &Slot{state: wire.Served, done: make(chan Result, 1)}
	}
	return q
}

// ErrFull is returned by Enqueue when every slot is occupied.
type ErrFull struct{}

func (ErrFull) Error() string { return "equeue: queue full" }

// Enqueue finds the first Served slot starting at cur, stores e, marks it
// Allocated, and returns it (spec §4.4 enqueue). The caller waits on the
// returned Slot's Done channel for local-origin events.
func (q *Queue) Enqueue(e *wire.Event) (*Slot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < Size; i++ {
		idx := (q.cur + i) % Size
		slot := q.slots[idx]
		if slot.State() == wire.Served {
			// drain a stale result from the channel in case Complete's best
			// effort send above raced with a prior fast consumer and the
			// channel still holds a stale buffered value.
			select {
			case <-slot.done:
			default:
			}
			slot.SetEvent(e)
			slot.SetState(wire.Allocated)
			q.cur = (idx + 1) % Size
			return slot, nil
		}
	}
	return nil, ErrFull{}
}

// NextToProcess walks from curProc and returns the first Allocated slot,
// advancing curProc past it (spec §4.4 next_to_process).
func (q *Queue) NextToProcess() (*Slot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < Size; i++ {
		idx := (q.curProc + i) % Size
		slot := q.slots[idx]
		if slot.State() == wire.Allocated {
			q.curProc = (idx + 1) % Size
			return slot, true
		}
	}
	return nil, false
}

// SearchReady returns the first Ready slot: a previously Blocked event
// that has since been unblocked (spec §4.4 search_ready).
func (q *Queue) SearchReady() (*Slot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < Size; i++ {
		slot := q.slots[i]
		if slot.State() == wire.Ready {
			return slot, true
		}
	}
	return nil, false
}

// FreeWithState completes, with err, every slot currently in fromState
// (teardown calls it for Allocated, Pending, Blocked and Ready), per spec
// §4.4 free_with_state.
func (q *Queue) FreeWithState(fromState wire.State, err error) {
	q.mu.Lock()
	var toComplete []*Slot
	for i := 0; i < Size; i++ {
		if q.slots[i].State() == fromState {
			toComplete = append(toComplete, q.slots[i])
		}
	}
	q.mu.Unlock()

	for _, slot := range toComplete {
		slot.Complete(nil, err)
	}
}

// All returns every slot; the dispatcher scans it to wake Blocked slots
// and to match responses against Pending ones.
func (q *Queue) All() []*Slot { return q.slots[:] }
