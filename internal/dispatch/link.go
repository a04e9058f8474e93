// Package dispatch implements the per-link Dispatcher of spec §4.5: the
// scheduler/reader goroutine pair, the request/response classification
// tables of §4.6, and link teardown. It is grounded on smux.Session
// (session.go), generalised from smux's single send/recv/shaper loop
// trio into XLink's local/remote dual-queue scheduler.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/luxonis/xlink/internal/streamtbl"
	"github.com/luxonis/xlink/transport"
)

// State is a Link's lifecycle state (spec §3).
type State int32

const (
	NotInit State = iota
	Up
	Down
)

func (s State) String() string {
	switch s {
	case NotInit:
		return "NotInit"
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "Unknown"
	}
}

// Role (spec §3) selects the stream-id parity a side allocates (odd for
// Client, even for Server) and which reset event ends its reader loop
// (ResetResp for Client, Reset for Server). Either role may send Reset.
type Role int

const (
	Client Role = iota
	Server
)

// Link is the data spec §3 attaches to one physical connection: its
// transport, its stream table, and the bookkeeping the Dispatcher needs.
// The Stream table is owned here (not by the Dispatcher) to resolve the
// Dispatcher/Stream cyclic reference the way spec §9 prescribes: the
// Dispatcher holds a non-owning pointer back to its Link.
type Link struct {
	ID        uint8
	Transport transport.Transport
	Role      Role
	Streams   *streamtbl.Table
	Peer      transport.PeerInfo

	state int32 // atomic State

	mu           sync.Mutex
	nextClientID uint32 // odd ids, smux-style parity (session.go nextStreamID)
	nextServerID uint32 // even ids

	disp *Dispatcher
}

// NewLink builds a Link in NotInit state; call Dispatcher.Start to bring
// it Up.
func NewLink(id uint8, t transport.Transport, role Role, streamCapacity int) *Link {
	l := &Link{
		ID:           id,
		Transport:    t,
		Role:         role,
		Streams:      streamtbl.New(streamCapacity),
		nextClientID: 1,
		nextServerID: 2,
	}
	l.setState(NotInit)
	return l
}

func (l *Link) setState(s State) { atomic.StoreInt32(&l.state, int32(s)) }

// StateValue returns the current lifecycle state.
func (l *Link) StateValue() State { return State(atomic.LoadInt32(&l.state)) }

// nextStreamID allocates a fresh id with role parity, avoiding the need
// for a negotiation round trip before the first CreateStream request goes
// on the wire (smux session.go: "s.nextStreamID += 2" per role).
func (l *Link) nextStreamID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Role == Client {
		id := l.nextClientID
		l.nextClientID += 2
		return id
	}
	id := l.nextServerID
	l.nextServerID += 2
	return id
}

// Dispatcher returns the Link's dispatcher, set once by NewDispatcher.
func (l *Link) Dispatcher() *Dispatcher { return l.disp }
