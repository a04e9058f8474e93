// Package pool implements the fixed-capacity PacketPool of spec §4.2: a
// ring holding up to 64 owned byte buffers, tracked by three cursors
// (first_free, first_unused, first_blocked), grounded on the ring/cursor
// bookkeeping smux keeps around its per-stream recvBuf (session.go's
// pushBytes/sendWindowUpdate token accounting) generalised into an
// explicit ring since XLink, unlike smux, must support move-semantics
// reads that hand buffer ownership to the caller.
package pool

import (
	"time"

	"github.com/pkg/errors"
)

// Capacity is the fixed number of packets a stream's pool holds (spec
// §4.2, §3's MAX_PACKETS_PER_STREAM).
const Capacity = 64

// ErrFull is returned by Push when the ring has no free slot.
var ErrFull = errors.New("pool: packet pool full")

// ErrEmpty is returned by PeekNext/MoveNext when there is nothing to hand out.
var ErrEmpty = errors.New("pool: no packet available")

// Packet is an owned buffer with capture-time timestamps and an optional
// ancillary file descriptor (spec §3 "Packet").
type Packet struct {
	Data         []byte
	Length       int
	TRemoteSent  time.Time
	TReceived    time.Time
	AncillaryFD  any

	owned bool // false once MoveNext has transferred ownership out
}

// OwnedPacket is a Packet whose buffer has been moved out of the pool by
// MoveNext (spec §4.2's "moved-out buffers carry their ownership to the
// API caller"). The slot it came from keeps its Length and stays occupied
// until ReleaseFront credits it back.
type OwnedPacket struct {
	Data        []byte
	Length      int
	TRemoteSent time.Time
	TReceived   time.Time
	AncillaryFD any
}

// Pool is a fixed-size ring of Packet slots. The ring has one entry more
// than Capacity, so a pool holding Capacity packets and an empty pool have
// different cursor positions.
type Pool struct {
	slots [Capacity + 1]Packet

	firstFree    int // next slot a producer writes into
	firstUnused  int // oldest slot not yet handed to a reader
	firstBlocked int // oldest slot handed out but not yet released
}

// New returns an empty Pool.
func New() *Pool { return &Pool{} }

func mod(x int) int {
	x %= Capacity + 1
	if x < 0 {
		x += Capacity + 1
	}
	return x
}

// Available returns the number of slots holding data not yet handed to a reader.
func (p *Pool) Available() int { return mod(p.firstFree - p.firstUnused) }

// Blocked returns the number of slots handed to a reader but not yet released.
func (p *Pool) Blocked() int { return mod(p.firstUnused - p.firstBlocked) }

// occupied is Available+Blocked, i.e. how many of the Capacity slots are in use.
func (p *Pool) occupied() int { return mod(p.firstFree - p.firstBlocked) }

// Push stores buf at first_free and advances it. Fails if the ring has no
// free slot (spec §4.2: "fails if available + blocked == 64").
func (p *Pool) Push(buf []byte, tRemoteSent, tReceived time.Time, fd any) error {
	if p.occupied() == Capacity {
		return ErrFull
	}
	p.slots[p.firstFree] = Packet{
		Data:        buf,
		Length:      len(buf),
		TRemoteSent: tRemoteSent,
		TReceived:   tReceived,
		AncillaryFD: fd,
		owned:       true,
	}
	p.firstFree = mod(p.firstFree + 1)
	return nil
}

// PeekNext returns a copy of the oldest unused slot's Packet without
// transferring ownership, advancing first_unused into the "handed out"
// region (spec §4.2 peek_next). The backing buffer stays owned by the pool
// until Release* frees it.
func (p *Pool) PeekNext() (Packet, error) {
	if p.Available() == 0 {
		return Packet{}, ErrEmpty
	}
	pkt := p.slots[p.firstUnused]
	p.firstUnused = mod(p.firstUnused + 1)
	return pkt, nil
}

// MoveNext behaves like PeekNext but transfers buffer ownership out of the
// pool to the caller; the slot keeps Length so Release* can still credit
// the accounting (spec §4.2 move_next, §9 "packet ownership transfer").
func (p *Pool) MoveNext() (OwnedPacket, error) {
	if p.Available() == 0 {
		return OwnedPacket{}, ErrEmpty
	}
	idx := p.firstUnused
	pkt := p.slots[idx]
	p.slots[idx].owned = false
	p.slots[idx].Data = nil
	p.firstUnused = mod(p.firstUnused + 1)
	return OwnedPacket{
		Data:        pkt.Data,
		Length:      pkt.Length,
		TRemoteSent: pkt.TRemoteSent,
		TReceived:   pkt.TReceived,
		AncillaryFD: pkt.AncillaryFD,
	}, nil
}

// ReleaseFront deallocates the buffer (if still owned) at first_blocked and
// advances it, returning the number of bytes credited back. A no-op
// (spec: "fails silently") if there is nothing blocked.
func (p *Pool) ReleaseFront() int {
	if p.Blocked() == 0 {
		return 0
	}
	idx := p.firstBlocked
	n := p.slots[idx].Length
	p.slots[idx] = Packet{}
	p.firstBlocked = mod(p.firstBlocked + 1)
	return n
}

// ReleaseSpecific locates the slot in [first_blocked, first_free) whose
// Data backing array starts at the same address as ptr, frees it, and
// compacts that whole region by shifting later slots down by one (spec
// §4.2 release_specific). Returns the released byte count, or 0 if ptr
// did not match any slot in range.
func (p *Pool) ReleaseSpecific(ptr []byte) int {
	occupied := p.occupied()
	blockedCount := p.Blocked()

	for i := 0; i < occupied; i++ {
		idx := mod(p.firstBlocked + i)
		if !samePtr(p.slots[idx].Data, ptr) {
			continue
		}
		n := p.slots[idx].Length
		for j := i; j < occupied-1; j++ {
			from := mod(p.firstBlocked + j + 1)
			to := mod(p.firstBlocked + j)
			p.slots[to] = p.slots[from]
		}
		lastIdx := mod(p.firstBlocked + occupied - 1)
		p.slots[lastIdx] = Packet{}
		p.firstFree = mod(p.firstFree - 1)
		if i < blockedCount {
			p.firstUnused = mod(p.firstUnused - 1)
		}
		return n
	}
	return 0
}

func samePtr(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return &a[0] == &b[0]
}
