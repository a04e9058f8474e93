// Package streamtbl implements the Stream and StreamTable of spec §4.3: a
// named logical channel bound to one link, and the per-link table that
// allocates stream ids and enforces uniqueness of names. Guarded access
// mirrors smux.Session's streamLock protecting its streams map
// (session.go), generalised to a per-stream lock since XLink additionally
// needs packet-pool operations on one stream to serialise independently
// of other streams (spec §4.3: "packet-pool operations serialise with
// release/close").
//
// All mutation of fill-level counters and the packet pool happens on the
// dispatcher's single scheduler goroutine (spec §4.5); the per-stream lock
// exists so that a concurrent GetFillLevel call from an arbitrary API
// caller goroutine observes consistent state. Methods
// named with an Unlocked suffix assume the caller already holds the
// stream's Lock and are meant to be called only from the scheduler.
package streamtbl

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/luxonis/xlink/internal/pool"
)

// MaxPacketsPerStream bounds both local_fill_packets and remote_fill_packets
// (spec §3).
const MaxPacketsPerStream = 64

// sentinel stream ids (spec §4.3).
const (
	Invalid     uint32 = 0xFFFFFFFF
	OutOfMemory uint32 = 0xFFFFFFFE
)

var (
	// ErrNameTooLong is returned when a stream name exceeds wire.MaxStreamNameLen.
	ErrNameTooLong = errors.New("streamtbl: name too long")
	// ErrTableFull is returned when no empty slot remains in the table.
	ErrTableFull = errors.New("streamtbl: table full")
	// ErrNotFound is returned by lookups that fail.
	ErrNotFound = errors.New("streamtbl: stream not found")
)

// Stream is a named logical channel bound to one link (spec §3 "Stream").
type Stream struct {
	mu sync.Mutex // guards everything below

	id   uint32
	name string

	writeSize uint32 // peer-advertised buffer capacity allocated for this side's writes
	readSize  uint32 // locally-advertised buffer capacity for incoming packets

	localFillLevel    uint32
	localFillPackets  uint32
	remoteFillLevel   uint32
	remoteFillPackets uint32

	closeInitiated bool
	active         bool

	packets *pool.Pool
}

// Lock/Unlock let the dispatcher perform a compound pool+counter mutation
// atomically with respect to concurrent readers (GetFillLevel, etc.).
func (s *Stream) Lock()   { s.mu.Lock() }
func (s *Stream) Unlock() { s.mu.Unlock() }

// ID returns the stream's id.
func (s *Stream) ID() uint32 { s.mu.Lock(); defer s.mu.Unlock(); return s.id }

// Name returns the stream's name.
func (s *Stream) Name() string { s.mu.Lock(); defer s.mu.Unlock(); return s.name }

func (s *Stream) IDUnlocked() uint32   { return s.id }
func (s *Stream) NameUnlocked() string { return s.name }

// Pool returns the stream's packet pool. Only safe to call while holding
// Lock (i.e. from the dispatcher's scheduler goroutine).
func (s *Stream) Pool() *pool.Pool { return s.packets }

func (s *Stream) WriteSize() uint32 { s.mu.Lock(); defer s.mu.Unlock(); return s.writeSize }
func (s *Stream) ReadSize() uint32  { s.mu.Lock(); defer s.mu.Unlock(); return s.readSize }

func (s *Stream) SetWriteSizeUnlocked(n uint32) { s.writeSize = n }
func (s *Stream) SetReadSizeUnlocked(n uint32)  { s.readSize = n }
func (s *Stream) WriteSizeUnlocked() uint32     { return s.writeSize }
func (s *Stream) ReadSizeUnlocked() uint32      { return s.readSize }

func (s *Stream) LocalFillLevel() uint32 { s.mu.Lock(); defer s.mu.Unlock(); return s.localFillLevel }
func (s *Stream) RemoteFillLevel() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteFillLevel
}
func (s *Stream) LocalFillPackets() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localFillPackets
}
func (s *Stream) RemoteFillPackets() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteFillPackets
}

func (s *Stream) LocalFillLevelUnlocked() uint32    { return s.localFillLevel }
func (s *Stream) RemoteFillLevelUnlocked() uint32   { return s.remoteFillLevel }
func (s *Stream) LocalFillPacketsUnlocked() uint32  { return s.localFillPackets }
func (s *Stream) RemoteFillPacketsUnlocked() uint32 { return s.remoteFillPackets }

// AddLocalFillUnlocked adjusts local fill accounting by delta bytes /
// deltaPackets (may be negative).
func (s *Stream) AddLocalFillUnlocked(deltaBytes, deltaPackets int32) {
	s.localFillLevel = addClamped(s.localFillLevel, deltaBytes)
	s.localFillPackets = addClamped(s.localFillPackets, deltaPackets)
}

// AddRemoteFillUnlocked adjusts this side's estimate of peer occupancy.
func (s *Stream) AddRemoteFillUnlocked(deltaBytes, deltaPackets int32) {
	s.remoteFillLevel = addClamped(s.remoteFillLevel, deltaBytes)
	s.remoteFillPackets = addClamped(s.remoteFillPackets, deltaPackets)
}

func addClamped(v uint32, delta int32) uint32 {
	n := int64(v) + int64(delta)
	if n < 0 {
		return 0
	}
	return uint32(n)
}

func (s *Stream) CloseInitiated() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.closeInitiated }

func (s *Stream) SetCloseInitiatedUnlocked(v bool) { s.closeInitiated = v }
func (s *Stream) CloseInitiatedUnlocked() bool     { return s.closeInitiated }

// Drained reports whether both sides' pools are empty, the precondition for
// tearing the stream down (spec §3 "exists until both sides have agreed to
// close AND both pools are drained").
func (s *Stream) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localFillLevel == 0 && s.remoteFillLevel == 0
}

func (s *Stream) DrainedUnlocked() bool {
	return s.localFillLevel == 0 && s.remoteFillLevel == 0
}
