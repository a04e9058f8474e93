package streamtbl

import (
	"sync"

	"github.com/luxonis/xlink/internal/pool"
	"github.com/luxonis/xlink/internal/wire"
)

// DefaultCapacity is the default table capacity. spec §3 requires
// "capacity >= 32"; XLink uses 64 so a link can host as many streams as a
// single stream can host packets.
const DefaultCapacity = 64

// Table maps stream-id -> *Stream for one link, allocating ids and
// enforcing name uniqueness (spec §4.3).
type Table struct {
	mu sync.Mutex

	byID   map[uint32]*Stream
	byName map[string]*Stream

	nextID uint32 // monotonically increasing, low 28 bits per spec §3
}

// New returns an empty Table. capacity must be >= 32; callers typically
// pass DefaultCapacity.
func New(capacity int) *Table {
	if capacity < 32 {
		capacity = 32
	}
	return &Table{
		byID:   make(map[uint32]*Stream, capacity),
		byName: make(map[string]*Stream, capacity),
		nextID: 1,
	}
}

// Len returns the number of active streams.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// OpenOrUpdate implements spec §4.3's open_or_update: if a stream with
// name already exists, it updates whichever of readSize/writeSize the
// caller now knows (0 means "leave unchanged") and returns its id. Else it
// allocates a new slot, using forcedID for the id when the server is
// accepting a client's CreateStream (spec §4.6), or the table's own
// counter otherwise. maxSlots bounds how many concurrently active streams
// this link allows (spec §3: "capacity >= 32").
func (t *Table) OpenOrUpdate(name string, readSize, writeSize uint32, forcedID *uint32, maxSlots int) (*Stream, error) {
	if len(name) > wire.MaxStreamNameLen {
		return nil, ErrNameTooLong
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.byName[name]; ok {
		if readSize != 0 {
			s.SetReadSizeUnlocked(readSize)
		}
		if writeSize != 0 {
			s.SetWriteSizeUnlocked(writeSize)
		}
		return s, nil
	}

	if len(t.byID) >= maxSlots {
		return nil, ErrTableFull
	}

	id := t.nextID
	if forcedID != nil {
		id = *forcedID
	} else {
		t.nextID++
		if t.nextID&0xF0000000 != 0 { // keep ids inside the low 28 bits (spec §3)
			t.nextID = 1
		}
	}

	s := &Stream{
		id:        id,
		name:      name,
		readSize:  readSize,
		writeSize: writeSize,
		active:    true,
		packets:   pool.New(),
	}
	t.byID[id] = s
	t.byName[name] = s
	return s, nil
}

// GetByID returns the stream with the given id.
func (t *Table) GetByID(id uint32) (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetByName returns the stream with the given name.
func (t *Table) GetByName(name string) (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove frees the slot for id, e.g. once CloseStream has zeroed both
// writeSize and readSize (spec §4.6's CloseStream remote-side rule).
func (t *Table) Remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byID[id]; ok {
		delete(t.byName, s.NameUnlocked())
		delete(t.byID, id)
	}
}

// Each calls fn for every active stream.
func (t *Table) Each(fn func(*Stream)) {
	t.mu.Lock()
	streams := make([]*Stream, 0, len(t.byID))
	for _, s := range t.byID {
		streams = append(streams, s)
	}
	t.mu.Unlock()
	for _, s := range streams {
		fn(s)
	}
}
