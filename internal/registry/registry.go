// Package registry implements the process-wide LinkRegistry of spec §4.7:
// up to 32 link slots guarded by a single mutex for insertion/removal
// only, with lock-free lookup once a link is Up, and the link-down
// callback fan-out the original XLinkCallback.cpp exposes as
// addLinkDownCallback/removeLinkDownCallback.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/luxonis/xlink/internal/dispatch"
)

// MaxLinks bounds the registry, per spec §4.7.
const MaxLinks = 32

// ErrFull is returned by Add when every slot is occupied.
var ErrFull = errors.New("registry: link table full")

// ErrNotFound is returned by Get/Remove for an unknown id.
var ErrNotFound = errors.New("registry: link not found")

type slot struct {
	link atomic.Pointer[dispatch.Link]
}

// Registry is the process-wide link table.
type Registry struct {
	mu    sync.Mutex
	slots [MaxLinks]slot
	used  [MaxLinks]bool

	cbMu      sync.Mutex
	callbacks map[int]func(linkID uint8)
	nextCBID  int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{callbacks: make(map[int]func(linkID uint8))}
}

// Add inserts link, returning its assigned link-id (the slot index,
// matching spec §3's "8-bit opaque identifier, unique while link is
// alive").
func (r *Registry) Add(link *dispatch.Link) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < MaxLinks; i++ {
		if r.used[i] {
			continue
		}
		r.used[i] = true
		link.ID = uint8(i)
		r.slots[i].link.Store(link)
		return uint8(i), nil
	}
	return 0, ErrFull
}

// Get returns the link registered at id, safe to call concurrently with
// Add/Remove and with no locking against readers once the link's own
// state is Up (spec §4.7: "lock-free relative to readers").
func (r *Registry) Get(id uint8) (*dispatch.Link, error) {
	if int(id) >= MaxLinks {
		return nil, ErrNotFound
	}
	l := r.slots[id].link.Load()
	if l == nil {
		return nil, ErrNotFound
	}
	return l, nil
}

// Remove frees id's slot, e.g. once a link's Dispatcher has finished
// tearing down.
func (r *Registry) Remove(id uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= MaxLinks {
		return
	}
	r.used[id] = false
	r.slots[id].link.Store(nil)
}

// Each calls fn for every currently registered link.
func (r *Registry) Each(fn func(*dispatch.Link)) {
	for i := 0; i < MaxLinks; i++ {
		if l := r.slots[i].link.Load(); l != nil {
			fn(l)
		}
	}
}

// AddLinkDownCallback registers cb to be invoked once, with the torn-down
// link's id, whenever any link goes Down (spec §6.3, original
// XLinkCallback.cpp's addLinkDownCallback). It returns an id usable with
// RemoveLinkDownCallback.
func (r *Registry) AddLinkDownCallback(cb func(linkID uint8)) int {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	id := r.nextCBID
	r.nextCBID++
	r.callbacks[id] = cb
	return id
}

// RemoveLinkDownCallback unregisters a callback added via
// AddLinkDownCallback.
func (r *Registry) RemoveLinkDownCallback(id int) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	delete(r.callbacks, id)
}

// NotifyDown invokes every registered callback exactly once for linkID
// and frees the registry slot, matching the original's
// call-each-registered-callback-once behaviour. Meant to be passed as a
// Dispatcher's onDown hook.
func (r *Registry) NotifyDown(linkID uint8) {
	r.cbMu.Lock()
	cbs := make([]func(uint8), 0, len(r.callbacks))
	for _, cb := range r.callbacks {
		cbs = append(cbs, cb)
	}
	r.cbMu.Unlock()

	for _, cb := range cbs {
		cb(linkID)
	}
	r.Remove(linkID)
}
