package dispatch

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/luxonis/xlink/internal/equeue"
	"github.com/luxonis/xlink/internal/wire"
	"github.com/luxonis/xlink/internal/xlinkerr"
	"github.com/luxonis/xlink/transport"
)

// Config carries the Dispatcher-level tunables spec §9 leaves to the
// implementer (queue/pool depths are fixed by the data model at 64; what
// remains is timing and alignment), mirroring the shape of
// smux.Config/smux.DefaultConfig.
type Config struct {
	MaxStreams  int           // StreamTable capacity, spec §3 ">= 32"
	AlignChunk  int           // WireCodec bounce-buffer chunk, 0 disables
	PingTimeout time.Duration // server-side startup handshake budget
}

// DefaultConfig mirrors smux.DefaultConfig's role: sane defaults a caller
// can selectively override before VerifyConfig.
func DefaultConfig() *Config {
	return &Config{
		MaxStreams:  64,
		AlignChunk:  0,
		PingTimeout: 2 * time.Second,
	}
}

// VerifyConfig mirrors smux.VerifyConfig: reject a Config that would make
// the Dispatcher misbehave instead of failing confusingly later.
func VerifyConfig(c *Config) error {
	if c.MaxStreams < 32 {
		return errors.New("dispatch: MaxStreams must be >= 32")
	}
	if c.AlignChunk < 0 {
		return errors.New("dispatch: AlignChunk must be >= 0")
	}
	if c.PingTimeout <= 0 {
		return errors.New("dispatch: PingTimeout must be positive")
	}
	return nil
}

// idSeedAfterWrap is where the event id counter restarts once it would
// overflow int32, per spec §5: "wraps at INT32_MAX back to 0xa".
const idSeedAfterWrap = 0xa

// Dispatcher is the per-link scheduler+reader pair of spec §4.5.
type Dispatcher struct {
	link   *Link
	codec  *wire.Codec
	cfg    *Config
	logger *log.Logger

	local  *equeue.Queue
	remote *equeue.Queue

	notify chan struct{}

	idCounter uint32 // atomic

	priorityLocal uint32 // atomic 0/1, flipped every scheduler iteration

	closed    chan struct{}
	closeOnce sync.Once

	onDown func(uint8)

	pingCh   chan struct{}
	pingOnce sync.Once

	wg sync.WaitGroup
}

// NewDispatcher wires a Dispatcher to its Link and starts neither
// goroutine; call Start once the Transport is connected.
func NewDispatcher(link *Link, cfg *Config, logger *log.Logger, onDown func(uint8)) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		link:      link,
		codec:     wire.NewCodec(cfg.AlignChunk),
		cfg:       cfg,
		logger:    logger,
		local:     equeue.New(),
		remote:    equeue.New(),
		notify:    make(chan struct{}, 1),
		idCounter: idSeedAfterWrap,
		closed:    make(chan struct{}),
		onDown:    onDown,
		pingCh:    make(chan struct{}),
	}
	link.disp = d
	return d
}

// Start brings the link Up and launches the scheduler and reader
// goroutines (spec §4.5: "owns one scheduler thread and one reader
// thread per link").
func (d *Dispatcher) Start() {
	d.link.setState(Up)
	d.wg.Add(2)
	go d.schedulerLoop()
	go d.readerLoop()
}

func (d *Dispatcher) nextEventID() uint32 {
	for {
		cur := atomic.LoadUint32(&d.idCounter)
		next := cur + 1
		if next > math.MaxInt32 {
			next = idSeedAfterWrap
		}
		if atomic.CompareAndSwapUint32(&d.idCounter, cur, next) {
			return cur
		}
	}
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// SubmitLocal enqueues an API-originated event and wakes the scheduler
// (spec §4.4 enqueue + §4.5 step 1).
func (d *Dispatcher) SubmitLocal(e *wire.Event) (*equeue.Slot, error) {
	if d.link.StateValue() != Up {
		return nil, xlinkerr.New("SubmitLocal", xlinkerr.CommunicationNotOpen)
	}
	e.ID = d.nextEventID()
	slot, err := d.local.Enqueue(e)
	if err != nil {
		return nil, xlinkerr.Wrap("SubmitLocal", xlinkerr.OutOfMemory, err)
	}
	d.wake()
	return slot, nil
}

// Wait blocks on slot's completion channel, honouring an optional
// deadline (spec §5: "ReadDataWithTimeout... trywait... to avoid
// wall-clock-change sensitivity" — this implementation uses a monotonic
// timer instead, which is the Go-native equivalent). A zero or negative
// deadline blocks until the slot completes.
func (d *Dispatcher) Wait(slot *equeue.Slot, deadline time.Duration) (*wire.Event, error) {
	if deadline <= 0 {
		res := <-slot.Done()
		return res.Response, res.Err
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case res := <-slot.Done():
		return res.Response, res.Err
	case <-timer.C:
		// spec §5 cancellation semantics: a timed-out Pending request has
		// no one left to retry it, so it converts to Served locally and a
		// late response is simply dropped. A Blocked request (e.g. a
		// CloseStream parked on outstanding data) must NOT be forced to
		// Served here: wakeBlocked/retry still owns it and will complete
		// it asynchronously via the slot's buffered Done channel even
		// though this caller already gave up.
		if slot.State() == wire.Pending {
			slot.SetState(wire.Served)
		}
		return nil, xlinkerr.New("Wait", xlinkerr.Timeout)
	}
}

func (d *Dispatcher) sendEvent(e *wire.Event) error {
	if err := d.codec.EncodeAndWrite(d.link.Transport, e); err != nil {
		d.teardown(errors.Wrap(err, "dispatch: encode/write"))
		return err
	}
	return nil
}

// schedulerLoop implements spec §4.5's Sched thread.
func (d *Dispatcher) schedulerLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.closed:
			return
		case <-d.notify:
		}
		for d.schedulerStep() {
		}
	}
}

// schedulerStep performs one iteration of spec §4.5 steps 2-8, returning
// true if it did useful work (so the caller loops without waiting on
// notify again).
func (d *Dispatcher) schedulerStep() bool {
	if slot, ok := d.local.SearchReady(); ok {
		d.processLocal(slot)
		return true
	}
	if slot, ok := d.remote.SearchReady(); ok {
		d.processRemote(slot)
		return true
	}

	preferLocal := atomic.AddUint32(&d.priorityLocal, 1)%2 == 0
	first, second := d.local, d.remote
	firstIsLocal := true
	if !preferLocal {
		first, second = d.remote, d.local
		firstIsLocal = false
	}

	if slot, ok := first.NextToProcess(); ok {
		if firstIsLocal {
			d.processLocal(slot)
		} else {
			d.processRemote(slot)
		}
		return true
	}
	if slot, ok := second.NextToProcess(); ok {
		if firstIsLocal {
			d.processRemote(slot)
		} else {
			d.processLocal(slot)
		}
		return true
	}
	return false
}

// readerLoop implements spec §4.5's Rd thread.
func (d *Dispatcher) readerLoop() {
	defer d.wg.Done()
	for {
		adapter := &readerAdapter{t: d.link.Transport}
		e, err := d.codec.ReadNext(adapter)
		if err != nil {
			d.teardown(errors.Wrap(err, "dispatch: read"))
			return
		}
		if e.Type == wire.WriteFd {
			e.AncillaryFD = adapter.lastFD
		}
		slot, err := d.remote.Enqueue(e)
		if err != nil {
			d.logger.Printf("xlink: link %d: remote queue full, dropping event %s", d.link.ID, e.Type)
			continue
		}
		_ = slot
		d.wake()

		terminal := (d.link.Role == Client && e.Type == wire.ResetResp) ||
			(d.link.Role == Server && e.Type == wire.Reset)
		if terminal {
			return
		}
	}
}

// readerAdapter satisfies wire.Reader from a transport.Transport, whose
// Read additionally returns an AncillaryFD the codec does not need for
// header-only decoding.
type readerAdapter struct {
	t      transport.Transport
	lastFD any
}

func (r *readerAdapter) Read(buf []byte) error {
	fd, err := r.t.Read(buf)
	r.lastFD = fd
	return err
}

// wakeBlocked flips every Blocked slot in q matching streamID (and, if
// types is non-empty, one of the given request types) to Ready so the
// next scheduler iteration retries it (spec §4.6 tie-break: "the
// dispatcher then flips the slot to Ready and retries").
func wakeBlocked(q *equeue.Queue, streamID uint32, types ...wire.Type) {
	for _, slot := range q.All() {
		if slot.State() != wire.Blocked {
			continue
		}
		e := slot.Event()
		if e == nil || e.StreamID != streamID {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		slot.SetState(wire.Ready)
	}
}

func containsType(types []wire.Type, t wire.Type) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// matchResponse pairs a decoded response event against a Pending local
// slot with the same id and complementary type (spec §4.5 step 8, with
// the §9 mitigation of also checking stream id to survive id reuse across
// in-flight requests).
func (d *Dispatcher) matchResponse(resp *wire.Event) *equeue.Slot {
	req := resp.Type.Request()
	for _, slot := range d.local.All() {
		if slot.State() != wire.Pending {
			continue
		}
		e := slot.Event()
		if e == nil || e.ID != resp.ID || e.Type != req || e.StreamID != resp.StreamID {
			continue
		}
		return slot
	}
	return nil
}

// IsUp reports whether the link is currently serviceable.
func (d *Dispatcher) IsUp() bool { return d.link.StateValue() == Up }

// Link returns the Dispatcher's backing Link.
func (d *Dispatcher) Link() *Link { return d.link }

// Ping sends a keepalive request and waits for PingResp, per spec §4.6's
// Ping row ("always acknowledged locally / emitted").
func (d *Dispatcher) Ping(deadline time.Duration) error {
	slot, err := d.SubmitLocal(&wire.Event{Type: wire.Ping})
	if err != nil {
		return err
	}
	_, err = d.Wait(slot, deadline)
	return err
}

// Reset performs the cooperative shutdown handshake of spec §4.6's Reset
// row: send a Reset request and wait up to deadline for ResetResp. On
// timeout the link is torn down locally regardless (scenario 5: the
// caller must not hang past deadline+ε even if the peer never answers).
func (d *Dispatcher) Reset(deadline time.Duration) error {
	e := &wire.Event{Type: wire.Reset}
	slot, err := d.SubmitLocal(e)
	if err != nil {
		return err
	}
	_, err = d.Wait(slot, deadline)
	d.teardown(nil)
	if err != nil {
		return err
	}
	return nil
}
