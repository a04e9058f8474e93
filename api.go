package xlink

import (
	"sync"
	"time"

	"github.com/luxonis/xlink/internal/dispatch"
	"github.com/luxonis/xlink/internal/registry"
	"github.com/luxonis/xlink/internal/wire"
	"github.com/luxonis/xlink/internal/xlinkerr"
	"github.com/luxonis/xlink/transport"
)

// Api is the public XLink surface of spec §6.3: initialize, connect/serve,
// open/close stream, read/write/release, reset. It owns the process-wide
// LinkRegistry and translates every call into events handed to the right
// Dispatcher, matching spec §2's control-flow summary.
type Api struct {
	mu          sync.Mutex
	initialized bool
	cfg         *Config

	registry *registry.Registry
}

// New returns an uninitialized Api. Call Initialize before any other
// method.
func New() *Api {
	return &Api{registry: registry.New()}
}

// Initialize brings the process-global state up (spec §6.3:
// "process-global, idempotent" — idempotent here means a second call
// without an intervening shutdown is rejected with AlreadyOpen rather
// than silently reapplied, since Config changes would otherwise leave
// already-open links on stale settings).
func (a *Api) Initialize(cfg *Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return xlinkerr.New("Initialize", xlinkerr.AlreadyOpen)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return xlinkerr.Wrap("Initialize", xlinkerr.Generic, err)
	}
	a.cfg = cfg
	a.initialized = true
	return nil
}

// DeviceFilter narrows FindDevices results. Discovery itself is out of
// core scope (spec §1); this is a stub surface for a higher-level
// transport-specific discovery implementation to satisfy.
type DeviceFilter struct {
	NamePrefix string
}

// DeviceInfo is one discovered peer endpoint.
type DeviceInfo struct {
	Name string
	MxID string
}

// FindDevices is delegated to discovery (spec §1's explicit out-of-scope
// item); this core module does not implement USB/UDP enumeration.
func (a *Api) FindDevices(DeviceFilter) ([]DeviceInfo, error) {
	return nil, xlinkerr.New("FindDevices", xlinkerr.NotImplemented)
}

func (a *Api) openLink(t transport.Transport, role dispatch.Role) (uint8, error) {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return 0, xlinkerr.New("Connect", xlinkerr.CommunicationNotOpen)
	}
	cfg := a.cfg
	a.mu.Unlock()

	link := dispatch.NewLink(0, t, role, cfg.MaxStreams)
	id, err := a.registry.Add(link)
	if err != nil {
		return 0, xlinkerr.Wrap("Connect", xlinkerr.OutOfMemory, err)
	}
	if connector, ok := t.(transport.Connector); ok {
		link.Peer = connector.Peer()
	}

	d := dispatch.NewDispatcher(link, cfg.dispatchConfig(), cfg.logger(), a.registry.NotifyDown)
	d.Start()
	return id, nil
}

// Connect opens a client-role link over t (spec §6.3 connect). The startup
// Ping a Server peer waits on before accepting CreateStream (SPEC_FULL.md's
// ping/keepalive handshake) is sent in the background: the peer's reader
// may not be pumping yet (e.g. Server hasn't been called there), so Connect
// must not block on the round trip completing.
func (a *Api) Connect(t transport.Transport) (uint8, error) {
	id, err := a.openLink(t, dispatch.Client)
	if err != nil {
		return 0, err
	}
	link, err := a.registry.Get(id)
	if err != nil {
		return 0, err
	}
	pingTimeout := a.cfg.PingTimeout
	go func() { _ = link.Dispatcher().Ping(pingTimeout) }()
	return id, nil
}

// Server opens a server-role link over t (spec §6.3 server) and blocks
// until the client's startup Ping arrives, confirming it is alive before
// this link is handed back for CreateStream (SPEC_FULL.md's ping/keepalive
// handshake). The link is torn down locally if the peer never pings
// within cfg.PingTimeout.
func (a *Api) Server(t transport.Transport) (uint8, error) {
	id, err := a.openLink(t, dispatch.Server)
	if err != nil {
		return 0, err
	}
	link, err := a.registry.Get(id)
	if err != nil {
		return 0, err
	}
	if !link.Dispatcher().WaitForPing(a.cfg.PingTimeout) {
		link.Dispatcher().Close()
		return 0, xlinkerr.New("Server", xlinkerr.Timeout)
	}
	return id, nil
}

func (a *Api) link(linkID uint8, op string) (*dispatch.Link, error) {
	link, err := a.registry.Get(linkID)
	if err != nil {
		return nil, xlinkerr.Wrap(op, xlinkerr.CommunicationNotOpen, err)
	}
	if link.StateValue() != dispatch.Up {
		return nil, xlinkerr.New(op, xlinkerr.CommunicationNotOpen)
	}
	return link, nil
}

// OpenStream requests a named stream able to carry writeSize bytes
// towards the peer before flow control blocks, per spec §6.3 open_stream.
func (a *Api) OpenStream(linkID uint8, name string, writeSize uint32) (StreamHandle, error) {
	link, err := a.link(linkID, "OpenStream")
	if err != nil {
		return InvalidHandle, err
	}
	slot, err := link.Dispatcher().SubmitLocal(&wire.Event{Type: wire.CreateStream, StreamName: name, Size: writeSize})
	if err != nil {
		return InvalidHandle, err
	}
	resp, err := link.Dispatcher().Wait(slot, 0)
	if err != nil {
		return InvalidHandle, err
	}
	return newHandle(linkID, resp.StreamID), nil
}

// CloseStream blocks until the peer has released all outstanding data and
// acknowledged the close (spec §6.3 close_stream, scenario 4). The
// stream's table entry is freed once both sides have closed it.
func (a *Api) CloseStream(h StreamHandle) error {
	link, err := a.link(h.LinkID(), "CloseStream")
	if err != nil {
		return err
	}
	slot, err := link.Dispatcher().SubmitLocal(&wire.Event{Type: wire.CloseStream, StreamID: h.StreamID()})
	if err != nil {
		return err
	}
	_, err = link.Dispatcher().Wait(slot, 0)
	return err
}

// ResetRemote tears a link down cooperatively, returning Timeout if the
// peer does not answer within timeout (spec §6.3 reset_remote, scenario
// 5).
func (a *Api) ResetRemote(linkID uint8, timeout time.Duration) error {
	link, err := a.link(linkID, "ResetRemote")
	if err != nil {
		return err
	}
	return link.Dispatcher().Reset(timeout)
}

// ResetAll tears every registered link down (spec §6.3 reset_all).
func (a *Api) ResetAll() {
	a.registry.Each(func(l *dispatch.Link) {
		if l.StateValue() == dispatch.Up {
			l.Dispatcher().Close()
		}
	})
}

// WriteData blocks until the peer has accepted buf or the stream/link
// fails (spec §6.3 write_data).
func (a *Api) WriteData(h StreamHandle, buf []byte) error {
	return a.writeData(h, buf, 0)
}

// WriteDataWithTimeout bounds WriteData to timeout (spec §6.3
// write_data_with_timeout).
func (a *Api) WriteDataWithTimeout(h StreamHandle, buf []byte, timeout time.Duration) error {
	return a.writeData(h, buf, timeout)
}

func (a *Api) writeData(h StreamHandle, buf []byte, timeout time.Duration) error {
	link, err := a.link(h.LinkID(), "WriteData")
	if err != nil {
		return err
	}
	slot, err := link.Dispatcher().SubmitLocal(&wire.Event{
		Type: wire.Write, StreamID: h.StreamID(), Size: uint32(len(buf)), Payload: buf,
	})
	if err != nil {
		return err
	}
	_, err = link.Dispatcher().Wait(slot, timeout)
	return err
}

// PacketDesc describes a packet read without transferring ownership
// (spec §6.3 read_data): the buffer remains pool-owned until
// ReleaseData/ReleaseSpecificData.
type PacketDesc struct {
	Data        []byte
	Length      int
	TRemoteSent time.Time
	TReceived   time.Time
}

// OwnedPacket is a packet whose buffer ownership has moved to the caller
// (spec §6.3 read_move_data). The pool slot it came from still counts
// towards the stream's fill level until ReleaseData is called for it.
type OwnedPacket struct {
	Data        []byte
	Length      int
	TRemoteSent time.Time
	TReceived   time.Time
}

// blockForever is passed to readData's timeout parameter by ReadData and
// ReadMoveData, which have no timeout argument and must wait indefinitely
// (Dispatcher.Wait already treats a non-positive deadline as "forever").
const blockForever = time.Duration(0)

// neverBlock is passed to readData by ReadDataWithTimeout(h, 0): spec §5
// defines a timed read of 0 as polling, not waiting, which Dispatcher.Wait
// cannot express directly since it treats <=0 as "forever".
const neverBlock = time.Nanosecond

// ReadData blocks until a packet is available (spec §6.3 read_data).
func (a *Api) ReadData(h StreamHandle) (PacketDesc, error) {
	return a.readData(h, blockForever, false)
}

// ReadDataWithTimeout bounds ReadData to timeout; a zero timeout never
// blocks (spec §5: "A timed read_data_with_timeout(h, 0) never blocks").
func (a *Api) ReadDataWithTimeout(h StreamHandle, timeout time.Duration) (PacketDesc, error) {
	if timeout == 0 {
		timeout = neverBlock
	}
	return a.readData(h, timeout, false)
}

// ReadMoveData blocks until a packet is available and transfers buffer
// ownership to the caller (spec §6.3 read_move_data).
func (a *Api) ReadMoveData(h StreamHandle) (OwnedPacket, error) {
	desc, err := a.readData(h, blockForever, true)
	return OwnedPacket(desc), err
}

func (a *Api) readData(h StreamHandle, timeout time.Duration, move bool) (PacketDesc, error) {
	link, err := a.link(h.LinkID(), "ReadData")
	if err != nil {
		return PacketDesc{}, err
	}
	flags := wire.Flags(0)
	if move {
		flags = wire.FlagMoveSemantic
	}
	d := link.Dispatcher()
	slot, err := d.SubmitLocal(&wire.Event{Type: wire.Read, StreamID: h.StreamID(), Flags: flags})
	if err != nil {
		return PacketDesc{}, err
	}
	resp, err := d.Wait(slot, timeout)
	if err != nil {
		return PacketDesc{}, err
	}
	return PacketDesc{
		Data: resp.Payload, Length: int(resp.Size),
		TRemoteSent: resp.TRemoteSent, TReceived: resp.TReceived,
	}, nil
}

// ReleaseData frees the oldest outstanding packet on h's pool (spec §6.3
// release_data).
func (a *Api) ReleaseData(h StreamHandle) error {
	link, err := a.link(h.LinkID(), "ReleaseData")
	if err != nil {
		return err
	}
	slot, err := link.Dispatcher().SubmitLocal(&wire.Event{Type: wire.ReadRel, StreamID: h.StreamID()})
	if err != nil {
		return err
	}
	_, err = link.Dispatcher().Wait(slot, 0)
	return err
}

// ReleaseSpecificData frees the packet identified by desc's buffer
// pointer (spec §6.3 release_specific_data).
func (a *Api) ReleaseSpecificData(h StreamHandle, desc PacketDesc) error {
	link, err := a.link(h.LinkID(), "ReleaseSpecificData")
	if err != nil {
		return err
	}
	slot, err := link.Dispatcher().SubmitLocal(&wire.Event{Type: wire.ReadRelSpec, StreamID: h.StreamID(), Payload: desc.Data})
	if err != nil {
		return err
	}
	_, err = link.Dispatcher().Wait(slot, 0)
	return err
}

// Side selects which of a stream's two fill-level counters GetFillLevel
// reports.
type Side int

const (
	SideLocal Side = iota
	SideRemote
)

// GetFillLevel reports a stream's occupancy from one side's perspective
// (spec §6.3 get_fill_level).
func (a *Api) GetFillLevel(h StreamHandle, side Side) (uint32, error) {
	link, err := a.link(h.LinkID(), "GetFillLevel")
	if err != nil {
		return 0, err
	}
	st, serr := link.Streams.GetByID(h.StreamID())
	if serr != nil {
		return 0, xlinkerr.Wrap("GetFillLevel", xlinkerr.CommunicationNotOpen, serr)
	}
	if side == SideRemote {
		return st.RemoteFillLevel(), nil
	}
	return st.LocalFillLevel(), nil
}

// AddLinkDownCallback registers cb for invocation once a link tears down
// (spec §6.3 add_link_down_callback).
func (a *Api) AddLinkDownCallback(cb func(linkID uint8)) int {
	return a.registry.AddLinkDownCallback(cb)
}

// RemoveLinkDownCallback unregisters a callback added via
// AddLinkDownCallback (spec §6.3 remove_link_down_callback).
func (a *Api) RemoveLinkDownCallback(id int) {
	a.registry.RemoveLinkDownCallback(id)
}
