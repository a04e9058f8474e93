// classify.go implements the request/response classification tables of
// spec §4.6: processLocal ("L" column, caller-side disposition before
// send) and processRemote ("R" column, what to do on receipt from peer).
// Response events go through handleResponse, which matches each one
// against a local Pending event (spec §4.5 step 8) and completes it,
// with extra bookkeeping for CreateStream and CloseStream responses.
package dispatch

import (
	"time"

	"github.com/luxonis/xlink/internal/equeue"
	"github.com/luxonis/xlink/internal/streamtbl"
	"github.com/luxonis/xlink/internal/wire"
	"github.com/luxonis/xlink/internal/xlinkerr"
)

func (d *Dispatcher) processLocal(slot *equeue.Slot) {
	e := slot.Event()
	if e == nil {
		return
	}
	switch e.Type {
	case wire.Write, wire.WriteFd:
		d.localWrite(slot, e)
	case wire.Read:
		d.localRead(slot, e)
	case wire.ReadRel, wire.ReadRelSpec:
		d.localReadRel(slot, e)
	case wire.CreateStream:
		d.localCreateStream(slot, e)
	case wire.CloseStream:
		d.localCloseStream(slot, e)
	case wire.Ping:
		d.localPing(slot, e)
	case wire.Reset:
		d.localReset(slot, e)
	default:
		slot.Complete(nil, xlinkerr.New("processLocal", xlinkerr.NotImplemented))
	}
}

func (d *Dispatcher) processRemote(slot *equeue.Slot) {
	e := slot.Event()
	if e == nil {
		return
	}
	if e.Type.IsResponse() {
		d.handleResponse(slot, e)
		return
	}
	switch e.Type {
	case wire.Write, wire.WriteFd:
		d.remoteWrite(slot, e)
	case wire.ReadRel, wire.ReadRelSpec:
		d.remoteReadRel(slot, e)
	case wire.CreateStream:
		d.remoteCreateStream(slot, e)
	case wire.CloseStream:
		d.remoteCloseStream(slot, e)
	case wire.Ping:
		d.remotePing(slot, e)
	case wire.Reset:
		d.remoteReset(slot, e)
	default:
		slot.SetState(wire.Served)
	}
}

// handleResponse implements spec §4.5 step 8, plus the per-request-type
// bookkeeping a bare completion can't express (CreateStream finalising the
// local stream record, CloseStream's retry-on-block).
func (d *Dispatcher) handleResponse(remoteSlot *equeue.Slot, resp *wire.Event) {
	defer remoteSlot.SetState(wire.Served)

	localSlot := d.matchResponse(resp)
	if localSlot == nil {
		return // late or already-timed-out response; nothing to wake.
	}
	req := localSlot.Event()

	if req.Type == wire.CloseStream && resp.Flags.Has(wire.FlagBlock) {
		// spec §4.6 CloseStream/R: "NACK with block, will be retried on
		// next release" — park here; remoteReadRel wakes this slot once
		// this side's remote_fill_level for the stream reaches zero.
		localSlot.SetState(wire.Blocked)
		return
	}

	if req.Type == wire.CreateStream {
		d.finishCreateStream(localSlot, req, resp)
		return
	}

	if req.Type == wire.CloseStream {
		d.finishCloseStream(localSlot, resp)
		return
	}

	var err error
	if resp.Flags.Has(wire.FlagNack) {
		err = xlinkerr.New("Wait", xlinkerr.CommunicationFail)
	}
	localSlot.Complete(resp, err)
}

// --- Write / WriteFd ---

func (d *Dispatcher) localWrite(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		slot.Complete(nil, xlinkerr.Wrap("WriteData", xlinkerr.CommunicationNotOpen, err))
		return
	}

	st.Lock()
	writeSize := st.WriteSizeUnlocked()
	closed := writeSize == 0 || st.CloseInitiatedUnlocked()
	remoteLevel := st.RemoteFillLevelUnlocked()
	remotePackets := st.RemoteFillPacketsUnlocked()
	st.Unlock()

	if closed {
		slot.Complete(nil, xlinkerr.New("WriteData", xlinkerr.CommunicationNotOpen))
		return
	}
	if remoteLevel+e.Size > writeSize || remotePackets >= streamtbl.MaxPacketsPerStream {
		slot.SetState(wire.Blocked)
		return
	}

	st.Lock()
	st.AddRemoteFillUnlocked(int32(e.Size), 1)
	st.Unlock()

	out := &wire.Event{
		ID: e.ID, Type: e.Type, StreamID: e.StreamID, Size: e.Size,
		Payload: e.Payload, AncillaryFD: e.AncillaryFD,
	}
	if err := d.sendEvent(out); err != nil {
		st.Lock()
		st.AddRemoteFillUnlocked(-int32(e.Size), -1)
		st.Unlock()
		slot.Complete(nil, xlinkerr.Wrap("WriteData", xlinkerr.CommunicationFail, err))
		return
	}
	slot.SetState(wire.Pending)
}

func (d *Dispatcher) remoteWrite(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		resp := &wire.Event{ID: e.ID, Type: e.Type.Response(), StreamID: e.StreamID, Flags: wire.FlagNack | wire.FlagNoSuchStream}
		d.sendEvent(resp)
		slot.SetState(wire.Served)
		return
	}

	st.Lock()
	pushErr := st.Pool().Push(e.Payload, time.Now(), time.Now(), e.AncillaryFD)
	if pushErr == nil {
		st.AddLocalFillUnlocked(int32(e.Size), 1)
	}
	st.Unlock()

	flags := wire.FlagAck
	if pushErr != nil {
		flags = wire.FlagNack | wire.FlagBufferFull
	}
	resp := &wire.Event{ID: e.ID, Type: e.Type.Response(), StreamID: e.StreamID, Flags: flags}
	if err := d.sendEvent(resp); err != nil {
		slot.SetState(wire.Served)
		return
	}
	if pushErr == nil {
		wakeBlocked(d.local, e.StreamID, wire.Read)
	}
	slot.SetState(wire.Served)
}

// --- Read ---

func (d *Dispatcher) localRead(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		slot.Complete(nil, xlinkerr.Wrap("ReadData", xlinkerr.CommunicationNotOpen, err))
		return
	}

	st.Lock()
	defer st.Unlock()

	if st.Pool().Available() == 0 {
		slot.SetState(wire.Blocked)
		return
	}

	if e.Flags.Has(wire.FlagMoveSemantic) {
		pkt, _ := st.Pool().MoveNext()
		resp := &wire.Event{
			ID: e.ID, Type: wire.ReadResp, StreamID: e.StreamID, Size: uint32(pkt.Length),
			Payload: pkt.Data, AncillaryFD: pkt.AncillaryFD, Flags: wire.FlagAck | wire.FlagMoveSemantic,
			TRemoteSent: pkt.TRemoteSent, TReceived: pkt.TReceived,
		}
		slot.Complete(resp, nil)
		return
	}

	pkt, _ := st.Pool().PeekNext()
	resp := &wire.Event{
		ID: e.ID, Type: wire.ReadResp, StreamID: e.StreamID, Size: uint32(pkt.Length),
		Payload: pkt.Data, AncillaryFD: pkt.AncillaryFD, Flags: wire.FlagAck,
		TRemoteSent: pkt.TRemoteSent, TReceived: pkt.TReceived,
	}
	slot.Complete(resp, nil)
}

// --- ReadRel / ReadRelSpec ---

func (d *Dispatcher) localReadRel(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		slot.Complete(nil, xlinkerr.Wrap("ReleaseData", xlinkerr.CommunicationNotOpen, err))
		return
	}

	st.Lock()
	var released int
	if e.Type == wire.ReadRelSpec {
		released = st.Pool().ReleaseSpecific(e.Payload)
	} else {
		released = st.Pool().ReleaseFront()
	}
	st.AddLocalFillUnlocked(-int32(released), -1)
	st.Unlock()

	out := &wire.Event{ID: e.ID, Type: e.Type, StreamID: e.StreamID, Size: uint32(released)}
	if err := d.sendEvent(out); err != nil {
		slot.Complete(nil, xlinkerr.Wrap("ReleaseData", xlinkerr.CommunicationFail, err))
		return
	}
	slot.SetState(wire.Pending)
}

func (d *Dispatcher) remoteReadRel(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		slot.SetState(wire.Served)
		return
	}

	st.Lock()
	st.AddRemoteFillUnlocked(-int32(e.Size), -1)
	closeReady := st.CloseInitiatedUnlocked() && st.RemoteFillLevelUnlocked() == 0
	st.Unlock()

	wakeBlocked(d.local, e.StreamID, wire.Write)
	if closeReady {
		wakeBlocked(d.local, e.StreamID, wire.CloseStream)
	}

	resp := &wire.Event{ID: e.ID, Type: e.Type.Response(), StreamID: e.StreamID, Flags: wire.FlagAck}
	d.sendEvent(resp)
	slot.SetState(wire.Served)
}

// --- CreateStream ---

func (d *Dispatcher) localCreateStream(slot *equeue.Slot, e *wire.Event) {
	id := e.StreamID
	if id == 0 {
		id = d.link.nextStreamID()
	}
	st, err := d.link.Streams.OpenOrUpdate(e.StreamName, e.Size, e.Size, &id, d.cfg.MaxStreams)
	if err != nil {
		slot.Complete(nil, xlinkerr.Wrap("OpenStream", xlinkerr.OutOfMemory, err))
		return
	}
	// stamp the assigned id back onto the slot's own event so a later
	// failure response (finishCreateStream) can find the right stream to
	// roll back, and so matchResponse's stream-id check lines up.
	e.StreamID = st.ID()

	out := &wire.Event{ID: e.ID, Type: wire.CreateStream, StreamName: e.StreamName, StreamID: st.ID(), Size: e.Size}
	if err := d.sendEvent(out); err != nil {
		slot.Complete(nil, xlinkerr.Wrap("OpenStream", xlinkerr.CommunicationFail, err))
		return
	}
	slot.SetState(wire.Pending)
}

// remoteCreateStream mirrors the initiator's chosen stream id into this
// side's table (spec §4.6: "server side forces its id back to client" —
// resolved here as "whichever side sends the request is authoritative for
// the id", the same way smux's SYN frame carries a client-chosen sid that
// recvLoop's cmdSYN branch reuses verbatim instead of renegotiating).
func (d *Dispatcher) remoteCreateStream(slot *equeue.Slot, e *wire.Event) {
	id := e.StreamID
	st, err := d.link.Streams.OpenOrUpdate(e.StreamName, e.Size, 0, &id, d.cfg.MaxStreams)

	var resp *wire.Event
	if err != nil {
		resp = &wire.Event{ID: e.ID, Type: wire.CreateStreamResp, StreamName: e.StreamName, StreamID: e.StreamID, Flags: wire.FlagNack | wire.FlagSizeTooBig}
	} else {
		resp = &wire.Event{ID: e.ID, Type: wire.CreateStreamResp, StreamName: e.StreamName, StreamID: st.ID(), Size: e.Size, Flags: wire.FlagAck}
	}
	d.sendEvent(resp)
	slot.SetState(wire.Served)
}

func (d *Dispatcher) finishCreateStream(localSlot *equeue.Slot, req, resp *wire.Event) {
	if !resp.Flags.Has(wire.FlagAck) {
		d.link.Streams.Remove(req.StreamID)
		localSlot.Complete(nil, xlinkerr.New("OpenStream", xlinkerr.OutOfMemory))
		return
	}
	if st, err := d.link.Streams.GetByID(req.StreamID); err == nil {
		st.Lock()
		if st.WriteSizeUnlocked() == 0 {
			st.SetWriteSizeUnlocked(resp.Size)
		}
		st.Unlock()
	}
	localSlot.Complete(resp, nil)
}

// --- CloseStream ---

func (d *Dispatcher) localCloseStream(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		slot.Complete(nil, xlinkerr.Wrap("CloseStream", xlinkerr.CommunicationNotOpen, err))
		return
	}

	st.Lock()
	st.SetCloseInitiatedUnlocked(true)
	remoteLevel := st.RemoteFillLevelUnlocked()
	st.Unlock()

	if remoteLevel != 0 {
		slot.SetState(wire.Blocked)
		return
	}

	out := &wire.Event{ID: e.ID, Type: wire.CloseStream, StreamID: e.StreamID}
	if err := d.sendEvent(out); err != nil {
		slot.Complete(nil, xlinkerr.Wrap("CloseStream", xlinkerr.CommunicationFail, err))
		return
	}
	slot.SetState(wire.Pending)
}

// finishCloseStream completes the local side of a CloseStream handshake
// (spec §4.6: "close_stream... succeeds once ack'd") and zeros this side's
// own readSize, mirroring what remoteCloseStream does to writeSize on
// receipt of the peer's request. Only once both halves are zero has
// neither side got anything left to send or receive, so the table entry
// can be freed and a later open_stream of the same name gets a fresh id.
func (d *Dispatcher) finishCloseStream(localSlot *equeue.Slot, resp *wire.Event) {
	if !resp.Flags.Has(wire.FlagAck) {
		localSlot.Complete(nil, xlinkerr.New("CloseStream", xlinkerr.CommunicationFail))
		return
	}

	if st, err := d.link.Streams.GetByID(resp.StreamID); err == nil {
		st.Lock()
		st.SetReadSizeUnlocked(0)
		bothClosed := st.WriteSizeUnlocked() == 0
		st.Unlock()
		if bothClosed {
			d.link.Streams.Remove(resp.StreamID)
		}
	}
	localSlot.Complete(resp, nil)
}

func (d *Dispatcher) remoteCloseStream(slot *equeue.Slot, e *wire.Event) {
	st, err := d.link.Streams.GetByID(e.StreamID)
	if err != nil {
		resp := &wire.Event{ID: e.ID, Type: wire.CloseStreamResp, StreamID: e.StreamID, Flags: wire.FlagNack | wire.FlagNoSuchStream}
		d.sendEvent(resp)
		slot.SetState(wire.Served)
		return
	}

	st.Lock()
	if st.LocalFillLevelUnlocked() != 0 {
		st.Unlock()
		resp := &wire.Event{ID: e.ID, Type: wire.CloseStreamResp, StreamID: e.StreamID, Flags: wire.FlagNack | wire.FlagBlock}
		d.sendEvent(resp)
		slot.SetState(wire.Served)
		return
	}
	st.SetWriteSizeUnlocked(0)
	bothClosed := st.ReadSizeUnlocked() == 0
	st.Unlock()

	if bothClosed {
		d.link.Streams.Remove(e.StreamID)
	}

	resp := &wire.Event{ID: e.ID, Type: wire.CloseStreamResp, StreamID: e.StreamID, Flags: wire.FlagAck}
	d.sendEvent(resp)
	slot.SetState(wire.Served)
}

// --- Ping ---

func (d *Dispatcher) localPing(slot *equeue.Slot, e *wire.Event) {
	out := &wire.Event{ID: e.ID, Type: wire.Ping}
	if err := d.sendEvent(out); err != nil {
		slot.Complete(nil, xlinkerr.Wrap("Ping", xlinkerr.CommunicationFail, err))
		return
	}
	slot.SetState(wire.Pending)
}

func (d *Dispatcher) remotePing(slot *equeue.Slot, e *wire.Event) {
	resp := &wire.Event{ID: e.ID, Type: wire.PingResp, Flags: wire.FlagAck}
	d.sendEvent(resp)

	d.pingOnce.Do(func() { close(d.pingCh) })

	slot.SetState(wire.Served)
}

// WaitForPing blocks until a Ping request has been received from the
// peer or deadline elapses, used by a server's startup handshake to
// confirm a client is alive before serving its first CreateStream
// (original XLinkDispatcherImpl.c ping state machine).
func (d *Dispatcher) WaitForPing(deadline time.Duration) bool {
	select {
	case <-d.pingCh:
		return true
	case <-time.After(deadline):
		return false
	case <-d.closed:
		return false
	}
}

// --- Reset ---

func (d *Dispatcher) localReset(slot *equeue.Slot, e *wire.Event) {
	out := &wire.Event{ID: e.ID, Type: wire.Reset}
	if err := d.sendEvent(out); err != nil {
		slot.Complete(nil, xlinkerr.Wrap("ResetRemote", xlinkerr.CommunicationFail, err))
		return
	}
	slot.SetState(wire.Pending)
}

func (d *Dispatcher) remoteReset(slot *equeue.Slot, e *wire.Event) {
	resp := &wire.Event{ID: e.ID, Type: wire.ResetResp, Flags: wire.FlagAck}
	d.sendEvent(resp)
	slot.SetState(wire.Served)
	d.teardown(nil)
}
