package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxonis/xlink/internal/wire"
	"github.com/luxonis/xlink/internal/xlinkerr"
	"github.com/luxonis/xlink/transport"
)

func newPair(t *testing.T) (client, server *Dispatcher) {
	t.Helper()
	a, b := transport.LoopbackPair()
	cl := NewLink(1, a, Client, DefaultConfig().MaxStreams)
	sv := NewLink(2, b, Server, DefaultConfig().MaxStreams)
	cd := NewDispatcher(cl, DefaultConfig(), nil, nil)
	sd := NewDispatcher(sv, DefaultConfig(), nil, nil)
	cd.Start()
	sd.Start()
	t.Cleanup(func() {
		cd.Close()
		sd.Close()
	})
	return cd, sd
}

func openStream(t *testing.T, d *Dispatcher, name string, size uint32) uint32 {
	t.Helper()
	slot, err := d.SubmitLocal(&wire.Event{Type: wire.CreateStream, StreamName: name, Size: size})
	require.NoError(t, err)
	resp, err := d.Wait(slot, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Flags.Has(wire.FlagAck))
	return resp.StreamID
}

func TestOpenStreamBothSidesAgreeOnID(t *testing.T) {
	client, server := newPair(t)

	cID := openStream(t, client, "rtt", 1024)
	sID := openStream(t, server, "rtt", 1024)
	require.Equal(t, cID, sID, "both sides must land on the same numeric stream id")
	require.Equal(t, uint32(1), cID, "client role seeds odd ids starting at 1")
}

func TestWriteReadReleaseRoundTrip(t *testing.T) {
	client, server := newPair(t)
	id := openStream(t, client, "echo", 4096)
	_ = openStream(t, server, "echo", 4096)

	payload := []byte("ping")
	wslot, err := client.SubmitLocal(&wire.Event{Type: wire.Write, StreamID: id, Size: uint32(len(payload)), Payload: payload})
	require.NoError(t, err)
	_, err = client.Wait(wslot, 2*time.Second)
	require.NoError(t, err)

	rslot, err := server.SubmitLocal(&wire.Event{Type: wire.Read, StreamID: id})
	require.NoError(t, err)
	resp, err := server.Wait(rslot, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, resp.Payload)

	relslot, err := server.SubmitLocal(&wire.Event{Type: wire.ReadRel, StreamID: id})
	require.NoError(t, err)
	_, err = server.Wait(relslot, 2*time.Second)
	require.NoError(t, err)
}

func TestWriteBlocksWhenWindowFull(t *testing.T) {
	client, server := newPair(t)
	id := openStream(t, client, "tiny", 4)
	_ = openStream(t, server, "tiny", 4)

	payload := []byte("abcd")
	first, err := client.SubmitLocal(&wire.Event{Type: wire.Write, StreamID: id, Size: uint32(len(payload)), Payload: payload})
	require.NoError(t, err)
	_, err = client.Wait(first, 2*time.Second)
	require.NoError(t, err)

	second, err := client.SubmitLocal(&wire.Event{Type: wire.Write, StreamID: id, Size: 1, Payload: []byte("e")})
	require.NoError(t, err)
	_, err = client.Wait(second, 200*time.Millisecond)
	require.True(t, xlinkerr.Is(err, xlinkerr.Timeout), "write past remote_fill_level must park, not complete")

	// draining the peer's pool frees the window and wakes the parked write.
	rslot, err := server.SubmitLocal(&wire.Event{Type: wire.Read, StreamID: id})
	require.NoError(t, err)
	_, err = server.Wait(rslot, 2*time.Second)
	require.NoError(t, err)
	relslot, err := server.SubmitLocal(&wire.Event{Type: wire.ReadRel, StreamID: id})
	require.NoError(t, err)
	_, err = server.Wait(relslot, 2*time.Second)
	require.NoError(t, err)
}

func TestCloseStreamWithPendingDataBlocksThenCompletes(t *testing.T) {
	client, server := newPair(t)
	id := openStream(t, client, "close-me", 4096)
	_ = openStream(t, server, "close-me", 4096)

	payload := []byte("leftover")
	wslot, err := client.SubmitLocal(&wire.Event{Type: wire.Write, StreamID: id, Size: uint32(len(payload)), Payload: payload})
	require.NoError(t, err)
	_, err = client.Wait(wslot, 2*time.Second)
	require.NoError(t, err)

	cslot, err := client.SubmitLocal(&wire.Event{Type: wire.CloseStream, StreamID: id})
	require.NoError(t, err)
	_, err = client.Wait(cslot, 200*time.Millisecond)
	require.True(t, xlinkerr.Is(err, xlinkerr.Timeout), "close must park while remote_fill_level != 0")

	rslot, err := server.SubmitLocal(&wire.Event{Type: wire.Read, StreamID: id})
	require.NoError(t, err)
	_, err = server.Wait(rslot, 2*time.Second)
	require.NoError(t, err)
	relslot, err := server.SubmitLocal(&wire.Event{Type: wire.ReadRel, StreamID: id})
	require.NoError(t, err)
	_, err = server.Wait(relslot, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		slot, err := client.SubmitLocal(&wire.Event{Type: wire.CloseStream, StreamID: id})
		if err != nil {
			return false
		}
		_, err = client.Wait(slot, time.Second)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestResetTimesOutAndTearsLinkDownLocally(t *testing.T) {
	a, b := transport.LoopbackPair()
	cl := NewLink(1, a, Client, DefaultConfig().MaxStreams)
	cd := NewDispatcher(cl, DefaultConfig(), nil, nil)
	cd.Start()
	defer b.Close()

	err := cd.Reset(100 * time.Millisecond)
	require.True(t, xlinkerr.Is(err, xlinkerr.Timeout))
	require.False(t, cd.IsUp(), "link must be Down locally even if the peer never answers")
}

func TestPingRoundTrip(t *testing.T) {
	client, server := newPair(t)
	done := make(chan bool, 1)
	go func() { done <- server.WaitForPing(2 * time.Second) }()

	err := client.Ping(2 * time.Second)
	require.NoError(t, err)
	require.True(t, <-done)
}
