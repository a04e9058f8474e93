package xlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxonis/xlink/transport"
)

func newLinkedPair(t *testing.T) (client, server *Api, clientLinkID, serverLinkID uint8) {
	t.Helper()
	a, b := transport.LoopbackPair()

	client = New()
	require.NoError(t, client.Initialize(nil))
	server = New()
	require.NoError(t, server.Initialize(nil))

	var err error
	clientLinkID, err = client.Connect(a)
	require.NoError(t, err)
	serverLinkID, err = server.Server(b)
	require.NoError(t, err)
	return client, server, clientLinkID, serverLinkID
}

func TestEchoRoundTrip(t *testing.T) {
	client, server, clinkID, slinkID := newLinkedPair(t)

	ch, err := client.OpenStream(clinkID, "rtt", 1024)
	require.NoError(t, err)
	sh, err := server.OpenStream(slinkID, "rtt", 1024)
	require.NoError(t, err)
	require.Equal(t, ch.StreamID(), sh.StreamID())

	require.NoError(t, client.WriteData(ch, []byte("ping")))
	pkt, err := server.ReadData(sh)
	require.NoError(t, err)
	require.Equal(t, "ping", string(pkt.Data))
	require.NoError(t, server.ReleaseData(sh))

	require.NoError(t, server.WriteData(sh, []byte("pong")))
	pkt, err = client.ReadData(ch)
	require.NoError(t, err)
	require.Equal(t, "pong", string(pkt.Data))
	require.NoError(t, client.ReleaseData(ch))
}

func TestMultiStreamInterleave(t *testing.T) {
	client, server, clinkID, slinkID := newLinkedPair(t)

	ch1, err := client.OpenStream(clinkID, "a", 1024)
	require.NoError(t, err)
	ch2, err := client.OpenStream(clinkID, "b", 1024)
	require.NoError(t, err)
	sh1, err := server.OpenStream(slinkID, "a", 1024)
	require.NoError(t, err)
	sh2, err := server.OpenStream(slinkID, "b", 1024)
	require.NoError(t, err)

	require.NoError(t, client.WriteData(ch1, []byte("stream-a")))
	require.NoError(t, client.WriteData(ch2, []byte("stream-b")))

	pkt2, err := server.ReadData(sh2)
	require.NoError(t, err)
	require.Equal(t, "stream-b", string(pkt2.Data))
	require.NoError(t, server.ReleaseData(sh2))

	pkt1, err := server.ReadData(sh1)
	require.NoError(t, err)
	require.Equal(t, "stream-a", string(pkt1.Data))
	require.NoError(t, server.ReleaseData(sh1))
}

func TestBackpressureBlocksThenDrains(t *testing.T) {
	client, server, clinkID, slinkID := newLinkedPair(t)

	ch, err := client.OpenStream(clinkID, "small", 4)
	require.NoError(t, err)
	sh, err := server.OpenStream(slinkID, "small", 4)
	require.NoError(t, err)

	require.NoError(t, client.WriteData(ch, []byte("abcd")))
	err = client.WriteDataWithTimeout(ch, []byte("e"), 150*time.Millisecond)
	require.True(t, IsTimeout(err))

	pkt, err := server.ReadData(sh)
	require.NoError(t, err)
	require.NoError(t, server.ReleaseData(sh))
	require.Equal(t, 4, pkt.Length)

	require.Eventually(t, func() bool {
		return client.WriteDataWithTimeout(ch, []byte("e"), 200*time.Millisecond) == nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCloseStreamWithPendingDataDrainsFirst(t *testing.T) {
	client, server, clinkID, slinkID := newLinkedPair(t)

	ch, err := client.OpenStream(clinkID, "closing", 4096)
	require.NoError(t, err)
	sh, err := server.OpenStream(slinkID, "closing", 4096)
	require.NoError(t, err)

	require.NoError(t, client.WriteData(ch, []byte("pending")))

	go func() {
		time.Sleep(100 * time.Millisecond)
		pkt, err := server.ReadData(sh)
		if err == nil {
			_ = server.ReleaseData(sh)
			_ = pkt
		}
	}()

	done := make(chan error, 1)
	go func() { done <- client.CloseStream(ch) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("CloseStream never completed once the peer drained its pool")
	}
}

func TestResetRemoteTimesOutAndTearsLinkDown(t *testing.T) {
	a, b := transport.LoopbackPair()
	_ = b

	client := New()
	require.NoError(t, client.Initialize(nil))
	linkID, err := client.Connect(a)
	require.NoError(t, err)

	err = client.ResetRemote(linkID, 100*time.Millisecond)
	require.True(t, IsTimeout(err))

	_, err = client.OpenStream(linkID, "anything", 1024)
	require.Error(t, err, "link must be unusable once ResetRemote tears it down locally")
}

func TestLinkDownCallbackFiresOnPeerReset(t *testing.T) {
	client, server, clinkID, slinkID := newLinkedPair(t)
	_ = slinkID

	downCh := make(chan uint8, 1)
	client.AddLinkDownCallback(func(id uint8) { downCh <- id })

	require.NoError(t, server.ResetRemote(slinkID, 2*time.Second))

	select {
	case id := <-downCh:
		require.Equal(t, clinkID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected link-down callback after peer-initiated reset")
	}
}

func TestFindDevicesIsNotImplemented(t *testing.T) {
	api := New()
	require.NoError(t, api.Initialize(nil))
	_, err := api.FindDevices(DeviceFilter{})
	require.Error(t, err)
}

func TestInitializeRejectsSecondCall(t *testing.T) {
	api := New()
	require.NoError(t, api.Initialize(nil))
	require.Error(t, api.Initialize(nil))
}
