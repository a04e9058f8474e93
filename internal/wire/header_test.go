package wire

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func uintptrOf(p *byte) uintptr { return uintptr(unsafe.Pointer(p)) }

type bufWriter struct{ buf bytes.Buffer }

func (w *bufWriter) Write(p []byte) error {
	_, err := w.buf.Write(p)
	return err
}

type bufReader struct{ buf *bytes.Buffer }

func (r *bufReader) Read(p []byte) error {
	_, err := r.buf.Read(p)
	return err
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec(0)
	w := &bufWriter{}

	e := &Event{
		ID: 7, Type: CreateStream, Flags: FlagAck,
		StreamName: "telemetry", StreamID: 3, Size: 0,
		TNsec: 111, TSecLSB: 222, TSecMSB: 0,
	}
	require.NoError(t, codec.EncodeAndWrite(w, e))
	require.Equal(t, HeaderSize, w.buf.Len())

	got, err := codec.ReadNext(&bufReader{buf: &w.buf})
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)
	require.Equal(t, e.Type, got.Type)
	require.Equal(t, e.Flags, got.Flags)
	require.Equal(t, e.StreamName, got.StreamName)
	require.Equal(t, e.StreamID, got.StreamID)
	require.Equal(t, e.TNsec, got.TNsec)
	require.Equal(t, e.TSecLSB, got.TSecLSB)
}

func TestEncodeDecodeWithPayload(t *testing.T) {
	codec := NewCodec(0)
	w := &bufWriter{}

	payload := []byte("hello xlink")
	e := &Event{Type: Write, StreamID: 1, Size: uint32(len(payload)), Payload: payload}
	require.NoError(t, codec.EncodeAndWrite(w, e))
	require.Equal(t, HeaderSize+len(payload), w.buf.Len())

	got, err := codec.ReadNext(&bufReader{buf: &w.buf})
	require.NoError(t, err)
	require.Equal(t, payload, got.Payload)
	require.Equal(t, e.Size, got.Size)
}

func TestStitchAlignsToChunk(t *testing.T) {
	codec := NewCodec(16)
	w := &bufWriter{}

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	e := &Event{Type: Write, StreamID: 1, Size: uint32(len(payload)), Payload: payload}
	require.NoError(t, codec.EncodeAndWrite(w, e))

	// the wire frame is padded out to a 16-byte multiple (6 pad bytes
	// appended to the 10-byte payload); ReadNext must still hand back
	// exactly the original 10 bytes since it recomputes the same padding
	// from header.Size and discards the rest.
	require.Equal(t, HeaderSize+16, w.buf.Len())

	got, err := codec.ReadNext(&bufReader{buf: &w.buf})
	require.NoError(t, err)
	require.Equal(t, payload, got.Payload)
	require.Equal(t, e.Size, got.Size)
}

func TestAlignedAllocIsCacheLineAligned(t *testing.T) {
	buf := AlignedAlloc(37)
	require.Len(t, buf, 37)
	addr := uintptr(0)
	if len(buf) > 0 {
		addr = uintptrOf(&buf[0])
	}
	require.Zero(t, addr%64)
}

func TestTypeResponseRoundTrip(t *testing.T) {
	require.Equal(t, CreateStreamResp, CreateStream.Response())
	require.Equal(t, CreateStream, CreateStreamResp.Request())
	require.True(t, Write.IsRequest())
	require.True(t, WriteResp.IsResponse())
}
