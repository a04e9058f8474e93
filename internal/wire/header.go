package wire

import (
	"encoding/binary"
	"io"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sagernet/sing/common/bufio"
)

// HeaderSize is the concrete on-wire header length.
//
// spec §6.1 lists id(4)+type(4)+stream_name(52)+t_nsec(4)+t_sec_lsb(4)+
// t_sec_msb(4) = 72 bytes as an illustrative layout, then notes that
// stream_id, size and flags "live inside the padded area" without
// pinning exact offsets, and explicitly invites implementers to fix the
// byte positions. Packing those three fields in plus a 64-byte
// stream_name (spec §3: "up to 64 ASCII bytes") cannot fit in 72 bytes,
// so this implementation uses a 96-byte header. See DESIGN.md.
const HeaderSize = 96

const (
	offID         = 0
	offType       = 4 // 1 byte + 3 pad
	offStreamID   = 8
	offSize       = 12
	offFlags      = 16 // 2 bytes + 2 pad
	offStreamName = 20
	streamNameLen = 64
	offTNsec      = 84
	offTSecLSB    = 88
	offTSecMSB    = 92
)

// ErrShortHeader is returned when a read could not fill a full header.
var ErrShortHeader = errors.New("wire: short header read")

// Codec encodes and decodes Events on a duplex byte channel. It works
// against the minimal Writer/Reader interfaces below so this package
// never imports the transport package (avoiding a cycle); alignChunk, when
// non-zero, is the bounce-buffer stitch size used for transports that
// prefer aligned writes (spec §4.1, USB bulk wants multiples of 1024).
type Codec struct {
	alignChunk int
}

// NewCodec builds a Codec. alignChunk of 0 disables bounce-buffer
// stitching (used for transports without an alignment preference).
func NewCodec(alignChunk int) *Codec {
	return &Codec{alignChunk: alignChunk}
}

// Writer is the duplex byte channel a Codec encodes onto. transport.Transport
// satisfies this directly.
type Writer interface {
	Write(buf []byte) error
}

type Reader interface {
	Read(buf []byte) error
}

// VectorisedWriter is optionally implemented by a Writer whose underlying
// channel exposes a raw io.Writer (e.g. a net.Conn), letting EncodeAndWrite
// hand it to sing/common/bufio for scatter-gather I/O instead of copying
// header and payload into one buffer first.
type VectorisedWriter interface {
	RawWriter() io.Writer
}

func putEvent(buf []byte, e *Event) {
	binary.LittleEndian.PutUint32(buf[offID:], e.ID)
	buf[offType] = byte(e.Type)
	buf[offType+1] = 0
	buf[offType+2] = 0
	buf[offType+3] = 0
	binary.LittleEndian.PutUint32(buf[offStreamID:], e.StreamID)
	binary.LittleEndian.PutUint32(buf[offSize:], e.Size)
	binary.LittleEndian.PutUint16(buf[offFlags:], uint16(e.Flags))
	buf[offFlags+2] = 0
	buf[offFlags+3] = 0

	nameBuf := buf[offStreamName : offStreamName+streamNameLen]
	for i := range nameBuf {
		nameBuf[i] = 0
	}
	copy(nameBuf, e.StreamName)

	binary.LittleEndian.PutUint32(buf[offTNsec:], e.TNsec)
	binary.LittleEndian.PutUint32(buf[offTSecLSB:], e.TSecLSB)
	binary.LittleEndian.PutUint32(buf[offTSecMSB:], e.TSecMSB)
}

func getEvent(buf []byte) *Event {
	e := &Event{}
	e.ID = binary.LittleEndian.Uint32(buf[offID:])
	e.Type = Type(buf[offType])
	e.StreamID = binary.LittleEndian.Uint32(buf[offStreamID:])
	e.Size = binary.LittleEndian.Uint32(buf[offSize:])
	e.Flags = Flags(binary.LittleEndian.Uint16(buf[offFlags:]))

	nameBuf := buf[offStreamName : offStreamName+streamNameLen]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	e.StreamName = string(nameBuf[:n])

	e.TNsec = binary.LittleEndian.Uint32(buf[offTNsec:])
	e.TSecLSB = binary.LittleEndian.Uint32(buf[offTSecLSB:])
	e.TSecMSB = binary.LittleEndian.Uint32(buf[offTSecMSB:])
	return e
}

// AlignedAlloc returns a buffer of n bytes whose backing array starts on
// a 64-byte (cache-line) boundary, per spec §4.2's aligned-deallocation
// invariant. No third-party alignment helper appears anywhere in the
// retrieved pack; this over-allocates by one cache line, reads the
// backing array's address through unsafe.Pointer, and re-slices from the
// first aligned offset. See DESIGN.md for why stdlib-only is justified
// here.
func AlignedAlloc(n int) []byte {
	const cacheLine = 64
	if n == 0 {
		return nil
	}
	buf := make([]byte, n+cacheLine)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	off := int((cacheLine - addr%cacheLine) % cacheLine)
	return buf[off : off+n : off+n]
}

// EncodeAndWrite serialises an event and, for Write/WriteFd, writes the
// header and payload as a single scatter-gather transport write when w
// implements VectorisedWriter, falling back to one combined buffer
// otherwise. This mirrors smux.Session.sendLoop's use of
// sing/common/bufio almost line for line.
func (c *Codec) EncodeAndWrite(w Writer, e *Event) error {
	header := make([]byte, HeaderSize)
	putEvent(header, e)

	if !e.Type.HasPayload() || len(e.Payload) == 0 {
		if err := w.Write(header); err != nil {
			return errors.Wrap(err, "wire: write header")
		}
		return nil
	}

	payload := c.stitch(e.Payload)

	if vw, ok := w.(VectorisedWriter); ok {
		if bw, ok := bufio.CreateVectorisedWriter(vw.RawWriter()); ok {
			vec := [][]byte{header, payload}
			if _, err := bufio.WriteVectorised(bw, vec); err != nil {
				return errors.Wrap(err, "wire: vectorised write")
			}
			return nil
		}
	}

	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	if err := w.Write(buf); err != nil {
		return errors.Wrap(err, "wire: write frame")
	}
	return nil
}

// paddedLen returns the wire length stitch/ReadNext use for an n-byte
// payload: n itself when alignChunk is 0 or n is already a multiple of it,
// else the next multiple up. Both ends of a link must agree on alignChunk
// for this to decode correctly, since the pad count is never sent on the
// wire (spec §6.1's header has no length-delta field); EncodeAndWrite and
// ReadNext derive it symmetrically from the same Config.AlignChunk instead.
func (c *Codec) paddedLen(n int) int {
	if c.alignChunk <= 0 {
		return n
	}
	rem := n % c.alignChunk
	if rem == 0 {
		return n
	}
	return n + (c.alignChunk - rem)
}

// stitch copies the payload into a bounce buffer padded out to
// paddedLen(len(p)) so the transport write is a multiple of alignChunk
// (spec §4.1, §9: USB bulk prefers aligned writes). The pad bytes are
// written to the wire too — ReadNext recomputes the same paddedLen from
// e.Size and reads/discards them, keeping header.Size as the true
// logical length.
func (c *Codec) stitch(p []byte) []byte {
	padded := c.paddedLen(len(p))
	if padded == len(p) {
		return p
	}
	bounce := make([]byte, padded)
	copy(bounce, p)
	return bounce
}

// ReadNext decodes exactly one Event, allocating an aligned payload
// buffer for Write/WriteFd requests (spec §4.1's read_next contract).
func (c *Codec) ReadNext(r Reader) (*Event, error) {
	header := make([]byte, HeaderSize)
	if err := r.Read(header); err != nil {
		return nil, errors.Wrap(err, "wire: read header")
	}
	e := getEvent(header)

	if e.Type.HasPayload() && e.Size > 0 {
		padded := c.paddedLen(int(e.Size))
		buf := AlignedAlloc(padded)
		if err := r.Read(buf); err != nil {
			return nil, errors.Wrap(err, "wire: read payload")
		}
		e.Payload = buf[:e.Size]
	}
	return e, nil
}
