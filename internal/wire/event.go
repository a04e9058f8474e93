// Package wire implements the XLink event protocol: the fixed event
// header (spec §6.1), its little-endian encode/decode, and the payload
// framing used for Write/WriteFd requests (spec §4.1).
package wire

import (
	"fmt"
	"time"
)

// Type is a wire event type. Request types are followed by their
// response type at Type+RequestLast+1, mirroring spec §3's "resp = req +
// REQUEST_LAST + 1" rule.
type Type uint8

const (
	Write Type = iota
	WriteFd
	Read
	ReadRel
	ReadRelSpec
	CreateStream
	CloseStream
	Ping
	Reset
	Drop

	// RequestLast is the highest request type value.
	RequestLast = Drop
)

// responseOffset is added to a request Type to get its response Type.
const responseOffset = RequestLast + 1

const (
	WriteResp        = Write + responseOffset
	WriteFdResp      = WriteFd + responseOffset
	ReadResp         = Read + responseOffset
	ReadRelResp      = ReadRel + responseOffset
	ReadRelSpecResp  = ReadRelSpec + responseOffset
	CreateStreamResp = CreateStream + responseOffset
	CloseStreamResp  = CloseStream + responseOffset
	PingResp         = Ping + responseOffset
	ResetResp        = Reset + responseOffset
	DropResp         = Drop + responseOffset
)

// IsRequest reports whether t is one of the request types.
func (t Type) IsRequest() bool { return t <= RequestLast }

// IsResponse reports whether t is one of the response types.
func (t Type) IsResponse() bool { return t > RequestLast && t <= DropResp }

// Request returns the request type this response type answers.
func (t Type) Request() Type { return t - responseOffset }

// Response returns the response type answering this request type.
func (t Type) Response() Type { return t + responseOffset }

// HasPayload reports whether a request of this type carries an inline
// payload on the wire (only Write/WriteFd do, per spec §4.1).
func (t Type) HasPayload() bool { return t == Write || t == WriteFd }

func (t Type) String() string {
	names := [...]string{
		"Write", "WriteFd", "Read", "ReadRel", "ReadRelSpec",
		"CreateStream", "CloseStream", "Ping", "Reset", "Drop",
		"WriteResp", "WriteFdResp", "ReadResp", "ReadRelResp", "ReadRelSpecResp",
		"CreateStreamResp", "CloseStreamResp", "PingResp", "ResetResp", "DropResp",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Flags is the event flag bitfield (spec §3, 16 bits).
type Flags uint16

const (
	FlagAck Flags = 1 << iota
	FlagNack
	FlagBlock
	FlagLocalServe
	FlagSizeTooBig
	FlagNoSuchStream
	FlagBufferFull
	FlagTerminate
	FlagMoveSemantic
	FlagDropped
	FlagCanNotBeServed
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// MaxStreamNameLen is the largest ASCII name (excluding the trailing NUL)
// that fits in the wire header's stream_name field. spec §3 allows "up to
// 64 ASCII bytes"; the concrete 96-byte header laid out in header.go
// reserves 64 bytes for the name including the terminator, so the usable
// length is 63. See DESIGN.md for why the header grew past the spec's
// illustrative 72-byte figure.
const MaxStreamNameLen = 63

// State is the dispatcher-queue state tag for an Event (spec §3).
type State int

const (
	Served State = iota
	Allocated
	Pending
	Blocked
	Ready
	Dropped
)

func (s State) String() string {
	switch s {
	case Served:
		return "Served"
	case Allocated:
		return "Allocated"
	case Pending:
		return "Pending"
	case Blocked:
		return "Blocked"
	case Ready:
		return "Ready"
	case Dropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// Origin distinguishes an event enqueued by a local API caller from one
// decoded off the wire by the reader thread.
type Origin int

const (
	Local Origin = iota
	Remote
)

// Event is the in-memory representation of a protocol event. Only the
// fields named in spec §3/§6.1 cross the wire; Payload and AncillaryFD
// are carried alongside for Write/WriteFd and ReadRelSpec handling.
type Event struct {
	ID         uint32
	Type       Type
	Flags      Flags
	StreamName string
	StreamID   uint32
	Size       uint32
	TNsec      uint32
	TSecLSB    uint32
	TSecMSB    uint32

	Payload     []byte
	AncillaryFD any

	// TRemoteSent/TReceived carry a ReadResp's packet capture timestamps
	// from the scheduler back to the API caller. They never cross the
	// wire (spec §3's packet timestamps are local bookkeeping, not
	// protocol state); the header's TNsec/TSecLSB/TSecMSB triple above is
	// the wire-level event timestamp.
	TRemoteSent time.Time
	TReceived   time.Time
}
