package xlink

// StreamHandle packs a link id and a stream id into one opaque value per
// spec §6.3: "low 24 bits = stream id on link, high 8 bits = link id."
// Stream ids come from the link's per-role counter, which advances by two
// for every stream a side opens, independent of MaxStreams, and is not
// masked. newHandle keeps only the low 24 bits of the id and has no
// overflow guard — see DESIGN.md.
type StreamHandle uint32

// InvalidHandle is returned by OpenStream on failure (spec §6.3: "returns
// INVALID or INVALID_OUT_OF_MEMORY").
const InvalidHandle StreamHandle = 0xFFFFFFFF

func newHandle(linkID uint8, streamID uint32) StreamHandle {
	return StreamHandle(uint32(linkID)<<24 | (streamID & 0x00FFFFFF))
}

// LinkID extracts the originating link id.
func (h StreamHandle) LinkID() uint8 { return uint8(h >> 24) }

// StreamID extracts the stream id on that link.
func (h StreamHandle) StreamID() uint32 { return uint32(h) & 0x00FFFFFF }
