package transport

import (
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Compressed wraps a Transport with snappy compression, mirroring
// xtaci/kcptun's std.CompStream (std/comp.go) shape almost verbatim:
// Read decompresses through a snappy.Reader, Write compresses through a
// snappy.Writer and flushes immediately since each Transport.Write call
// must reach the peer atomically (the wire codec relies on one write per
// logical frame, never buffering across calls). This sits strictly
// between WireCodec and the underlying byte channel, so it has no
// bearing on the single-packet fragmentation non-goal.
type Compressed struct {
	inner Transport
	w     *snappy.Writer
	r     *snappy.Reader
	raw   io.ReadWriter
}

// compressedPipe adapts Transport's buf-based Read/Write into the
// io.ReadWriter snappy.NewReader/NewWriter expect.
type compressedPipe struct {
	inner Transport
}

func (p compressedPipe) Write(b []byte) (int, error) {
	if err := p.inner.Write(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p compressedPipe) Read(b []byte) (int, error) {
	_, err := p.inner.Read(b)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// NewCompressed returns a Transport that transparently snappy-compresses
// everything written through it and decompresses everything read.
func NewCompressed(inner Transport) Transport {
	pipe := compressedPipe{inner: inner}
	return &Compressed{
		inner: inner,
		w:     snappy.NewBufferedWriter(pipe),
		r:     snappy.NewReader(pipe),
		raw:   pipe,
	}
}

func (c *Compressed) Write(buf []byte) error {
	if _, err := c.w.Write(buf); err != nil {
		return errors.Wrap(err, "transport: snappy write")
	}
	if err := c.w.Flush(); err != nil {
		return errors.Wrap(err, "transport: snappy flush")
	}
	return nil
}

func (c *Compressed) Read(buf []byte) (AncillaryFD, error) {
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, errors.Wrap(err, "transport: snappy read")
	}
	return nil, nil
}

func (c *Compressed) Close() error { return c.inner.Close() }
