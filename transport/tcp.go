package transport

import (
	"io"
	"net"

	"github.com/pkg/errors"
)

// TCP is a reference Transport over a net.Conn, grounded directly on
// xtaci/kcptun's client/server dial/accept pattern (client/main.go's
// net.DialTimeout, server/main.go's net.Listen) minus the KCP/smux
// session layer those binaries add on top — XLink's own Dispatcher is
// the session layer here.
type TCP struct {
	conn net.Conn
	peer PeerInfo
}

// NewTCP wraps an already-connected net.Conn.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{conn: conn}
}

// DialTCP connects to addr the way kcptun's client dials its backend,
// without the KCP layer.
func DialTCP(addr string) (*TCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial")
	}
	return &TCP{conn: conn, peer: PeerInfo{USBSpeed: "n/a", MxID: conn.RemoteAddr().String()}}, nil
}

func (t *TCP) Write(buf []byte) error {
	_, err := t.conn.Write(buf)
	if err != nil {
		return errors.Wrap(err, "transport: tcp write")
	}
	return nil
}

func (t *TCP) Read(buf []byte) (AncillaryFD, error) {
	_, err := io.ReadFull(t.conn, buf)
	if err != nil {
		return nil, errors.Wrap(err, "transport: tcp read")
	}
	return nil, nil
}

func (t *TCP) Close() error { return t.conn.Close() }

// RawWriter exposes the underlying net.Conn for the wire codec's
// vectorised write path (sagernet/sing/common/bufio.CreateVectorisedWriter
// recognises net.Conn implementations of syscall.Conn/io.ReaderFrom).
func (t *TCP) RawWriter() io.Writer { return t.conn }

func (t *TCP) Peer() PeerInfo { return t.peer }

// TCPListener accepts TCP connections the way kcptun's server/main.go
// accepts before handing the conn to smux.Server.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP starts accepting at addr.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen")
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next inbound connection.
func (l *TCPListener) Accept() (*TCP, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "transport: accept")
	}
	return &TCP{conn: conn, peer: PeerInfo{USBSpeed: "n/a", MxID: conn.RemoteAddr().String()}}, nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }

func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
