package streamconn

import (
	"net"

	"github.com/pkg/errors"
)

// netTransport adapts any net.Conn. Hints are ignored.
type netTransport struct {
	conn net.Conn
}

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// NewNetTransport wraps conn as a Transport
func NewNetTransport(conn net.Conn) Transport {
	if conn == nil {
		panic(errors.New("conn is nil"))
	}
	return &netTransport{conn: conn}
}

// Wrap creates a Conn owning conn, using the TCP transport for TCP connections
func Wrap(conn net.Conn) *Conn {
	if tc, ok := conn.(*net.TCPConn); ok {
		return NewConn(newTCPTransport(tc))
	}
	return NewConn(NewNetTransport(conn))
}

func (t *netTransport) Read(p []byte, _ Flags) (int, error) {
	return t.conn.Read(p)
}

func (t *netTransport) Write(p []byte, _ Flags) (int, error) {
	return t.conn.Write(p)
}

// Writev sends bufs with net.Buffers, which uses writev where the conn supports it
func (t *netTransport) Writev(bufs [][]byte, _ Flags) (int, error) {
	return buffersWriteTo(t.conn, bufs)
}

// Readv has no native form on a generic conn: it reads into the first non-empty segment
func (t *netTransport) Readv(bufs [][]byte, _ Flags) (int, error) {
	return readFirst(t.conn, bufs)
}

func (t *netTransport) Shutdown(how ShutdownHow) error {
	cr, rok := t.conn.(closeReader)
	cw, wok := t.conn.(closeWriter)
	switch how {
	case ShutRead:
		if rok {
			return cr.CloseRead()
		}
	case ShutWrite:
		if wok {
			return cw.CloseWrite()
		}
	case ShutReadWrite:
		if rok && wok {
			if err := cr.CloseRead(); err != nil {
				return err
			}
			return cw.CloseWrite()
		}
	}
	return ErrNotSupported
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

func (t *netTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *netTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func buffersWriteTo(conn net.Conn, bufs [][]byte) (int, error) {
	nb := net.Buffers(append([][]byte(nil), bufs...))
	n, err := nb.WriteTo(conn)
	return int(n), err
}

func readFirst(conn net.Conn, bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) > 0 {
			return conn.Read(b)
		}
	}
	return 0, nil
}
