package streamconn

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

const (
	quicAbortCode quic.ApplicationErrorCode = 0x1
	quicCancelled quic.StreamErrorCode      = 0x1
)

// quicTransport carries a Conn over one bidirectional QUIC stream. The QUIC
// connection is owned by the transport and closed with it.
type quicTransport struct {
	qc     quic.Connection
	stream quic.Stream
}

func newQUICTransport(qc quic.Connection, stream quic.Stream) *quicTransport {
	return &quicTransport{qc: qc, stream: stream}
}

func (t *quicTransport) Read(p []byte, _ Flags) (int, error) {
	return t.stream.Read(p)
}

func (t *quicTransport) Write(p []byte, _ Flags) (int, error) {
	return t.stream.Write(p)
}

func (t *quicTransport) Shutdown(how ShutdownHow) error {
	switch how {
	case ShutRead:
		t.stream.CancelRead(quicCancelled)
		return nil
	case ShutWrite:
		return t.stream.Close()
	case ShutReadWrite:
		t.stream.CancelRead(quicCancelled)
		return t.stream.Close()
	default:
		return errors.Errorf("invalid shutdown direction %d", int(how))
	}
}

// Abort resets both directions of the stream and closes the connection with an error code
func (t *quicTransport) Abort() error {
	t.stream.CancelRead(quicCancelled)
	t.stream.CancelWrite(quicCancelled)
	return t.qc.CloseWithError(quicAbortCode, "aborted")
}

// Close closes the stream and then the connection right away. Data the peer
// has not received yet may be lost; Shutdown(ShutWrite) ends the stream gracefully.
func (t *quicTransport) Close() error {
	err := t.stream.Close()
	if cerr := t.qc.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}

func (t *quicTransport) LocalAddr() net.Addr {
	return t.qc.LocalAddr()
}

func (t *quicTransport) RemoteAddr() net.Addr {
	return t.qc.RemoteAddr()
}

// QUICListener accepts QUIC connections and hands out a Conn per connection,
// bound to the first stream the peer opens.
type QUICListener struct {
	ln       *quic.Listener
	shutdown uint32
}

// ListenQUIC listens for QUIC connections on the UDP address addr
func ListenQUIC(addr string) (*QUICListener, error) {
	tlsConf, err := newSelfSignedTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "listen quic %s", addr)
	}
	return &QUICListener{ln: ln}, nil
}

// Accept waits for a connection and its first stream
func (l *QUICListener) Accept(ctx context.Context) (*Conn, error) {
	qc, err := l.ln.Accept(ctx)
	if err != nil {
		if atomic.LoadUint32(&l.shutdown) != 0 {
			return nil, ErrListenerClosed
		}
		return nil, errors.Wrap(err, "accept quic")
	}

	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		qc.CloseWithError(quicAbortCode, "no stream")
		return nil, errors.Wrap(err, "accept stream")
	}
	return NewConn(newQUICTransport(qc, stream)), nil
}

// Shutdown stops the listener; blocked Accepts return ErrListenerClosed
func (l *QUICListener) Shutdown() {
	if atomic.CompareAndSwapUint32(&l.shutdown, 0, 1) {
		l.ln.Close()
	}
}

func (l *QUICListener) Close() error {
	if atomic.CompareAndSwapUint32(&l.shutdown, 0, 1) {
		return l.ln.Close()
	}
	return nil
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

// DialQUIC connects to addr and opens one stream.
//
// QUIC announces a stream to the peer only once data is sent on it, so the
// dialing side must write first for the peer's Accept to return.
func DialQUIC(ctx context.Context, addr string) (*Conn, error) {
	tlsConf, err := newSelfSignedTLSConfig()
	if err != nil {
		return nil, err
	}
	qc, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "dial quic %s", addr)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		qc.CloseWithError(quicAbortCode, "no stream")
		return nil, errors.Wrap(err, "open stream")
	}
	return NewConn(newQUICTransport(qc, stream)), nil
}
