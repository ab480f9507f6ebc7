package streamconn

import (
	"context"
	"net"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const defaultDialTimeout = 10 * time.Second

// DialConfig tunes TCP connections created by Dial and Listen
type DialConfig struct {
	// NoDelay disables Nagle's algorithm
	NoDelay bool `json:"no_delay" yaml:"no_delay"`
	// DSCP is the differentiated services code point written to outgoing packets
	DSCP uint8 `json:"dscp" yaml:"dscp"`
	// Timeout bounds connection establishment, zero means the default
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

func DefaultDialConfig() *DialConfig {
	return &DialConfig{
		NoDelay: true,
		DSCP:    0,
		Timeout: defaultDialTimeout,
	}
}

func validateDialConfig(cfg *DialConfig) error {
	if cfg.DSCP > 63 {
		return errors.Errorf("dscp %d out of range", cfg.DSCP)
	}
	if cfg.Timeout < 0 {
		return errors.Errorf("negative dial timeout")
	}
	return nil
}

// tcpTransport is the TCP transport. Its platform half lives in tcp_linux.go
// and tcp_other.go.
type tcpTransport struct {
	conn *net.TCPConn
	raw  syscall.RawConn
}

func newTCPTransport(conn *net.TCPConn) *tcpTransport {
	t := &tcpTransport{conn: conn}
	if raw, err := conn.SyscallConn(); err == nil {
		t.raw = raw
	}
	return t
}

// Dial connects laddr to raddr over TCP with the default config. An empty
// laddr picks any local address.
func Dial(laddr, raddr string) (*Conn, error) {
	return DialContext(context.Background(), DefaultDialConfig(), laddr, raddr)
}

// DialContext connects laddr to raddr over TCP with cfg
func DialContext(ctx context.Context, cfg *DialConfig, laddr, raddr string) (*Conn, error) {
	if cfg == nil {
		cfg = DefaultDialConfig()
	}
	if err := validateDialConfig(cfg); err != nil {
		return nil, err
	}

	d := net.Dialer{
		Timeout: cfg.Timeout,
		Control: controlDSCP(cfg.DSCP),
	}
	if d.Timeout == 0 {
		d.Timeout = defaultDialTimeout
	}
	if laddr != "" {
		la, err := net.ResolveTCPAddr("tcp", laddr)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", laddr)
		}
		d.LocalAddr = la
	}

	conn, err := d.DialContext(ctx, "tcp", raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", raddr)
	}

	tc := conn.(*net.TCPConn)
	if err := tc.SetNoDelay(cfg.NoDelay); err != nil {
		tc.Close()
		return nil, errors.Wrap(err, "set nodelay")
	}
	return NewConn(newTCPTransport(tc)), nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) Shutdown(how ShutdownHow) error {
	switch how {
	case ShutRead:
		return t.conn.CloseRead()
	case ShutWrite:
		return t.conn.CloseWrite()
	case ShutReadWrite:
		if err := t.conn.CloseRead(); err != nil {
			return err
		}
		return t.conn.CloseWrite()
	default:
		return errors.Errorf("invalid shutdown direction %d", int(how))
	}
}

// Abort resets the connection: unsent data is discarded and the peer sees RST
func (t *tcpTransport) Abort() error {
	if err := t.conn.SetLinger(0); err != nil {
		t.conn.Close()
		return err
	}
	return t.conn.Close()
}

func (t *tcpTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *tcpTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Listener is a TCP listener queue handing out Conns
type Listener struct {
	ln       *net.TCPListener
	cfg      DialConfig
	shutdown uint32
}

// Listen creates a TCP listener queue on laddr. The backlog is left to the
// kernel; the parameter exists for callers that size it explicitly.
func Listen(laddr string, backlog int) (*Listener, error) {
	return ListenConfig(context.Background(), DefaultDialConfig(), laddr, backlog)
}

// ListenConfig is like Listen; cfg applies to every accepted connection
func ListenConfig(ctx context.Context, cfg *DialConfig, laddr string, backlog int) (*Listener, error) {
	if cfg == nil {
		cfg = DefaultDialConfig()
	}
	if err := validateDialConfig(cfg); err != nil {
		return nil, err
	}
	if backlog < 0 {
		return nil, errors.Errorf("negative backlog")
	}

	lc := net.ListenConfig{Control: controlDSCP(cfg.DSCP)}
	ln, err := lc.Listen(ctx, "tcp", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", laddr)
	}
	return &Listener{ln: ln.(*net.TCPListener), cfg: *cfg}, nil
}

// Accept waits for the next connection. After Shutdown it returns ErrListenerClosed.
func (l *Listener) Accept() (*Conn, error) {
	for {
		tc, err := l.ln.AcceptTCP()
		if err != nil {
			if atomic.LoadUint32(&l.shutdown) != 0 || errors.Is(err, net.ErrClosed) {
				return nil, ErrListenerClosed
			}
			if IsTemporary(err) {
				runtime.Gosched()
				continue
			}
			return nil, errors.Wrap(err, "accept")
		}

		if err := tc.SetNoDelay(l.cfg.NoDelay); err != nil {
			tc.Close()
			continue
		}
		return NewConn(newTCPTransport(tc)), nil
	}
}

// Shutdown stops the listener; any blocked Accept returns ErrListenerClosed
func (l *Listener) Shutdown() {
	if atomic.CompareAndSwapUint32(&l.shutdown, 0, 1) {
		l.ln.Close()
	}
}

// Close is Shutdown returning the error of closing the listening socket
func (l *Listener) Close() error {
	if atomic.CompareAndSwapUint32(&l.shutdown, 0, 1) {
		return l.ln.Close()
	}
	return nil
}

// Addr returns the listening address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
