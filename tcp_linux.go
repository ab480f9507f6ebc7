//go:build linux

package streamconn

import (
	"io"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

func (t *tcpTransport) Read(p []byte, f Flags) (int, error) {
	if f&Poll == 0 || t.raw == nil {
		return t.conn.Read(p)
	}
	n, err := rawIO(t.raw.Read, "read", func(fd int) (int, error) {
		return unix.Read(fd, p)
	}, true)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

func (t *tcpTransport) Write(p []byte, f Flags) (int, error) {
	if f&Poll == 0 || t.raw == nil {
		return t.conn.Write(p)
	}
	return rawIO(t.raw.Write, "write", func(fd int) (int, error) {
		return unix.Write(fd, p)
	}, true)
}

// Readv is a single readv(2) over at most maxIovecs segments; it may fill
// only a prefix of bufs
func (t *tcpTransport) Readv(bufs [][]byte, f Flags) (int, error) {
	if t.raw == nil {
		return readFirst(t.conn, bufs)
	}
	bufs = iovsHead(bufs)
	n, err := rawIO(t.raw.Read, "readv", func(fd int) (int, error) {
		return unix.Readv(fd, bufs)
	}, f&Poll != 0)
	if err == nil && n == 0 && iovsTotalLen(bufs) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Writev is a single writev(2) over at most maxIovecs segments; it may send
// only a prefix of bufs
func (t *tcpTransport) Writev(bufs [][]byte, f Flags) (int, error) {
	if t.raw == nil {
		return buffersWriteTo(t.conn, bufs)
	}
	bufs = iovsHead(bufs)
	return rawIO(t.raw.Write, "writev", func(fd int) (int, error) {
		return unix.Writev(fd, bufs)
	}, f&Poll != 0)
}

func (t *tcpTransport) HasPendingData() bool {
	if t.raw == nil {
		return false
	}
	var one [1]byte
	pending := false
	err := t.raw.Read(func(fd uintptr) bool {
		n, _, err := unix.Recvfrom(int(fd), one[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		pending = err == nil && n > 0
		return true
	})
	return err == nil && pending
}

func (t *tcpTransport) WaitForRead() bool {
	if t.raw == nil {
		return false
	}
	var one [1]byte
	readable := false
	err := t.raw.Read(func(fd uintptr) bool {
		for {
			n, _, err := unix.Recvfrom(int(fd), one[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false
			}
			// n == 0 means the peer closed its side
			readable = err == nil && n > 0
			return true
		}
	})
	return err == nil && readable
}

// rawIO runs op on the socket descriptor. Without poll an EAGAIN parks the
// goroutine in the netpoller; with poll it spins, yielding between attempts.
func rawIO(ctl func(func(uintptr) bool) error, name string, op func(fd int) (int, error), poll bool) (int, error) {
	var n int
	var opErr error
	for {
		again := false
		err := ctl(func(fd uintptr) bool {
			for {
				n, opErr = op(int(fd))
				if opErr != unix.EINTR {
					break
				}
			}
			if opErr == unix.EAGAIN {
				if poll {
					again = true
					return true
				}
				return false
			}
			return true
		})
		if err != nil {
			return 0, err
		}
		if !again {
			break
		}
		runtime.Gosched()
	}

	if opErr != nil {
		return 0, os.NewSyscallError(name, opErr)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func controlDSCP(dscp uint8) func(network, address string, c syscall.RawConn) error {
	if dscp == 0 {
		return nil
	}
	tos := int(dscp) << 2
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if network == "tcp6" {
				serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
			} else {
				serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
			}
		})
		if err != nil {
			return err
		}
		return os.NewSyscallError("setsockopt", serr)
	}
}
