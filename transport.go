package streamconn

import (
	"fmt"
	"net"
)

// Flags are per-call hints forwarded untouched to the transport
type Flags uint8

const (
	// NonTemporal asks the transport to skip cache-friendly copy paths
	NonTemporal Flags = 1 << iota
	// Poll asks the transport to busy-wait for readiness instead of parking the goroutine
	Poll
)

func (f Flags) String() string {
	switch f {
	case 0:
		return "none"
	case NonTemporal:
		return "nt"
	case Poll:
		return "poll"
	case NonTemporal | Poll:
		return "nt|poll"
	default:
		return fmt.Sprintf("Flags(%d)", uint8(f))
	}
}

// ShutdownHow selects the direction of a half close
type ShutdownHow int

const (
	ShutRead ShutdownHow = iota
	ShutWrite
	ShutReadWrite
)

func (how ShutdownHow) String() string {
	switch how {
	case ShutRead:
		return "read"
	case ShutWrite:
		return "write"
	case ShutReadWrite:
		return "read|write"
	default:
		return fmt.Sprintf("ShutdownHow(%d)", int(how))
	}
}

// Transport is the primitive byte stream a Conn is built on.
//
// Read and Write may move fewer bytes than asked. Read returns io.EOF (or 0
// bytes with a nil error) once the peer has closed its side. Write must make
// progress on every call that returns a nil error.
type Transport interface {
	Read(p []byte, f Flags) (int, error)
	Write(p []byte, f Flags) (int, error)
	Close() error
}

// VectorTransport is implemented by transports with a native scatter/gather
// call. Readv and Writev may complete fewer bytes than the segments hold.
type VectorTransport interface {
	Readv(bufs [][]byte, f Flags) (int, error)
	Writev(bufs [][]byte, f Flags) (int, error)
}

// ReadWaiter reports and waits for read readiness
type ReadWaiter interface {
	HasPendingData() bool
	// WaitForRead blocks until data can be read. It returns false if the
	// stream was closed or failed instead.
	WaitForRead() bool
}

// Shutdowner half-closes a transport
type Shutdowner interface {
	Shutdown(how ShutdownHow) error
}

// Aborter tears a transport down without a graceful close
type Aborter interface {
	Abort() error
}

// Addresser exposes the endpoints of a transport
type Addresser interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
