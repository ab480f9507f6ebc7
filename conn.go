package streamconn

import (
	"fmt"
	"net"
	"sync/atomic"
)

// IOVCopyThreshold is the largest vectored transfer copied through the scratch buffer
const IOVCopyThreshold = 128

// Conn moves exact byte counts, optionally scattered across several buffers,
// over a Transport while keeping the number of transport calls low.
//
// A Conn is exclusively owned: Close releases the transport exactly once. One
// goroutine may read while another writes; two concurrent readers or two
// concurrent writers are not allowed.
type Conn struct {
	t      Transport
	closed uint32

	// scratch buffers, one per direction so a reader and a writer never share one
	rbuf [IOVCopyThreshold]byte
	wbuf [IOVCopyThreshold]byte
}

// NewConn creates a Conn owning transport t
func NewConn(t Transport) *Conn {
	if t == nil {
		panic(fmt.Errorf("transport is nil"))
	}
	return &Conn{t: t}
}

// Transport returns the underlying transport
func (c *Conn) Transport() Transport {
	return c.t
}

// Read issues one primitive read, so a Conn can be used as an io.Reader
func (c *Conn) Read(p []byte) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	return c.t.Read(p, 0)
}

// Write writes all of p, so a Conn can be used as an io.Writer
func (c *Conn) Write(p []byte) (int, error) {
	return c.WriteFull(p, 0)
}

// ReadFull reads exactly len(p) bytes.
//
// It returns len(p) and a nil error on success. If the peer closes the stream
// first it returns 0 and io.EOF; on any other failure it returns 0 and the
// error. Bytes consumed before a failure are lost.
func (c *Conn) ReadFull(p []byte, f Flags) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	return readFull(c.t, p, f)
}

// WriteFull writes exactly len(p) bytes, returning len(p) and a nil error on success.
// It panics if the transport reports success without making progress.
func (c *Conn) WriteFull(p []byte, f Flags) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	return writeFull(c.t, p, f)
}

// ReadvFull fills every segment of v in order, with the same result
// convention as ReadFull.
//
// A single fixed segment is read directly. Fixed segments totalling at most
// IOVCopyThreshold bytes are read with one ReadFull into the scratch buffer
// and scattered. Anything else loops on the transport's vectored read.
func (c *Conn) ReadvFull(v Vec, f Flags) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}

	if v.fixed {
		if len(v.segs) == 1 {
			return readFull(c.t, v.segs[0], f)
		}

		total := v.Len()
		if total <= IOVCopyThreshold {
			buf := c.rbuf[:total]
			n, err := readFull(c.t, buf, f)
			if err != nil {
				return n, err
			}
			scatterTo(buf, v.segs)
			return n, nil
		}
		return readvFullRaw(c.t, v.segs, total, f)
	}

	return readvFullRaw(c.t, v.segs, v.Len(), f)
}

// WritevFull writes every segment of v in order, with the same result
// convention as WriteFull. Strategy selection mirrors ReadvFull.
func (c *Conn) WritevFull(v Vec, f Flags) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}

	if v.fixed {
		if len(v.segs) == 1 {
			return writeFull(c.t, v.segs[0], f)
		}

		total := v.Len()
		if total <= IOVCopyThreshold {
			buf := c.wbuf[:total]
			gatherFrom(buf, v.segs)
			return writeFull(c.t, buf, f)
		}
		return writevFullRaw(c.t, v.segs, total, f)
	}

	return writevFullRaw(c.t, v.segs, v.Len(), f)
}

// Readv issues one vectored read and may fill fewer bytes than bufs hold
func (c *Conn) Readv(bufs [][]byte, f Flags) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	if vt, ok := c.t.(VectorTransport); ok {
		return vt.Readv(bufs, f)
	}

	bufs = iovsAdvance(append([][]byte(nil), bufs...), 0)
	if len(bufs) == 0 {
		return 0, nil
	}
	return c.t.Read(bufs[0], f)
}

// Writev issues one vectored write and may send fewer bytes than bufs hold
func (c *Conn) Writev(bufs [][]byte, f Flags) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	if vt, ok := c.t.(VectorTransport); ok {
		return vt.Writev(bufs, f)
	}

	bufs = iovsAdvance(append([][]byte(nil), bufs...), 0)
	if len(bufs) == 0 {
		return 0, nil
	}
	return c.t.Write(bufs[0], f)
}

// HasPendingDataToRead reports whether a read would return data without blocking
func (c *Conn) HasPendingDataToRead() bool {
	if w, ok := c.t.(ReadWaiter); ok && !c.isClosed() {
		return w.HasPendingData()
	}
	return false
}

// WaitForRead blocks until there is data to read. It returns false if the
// connection was closed, aborted or failed instead.
func (c *Conn) WaitForRead() bool {
	if w, ok := c.t.(ReadWaiter); ok && !c.isClosed() {
		return w.WaitForRead()
	}
	return false
}

// Shutdown gracefully half-closes the connection in the given direction
func (c *Conn) Shutdown(how ShutdownHow) error {
	if c.isClosed() {
		return ErrClosed
	}
	if s, ok := c.t.(Shutdowner); ok {
		return s.Shutdown(how)
	}
	return ErrNotSupported
}

// Abort tears the connection down without a graceful close. Operations
// blocked in other goroutines return an error.
func (c *Conn) Abort() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	if a, ok := c.t.(Aborter); ok {
		return a.Abort()
	}
	return c.t.Close()
}

// Close the connection
func (c *Conn) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		// close exactly once
		return c.t.Close()
	}
	return nil
}

func (c *Conn) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

// RemoteAddr return the remote address
func (c *Conn) RemoteAddr() net.Addr {
	if a, ok := c.t.(Addresser); ok {
		return a.RemoteAddr()
	}
	return nil
}

// LocalAddr returns the local address
func (c *Conn) LocalAddr() net.Addr {
	if a, ok := c.t.(Addresser); ok {
		return a.LocalAddr()
	}
	return nil
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn<%s-%s>", c.LocalAddr(), c.RemoteAddr())
}
