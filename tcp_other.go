//go:build !linux

package streamconn

import (
	"syscall"
)

// Without readv(2) support the hints are ignored and the vectored calls fall
// back to net.Buffers and single-segment reads.

func (t *tcpTransport) Read(p []byte, _ Flags) (int, error) {
	return t.conn.Read(p)
}

func (t *tcpTransport) Write(p []byte, _ Flags) (int, error) {
	return t.conn.Write(p)
}

func (t *tcpTransport) Readv(bufs [][]byte, _ Flags) (int, error) {
	return readFirst(t.conn, bufs)
}

func (t *tcpTransport) Writev(bufs [][]byte, _ Flags) (int, error) {
	return buffersWriteTo(t.conn, bufs)
}

func (t *tcpTransport) HasPendingData() bool {
	return false
}

// WaitForRead is not available without MSG_PEEK support
func (t *tcpTransport) WaitForRead() bool {
	return false
}

func controlDSCP(dscp uint8) func(network, address string, c syscall.RawConn) error {
	return nil
}
