package streamconn

import (
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by operations on a Conn that was closed or aborted
	ErrClosed = errors.New("streamconn: use of closed connection")
	// ErrListenerClosed is returned by Accept after the listener was shut down
	ErrListenerClosed = errors.New("streamconn: listener shut down")
	// ErrNotSupported is returned when the transport lacks an optional capability
	ErrNotSupported = errors.New("streamconn: operation not supported by transport")

	errPayloadTooLarge = errors.New("streamconn: payload too large")
	errChecksumError   = errors.New("streamconn: checksum error")
)

type timeoutError interface {
	Timeout() bool // Is it a timeout error
}

type temporaryError interface {
	Temporary() bool
}

// IsEOF reports whether err signals a clean end of stream
func IsEOF(err error) bool {
	return err != nil && errors.Cause(err) == io.EOF
}

// IsClosed reports whether err comes from using a closed Conn or listener
func IsClosed(err error) bool {
	if err == nil {
		return false
	}

	err = errors.Cause(err)
	return err == ErrClosed || err == ErrListenerClosed || errors.Is(err, net.ErrClosed)
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	err = errors.Cause(err)
	ne, ok := err.(timeoutError)
	return ok && ne.Timeout()
}

// IsTemporary checks if the error is a temporary error
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}

	err = errors.Cause(err)
	ne, ok := err.(temporaryError)
	return ok && ne.Temporary()
}

// IsNetworkError reports whether err means the connection is gone: a clean
// end of stream, a closed Conn, a reset or broken pipe, or any other non-timeout
// net.Error
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if IsEOF(err) || IsClosed(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var neterr net.Error
	if !errors.As(err, &neterr) {
		return false
	}
	return !neterr.Timeout()
}

// readErr maps a transport read error onto the Conn error convention
func readErr(op string, err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	case errors.Is(err, net.ErrClosed):
		return ErrClosed
	default:
		return errors.Wrap(err, op)
	}
}

func writeErr(op string, err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return errors.Wrap(err, op)
}
