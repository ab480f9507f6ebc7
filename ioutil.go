package streamconn

import (
	"io"

	"github.com/pkg/errors"
)

// readFull reads exactly len(p) bytes. It returns (len(p), nil), (0, io.EOF)
// when the stream ends first, or (0, err) on failure.
func readFull(t Transport, p []byte, f Flags) (int, error) {
	n := 0
	for n < len(p) {
		ret, err := t.Read(p[n:], f)
		checkProgress("read", ret, len(p)-n)
		n += ret
		if n == len(p) { // handle most common case first
			return n, nil
		}

		if err != nil {
			return 0, readErr("readfull", err)
		}
		if ret == 0 {
			return 0, io.EOF
		}
	}
	return n, nil
}

// writeFull writes exactly len(p) bytes or fails
func writeFull(t Transport, p []byte, f Flags) (int, error) {
	n := 0
	for n < len(p) {
		ret, err := t.Write(p[n:], f)
		checkProgress("write", ret, len(p)-n)
		n += ret

		if err != nil {
			return 0, writeErr("writefull", err)
		}
		if ret == 0 {
			panic(errors.Errorf("writefull: transport made no progress with %d bytes left", len(p)-n))
		}
	}
	return n, nil
}

// readvFullRaw reads exactly total bytes into segs with the native vector
// call, or one segment at a time when the transport has none.
func readvFullRaw(t Transport, segs [][]byte, total int, f Flags) (int, error) {
	if total == 0 {
		return 0, nil
	}

	vt, vectored := t.(VectorTransport)
	iovs := iovsAdvance(append([][]byte(nil), segs...), 0)
	n := 0
	for n < total {
		var ret int
		var err error
		if vectored {
			ret, err = vt.Readv(iovsHead(iovs), f)
		} else {
			ret, err = t.Read(iovs[0], f)
		}
		checkProgress("readv", ret, total-n)
		n += ret
		if n == total {
			return n, nil
		}

		if err != nil {
			return 0, readErr("readvfull", err)
		}
		if ret == 0 {
			return 0, io.EOF
		}
		iovs = iovsAdvance(iovs, ret)
	}
	return n, nil
}

func writevFullRaw(t Transport, segs [][]byte, total int, f Flags) (int, error) {
	if total == 0 {
		return 0, nil
	}

	vt, vectored := t.(VectorTransport)
	iovs := iovsAdvance(append([][]byte(nil), segs...), 0)
	n := 0
	for n < total {
		var ret int
		var err error
		if vectored {
			ret, err = vt.Writev(iovsHead(iovs), f)
		} else {
			ret, err = t.Write(iovs[0], f)
		}
		checkProgress("writev", ret, total-n)
		n += ret

		if err != nil {
			return 0, writeErr("writevfull", err)
		}
		if ret == 0 {
			panic(errors.Errorf("writevfull: transport made no progress with %d bytes left", total-n))
		}
		iovs = iovsAdvance(iovs, ret)
	}
	return n, nil
}

func checkProgress(op string, ret, left int) {
	if ret < 0 || ret > left {
		panic(errors.Errorf("%s: transport returned %d for a %d-byte request", op, ret, left))
	}
}
