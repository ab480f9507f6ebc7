package streamconn

import "github.com/pkg/errors"

// Vec is an ordered list of buffer segments describing one logical transfer.
//
// A Vec built with Segments has its segment count fixed where it is written
// and may take the single-segment and small-copy fast paths. A Vec built with
// DynamicSegments always goes through the native vectored path.
type Vec struct {
	segs  [][]byte
	fixed bool
}

// Segments builds a Vec whose segment count is known at the call site
func Segments(segs ...[]byte) Vec {
	return Vec{segs: segs, fixed: true}
}

// DynamicSegments builds a Vec of arbitrary length
func DynamicSegments(segs [][]byte) Vec {
	return Vec{segs: segs}
}

// Len returns the total number of bytes described by the segments
func (v Vec) Len() int {
	return iovsTotalLen(v.segs)
}

// Count returns the number of segments
func (v Vec) Count() int {
	return len(v.segs)
}

// Fixed reports whether the Vec was built with Segments
func (v Vec) Fixed() bool {
	return v.fixed
}

// Buffers returns the segments. The slice is shared with the Vec.
func (v Vec) Buffers() [][]byte {
	return v.segs
}

// maxIovecs is the per-call segment limit of readv/writev (IOV_MAX on Linux).
// net.Buffers caps its writev batches at the same value.
const maxIovecs = 1024

// iovsHead returns the prefix of iovs one native vector call may carry
func iovsHead(iovs [][]byte) [][]byte {
	if len(iovs) > maxIovecs {
		return iovs[:maxIovecs]
	}
	return iovs
}

func iovsTotalLen(iovs [][]byte) int {
	total := 0
	for _, iov := range iovs {
		total += len(iov)
	}
	return total
}

// scatterTo copies buf into iovs in order. len(buf) must equal the total segment length.
func scatterTo(buf []byte, iovs [][]byte) {
	offset := 0
	for _, iov := range iovs {
		offset += copy(iov, buf[offset:])
	}
	if offset != len(buf) {
		panic(errors.Errorf("scatter: copied %d of %d bytes", offset, len(buf)))
	}
}

// gatherFrom copies iovs into buf in order and returns the number of bytes copied
func gatherFrom(buf []byte, iovs [][]byte) int {
	offset := 0
	for _, iov := range iovs {
		offset += copy(buf[offset:], iov)
	}
	return offset
}

// iovsAdvance drops the first n bytes from iovs, skipping fully consumed and
// empty segments and trimming the first partially consumed one. iovs must be
// a private copy: its first element may be resliced.
func iovsAdvance(iovs [][]byte, n int) [][]byte {
	for len(iovs) > 0 && n >= len(iovs[0]) {
		n -= len(iovs[0])
		iovs = iovs[1:]
	}
	if len(iovs) == 0 {
		return nil
	}
	iovs[0] = iovs[0][n:]
	return iovs
}
