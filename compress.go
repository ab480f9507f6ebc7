package streamconn

import (
	"bytes"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

var (
	errCompressionFailed   = errors.New("streamconn: compression failed")
	errDecompressionFailed = errors.New("streamconn: decompression failed")
)

// compressorPool reuses LZ4 writers to reduce allocations
var compressorPool = sync.Pool{
	New: func() interface{} {
		w := lz4.NewWriter(nil)
		_ = w.Apply(lz4.CompressionLevelOption(lz4.Fast))
		return w
	},
}

var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// compress compresses data as one LZ4 frame
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errCompressionFailed
	}
	if err := w.Close(); err != nil {
		return nil, errCompressionFailed
	}
	return buf.Bytes(), nil
}

// decompress inflates one LZ4 frame, refusing output larger than limit bytes
func decompress(data []byte, limit int) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, errDecompressionFailed
	}
	if n > int64(limit) {
		return nil, errPayloadTooLarge
	}
	return buf.Bytes(), nil
}
