package streamconn

import (
	"bytes"
	"testing"
)

func TestCompress(t *testing.T) {
	data := bytes.Repeat([]byte("streamconn "), 1000)
	compressed, err := compress(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(data) {
		t.Fatalf("compressed %d bytes into %d", len(data), len(compressed))
	}

	got, err := decompress(compressed, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("decompressed data mismatch")
	}

	if _, err := decompress(compressed, len(data)-1); err != errPayloadTooLarge {
		t.Errorf("decompress over the limit = %v, want %v", err, errPayloadTooLarge)
	}
	if _, err := decompress([]byte("not lz4"), len(data)); err != errDecompressionFailed {
		t.Errorf("decompress garbage = %v, want %v", err, errDecompressionFailed)
	}
}
