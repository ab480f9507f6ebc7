package streamconn

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestWrapPipe(t *testing.T) {
	a, b := net.Pipe()
	client, server := Wrap(a), Wrap(b)
	defer client.Close()
	defer server.Close()

	if _, ok := client.Transport().(*netTransport); !ok {
		t.Fatalf("Wrap(net.Pipe) uses %T", client.Transport())
	}

	data := pattern(1000)
	go func() {
		client.WritevFull(Segments(split(data, 1, 2, 997)...), 0)
		client.WritevFull(Segments([]byte("ab"), []byte("cde"), []byte("f")), 0)
		client.Close()
	}()

	buf := make([]byte, len(data))
	if _, err := server.ReadvFull(DynamicSegments(split(buf, 500, 500)), 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Errorf("data mismatch")
	}

	segs := makeSegs(2, 3, 1)
	if n, err := server.ReadvFull(Segments(segs...), 0); n != 6 || err != nil {
		t.Fatalf("ReadvFull = %d, %v", n, err)
	}
	if got := string(bytes.Join(segs, nil)); got != "abcdef" {
		t.Errorf("received %q", got)
	}

	if n, err := server.ReadFull(buf[:1], 0); n != 0 || err != io.EOF {
		t.Errorf("ReadFull after peer Close = %d, %v", n, err)
	}
}

func TestWrapPipeShutdownNotSupported(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := Wrap(a)
	defer c.Close()

	if err := c.Shutdown(ShutWrite); err != ErrNotSupported {
		t.Errorf("Shutdown = %v, want ErrNotSupported", err)
	}
	if c.WaitForRead() {
		t.Errorf("WaitForRead = true without read readiness support")
	}
}

func TestWrapTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c := Wrap(nc)
	defer c.Close()
	if _, ok := c.Transport().(*tcpTransport); !ok {
		t.Fatalf("Wrap(*net.TCPConn) uses %T", c.Transport())
	}

	if _, err := c.WritevFull(Segments([]byte("ping"), []byte("!")), 0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := c.ReadFull(buf, 0); err != nil || string(buf) != "ping!" {
		t.Errorf("echo = %q, %v", buf, err)
	}
}
