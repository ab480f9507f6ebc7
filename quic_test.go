package streamconn

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func newQUICPair(t *testing.T) (client, server *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := ListenQUIC("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err != nil {
			t.Errorf("accept: %v", err)
		}
		accepted <- c
	}()

	client, err = DialQUIC(ctx, ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Fatalf("dial: %v", err)
	}
	// the stream reaches the listener with its first byte
	if _, err := client.WriteFull([]byte{0}, 0); err != nil {
		t.Fatalf("announce stream: %v", err)
	}
	server = <-accepted
	if server == nil {
		ln.Close()
		t.FailNow()
	}
	if _, err := server.ReadFull(make([]byte, 1), 0); err != nil {
		t.Fatalf("read announcement: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
		ln.Close()
	})
	return client, server
}

func TestQUICVectored(t *testing.T) {
	client, server := newQUICPair(t)

	if _, err := client.WritevFull(Segments([]byte("ab"), []byte("cde"), []byte("f")), 0); err != nil {
		t.Fatal(err)
	}
	segs := makeSegs(1, 4, 1)
	if n, err := server.ReadvFull(Segments(segs...), 0); n != 6 || err != nil {
		t.Fatalf("ReadvFull = %d, %v", n, err)
	}
	if got := string(bytes.Join(segs, nil)); got != "abcdef" {
		t.Errorf("received %q", got)
	}

	data := pattern(1 << 20)
	go server.WritevFull(DynamicSegments(split(data, 100, 500000, len(data)-500100)), 0)

	buf := make([]byte, len(data))
	if _, err := client.ReadvFull(DynamicSegments(split(buf, 7, len(buf)-7)), 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Errorf("data mismatch")
	}
}

func TestQUICShutdownWrite(t *testing.T) {
	client, server := newQUICPair(t)

	client.WriteFull([]byte("last"), 0)
	if err := client.Shutdown(ShutWrite); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	if _, err := server.ReadFull(buf, 0); err != nil || string(buf) != "last" {
		t.Fatalf("ReadFull = %q, %v", buf, err)
	}
	if n, err := server.ReadFull(buf, 0); n != 0 || err != io.EOF {
		t.Errorf("ReadFull after FIN = %d, %v; want 0, io.EOF", n, err)
	}
}

func TestQUICAbort(t *testing.T) {
	client, server := newQUICPair(t)

	if err := client.Abort(); err != nil {
		t.Fatal(err)
	}
	_, err := server.ReadFull(make([]byte, 4), 0)
	if err == nil || IsEOF(err) {
		t.Errorf("peer ReadFull after Abort = %v", err)
	}
}

func TestQUICListenerShutdown(t *testing.T) {
	ln, err := ListenQUIC("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := ln.Accept(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ln.Shutdown()

	select {
	case err := <-errc:
		if err != ErrListenerClosed {
			t.Errorf("Accept after Shutdown = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Shutdown did not unblock Accept")
	}
}
