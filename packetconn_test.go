package streamconn

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"
)

// startEchoServer serves PacketConns echoing every packet back with cfg
func startEchoServer(t *testing.T, cfg *Config) string {
	ln, err := Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(ln.Shutdown)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func() {
				pc := NewPacketConnWithConfig(context.Background(), conn, cfg)
				for pkt := range pc.Recv(nil, true) {
					pc.Send(pkt)
					pkt.Release()
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func dialPacketConn(t *testing.T, addr string, cfg *Config) *PacketConn {
	conn, err := Dial("", addr)
	if err != nil {
		t.Fatalf("connect error: %s", err)
	}
	pc := NewPacketConnWithConfig(context.Background(), conn, cfg)
	t.Cleanup(func() { pc.Close() })
	return pc
}

func TestPacketConnEcho(t *testing.T) {
	crcCfg := DefaultConfig()
	crcCfg.CrcChecksum = true

	lz4Cfg := DefaultConfig()
	lz4Cfg.Compress = true
	lz4Cfg.CompressMinSize = 64

	bothCfg := DefaultConfig()
	bothCfg.CrcChecksum = true
	bothCfg.Compress = true
	bothCfg.Flags = Poll

	for name, cfg := range map[string]*Config{"plain": DefaultConfig(), "crc": crcCfg, "lz4": lz4Cfg, "crc+lz4": bothCfg} {
		t.Run(name, func(t *testing.T) {
			pc := dialPacketConn(t, startEchoServer(t, cfg), cfg)
			recvCh := pc.Recv(nil, true)

			for i := 0; i < 20; i++ {
				payloadLen := rand.Intn(8192 + 1)
				packet := NewPacket()
				if i%2 == 0 {
					packet.WriteBytes(bytes.Repeat([]byte("compressible "), payloadLen/13))
				} else {
					for j := 0; j < payloadLen; j++ {
						packet.WriteOneByte(byte(rand.Intn(256)))
					}
				}

				pc.Send(packet)
				recvPacket, ok := <-recvCh
				if !ok {
					t.Fatalf("connection closed: %v", pc.Err())
				}
				if !bytes.Equal(packet.Payload(), recvPacket.Payload()) {
					t.Errorf("send packet len %d, but recv len %d", packet.PayloadLen(), recvPacket.PayloadLen())
				}
				if recvPacket.Src != pc {
					t.Errorf("received packet has wrong source")
				}
				packet.Release()
				recvPacket.Release()
			}
		})
	}
}

func TestPacketConnBatchFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrcChecksum = true
	cfg.FlushDelay = 5 * time.Millisecond
	cfg.MaxFlushDelay = 50 * time.Millisecond
	pc := dialPacketConn(t, startEchoServer(t, cfg), cfg)
	recvCh := pc.Recv(nil, true)

	// sent back to back, these leave in one vectored flush
	const count = 100
	for i := 0; i < count; i++ {
		packet := NewPacket()
		packet.WriteUint32(uint32(i))
		packet.WriteVarStr("payload")
		pc.Send(packet)
		packet.Release()
	}

	for i := 0; i < count; i++ {
		select {
		case pkt, ok := <-recvCh:
			if !ok {
				t.Fatalf("connection closed: %v", pc.Err())
			}
			if v := pkt.ReadUint32(); v != uint32(i) {
				t.Fatalf("packet %d arrived as %d", i, v)
			}
			if s := pkt.ReadVarStr(); s != "payload" {
				t.Fatalf("packet %d payload %q", i, s)
			}
			pkt.Release()
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for packet %d", i)
		}
	}
}

func TestPacketConnLargeBatchFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrcChecksum = true
	cfg.FlushDelay = 20 * time.Millisecond
	cfg.MaxFlushDelay = 200 * time.Millisecond
	pc := dialPacketConn(t, startEchoServer(t, cfg), cfg)
	recvCh := pc.Recv(nil, true)

	// three segments per frame puts one flush well past the writev segment limit
	const count = 500
	for i := 0; i < count; i++ {
		packet := NewPacket()
		packet.WriteUint32(uint32(i))
		pc.Send(packet)
		packet.Release()
	}

	for i := 0; i < count; i++ {
		select {
		case pkt, ok := <-recvCh:
			if !ok {
				t.Fatalf("connection closed after %d packets: %v", i, pc.Err())
			}
			if v := pkt.ReadUint32(); v != uint32(i) {
				t.Fatalf("packet %d arrived as %d", i, v)
			}
			pkt.Release()
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for packet %d", i)
		}
	}
	if err := pc.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
}

func TestPacketConnCloseStopsRecv(t *testing.T) {
	pc := dialPacketConn(t, startEchoServer(t, nil), nil)
	recvCh := pc.Recv(nil, true)

	pc.Close()
	select {
	case <-pc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Done not closed after Close")
	}
	if !IsEOF(pc.Err()) {
		t.Errorf("Err after Close = %v", pc.Err())
	}

	select {
	case _, ok := <-recvCh:
		if ok {
			t.Errorf("received a packet after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("recv channel not closed after Close")
	}
}

func TestPacketConnCancelContext(t *testing.T) {
	addr := startEchoServer(t, nil)
	conn, err := Dial("", addr)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pc := NewPacketConn(ctx, conn)
	cancel()

	select {
	case <-pc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Done not closed after cancel")
	}
	if pc.Err() != context.Canceled {
		t.Errorf("Err = %v, want context.Canceled", pc.Err())
	}
	if _, err := conn.WriteFull([]byte("x"), 0); err != ErrClosed {
		t.Errorf("underlying conn still open: %v", err)
	}
}

func TestPacketConnChecksumMismatch(t *testing.T) {
	client, server := newTCPPair(t)

	cfg := DefaultConfig()
	cfg.CrcChecksum = true
	pc := NewPacketConnWithConfig(context.Background(), server, cfg)
	defer pc.Close()
	recvCh := pc.Recv(nil, true)

	// header for a 3-byte payload followed by a bad checksum
	client.WritevFull(Segments([]byte{3, 0, 0, 0}, []byte("abc"), []byte{0, 0, 0, 0}), 0)

	select {
	case _, ok := <-recvCh:
		if ok {
			t.Fatalf("received a corrupted packet")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("corrupted frame did not close the connection")
	}
	if pc.Err() != errChecksumError {
		t.Errorf("Err = %v, want %v", pc.Err(), errChecksumError)
	}
}

func TestPacketConnPayloadTooLarge(t *testing.T) {
	client, server := newTCPPair(t)

	pc := NewPacketConn(context.Background(), server)
	defer pc.Close()
	recvCh := pc.Recv(nil, true)

	var hdr [4]byte
	packetEndian.PutUint32(hdr[:], MaxPayloadLength+1)
	client.WriteFull(hdr[:], 0)

	if _, ok := <-recvCh; ok {
		t.Fatalf("received an oversized packet")
	}
	if pc.Err() != errPayloadTooLarge {
		t.Errorf("Err = %v, want %v", pc.Err(), errPayloadTooLarge)
	}
}

func TestInvalidConfigPanics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFlushDelay = cfg.FlushDelay - 1

	client, _ := newTCPPair(t)
	defer func() {
		if recover() == nil {
			t.Errorf("NewPacketConnWithConfig accepted max_flush_delay < flush_delay")
		}
	}()
	NewPacketConnWithConfig(context.Background(), client, cfg)
}
