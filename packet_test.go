package streamconn

import (
	"testing"
)

func TestNewPacket(t *testing.T) {
	pkt := NewPacket()
	if pkt.PayloadLen() != 0 {
		t.Fatalf("payload len != 0")
	}
	if len(pkt.Payload()) != 0 {
		t.Fatalf("payload is not empty")
	}
	if len(pkt.UnreadPayload()) != 0 {
		t.Fatalf("unread payload is not empty")
	}
	if pkt.HasUnreadPayload() {
		t.Fatalf("HasUnreadPayload error")
	}
	pkt.Release()
}

func TestPacketRelease(t *testing.T) {
	pkt := NewPacket()
	pkt.WriteBytes(make([]byte, 10))
	pkt.WriteBytes(make([]byte, 100))
	pkt.WriteBytes(make([]byte, 1000))
	pkt.WriteBytes(make([]byte, 10000))
	pkt.WriteBytes(make([]byte, 100000))
	if pkt.PayloadLen() != 111110 {
		t.Fatalf("payload len = %d", pkt.PayloadLen())
	}
	pkt.Release()

	// a recycled packet comes back empty
	pkt = NewPacket()
	if pkt.PayloadLen() != 0 || pkt.HasUnreadPayload() {
		t.Fatalf("recycled packet is not empty")
	}
	pkt.Release()
}

func TestPacketGeneral(t *testing.T) {
	pkt := NewPacket()
	pkt.WriteUint16(0xABCD)
	if !pkt.HasUnreadPayload() {
		t.Fatalf("HasUnreadPayload error")
	}
	if pkt.ReadUint16() != 0xABCD {
		t.Fatalf("read wrong")
	}

	pkt.WriteBool(true)
	if pkt.ReadBool() != true {
		t.Fatalf("read wrong")
	}
	pkt.WriteBool(false)
	if pkt.ReadBool() != false {
		t.Fatalf("read wrong")
	}

	pkt.WriteUint32(0xABCD1234)
	if pkt.ReadUint32() != 0xABCD1234 {
		t.Fatalf("read wrong")
	}
	pkt.WriteUint64(0xABCD123456780000)
	if pkt.ReadUint64() != 0xABCD123456780000 {
		t.Fatalf("read wrong")
	}
	pkt.WriteFloat32(1.5)
	if pkt.ReadFloat32() != 1.5 {
		t.Fatalf("read wrong")
	}
	pkt.WriteFloat64(-2.25)
	if pkt.ReadFloat64() != -2.25 {
		t.Fatalf("read wrong")
	}
	pkt.WriteOneByte(0xAA)
	if pkt.ReadOneByte() != 0xAA {
		t.Fatalf("read wrong")
	}
	pkt.WriteBytes([]byte("hello"))
	if string(pkt.ReadBytes(5)) != "hello" {
		t.Fatalf("read wrong")
	}
	pkt.WriteVarBytes([]byte("hello2"))
	if string(pkt.ReadVarBytes()) != "hello2" {
		t.Fatalf("read wrong")
	}
	pkt.WriteVarStr("hello3")
	if pkt.ReadVarStr() != "hello3" {
		t.Fatalf("read wrong")
	}
	if pkt.HasUnreadPayload() {
		t.Fatalf("HasUnreadPayload error")
	}

	pkt.ClearPayload()
	if pkt.PayloadLen() != 0 {
		t.Fatalf("ClearPayload left %d bytes", pkt.PayloadLen())
	}
	pkt.Release()
}

func TestPacketReadPastEnd(t *testing.T) {
	pkt := NewPacket()
	defer func() {
		if recover() == nil {
			t.Errorf("reading past the payload did not panic")
		}
	}()
	pkt.WriteUint16(1)
	pkt.ReadUint32()
}

func TestPacketWriteMaxPayloadLen(t *testing.T) {
	pkt := NewPacket()
	pkt.WriteBytes(make([]byte, MaxPayloadLength))
	pkt.Release()
}

func TestPacketWritePayloadTooLarge1(t *testing.T) {
	defer func() {
		if err := recover(); err != errPayloadTooLarge {
			t.Errorf("recovered %v, want %v", err, errPayloadTooLarge)
		}
	}()
	pkt := NewPacket()
	pkt.WriteBytes(make([]byte, MaxPayloadLength+1))
}

func TestPacketWritePayloadTooLarge2(t *testing.T) {
	defer func() {
		if err := recover(); err != errPayloadTooLarge {
			t.Errorf("recovered %v, want %v", err, errPayloadTooLarge)
		}
	}()
	pkt := NewPacket()
	pkt.WriteBytes(make([]byte, MaxPayloadLength/2))
	pkt.WriteBytes(make([]byte, MaxPayloadLength/2))
	pkt.WriteBytes(make([]byte, MaxPayloadLength/2))
}

func TestPacketReleaseTwicePanics(t *testing.T) {
	pkt := NewPacket()
	pkt.Release()
	defer func() {
		if recover() == nil {
			t.Errorf("second Release did not panic")
		}
	}()
	pkt.Release()
}
