package streamconn

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

const (
	minPayloadCap       = 128
	payloadCapGrowShift = uint(2)
)

var (
	packetEndian               = binary.LittleEndian
	predefinePayloadCapacities []uint32

	payloadPools = map[uint32]*sync.Pool{}
	packetPool   = &sync.Pool{
		New: func() interface{} {
			p := &Packet{}
			p.payload = p.initialBytes[:0]
			return p
		},
	}
)

func init() {
	payloadCap := uint32(minPayloadCap) << payloadCapGrowShift
	for payloadCap < MaxPayloadLength {
		predefinePayloadCapacities = append(predefinePayloadCapacities, payloadCap)
		payloadCap <<= payloadCapGrowShift
	}
	predefinePayloadCapacities = append(predefinePayloadCapacities, MaxPayloadLength)

	for _, payloadCap := range predefinePayloadCapacities {
		payloadCap := payloadCap
		payloadPools[payloadCap] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, 0, payloadCap)
			},
		}
	}
}

func getPayloadCapOfPayloadLen(payloadLen uint32) uint32 {
	for _, payloadCap := range predefinePayloadCapacities {
		if payloadCap >= payloadLen {
			return payloadCap
		}
	}
	return MaxPayloadLength
}

// Packet is a reference counted payload sent and received by PacketConn.
// The frame header is not stored in the packet: PacketConn gathers it with
// the payload when writing.
type Packet struct {
	Src          *PacketConn
	readCursor   uint32
	refcount     int64
	payload      []byte
	initialBytes [minPayloadCap]byte
}

// NewPacket allocates a new packet with refcount 1
func NewPacket() *Packet {
	pkt := packetPool.Get().(*Packet)
	pkt.refcount = 1

	if len(pkt.payload) != 0 {
		panic(errors.Errorf("NewPacket: payload should be 0, but is %d", len(pkt.payload)))
	}
	return pkt
}

// AssureCapacity grows the payload buffer so need more bytes can be appended
func (p *Packet) AssureCapacity(need uint32) {
	requireCap := p.PayloadLen() + need
	oldCap := p.PayloadCap()
	if requireCap <= oldCap { // most case
		return
	}
	if requireCap > MaxPayloadLength {
		panic(errPayloadTooLarge)
	}

	buffer := payloadPools[getPayloadCapOfPayloadLen(requireCap)].Get().([]byte)
	buffer = append(buffer[:0], p.payload...)
	oldPayload := p.payload
	p.payload = buffer

	if oldCap > minPayloadCap {
		payloadPools[oldCap].Put(oldPayload[:0])
	}
}

// AddRefCount adds reference count of packet
func (p *Packet) AddRefCount(add int64) {
	atomic.AddInt64(&p.refcount, add)
}

// Release drops one reference; the last one returns the packet to the pool
func (p *Packet) Release() {
	refcount := atomic.AddInt64(&p.refcount, -1)

	if refcount == 0 {
		p.Src = nil

		payloadCap := p.PayloadCap()
		if payloadCap > minPayloadCap {
			payloadPools[payloadCap].Put(p.payload[:0]) // reclaim the buffer
		}
		p.payload = p.initialBytes[:0]
		p.readCursor = 0
		packetPool.Put(p)
	} else if refcount < 0 {
		panic(errors.Errorf("releasing packet with refcount=%d", refcount))
	}
}

// Payload returns the total payload of packet
func (p *Packet) Payload() []byte {
	return p.payload
}

// UnreadPayload returns the payload after the read cursor
func (p *Packet) UnreadPayload() []byte {
	return p.payload[p.readCursor:]
}

// HasUnreadPayload reports whether the read cursor is before the end of payload
func (p *Packet) HasUnreadPayload() bool {
	return int(p.readCursor) < len(p.payload)
}

// PayloadLen returns the payload length
func (p *Packet) PayloadLen() uint32 {
	return uint32(len(p.payload))
}

// PayloadCap returns the current payload capacity
func (p *Packet) PayloadCap() uint32 {
	return uint32(cap(p.payload))
}

// ClearPayload clears packet payload
func (p *Packet) ClearPayload() {
	p.readCursor = 0
	p.payload = p.payload[:0]
}

// extendPayload grows the payload by size bytes and returns the new region
func (p *Packet) extendPayload(size int) []byte {
	p.AssureCapacity(uint32(size))
	oldLen := len(p.payload)
	p.payload = p.payload[:oldLen+size]
	return p.payload[oldLen:]
}

func (p *Packet) next(size uint32) []byte {
	end := p.readCursor + size
	if end > uint32(len(p.payload)) || end < p.readCursor {
		panic(errors.Errorf("packet %p payload is %d, but reading %d+%d", p, len(p.payload), p.readCursor, size))
	}
	b := p.payload[p.readCursor:end]
	p.readCursor = end
	return b
}

// WriteOneByte appends one byte to the end of payload
func (p *Packet) WriteOneByte(b byte) {
	p.extendPayload(1)[0] = b
}

// ReadOneByte reads one byte from the beginning of unread payload
func (p *Packet) ReadOneByte() byte {
	return p.next(1)[0]
}

// WriteBool appends one byte 1/0 to the end of payload
func (p *Packet) WriteBool(b bool) {
	if b {
		p.WriteOneByte(1)
	} else {
		p.WriteOneByte(0)
	}
}

// ReadBool reads one byte 1/0 from the beginning of unread payload
func (p *Packet) ReadBool() bool {
	return p.ReadOneByte() != 0
}

func (p *Packet) WriteUint16(v uint16) {
	packetEndian.PutUint16(p.extendPayload(2), v)
}

func (p *Packet) ReadUint16() uint16 {
	return packetEndian.Uint16(p.next(2))
}

func (p *Packet) WriteUint32(v uint32) {
	packetEndian.PutUint32(p.extendPayload(4), v)
}

func (p *Packet) ReadUint32() uint32 {
	return packetEndian.Uint32(p.next(4))
}

func (p *Packet) WriteUint64(v uint64) {
	packetEndian.PutUint64(p.extendPayload(8), v)
}

func (p *Packet) ReadUint64() uint64 {
	return packetEndian.Uint64(p.next(8))
}

func (p *Packet) WriteFloat32(f float32) {
	p.WriteUint32(math.Float32bits(f))
}

func (p *Packet) ReadFloat32() float32 {
	return math.Float32frombits(p.ReadUint32())
}

func (p *Packet) WriteFloat64(f float64) {
	p.WriteUint64(math.Float64bits(f))
}

func (p *Packet) ReadFloat64() float64 {
	return math.Float64frombits(p.ReadUint64())
}

// WriteBytes appends slice of bytes to the end of payload
func (p *Packet) WriteBytes(v []byte) {
	copy(p.extendPayload(len(v)), v)
}

// ReadBytes reads size bytes from the unread payload. The bytes are not copied.
func (p *Packet) ReadBytes(size uint32) []byte {
	return p.next(size)
}

// WriteVarBytes appends uint32 length-prefixed bytes
func (p *Packet) WriteVarBytes(v []byte) {
	p.WriteUint32(uint32(len(v)))
	p.WriteBytes(v)
}

func (p *Packet) ReadVarBytes() []byte {
	return p.ReadBytes(p.ReadUint32())
}

// WriteVarStr appends a uint16 length-prefixed string
func (p *Packet) WriteVarStr(s string) {
	p.WriteUint16(uint16(len(s)))
	p.WriteBytes([]byte(s))
}

func (p *Packet) ReadVarStr() string {
	return string(p.ReadBytes(uint32(p.ReadUint16())))
}
