package streamconn

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MaxPayloadLength       = 32 * 1024 * 1024
	defaultRecvChanSize    = 100
	defaultFlushDelay      = time.Millisecond * 1
	defaultMaxFlushDelay   = time.Millisecond * 100
	defaultCompressMinSize = 1024

	frameHeaderSize = 4 // frameHeaderSize is the payload size field (uint32) size
	crcSize         = 4
	compressedFlag  = uint32(1) << 31
)

type Config struct {
	RecvChanSize  int           `json:"recv_chan_size" yaml:"recv_chan_size"`
	FlushDelay    time.Duration `json:"flush_delay" yaml:"flush_delay"`
	MaxFlushDelay time.Duration `json:"max_flush_delay" yaml:"max_flush_delay"`
	CrcChecksum   bool          `json:"crc_checksum" yaml:"crc_checksum"`
	// Compress LZ4-compresses payloads of at least CompressMinSize bytes when it makes them smaller
	Compress        bool  `json:"compress" yaml:"compress"`
	CompressMinSize int   `json:"compress_min_size" yaml:"compress_min_size"`
	Flags           Flags `json:"flags" yaml:"flags"`
	Tag             interface{}
}

func DefaultConfig() *Config {
	return &Config{
		RecvChanSize:    defaultRecvChanSize,
		FlushDelay:      defaultFlushDelay,
		MaxFlushDelay:   defaultMaxFlushDelay,
		CrcChecksum:     false,
		Compress:        false,
		CompressMinSize: defaultCompressMinSize,
		Flags:           0,
		Tag:             nil,
	}
}

// PacketConn sends and receives length-prefixed packets over a Conn
type PacketConn struct {
	Tag    interface{}
	Config Config

	ctx                   context.Context
	conn                  *Conn
	pendingPacketsLock    sync.Mutex
	pendingPackets        []*Packet
	waitPendingPacketsCnt int32
	gotPacketFlag         bool
	cancel                context.CancelFunc
	done                  chan struct{}
	err                   error
	once                  uint32
}

// NewPacketConn creates a packet connection owning conn
func NewPacketConn(ctx context.Context, conn *Conn) *PacketConn {
	return NewPacketConnWithConfig(ctx, conn, DefaultConfig())
}

func NewPacketConnWithConfig(ctx context.Context, conn *Conn, cfg *Config) *PacketConn {
	if conn == nil {
		panic(fmt.Errorf("conn is nil"))
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}

	validateConfig(cfg)

	pcCtx, pcCancel := context.WithCancel(ctx)

	pc := &PacketConn{
		conn:   conn,
		Config: *cfg,
		ctx:    pcCtx,
		cancel: pcCancel,
		done:   make(chan struct{}),
		Tag:    cfg.Tag,
	}

	go pc.flushRoutine()
	return pc
}

func validateConfig(cfg *Config) {
	if cfg.FlushDelay < 0 {
		panic(fmt.Errorf("negative flush interval"))
	}

	if cfg.MaxFlushDelay < cfg.FlushDelay {
		panic(fmt.Errorf("please set max_flush_delay > flush_delay"))
	}

	if cfg.RecvChanSize < 0 {
		panic(fmt.Errorf("negative recv chan size"))
	}

	if cfg.CompressMinSize < 0 {
		panic(fmt.Errorf("negative compress min size"))
	}
}

func (pc *PacketConn) flushRoutine() {
	defer pc.Close()

	tickerInterval := pc.Config.FlushDelay
	if tickerInterval < time.Millisecond {
		tickerInterval = time.Millisecond
	}

	waitPendingPacketsCntLimit := int32(pc.Config.MaxFlushDelay / tickerInterval)
	if waitPendingPacketsCntLimit < 1 {
		waitPendingPacketsCntLimit = 1
	}

	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	ctxDone := pc.ctx.Done()
loop:
	for {
		select {
		case <-ticker.C:
			err := pc.flush(waitPendingPacketsCntLimit)
			if err != nil {
				pc.closeWithError(err)
				break loop
			}
		case <-ctxDone:
			pc.closeWithError(pc.ctx.Err())
			break loop
		}
	}
}

func (pc *PacketConn) recvRoutine(recvChan chan *Packet, autoCloseChan bool) {
	if autoCloseChan {
		defer close(recvChan)
	}
	defer pc.Close()

	for {
		packet, err := pc.recv()
		if err != nil {
			pc.closeWithError(err)
			break
		}

		select {
		case recvChan <- packet:
		case <-pc.ctx.Done():
			packet.Release()
			return
		}
	}
}

// Send queues a packet; it is written by the next flush
func (pc *PacketConn) Send(packet *Packet) error {
	if atomic.LoadInt64(&packet.refcount) <= 0 {
		panic(fmt.Errorf("sending packet with refcount=%d", packet.refcount))
	}

	packet.AddRefCount(1)
	pc.pendingPacketsLock.Lock()
	pc.pendingPackets = append(pc.pendingPackets, packet)
	pc.gotPacketFlag = true
	pc.pendingPacketsLock.Unlock()
	return nil
}

// flush writes pending packets. It only runs on the flush goroutine.
func (pc *PacketConn) flush(waitPendingPacketsCntLimit int32) (err error) {
	pc.pendingPacketsLock.Lock()
	gotPacketFlag := pc.gotPacketFlag
	pc.gotPacketFlag = false

	if len(pc.pendingPackets) == 0 { // no packets to send, common to happen, so handle efficiently
		pc.pendingPacketsLock.Unlock()
		return
	}

	// found pending packets to send
	pc.waitPendingPacketsCnt += 1
	if pc.waitPendingPacketsCnt < waitPendingPacketsCntLimit && gotPacketFlag {
		pc.pendingPacketsLock.Unlock()
		return
	}

	packets := make([]*Packet, 0, len(pc.pendingPackets))
	packets, pc.pendingPackets = pc.pendingPackets, packets
	pc.waitPendingPacketsCnt = 0
	pc.pendingPacketsLock.Unlock()

	defer func() {
		for _, packet := range packets {
			packet.Release()
		}
	}()

	if len(packets) == 1 {
		// a single frame is at most three fixed segments, small ones go out through the scratch buffer
		return pc.writePacket(packets[0])
	}

	// all frames go out in one vectored write
	headers := make([]byte, (frameHeaderSize+crcSize)*len(packets))
	iovs := make([][]byte, 0, 3*len(packets))
	for i, packet := range packets {
		hdr := headers[i*(frameHeaderSize+crcSize) : i*(frameHeaderSize+crcSize)+frameHeaderSize]
		crc := headers[i*(frameHeaderSize+crcSize)+frameHeaderSize : (i+1)*(frameHeaderSize+crcSize)]
		body := pc.encodeFrame(packet, hdr, crc)
		iovs = append(iovs, hdr, body)
		if pc.Config.CrcChecksum {
			iovs = append(iovs, crc)
		}
	}
	_, err = pc.conn.WritevFull(DynamicSegments(iovs), pc.Config.Flags)
	return
}

func (pc *PacketConn) writePacket(packet *Packet) (err error) {
	var hdr, crc [frameHeaderSize]byte
	body := pc.encodeFrame(packet, hdr[:], crc[:])
	if pc.Config.CrcChecksum {
		_, err = pc.conn.WritevFull(Segments(hdr[:], body, crc[:]), pc.Config.Flags)
	} else {
		_, err = pc.conn.WritevFull(Segments(hdr[:], body), pc.Config.Flags)
	}
	return
}

// encodeFrame fills hdr (and crc when enabled) for packet and returns the body to send
func (pc *PacketConn) encodeFrame(packet *Packet, hdr, crc []byte) []byte {
	body := packet.Payload()
	flag := uint32(0)
	if pc.Config.Compress && len(body) >= pc.Config.CompressMinSize {
		if compressed, err := compress(body); err == nil && len(compressed) < len(body) {
			body, flag = compressed, compressedFlag
		}
	}

	packetEndian.PutUint32(hdr, uint32(len(body))|flag)
	if pc.Config.CrcChecksum {
		packetEndian.PutUint32(crc, crc32.ChecksumIEEE(body))
	}
	return body
}

// recv receives the next packet. It only runs on the receive goroutine.
func (pc *PacketConn) recv() (*Packet, error) {
	var hdr, crc [frameHeaderSize]byte

	// receive payload length (uint32)
	if _, err := pc.conn.ReadFull(hdr[:], pc.Config.Flags); err != nil {
		return nil, err
	}

	header := packetEndian.Uint32(hdr[:])
	compressed := header&compressedFlag != 0
	payloadSize := header &^ compressedFlag
	if payloadSize > MaxPayloadLength {
		return nil, errPayloadTooLarge
	}

	// allocate a packet to receive payload
	packet := NewPacket()
	packet.Src = pc
	body := packet.extendPayload(int(payloadSize))

	var err error
	if pc.Config.CrcChecksum {
		_, err = pc.conn.ReadvFull(Segments(body, crc[:]), pc.Config.Flags)
		if err == nil && crc32.ChecksumIEEE(body) != packetEndian.Uint32(crc[:]) {
			err = errChecksumError
		}
	} else {
		_, err = pc.conn.ReadFull(body, pc.Config.Flags)
	}

	if err == nil && compressed {
		var data []byte
		if data, err = decompress(body, MaxPayloadLength); err == nil {
			packet.ClearPayload()
			packet.WriteBytes(data)
		}
	}

	if err != nil {
		packet.Release()
		return nil, err
	}
	return packet, nil
}

// Recv starts receiving packets into recvChan and returns it. If recvChan is
// nil a channel of Config.RecvChanSize is created and closed when receiving stops.
func (pc *PacketConn) Recv(recvChan chan *Packet, autoCloseChan bool) <-chan *Packet {
	if recvChan == nil {
		recvChan = make(chan *Packet, pc.Config.RecvChanSize)
		autoCloseChan = true
	}
	go pc.recvRoutine(recvChan, autoCloseChan)
	return recvChan
}

// Close the connection
func (pc *PacketConn) Close() error {
	return pc.closeWithError(io.EOF)
}

func (pc *PacketConn) closeWithError(err error) error {
	if atomic.CompareAndSwapUint32(&pc.once, 0, 1) {
		// close exactly once
		pc.err = err
		err := pc.conn.Close()
		pc.cancel()
		close(pc.done)
		return err
	} else {
		return nil
	}
}

// Done is closed once the connection is closed
func (pc *PacketConn) Done() <-chan struct{} {
	return pc.done
}

// Err returns the reason the connection was closed. It is valid after Done is closed.
func (pc *PacketConn) Err() error {
	return pc.err
}

// RemoteAddr return the remote address
func (pc *PacketConn) RemoteAddr() net.Addr {
	return pc.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (pc *PacketConn) LocalAddr() net.Addr {
	return pc.conn.LocalAddr()
}

func (pc *PacketConn) String() string {
	return fmt.Sprintf("PacketConn<%s-%s>", pc.LocalAddr(), pc.RemoteAddr())
}
