package bench

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/xiaonanln/streamconn"
)

const (
	KeyLen = 20
	ValLen = 2

	RequestSize  = KeyLen + 4
	ResponseSize = 4 + 1 + ValLen
)

var wireEndian = binary.LittleEndian

type Key [KeyLen]byte

type Val [ValLen]byte

// Request looks up Key on the server owning ShardID
type Request struct {
	Key     Key
	ShardID uint32
}

// Response answers a Request. Redirect is zero when the server owns the
// shard; otherwise it is the 1-based index of the owning server.
type Response struct {
	Redirect uint32
	Found    bool
	Val      Val
}

// ShardOf maps key onto one of 1<<powerShards shards
func ShardOf(key *Key, powerShards uint) uint32 {
	h := fnv.New64a()
	h.Write(key[:])
	return uint32(h.Sum64() >> (64 - powerShards))
}

// WriteRequest sends req as two fixed segments
func WriteRequest(c *streamconn.Conn, req *Request, f streamconn.Flags) error {
	var shard [4]byte
	wireEndian.PutUint32(shard[:], req.ShardID)
	_, err := c.WritevFull(streamconn.Segments(req.Key[:], shard[:]), f)
	return err
}

func ReadRequest(c *streamconn.Conn, req *Request, f streamconn.Flags) error {
	var shard [4]byte
	if _, err := c.ReadvFull(streamconn.Segments(req.Key[:], shard[:]), f); err != nil {
		return err
	}
	req.ShardID = wireEndian.Uint32(shard[:])
	return nil
}

// WriteResponse sends resp as three fixed segments
func WriteResponse(c *streamconn.Conn, resp *Response, f streamconn.Flags) error {
	var redirect [4]byte
	var found [1]byte
	wireEndian.PutUint32(redirect[:], resp.Redirect)
	if resp.Found {
		found[0] = 1
	}
	_, err := c.WritevFull(streamconn.Segments(redirect[:], found[:], resp.Val[:]), f)
	return err
}

func ReadResponse(c *streamconn.Conn, resp *Response, f streamconn.Flags) error {
	var redirect [4]byte
	var found [1]byte
	if _, err := c.ReadvFull(streamconn.Segments(redirect[:], found[:], resp.Val[:]), f); err != nil {
		return err
	}
	resp.Redirect = wireEndian.Uint32(redirect[:])
	resp.Found = found[0] != 0
	return nil
}
