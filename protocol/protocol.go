// Package protocol frames calls on a socket connection.
//
// Every frame is a fixed 14-byte header followed by BodyLen bytes of body, so
// a reader always knows where one frame ends and the next begins:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ crp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Multi-byte fields are big-endian.
package protocol

import (
	"encoding/binary"
	"io"

	"church-rpc/codec"
	"church-rpc/rpcerr"
)

// Magic bytes "crp" open every frame.
const (
	MagicNumber byte = 'c'
	MagicByte2  byte = 'r'
	MagicByte3  byte = 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14

	// MaxBodySize bounds the body a peer may announce.
	MaxBodySize uint32 = 16 << 20
)

type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeResponse  MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // keepalive, no body
	MsgTypeCancel    MsgType = 3 // caller abandoned the call with the same Seq, no body
)

// Header is the fixed part of a frame. Seq pairs a response with its request
// on a multiplexed connection.
type Header struct {
	CodecType codec.Type
	MsgType   MsgType
	Seq       uint32
	BodyLen   uint32 // set by Decode; Encode uses len(body)
}

func (h *Header) put(buf []byte, bodyLen int) {
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(bodyLen))
}

func parseHeader(buf []byte) (*Header, error) {
	switch {
	case buf[0] != MagicNumber || buf[1] != MagicByte2 || buf[2] != MagicByte3:
		return nil, frameError("invalid magic number: %x", buf[0:3])
	case buf[3] != Version:
		return nil, frameError("unsupported version: %d", buf[3])
	}

	h := &Header{
		CodecType: codec.Type(buf[4]),
		MsgType:   MsgType(buf[5]),
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   binary.BigEndian.Uint32(buf[10:14]),
	}
	if _, err := codec.Get(h.CodecType); err != nil {
		return nil, frameError("unsupported codec type: %d", buf[4])
	}
	if h.MsgType > MsgTypeCancel {
		return nil, frameError("unsupported message type: %d", buf[5])
	}
	if h.BodyLen > MaxBodySize {
		return nil, frameError("body of %d bytes exceeds limit", h.BodyLen)
	}
	return h, nil
}

// Encode writes header and body as one frame in a single Write. Writers
// sharing w must still serialize their calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	h.put(buf, len(body))
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads one frame from r. Read errors, io.EOF included, come back
// unchanged; a malformed header is a decode error.
func Decode(r io.Reader) (*Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, nil, err
	}
	h, err := parseHeader(buf[:])
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}

func frameError(format string, args ...any) error {
	return rpcerr.New(rpcerr.KindDecode, "frame", format, args...)
}
