package codec

import (
	"bytes"
	"encoding/gob"
	"io"
	"sync"
)

// Gob is the native object-graph codec.
//
// The stream form writes and reads directly on the given stream, so a payload
// is never buffered in full. Each EncodeTo produces a self-describing message
// (type descriptors included), which lets any DecodeFrom read it without
// shared state. When several values share one stream, pass DecodeFrom an
// io.ByteReader so the decoder does not read past the value.
type Gob struct{}

var (
	bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}
	readerPool = sync.Pool{New: func() any { return new(bytes.Reader) }}
)

func (Gob) Encode(v any) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if err := (Gob{}).EncodeTo(buf, v); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (Gob) EncodeTo(w io.Writer, v any) error {
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return encodeError(TypeGob, err)
	}
	return nil
}

func (Gob) Decode(data []byte, v any) error {
	r := readerPool.Get().(*bytes.Reader)
	r.Reset(data)
	// Released on every path, decode failure included.
	defer func() {
		r.Reset(nil)
		readerPool.Put(r)
	}()

	return (Gob{}).DecodeFrom(r, v)
}

func (Gob) DecodeFrom(r io.Reader, v any) error {
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return decodeError(TypeGob, err)
	}
	return nil
}

func (Gob) Type() Type {
	return TypeGob
}
