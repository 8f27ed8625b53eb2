package codec

import (
	"encoding/binary"
	"io"
	"reflect"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"church-rpc/rpcerr"
)

// maxProtoSize bounds a single length-delimited message read from a stream.
const maxProtoSize = 16 << 20

// ProtoMarshaler is implemented by values that declare their own protobuf
// wire schema instead of being generated proto.Message types.
type ProtoMarshaler interface {
	MarshalProto() ([]byte, error)
}

// ProtoUnmarshaler is the decoding half of ProtoMarshaler.
type ProtoUnmarshaler interface {
	UnmarshalProto(data []byte) error
}

// Proto is the schema-based binary codec. It accepts generated proto.Message
// values and values implementing ProtoMarshaler/ProtoUnmarshaler.
//
// The stream form is varint length-delimited, compatible with protodelim.
// A message is buffered in full on both sides because protobuf is not
// self-delimiting.
type Proto struct{}

func (Proto) Encode(v any) ([]byte, error) {
	if isNilPointer(v) {
		return nil, rpcerr.New(rpcerr.KindArgument, "proto encode", "nil %T", v)
	}
	switch m := v.(type) {
	case proto.Message:
		b, err := proto.Marshal(m)
		if err != nil {
			return nil, encodeError(TypeProto, err)
		}
		return b, nil
	case ProtoMarshaler:
		b, err := m.MarshalProto()
		if err != nil {
			return nil, encodeError(TypeProto, err)
		}
		return b, nil
	}
	return nil, rpcerr.New(rpcerr.KindArgument, "proto encode", "%T has no protobuf schema", v)
}

func (p Proto) EncodeTo(w io.Writer, v any) error {
	if m, ok := v.(proto.Message); ok && !isNilPointer(v) {
		if _, err := protodelim.MarshalTo(w, m); err != nil {
			return encodeError(TypeProto, err)
		}
		return nil
	}

	b, err := p.Encode(v)
	if err != nil {
		return err
	}
	frame := protowire.AppendVarint(make([]byte, 0, binary.MaxVarintLen64+len(b)), uint64(len(b)))
	if _, err := w.Write(append(frame, b...)); err != nil {
		return encodeError(TypeProto, err)
	}
	return nil
}

func (Proto) Decode(data []byte, v any) error {
	if isNilPointer(v) {
		return rpcerr.New(rpcerr.KindDecode, "proto decode", "cannot decode into nil %T", v)
	}
	switch m := v.(type) {
	case proto.Message:
		if err := proto.Unmarshal(data, m); err != nil {
			return decodeError(TypeProto, err)
		}
		return nil
	case ProtoUnmarshaler:
		if err := m.UnmarshalProto(data); err != nil {
			return decodeError(TypeProto, err)
		}
		return nil
	}
	return rpcerr.New(rpcerr.KindDecode, "proto decode", "%T has no protobuf schema", v)
}

func (p Proto) DecodeFrom(r io.Reader, v any) error {
	br := asByteReader(r)

	if m, ok := v.(proto.Message); ok && !isNilPointer(v) {
		opts := protodelim.UnmarshalOptions{MaxSize: maxProtoSize}
		if err := opts.UnmarshalFrom(br, m); err != nil {
			return decodeError(TypeProto, err)
		}
		return nil
	}

	size, err := binary.ReadUvarint(br)
	if err != nil {
		return decodeError(TypeProto, err)
	}
	if size > maxProtoSize {
		return rpcerr.New(rpcerr.KindDecode, "proto decode", "message of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(br, buf); err != nil {
		return decodeError(TypeProto, err)
	}
	return p.Decode(buf, v)
}

func (Proto) Type() Type {
	return TypeProto
}

// byteReader reads one byte at a time from a plain io.Reader so the length
// prefix can be parsed without consuming bytes of the next message.
type byteReader struct {
	io.Reader
	b [1]byte
}

func (r *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(r.Reader, r.b[:]); err != nil {
		return 0, err
	}
	return r.b[0], nil
}

type readByteReader interface {
	io.Reader
	io.ByteReader
}

func asByteReader(r io.Reader) readByteReader {
	if br, ok := r.(readByteReader); ok {
		return br
	}
	return &byteReader{Reader: r}
}

func isNilPointer(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
