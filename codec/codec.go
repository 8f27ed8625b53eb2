// Package codec converts payload values to and from wire bytes.
//
// Three interchangeable codecs exist:
//   - JSON:  human-readable, cross-language, easy to debug.
//   - Gob:   Go's native object-graph format. Streams without buffering the payload.
//   - Proto: schema-based protobuf binary. Values must carry a protobuf schema.
//
// The caller always provides the expected type by passing a pointer to Decode.
// Codecs are stateless and safe to share between goroutines.
package codec

import (
	"fmt"
	"io"
	"strings"

	"church-rpc/rpcerr"
)

// Type identifies a codec on the wire (one byte in the frame header and a
// property on bus messages).
type Type byte

const (
	TypeJSON  Type = 0
	TypeGob   Type = 1
	TypeProto Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeJSON:
		return "json"
	case TypeGob:
		return "gob"
	case TypeProto:
		return "proto"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// Codec is the serialization contract shared by every wire format.
type Codec interface {
	// Encode returns the encoding of v.
	Encode(v any) ([]byte, error)
	// EncodeTo writes the encoding of v to w.
	EncodeTo(w io.Writer, v any) error
	// Decode decodes data into v, which must be a non-nil pointer to the expected type.
	Decode(data []byte, v any) error
	// DecodeFrom decodes one value from r into v.
	DecodeFrom(r io.Reader, v any) error
	Type() Type
}

var codecs = map[Type]Codec{
	TypeJSON:  JSON{},
	TypeGob:   Gob{},
	TypeProto: Proto{},
}

// Get returns the codec registered for t.
func Get(t Type) (Codec, error) {
	c, ok := codecs[t]
	if !ok {
		return nil, rpcerr.New(rpcerr.KindArgument, "codec", "unsupported codec type %d", byte(t))
	}
	return c, nil
}

// Lookup returns the codec with the given name ("json", "gob", "proto").
func Lookup(name string) (Codec, error) {
	for t, c := range codecs {
		if strings.EqualFold(t.String(), name) {
			return c, nil
		}
	}
	return nil, rpcerr.New(rpcerr.KindArgument, "codec", "unknown codec %q", name)
}

// ParseType is Lookup for callers that only need the wire identifier.
func ParseType(name string) (Type, error) {
	c, err := Lookup(name)
	if err != nil {
		return 0, err
	}
	return c.Type(), nil
}

func decodeError(t Type, err error) error {
	return rpcerr.Wrap(rpcerr.KindDecode, t.String()+" decode", err)
}

func encodeError(t Type, err error) error {
	if rpcerr.KindOf(err) != rpcerr.KindInternal {
		return err
	}
	return rpcerr.Wrap(rpcerr.KindArgument, t.String()+" encode", err)
}
