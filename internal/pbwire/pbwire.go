// Package pbwire holds the protowire helpers shared by the hand-written
// protobuf schemas of the envelopes and the heartbeat types.
package pbwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FieldFunc consumes the value of one field and returns its length.
type FieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// AppendString writes s, omitting the field when s is empty.
func AppendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendBytes writes v, omitting the field when v is empty.
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendInt64 always writes the field, zero included.
func AppendInt64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// AppendBool writes the field only when v is true.
func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func ConsumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

// ConsumeBytes copies the value, so dst does not alias b.
func ConsumeBytes(b []byte, dst *[]byte) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func ConsumeInt64(b []byte, dst *int64) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v)
	return n, nil
}

func ConsumeBool(b []byte, dst *bool) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

// Skip consumes a field no schema knows about.
func Skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

// Walk hands every tagged field of b to field. Errors are prefixed with
// name, the schema being decoded.
func Walk(name string, b []byte, field FieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%s: %w", name, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("%s: field %d: %w", name, num, err)
		}
		b = b[m:]
	}
	return nil
}
