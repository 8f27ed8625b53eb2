package codec

import (
	"encoding/json"
	"io"
)

// JSON uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
//
// DecodeFrom reads ahead of the value it returns; give it a reader holding a
// single value.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, encodeError(TypeJSON, err)
	}
	return b, nil
}

func (JSON) EncodeTo(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return encodeError(TypeJSON, err)
	}
	return nil
}

func (JSON) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return decodeError(TypeJSON, err)
	}
	return nil
}

func (JSON) DecodeFrom(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return decodeError(TypeJSON, err)
	}
	return nil
}

func (JSON) Type() Type {
	return TypeJSON
}
