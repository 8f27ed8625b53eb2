package pbwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRoundTrip(t *testing.T) {
	var b []byte
	b = AppendString(b, 1, "church")
	b = AppendBytes(b, 2, []byte{1, 2})
	b = AppendInt64(b, 3, 0)
	b = AppendBool(b, 4, true)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	var (
		s     string
		raw   []byte
		n     int64 = -1
		flag  bool
		count int
	)
	err := Walk("test", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		count++
		switch num {
		case 1:
			return ConsumeString(b, &s)
		case 2:
			return ConsumeBytes(b, &raw)
		case 3:
			return ConsumeInt64(b, &n)
		case 4:
			return ConsumeBool(b, &flag)
		}
		return Skip(num, typ, b)
	})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, "church", s)
	assert.Equal(t, []byte{1, 2}, raw)
	assert.Zero(t, n, "zero int64 is written")
	assert.True(t, flag)
}

func TestEmptyValuesOmitted(t *testing.T) {
	var b []byte
	b = AppendString(b, 1, "")
	b = AppendBytes(b, 2, nil)
	b = AppendBool(b, 3, false)
	assert.Empty(t, b)
}

func TestWalkTruncated(t *testing.T) {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendVarint(b, 10)

	var s string
	err := Walk("call", b, func(_ protowire.Number, _ protowire.Type, b []byte) (int, error) {
		return ConsumeString(b, &s)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call: field 1")
}
