package rpcerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindArgument, "heartbeat.Beat", "request is absent")

	assert.ErrorIs(t, err, ErrArgument)
	assert.NotErrorIs(t, err, ErrDecode)

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.ErrorIs(t, wrapped, ErrArgument)
	assert.Equal(t, KindArgument, KindOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "op: boom", New(KindInternal, "op", "boom").Error())
	assert.Equal(t, "op: ctx: inner", (&Error{Kind: KindDecode, Op: "op", Msg: "ctx", Err: errors.New("inner")}).Error())
	assert.Equal(t, "not_found", (&Error{Kind: KindNotFound}).Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindDecode, "op", nil))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindCanceled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FromContext("call", ctx.Err())
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailureRoundTrip(t *testing.T) {
	for k := KindInternal; k <= KindUnavailable; k++ {
		f := ToFailure(New(k, "svc", "failed"))
		require.NotNil(t, f)
		assert.Equal(t, k.String(), f.Kind)

		err := FromFailure("client", f)
		assert.Equal(t, k, KindOf(err), "kind %s", k)
	}
	assert.Nil(t, ToFailure(nil))
	assert.NoError(t, FromFailure("client", nil))
}

func TestParseKindUnknown(t *testing.T) {
	assert.Equal(t, KindInternal, ParseKind("nope"))
	assert.Equal(t, "kind(200)", Kind(200).String())
}
