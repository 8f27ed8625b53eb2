package host

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"church-rpc/rpcerr"
)

type EchoArgs struct{ Text string }
type EchoReply struct{ Text string }

type Echo interface {
	Say(ctx context.Context, req *EchoArgs) (*EchoReply, error)
	Shout(ctx context.Context, req *EchoArgs) (*EchoReply, error)
}

type echoService struct {
	prefix string
	closed int
}

func (e *echoService) Say(_ context.Context, req *EchoArgs) (*EchoReply, error) {
	if req == nil {
		return nil, rpcerr.New(rpcerr.KindArgument, "Echo.Say", "request is nil")
	}
	return &EchoReply{Text: e.prefix + req.Text}, nil
}

func (e *echoService) Shout(_ context.Context, req *EchoArgs) (*EchoReply, error) {
	return &EchoReply{Text: strings.ToUpper(req.Text)}, nil
}

func (e *echoService) Close() error {
	e.closed++
	return nil
}

type Adder interface {
	Add(ctx context.Context, req *EchoArgs) (*EchoReply, error)
}

type BadShape interface {
	Do(req *EchoArgs) error
}

var base, _ = url.Parse("tcp://127.0.0.1:7000/church")

func TestBindCollectsOperations(t *testing.T) {
	b, err := Bind[Echo](&echoService{})
	require.NoError(t, err)
	assert.Equal(t, "Echo", b.Name())
	assert.Equal(t, []string{"Say", "Shout"}, b.Ops())
	assert.Equal(t, "EchoArgs", b.RequestType("Say").Name())
	assert.Nil(t, b.RequestType("Whisper"))
}

func TestBindRejects(t *testing.T) {
	_, err := Bind[Echo](nil)
	assert.ErrorIs(t, err, rpcerr.ErrConfiguration)

	var nilImpl *echoService
	_, err = Bind[Echo](nilImpl)
	assert.ErrorIs(t, err, rpcerr.ErrConfiguration)

	_, err = Bind[*echoService](&echoService{})
	assert.ErrorIs(t, err, rpcerr.ErrConfiguration, "contract must be an interface")

	_, err = Bind[BadShape](badShape{})
	assert.ErrorIs(t, err, rpcerr.ErrConfiguration)
}

type badShape struct{}

func (badShape) Do(*EchoArgs) error { return nil }

func TestInvoke(t *testing.T) {
	b, err := Bind[Echo](&echoService{prefix: "> "})
	require.NoError(t, err)

	out, err := b.Invoke(context.Background(), "Say", func(v any) error {
		v.(*EchoArgs).Text = "hi"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, &EchoReply{Text: "> hi"}, out)

	// A nil decode reaches the service as a nil request.
	_, err = b.Invoke(context.Background(), "Say", nil)
	assert.ErrorIs(t, err, rpcerr.ErrArgument)

	_, err = b.Invoke(context.Background(), "Whisper", nil)
	assert.ErrorIs(t, err, rpcerr.ErrNotFound)

	decodeErr := rpcerr.New(rpcerr.KindDecode, "json decode", "bad")
	_, err = b.Invoke(context.Background(), "Say", func(any) error { return decodeErr })
	assert.ErrorIs(t, err, rpcerr.ErrDecode)
}

func TestBuildAndResolve(t *testing.T) {
	def, named := &echoService{prefix: "d:"}, &echoService{prefix: "n:"}
	builder := NewBuilder().WithBaseAddress(base)
	Register[Echo](builder, "", def)
	Register[Echo](builder, "loud", named)

	h, err := builder.Build()
	require.NoError(t, err)

	b, err := h.Resolve("Echo", "")
	require.NoError(t, err)
	assert.Same(t, def, b.Impl())

	b, err = h.Resolve("Echo", "loud")
	require.NoError(t, err)
	assert.Same(t, named, b.Impl())

	_, err = h.Resolve("Echo", "quiet")
	assert.ErrorIs(t, err, rpcerr.ErrNotFound)
	_, err = h.Resolve("Adder", "")
	assert.ErrorIs(t, err, rpcerr.ErrNotFound)
	_, err = h.Resolve("Adder", "loud")
	assert.ErrorIs(t, err, rpcerr.ErrNotFound, "named entry serves another contract")

	impl, err := Lookup[Echo](h, "loud")
	require.NoError(t, err)
	assert.Same(t, named, impl)

	services := h.Services()
	require.Len(t, services, 2)
	names := []string{services[0].String(), services[1].String()}
	assert.ElementsMatch(t, []string{"Echo", "Echo/loud"}, names)
	assert.Equal(t, base.String(), h.BaseAddress().String())
}

func TestBuildIsolatedFromBuilder(t *testing.T) {
	builder := NewBuilder().WithBaseAddressString("tcp://127.0.0.1:7000")
	Register[Echo](builder, "", &echoService{})
	h, err := builder.Build()
	require.NoError(t, err)

	Register[Echo](builder, "late", &echoService{})
	builder.WithBaseAddressString("tcp://10.0.0.1:1")

	_, err = h.Resolve("Echo", "late")
	assert.ErrorIs(t, err, rpcerr.ErrNotFound)
	assert.Equal(t, "tcp://127.0.0.1:7000", h.BaseAddress().String())

	h.BaseAddress().Host = "mutated:1"
	assert.Equal(t, "tcp://127.0.0.1:7000", h.BaseAddress().String())
}

func TestBuildValidation(t *testing.T) {
	echo := func() *Binding {
		b, err := Bind[Echo](&echoService{})
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name    string
		builder *Builder
		want    string
	}{
		{"missing base", NewBuilder().Add("", echo()), "base address is required"},
		{"no entries", NewBuilder().WithBaseAddress(base), "no services registered"},
		{"nil binding", NewBuilder().WithBaseAddress(base).Add("x", nil), "service is nil"},
		{"duplicate name", NewBuilder().WithBaseAddress(base).Add("a", echo()).Add("a", echo()), "duplicate service name"},
		{"two defaults", NewBuilder().WithBaseAddress(base).Add("", echo()).Add("", echo()), "more than one default"},
		{"nil impl", Register[Echo](NewBuilder().WithBaseAddress(base), "", nil), "service is nil"},
		{"bad base", NewBuilder().WithBaseAddressString("::nope").Add("", echo()), "base address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := tt.builder.Build()
			assert.Nil(t, h)
			require.Error(t, err)
			assert.True(t, errors.Is(err, rpcerr.ErrConfiguration))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildReportsEveryProblem(t *testing.T) {
	_, err := NewBuilder().Add("x", nil).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base address is required")
	assert.Contains(t, err.Error(), "service is nil")
}

func TestCloseOncePerImplementation(t *testing.T) {
	svc := &echoService{}
	builder := NewBuilder().WithBaseAddress(base)
	Register[Echo](builder, "", svc)
	Register[Echo](builder, "again", svc)
	h, err := builder.Build()
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 1, svc.closed)
}
