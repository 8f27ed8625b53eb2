// Package host holds the immutable service registry and the bindings between
// service implementations and the contracts they serve.
package host

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"church-rpc/rpcerr"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

type methodType struct {
	fn        reflect.Value // method value bound to the implementation
	argType   reflect.Type  // Req in func(ctx, *Req) (*Resp, error)
	replyType reflect.Type
}

// Binding ties one implementation to the contract interface it serves. Every
// method of the contract must look like
//
//	func(context.Context, *Req) (*Resp, error)
type Binding struct {
	contract reflect.Type
	impl     any
	methods  map[string]*methodType
}

// Bind binds impl to the contract C, which must be an interface type.
func Bind[C any](impl C) (*Binding, error) {
	contract := reflect.TypeFor[C]()
	if contract.Kind() != reflect.Interface {
		return nil, rpcerr.New(rpcerr.KindConfiguration, "bind", "contract %s is not an interface", contract)
	}
	if contract.Name() == "" {
		return nil, rpcerr.New(rpcerr.KindConfiguration, "bind", "contract %s has no name", contract)
	}

	rcvr := reflect.ValueOf(&impl).Elem()
	if rcvr.IsNil() || isNilPointer(reflect.ValueOf(any(impl))) {
		return nil, rpcerr.New(rpcerr.KindConfiguration, "bind", "%s: service is nil", contract.Name())
	}

	b := &Binding{
		contract: contract,
		impl:     any(impl),
		methods:  make(map[string]*methodType, contract.NumMethod()),
	}
	for i := 0; i < contract.NumMethod(); i++ {
		m := contract.Method(i)
		t := m.Type
		if t.NumIn() != 2 || t.In(0) != contextType || t.In(1).Kind() != reflect.Pointer ||
			t.NumOut() != 2 || t.Out(0).Kind() != reflect.Pointer || t.Out(1) != errorType {
			return nil, rpcerr.New(rpcerr.KindConfiguration, "bind",
				"%s.%s: want func(context.Context, *Req) (*Resp, error), got %s", contract.Name(), m.Name, t)
		}
		b.methods[m.Name] = &methodType{
			fn:        rcvr.Method(i),
			argType:   t.In(1).Elem(),
			replyType: t.Out(0).Elem(),
		}
	}
	if len(b.methods) == 0 {
		return nil, rpcerr.New(rpcerr.KindConfiguration, "bind", "contract %s has no operations", contract.Name())
	}
	return b, nil
}

func isNilPointer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Contract returns the interface type the binding serves.
func (b *Binding) Contract() reflect.Type { return b.contract }

// Name is the contract name used in operation names ("Heartbeat" in "Heartbeat.Beat").
func (b *Binding) Name() string { return b.contract.Name() }

// Impl returns the bound implementation.
func (b *Binding) Impl() any { return b.impl }

// Ops lists the operation names in sorted order.
func (b *Binding) Ops() []string {
	ops := make([]string, 0, len(b.methods))
	for name := range b.methods {
		ops = append(ops, name)
	}
	sort.Strings(ops)
	return ops
}

// RequestType returns the request type of op, or nil if op is unknown.
func (b *Binding) RequestType(op string) reflect.Type {
	if m, ok := b.methods[op]; ok {
		return m.argType
	}
	return nil
}

// Invoke calls op. decode fills a fresh request value; a nil decode passes a
// nil request, which is how an absent payload reaches the service. A nil
// reply pointer is returned as nil.
func (b *Binding) Invoke(ctx context.Context, op string, decode func(v any) error) (any, error) {
	m, ok := b.methods[op]
	if !ok {
		return nil, rpcerr.New(rpcerr.KindNotFound, b.Name(), "no operation %q", op)
	}

	argv := reflect.Zero(reflect.PointerTo(m.argType))
	if decode != nil {
		argv = reflect.New(m.argType)
		if err := decode(argv.Interface()); err != nil {
			return nil, err
		}
	}

	results := m.fn.Call([]reflect.Value{reflect.ValueOf(ctx), argv})
	if errv := results[1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if results[0].IsNil() {
		return nil, nil
	}
	return results[0].Interface(), nil
}

func (b *Binding) String() string {
	return fmt.Sprintf("%s(%T)", b.Name(), b.impl)
}
