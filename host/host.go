package host

import (
	"fmt"
	"io"
	"net/url"
	"reflect"
	"sync"

	"go.uber.org/multierr"

	"church-rpc/rpcerr"
)

// Service describes one registry entry. Name is empty for a default service.
type Service struct {
	Name     string
	Contract string
	Binding  *Binding
}

// String is "Contract" for a default service and "Contract/name" otherwise.
func (s Service) String() string {
	if s.Name == "" {
		return s.Contract
	}
	return s.Contract + "/" + s.Name
}

// Host is the read-only service registry of one process. It is safe for
// concurrent use.
type Host struct {
	base     *url.URL
	defaults map[string]*Binding // contract name → default service
	named    map[string]*Binding
	services []Service

	closeOnce sync.Once
	closeErr  error
}

// BaseAddress returns a copy of the address the host serves on.
func (h *Host) BaseAddress() *url.URL {
	u := *h.base
	return &u
}

// Resolve finds the service for contract. An empty name selects the default
// service; a named service must serve the same contract.
func (h *Host) Resolve(contract, name string) (*Binding, error) {
	if name == "" {
		if b, ok := h.defaults[contract]; ok {
			return b, nil
		}
		return nil, rpcerr.New(rpcerr.KindNotFound, "resolve", "no default service for %s", contract)
	}
	if b, ok := h.named[name]; ok && b.Name() == contract {
		return b, nil
	}
	return nil, rpcerr.New(rpcerr.KindNotFound, "resolve", "no service %q for %s", name, contract)
}

// Lookup returns the in-process implementation registered for C under name.
func Lookup[C any](h *Host, name string) (C, error) {
	var zero C
	contract := reflect.TypeFor[C]()
	b, err := h.Resolve(contract.Name(), name)
	if err != nil {
		return zero, err
	}
	if b.Contract() != contract {
		return zero, rpcerr.New(rpcerr.KindNotFound, "lookup", "%s is registered for %s", name, b.Contract())
	}
	return b.Impl().(C), nil
}

// Services lists the registry entries in registration order.
func (h *Host) Services() []Service {
	return append([]Service(nil), h.services...)
}

// Close closes every service implementing io.Closer. Services registered
// more than once are closed once. Only the first call does any work.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		seen := make(map[any]bool)
		for _, s := range h.services {
			impl := s.Binding.Impl()
			if reflect.TypeOf(impl).Comparable() {
				if seen[impl] {
					continue
				}
				seen[impl] = true
			}
			if c, ok := impl.(io.Closer); ok {
				if err := c.Close(); err != nil {
					h.closeErr = multierr.Append(h.closeErr, fmt.Errorf("close %s: %w", s.Contract, err))
				}
			}
		}
	})
	return h.closeErr
}
