package host

import (
	"fmt"
	"net/url"
	"reflect"

	"go.uber.org/multierr"

	"church-rpc/rpcerr"
)

type entry struct {
	name    string
	binding *Binding
}

// Builder collects the base address and service entries of a Host. Nothing is
// validated until Build, which reports every problem at once.
type Builder struct {
	base    *url.URL
	entries []entry
	errs    error
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithBaseAddress sets the address the host serves on.
func (b *Builder) WithBaseAddress(u *url.URL) *Builder {
	if u != nil {
		c := *u
		b.base = &c
	} else {
		b.base = nil
	}
	return b
}

// WithBaseAddressString parses s and sets it as the base address.
func (b *Builder) WithBaseAddressString(s string) *Builder {
	u, err := url.Parse(s)
	if err != nil {
		b.errs = multierr.Append(b.errs, fmt.Errorf("base address: %w", err))
		b.base = nil
		return b
	}
	return b.WithBaseAddress(u)
}

// Add registers a binding under name. An empty name registers the default
// service of the binding's contract.
func (b *Builder) Add(name string, binding *Binding) *Builder {
	b.entries = append(b.entries, entry{name: name, binding: binding})
	return b
}

// Register binds impl to C and adds it under name.
func Register[C any](b *Builder, name string, impl C) *Builder {
	binding, err := Bind[C](impl)
	if err != nil {
		b.errs = multierr.Append(b.errs, fmt.Errorf("service %q: %w", name, err))
		return b
	}
	return b.Add(name, binding)
}

// Build validates the configuration and returns an immutable Host. Later
// calls on the builder do not affect hosts it already built.
func (b *Builder) Build() (*Host, error) {
	errs := b.errs
	if b.base == nil {
		errs = multierr.Append(errs, fmt.Errorf("base address is required"))
	}
	if len(b.entries) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("no services registered"))
	}

	h := &Host{
		defaults: make(map[string]*Binding),
		named:    make(map[string]*Binding),
	}
	contracts := make(map[string]reflect.Type)
	for i, e := range b.entries {
		if e.binding == nil {
			errs = multierr.Append(errs, fmt.Errorf("entry %d (%q): service is nil", i, e.name))
			continue
		}
		contract := e.binding.Name()
		if t, ok := contracts[contract]; ok && t != e.binding.Contract() {
			errs = multierr.Append(errs, fmt.Errorf("contract name %q is used by %s and %s", contract, t, e.binding.Contract()))
			continue
		}
		contracts[contract] = e.binding.Contract()

		if e.name == "" {
			if _, dup := h.defaults[contract]; dup {
				errs = multierr.Append(errs, fmt.Errorf("contract %s has more than one default service", contract))
				continue
			}
			h.defaults[contract] = e.binding
		} else {
			if _, dup := h.named[e.name]; dup {
				errs = multierr.Append(errs, fmt.Errorf("duplicate service name %q", e.name))
				continue
			}
			h.named[e.name] = e.binding
		}
		h.services = append(h.services, Service{Name: e.name, Contract: contract, Binding: e.binding})
	}

	if errs != nil {
		return nil, rpcerr.Wrap(rpcerr.KindConfiguration, "host build", errs)
	}
	c := *b.base
	h.base = &c
	return h, nil
}
