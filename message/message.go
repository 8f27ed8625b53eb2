// Package message defines the envelopes exchanged between caller and callee.
//
// A Call is the request envelope and a Reply the response envelope. Both are
// serialized by whichever codec the connection (or bus message) was opened
// with, and wrapped in a protocol frame on sockets or in a bus message on a
// pub/sub transport.
package message

import (
	"strings"
)

// Call carries one remote invocation.
//
//   - Service is optional. Empty selects the default service of the contract.
//   - Op is "Contract.Method", e.g. "Heartbeat.Beat".
//   - Payload is the codec-encoded request value.
//   - Present is set when a request was sent. A present request may encode to
//     no bytes at all (a protobuf message with only default fields), so an
//     empty Payload alone does not mean the request is absent.
type Call struct {
	Service string
	Op      string
	Payload []byte
	Present bool
}

// HasRequest reports whether the caller sent a request value.
func (c *Call) HasRequest() bool {
	return c.Present || len(c.Payload) > 0
}

// Reply carries the outcome of a Call. Exactly one of Payload or Failure is
// meaningful: Failure non-nil means the call failed. Present marks a result
// whose encoding may be empty.
type Reply struct {
	Op      string
	Payload []byte
	Present bool
	Failure *Failure
}

// HasResult reports whether the reply carries a result value.
func (r *Reply) HasResult() bool {
	return r != nil && r.Failure == nil && (r.Present || len(r.Payload) > 0)
}

// Failure describes why a call failed. Kind is the rpcerr kind name.
type Failure struct {
	Kind    string
	Message string
}

// SplitOp splits "Contract.Method" into its two halves.
func SplitOp(op string) (contract, method string, ok bool) {
	contract, method, ok = strings.Cut(op, ".")
	if !ok || contract == "" || method == "" || strings.Contains(method, ".") {
		return "", "", false
	}
	return contract, method, true
}

// Failed reports whether the reply carries a failure.
func (r *Reply) Failed() bool {
	return r != nil && r.Failure != nil
}
