// Package busrpc carries calls over a bus.
//
// A host with base address B listens on the topic B.Request and publishes
// replies on B.Response. Every caller subscribes to B.Response and keeps the
// replies addressed to its own caller ID:
//
//	caller ──Call{caller, correlation}──→ B.Request ──→ Listener
//	caller ←─Reply{caller, correlation}── B.Response ←── Listener
package busrpc

import (
	"strconv"

	"church-rpc/bus"
	"church-rpc/codec"
	"church-rpc/rpcerr"
)

// Message properties.
const (
	PropCodec       = "codec"
	PropCaller      = "caller"
	PropCorrelation = "correlation"
	PropService     = "service"
)

func codecOf(msg *bus.Message) (codec.Codec, error) {
	name := msg.Property(PropCodec)
	if name == "" {
		return nil, rpcerr.New(rpcerr.KindArgument, "busrpc", "message has no codec property")
	}
	return codec.Lookup(name)
}

func correlationOf(msg *bus.Message) (uint64, error) {
	id, err := strconv.ParseUint(msg.Property(PropCorrelation), 10, 64)
	if err != nil {
		return 0, rpcerr.Wrap(rpcerr.KindArgument, "busrpc", err)
	}
	return id, nil
}
