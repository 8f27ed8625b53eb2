package broadcast

import (
	"strconv"

	"church-rpc/bus"
	"church-rpc/codec"
	"church-rpc/rpcerr"
)

// Message properties set by a Publisher.
const (
	PropPublisher = "publisher"
	PropCodec     = "codec"
	PropSequence  = "sequence"
)

// Data is one broadcast as seen by a subscriber.
type Data struct {
	Publisher PublisherID
	// Sequence counts the publisher's broadcasts from 1. It is 0 when the
	// message did not carry one.
	Sequence uint64
	Body     []byte

	codec codec.Codec
}

// Decode decodes Body into v with the codec it was published with.
func (d *Data) Decode(v any) error {
	return d.codec.Decode(d.Body, v)
}

func dataOf(msg *bus.Message) (*Data, error) {
	id, err := ParsePublisherID(msg.Property(PropPublisher))
	if err != nil {
		return nil, err
	}
	name := msg.Property(PropCodec)
	if name == "" {
		return nil, rpcerr.New(rpcerr.KindArgument, "broadcast", "message from %s has no codec", id)
	}
	c, err := codec.Lookup(name)
	if err != nil {
		return nil, err
	}
	d := &Data{Publisher: id, Body: msg.Body, codec: c}
	if s := msg.Property(PropSequence); s != "" {
		if d.Sequence, err = strconv.ParseUint(s, 10, 64); err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindArgument, "broadcast", err)
		}
	}
	return d, nil
}
