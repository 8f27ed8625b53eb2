package heartbeat

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"church-rpc/internal/pbwire"
)

// Protobuf schema, used by the proto codec:
//
//	message Request     { int64 caller_id = 1; }
//	message Response    { int64 caller_id = 1; int64 callee_id = 2; }
//	message NodeDetails { string server = 1; string instance = 2; repeated string services = 3;
//	                      int64 issued = 4; int64 published_unix_nano = 5; }
//
// Request and Response always write their ID fields, so a zero ID still
// produces a non-empty payload and is never mistaken for a missing request.

type Request struct {
	CallerID int64
}

type Response struct {
	CallerID int64
	CalleeID int64
}

// NodeDetails is what a host broadcasts about itself.
type NodeDetails struct {
	Server    string
	Instance  string
	Services  []string
	Issued    int64
	Published time.Time
}

func (r *Request) MarshalProto() ([]byte, error) {
	return pbwire.AppendInt64(nil, 1, r.CallerID), nil
}

func (r *Request) UnmarshalProto(b []byte) error {
	*r = Request{}
	return pbwire.Walk("heartbeat", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			return pbwire.ConsumeInt64(b, &r.CallerID)
		}
		return pbwire.Skip(num, typ, b)
	})
}

func (r *Response) MarshalProto() ([]byte, error) {
	b := pbwire.AppendInt64(nil, 1, r.CallerID)
	return pbwire.AppendInt64(b, 2, r.CalleeID), nil
}

func (r *Response) UnmarshalProto(b []byte) error {
	*r = Response{}
	return pbwire.Walk("heartbeat", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return pbwire.ConsumeInt64(b, &r.CallerID)
		case num == 2 && typ == protowire.VarintType:
			return pbwire.ConsumeInt64(b, &r.CalleeID)
		}
		return pbwire.Skip(num, typ, b)
	})
}

func (d *NodeDetails) MarshalProto() ([]byte, error) {
	var b []byte
	b = pbwire.AppendString(b, 1, d.Server)
	b = pbwire.AppendString(b, 2, d.Instance)
	for _, s := range d.Services {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	b = pbwire.AppendInt64(b, 4, d.Issued)
	if !d.Published.IsZero() {
		b = pbwire.AppendInt64(b, 5, d.Published.UnixNano())
	}
	return b, nil
}

func (d *NodeDetails) UnmarshalProto(b []byte) error {
	*d = NodeDetails{}
	return pbwire.Walk("heartbeat", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &d.Server)
		case num == 2 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &d.Instance)
		case num == 3 && typ == protowire.BytesType:
			var s string
			n, err := pbwire.ConsumeString(b, &s)
			d.Services = append(d.Services, s)
			return n, err
		case num == 4 && typ == protowire.VarintType:
			return pbwire.ConsumeInt64(b, &d.Issued)
		case num == 5 && typ == protowire.VarintType:
			var ns int64
			n, err := pbwire.ConsumeInt64(b, &ns)
			d.Published = time.Unix(0, ns).UTC()
			return n, err
		}
		return pbwire.Skip(num, typ, b)
	})
}
