package message

import (
	"google.golang.org/protobuf/encoding/protowire"

	"church-rpc/internal/pbwire"
)

// Protobuf schema of the envelopes, used by the proto codec:
//
//	message Call    { string service = 1; string op = 2; bytes payload = 3; bool present = 4; }
//	message Failure { string kind = 1; string message = 2; }
//	message Reply   { string op = 1; bytes payload = 2; Failure failure = 3; bool present = 4; }

func (c *Call) MarshalProto() ([]byte, error) {
	var b []byte
	b = pbwire.AppendString(b, 1, c.Service)
	b = pbwire.AppendString(b, 2, c.Op)
	b = pbwire.AppendBytes(b, 3, c.Payload)
	b = pbwire.AppendBool(b, 4, c.Present)
	return b, nil
}

func (c *Call) UnmarshalProto(b []byte) error {
	*c = Call{}
	return pbwire.Walk("message", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &c.Service)
		case num == 2 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &c.Op)
		case num == 3 && typ == protowire.BytesType:
			return pbwire.ConsumeBytes(b, &c.Payload)
		case num == 4 && typ == protowire.VarintType:
			return pbwire.ConsumeBool(b, &c.Present)
		}
		return pbwire.Skip(num, typ, b)
	})
}

func (f *Failure) MarshalProto() ([]byte, error) {
	var b []byte
	b = pbwire.AppendString(b, 1, f.Kind)
	b = pbwire.AppendString(b, 2, f.Message)
	return b, nil
}

func (f *Failure) UnmarshalProto(b []byte) error {
	*f = Failure{}
	return pbwire.Walk("message", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &f.Kind)
		case num == 2 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &f.Message)
		}
		return pbwire.Skip(num, typ, b)
	})
}

func (r *Reply) MarshalProto() ([]byte, error) {
	var b []byte
	b = pbwire.AppendString(b, 1, r.Op)
	b = pbwire.AppendBytes(b, 2, r.Payload)
	if r.Failure != nil {
		inner, err := r.Failure.MarshalProto()
		if err != nil {
			return nil, err
		}
		// Always emitted, even empty, so presence survives the round trip.
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	b = pbwire.AppendBool(b, 4, r.Present)
	return b, nil
}

func (r *Reply) UnmarshalProto(b []byte) error {
	*r = Reply{}
	return pbwire.Walk("message", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return pbwire.ConsumeString(b, &r.Op)
		case num == 2 && typ == protowire.BytesType:
			return pbwire.ConsumeBytes(b, &r.Payload)
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Failure = &Failure{}
			if err := r.Failure.UnmarshalProto(v); err != nil {
				return 0, err
			}
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			return pbwire.ConsumeBool(b, &r.Present)
		}
		return pbwire.Skip(num, typ, b)
	})
}
