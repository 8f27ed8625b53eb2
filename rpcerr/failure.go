package rpcerr

import (
	"church-rpc/message"
)

// ToFailure converts err into the wire form carried by a Reply.
func ToFailure(err error) *message.Failure {
	if err == nil {
		return nil
	}
	return &message.Failure{
		Kind:    KindOf(err).String(),
		Message: err.Error(),
	}
}

// FromFailure rebuilds a typed error from a Reply failure. op names the
// caller-side operation.
func FromFailure(op string, f *message.Failure) error {
	if f == nil {
		return nil
	}
	return &Error{Kind: ParseKind(f.Kind), Op: op, Msg: f.Message}
}
