package broadcast

import (
	"strings"

	"church-rpc/rpcerr"
)

const divider = "@"

// PublisherID names the process a broadcast came from. Both parts are
// stored lowercased, so IDs compare case-insensitively.
type PublisherID struct {
	Server   string
	Instance string
}

// NewPublisherID rejects blank parts.
func NewPublisherID(server, instance string) (PublisherID, error) {
	if strings.TrimSpace(server) == "" {
		return PublisherID{}, rpcerr.New(rpcerr.KindArgument, "publisher id", "invalid server name %q", server)
	}
	if strings.TrimSpace(instance) == "" {
		return PublisherID{}, rpcerr.New(rpcerr.KindArgument, "publisher id", "invalid instance name %q", instance)
	}
	return PublisherID{Server: strings.ToLower(server), Instance: strings.ToLower(instance)}, nil
}

// ParsePublisherID reverses String. The server part ends at the first '@'.
func ParsePublisherID(s string) (PublisherID, error) {
	server, instance, ok := strings.Cut(s, divider)
	if !ok {
		return PublisherID{}, rpcerr.New(rpcerr.KindArgument, "publisher id", "invalid encoding %q", s)
	}
	return NewPublisherID(server, instance)
}

// String encodes the ID as server@instance.
func (id PublisherID) String() string {
	return id.Server + divider + id.Instance
}

// IsZero reports whether id was never set.
func (id PublisherID) IsZero() bool {
	return id == PublisherID{}
}
