package endpoint

import (
	"net/url"
	"strings"

	"church-rpc/rpcerr"
)

const (
	RequestSuffix   = ".Request"
	ResponseSuffix  = ".Response"
	BroadcastSuffix = ".Broadcast"
)

// Pair holds the two topics of a request/response exchange.
type Pair struct {
	Request  *url.URL
	Response *url.URL
}

// Request returns the topic callers publish calls to.
func Request(base *url.URL) (*url.URL, error) {
	return derive(base, RequestSuffix)
}

// Response returns the topic callees publish replies to.
func Response(base *url.URL) (*url.URL, error) {
	return derive(base, ResponseSuffix)
}

// Broadcast returns the topic a publisher broadcasts its data on.
func Broadcast(base *url.URL) (*url.URL, error) {
	return derive(base, BroadcastSuffix)
}

// Derive returns the request and response topics of base.
func Derive(base *url.URL) (Pair, error) {
	req, err := Request(base)
	if err != nil {
		return Pair{}, err
	}
	resp, err := Response(base)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Request: req, Response: resp}, nil
}

// derive appends suffix to the path of a copy of base. Everything else,
// including query and fragment, is kept.
func derive(base *url.URL, suffix string) (*url.URL, error) {
	if base == nil {
		return nil, rpcerr.New(rpcerr.KindArgument, "endpoint", "base address is nil")
	}
	u := *base
	if u.User != nil {
		user := *u.User
		u.User = &user
	}

	// An empty or root path yields "/<suffix>".
	path := strings.TrimSuffix(u.Path, "/")
	if path == "" {
		path = "/"
	}
	u.Path = path + suffix
	u.RawPath = ""
	return &u, nil
}
