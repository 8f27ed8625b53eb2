package heartbeat

import (
	"context"
)

// Caller is what both transports' clients provide.
type Caller interface {
	Call(ctx context.Context, service, op string, req, resp any) error
}

// Client is the remote Heartbeat of one named service ("" for the default).
type Client struct {
	caller  Caller
	service string
}

var _ Heartbeat = (*Client)(nil)

func NewClient(c Caller, service string) *Client {
	return &Client{caller: c, service: service}
}

func (c *Client) Beat(ctx context.Context, req *Request) (*Response, error) {
	var payload any
	if req != nil {
		payload = req
	}
	var resp Response
	if err := c.caller.Call(ctx, c.service, OpBeat, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
