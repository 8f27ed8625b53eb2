// Package bus is the publish/subscribe layer under the bus transport and the
// broadcast manager.
//
// Topics are URLs. Only the path names the topic on the wire; the scheme and
// host select and locate the broker when a Bus is opened.
package bus

import (
	"context"
	"encoding/json"
	"maps"
	"net/url"
	"strings"

	"church-rpc/rpcerr"
)

// Message is a set of string properties plus an opaque body.
type Message struct {
	Properties map[string]string `json:"properties,omitempty"`
	Body       []byte            `json:"body,omitempty"`
}

// Property returns the named property, or "".
func (m *Message) Property(name string) string {
	return m.Properties[name]
}

// Set sets a property, allocating the map if needed.
func (m *Message) Set(name, value string) *Message {
	if m.Properties == nil {
		m.Properties = make(map[string]string)
	}
	m.Properties[name] = value
	return m
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	return &Message{
		Properties: maps.Clone(m.Properties),
		Body:       append([]byte(nil), m.Body...),
	}
}

// Handler receives the messages of one subscription, one at a time and in
// the order they were published.
type Handler func(ctx context.Context, msg *Message)

// Subscription is an active subscription.
type Subscription interface {
	// Unsubscribe stops deliveries. Calling it again does nothing.
	Unsubscribe() error
}

// Bus publishes messages to topics and delivers them to every subscriber of
// that topic.
type Bus interface {
	Publish(ctx context.Context, topic *url.URL, msg *Message) error
	Subscribe(topic *url.URL, h Handler) (Subscription, error)
	Close() error
}

// ErrClosed is returned by a Bus after Close.
var ErrClosed = rpcerr.New(rpcerr.KindUnavailable, "bus", "closed")

// TopicName maps a topic URL to a broker topic name: the path without its
// outer slashes, inner slashes replaced by dots.
func TopicName(topic *url.URL) (string, error) {
	if topic == nil {
		return "", rpcerr.New(rpcerr.KindArgument, "bus", "topic is nil")
	}
	name := strings.ReplaceAll(strings.Trim(topic.Path, "/"), "/", ".")
	if name == "" {
		return "", rpcerr.New(rpcerr.KindArgument, "bus", "topic %q has no path", topic)
	}
	return name, nil
}

// marshal wraps properties and body into one payload for brokers that only
// carry bytes.
func marshal(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func unmarshal(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindDecode, "bus", err)
	}
	return &msg, nil
}
