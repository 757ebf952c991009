// Package testutil holds shared fakes and fixtures for engine tests:
// an in-memory channel transport and an in-memory session store.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nhle/mailboxd/internal/channel"
)

// ErrDropped is the transport failure a dropped FakeConn reports.
var ErrDropped = errors.New("testutil: connection dropped")

// FakeConn is a scriptable in-memory channel connection. Tests push
// inbound events with Deliver and inspect outbound traffic with Sent.
type FakeConn struct {
	in     chan channel.Envelope
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    []channel.Envelope
	failErr error
}

// NewFakeConn creates a connected FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		in:     make(chan channel.Envelope, 32),
		closed: make(chan struct{}),
	}
}

// Send records an outbound envelope.
func (c *FakeConn) Send(env channel.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

// Receive blocks until an event is delivered or the connection drops.
func (c *FakeConn) Receive() (channel.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		c.mu.Lock()
		err := c.failErr
		c.mu.Unlock()
		if err == nil {
			err = ErrDropped
		}
		return channel.Envelope{}, err
	}
}

// Close tears the connection down.
func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Drop simulates an unexpected transport failure with the given error.
func (c *FakeConn) Drop(err error) {
	c.mu.Lock()
	c.failErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
}

// Deliver pushes one inbound event to the client.
func (c *FakeConn) Deliver(t *testing.T, name channel.EventName, payload any) {
	t.Helper()
	env, err := channel.NewEnvelope(name, payload)
	if err != nil {
		t.Fatalf("encoding %s event: %v", name, err)
	}
	c.in <- env
}

// Sent returns a copy of all envelopes sent so far.
func (c *FakeConn) Sent() []channel.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentNamed returns the envelopes sent for one event name.
func (c *FakeConn) SentNamed(name channel.EventName) []channel.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []channel.Envelope
	for _, env := range c.sent {
		if env.Name == name {
			out = append(out, env)
		}
	}
	return out
}

// FakeTransport hands out FakeConns, optionally failing dials from a
// scripted error queue (a nil entry is a successful dial).
type FakeTransport struct {
	mu       sync.Mutex
	dialErrs []error
	conns    []*FakeConn
	dials    int
}

// Dial implements channel.Transport.
func (t *FakeTransport) Dial(
	_ context.Context, _ string, _ channel.Credentials,
) (channel.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++
	if len(t.dialErrs) > 0 {
		err := t.dialErrs[0]
		t.dialErrs = t.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	c := NewFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

// QueueDialErrs scripts the outcome of upcoming dials.
func (t *FakeTransport) QueueDialErrs(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErrs = append(t.dialErrs, errs...)
}

// DialCount returns how many dials have been attempted.
func (t *FakeTransport) DialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Conn returns the i-th connection handed out.
func (t *FakeTransport) Conn(i int) *FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}
