// Package ws is the websocket transport for the realtime channel,
// framing each event as one JSON text message.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nhle/mailboxd/internal/channel"
)

// Transport dials websocket connections to the realtime service.
type Transport struct {
	url    string
	dialer *websocket.Dialer
}

// New creates a Transport for the given websocket URL.
func New(url string) *Transport {
	return &Transport{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

// Dial connects and authenticates with a bearer token. An HTTP 401/403
// response is classified as an *channel.AuthError so the manager stops
// retrying; everything else is retryable.
func (t *Transport) Dial(
	ctx context.Context, account string, creds channel.Credentials,
) (channel.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)
	header.Set("X-Account-Identity", account)

	ws, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden) {
			return nil, &channel.AuthError{
				Account: account,
				Message: fmt.Sprintf("handshake rejected (%d)", resp.StatusCode),
			}
		}
		return nil, fmt.Errorf("dialing %s: %w", t.url, err)
	}

	return &conn{ws: ws, account: account}, nil
}

// conn wraps one websocket connection. Reads are single-goroutine by
// construction (the manager's read loop); writes are serialized here
// because Send may be called from any goroutine.
type conn struct {
	ws      *websocket.Conn
	account string
	writeMu sync.Mutex
}

func (c *conn) Send(env channel.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("writing %s event: %w", env.Name, err)
	}
	return nil
}

func (c *conn) Receive() (channel.Envelope, error) {
	var env channel.Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		// A policy-violation close is the server revoking the session.
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			return channel.Envelope{}, &channel.AuthError{
				Account: c.account,
				Message: "session revoked by server",
			}
		}
		return channel.Envelope{}, fmt.Errorf("reading event: %w", err)
	}
	return env, nil
}

func (c *conn) Close() error {
	return c.ws.Close()
}
