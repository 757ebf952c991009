package channel

import "context"

// Credentials carries what a transport needs to authenticate a dial.
type Credentials struct {
	// Token is the bearer token presented to the realtime service.
	Token string
}

// Conn is a single established bidirectional connection to the
// realtime service.
type Conn interface {
	// Send writes one envelope. Queuing and backpressure are the
	// transport's concern.
	Send(env Envelope) error

	// Receive blocks until the next inbound envelope arrives or the
	// connection fails. A failed connection returns an error; an
	// *AuthError means the server revoked the session.
	Receive() (Envelope, error)

	// Close tears the connection down. Receive unblocks with an error.
	Close() error
}

// Transport dials connections to the realtime service. Dial returns an
// *AuthError when credentials are rejected; any other error is treated
// as retryable network flakiness.
type Transport interface {
	Dial(ctx context.Context, account string, creds Credentials) (Conn, error)
}
