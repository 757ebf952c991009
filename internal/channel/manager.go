// Package channel owns the lifecycle of the persistent realtime
// connection to the mailbox service: one live connection per process,
// reconnection with bounded exponential backoff, and a multiplexed
// registry that fans inbound named events out to independent
// subscribers.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the connection state of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reconnection policy defaults.
const (
	defaultMinBackoff       = 1 * time.Second
	defaultMaxBackoff       = 10 * time.Second
	defaultUnreachableAfter = 5
	dialTimeout             = 10 * time.Second
)

// Handler consumes one inbound envelope. Handlers run on the channel's
// read goroutine and must not block.
type Handler func(env Envelope)

// Subscription is the opaque token identifying one registered handler.
type Subscription struct {
	event EventName
	id    uuid.UUID
}

type subEntry struct {
	handle uuid.UUID
	fn     Handler
}

// Handle represents one opened channel session. Subscriptions are made
// through a handle so that closing it removes them all at once.
type Handle struct {
	id      uuid.UUID
	account string
	m       *Manager
}

// Account returns the account identity the handle was opened for.
func (h *Handle) Account() string { return h.account }

// Options configures a Manager. Transport is required; everything else
// has defaults.
type Options struct {
	Transport        Transport
	Logger           zerolog.Logger
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	UnreachableAfter int
}

// Manager maintains at most one live connection to the realtime
// service and dispatches inbound events to registered handlers.
// Switching accounts tears the previous connection down first.
type Manager struct {
	transport        Transport
	log              zerolog.Logger
	minBackoff       time.Duration
	maxBackoff       time.Duration
	unreachableAfter int

	// sleep is replaced in tests to observe backoff without waiting.
	sleep func(d time.Duration)

	mu            sync.Mutex
	state         State
	generation    int
	account       string
	creds         Credentials
	conn          Conn
	current       *Handle
	handlers      map[EventName]map[uuid.UUID]subEntry
	fatalFn       func(error)
	unreachableFn func(failures int)
}

// New creates a Manager in the disconnected state.
func New(opts Options) *Manager {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.UnreachableAfter <= 0 {
		opts.UnreachableAfter = defaultUnreachableAfter
	}

	return &Manager{
		transport:        opts.Transport,
		log:              opts.Logger,
		minBackoff:       opts.MinBackoff,
		maxBackoff:       opts.MaxBackoff,
		unreachableAfter: opts.UnreachableAfter,
		sleep:            time.Sleep,
		handlers:         make(map[EventName]map[uuid.UUID]subEntry),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetFatalHandler registers fn to be called when the channel gives up
// on a session because the service rejected its credentials.
func (m *Manager) SetFatalHandler(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fatalFn = fn
}

// SetUnreachableHandler registers fn to be called once per outage,
// after UnreachableAfter consecutive failed reconnect attempts.
// Retrying continues regardless.
func (m *Manager) SetUnreachableHandler(fn func(failures int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachableFn = fn
}

// Open establishes the channel for an account identity. It is
// idempotent: opening the same identity while its connection is live
// returns the existing handle. Opening a different identity replaces
// the current channel entirely. A credential rejection is returned as
// an *AuthError and leaves the manager disconnected; a network failure
// on the first dial is returned to the caller (the backoff policy
// covers drops of an established channel, not a channel that never
// came up).
func (m *Manager) Open(
	ctx context.Context, account string, creds Credentials,
) (*Handle, error) {
	m.mu.Lock()
	if m.current != nil && m.account == account && m.state != StateDisconnected {
		h := m.current
		m.mu.Unlock()
		return h, nil
	}

	m.teardownLocked()
	m.state = StateConnecting
	m.account = account
	m.creds = creds
	gen := m.generation
	m.mu.Unlock()

	m.log.Info().Str("account", account).Msg("opening channel")

	conn, err := m.transport.Dial(ctx, account, creds)
	if err != nil {
		m.mu.Lock()
		if gen == m.generation {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	if gen != m.generation {
		// A newer Open or Close superseded this dial.
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrNotConnected
	}
	m.conn = conn
	m.state = StateConnected
	h := &Handle{id: uuid.New(), account: account, m: m}
	m.current = h
	m.mu.Unlock()

	m.sendInit(conn, account)
	go m.run(gen, conn, account, creds)

	return h, nil
}

// Close tears down the handle's connection (if it is the live one) and
// removes every handler registration made through it.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	for name, subs := range m.handlers {
		for id, entry := range subs {
			if entry.handle == h.id {
				delete(subs, id)
			}
		}
		if len(subs) == 0 {
			delete(m.handlers, name)
		}
	}
	if m.current == h {
		m.teardownLocked()
	}
	m.mu.Unlock()
}

// On registers a handler for an inbound event. Registration is
// additive: independent subscribers for the same event never clobber
// each other. The returned token is passed to Off to deregister.
func (h *Handle) On(name EventName, fn Handler) Subscription {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handlers[name] == nil {
		m.handlers[name] = make(map[uuid.UUID]subEntry)
	}
	id := uuid.New()
	m.handlers[name][id] = subEntry{handle: h.id, fn: fn}
	return Subscription{event: name, id: id}
}

// Off removes a single handler registration.
func (h *Handle) Off(sub Subscription) {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.handlers[sub.event]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(m.handlers, sub.event)
	}
}

// Send publishes one outbound event toward the server, fire-and-forget.
// While disconnected it returns ErrNotConnected and the event is
// dropped; the caller re-issues the triggering operation after
// reconnect.
func (m *Manager) Send(name EventName, payload any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	env, err := NewEnvelope(name, payload)
	if err != nil {
		return err
	}
	return conn.Send(env)
}

// teardownLocked closes the live connection and invalidates the
// running session. Callers must hold m.mu.
func (m *Manager) teardownLocked() {
	m.generation++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.current = nil
	m.state = StateDisconnected
}

func (m *Manager) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) setState(gen int, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.state = s
	}
}

func (m *Manager) sendInit(conn Conn, account string) {
	env, err := NewEnvelope(EventInit, InitPayload{Account: account})
	if err == nil {
		err = conn.Send(env)
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("sending init event")
	}
}

// run owns one channel session: it reads until the transport drops,
// then reconnects with exponential backoff until the session is
// superseded or the service rejects the credentials.
func (m *Manager) run(gen int, conn Conn, account string, creds Credentials) {
	backoff := m.minBackoff

	for {
		err := m.readLoop(gen, conn)
		if !m.isCurrent(gen) {
			return
		}
		if IsAuthError(err) {
			m.failFatal(gen, err)
			return
		}

		m.setState(gen, StateDisconnected)
		m.log.Warn().Err(err).Str("account", account).
			Msg("channel dropped, reconnecting")

		failures := 0
		for {
			if !m.isCurrent(gen) {
				return
			}
			m.setState(gen, StateConnecting)
			m.sleep(backoff)
			if !m.isCurrent(gen) {
				return
			}

			dialCtx, cancel := context.WithTimeout(
				context.Background(), dialTimeout,
			)
			newConn, dialErr := m.transport.Dial(dialCtx, account, creds)
			cancel()

			if dialErr == nil {
				m.mu.Lock()
				if gen != m.generation {
					m.mu.Unlock()
					_ = newConn.Close()
					return
				}
				m.conn = newConn
				m.state = StateConnected
				m.mu.Unlock()

				backoff = m.minBackoff
				conn = newConn
				m.sendInit(newConn, account)
				m.log.Info().Str("account", account).Msg("channel reconnected")
				break
			}

			if IsAuthError(dialErr) {
				m.failFatal(gen, dialErr)
				return
			}

			failures++
			m.log.Warn().Err(dialErr).Int("failures", failures).
				Dur("backoff", backoff).Msg("reconnect attempt failed")

			if failures == m.unreachableAfter {
				m.mu.Lock()
				notify := m.unreachableFn
				m.mu.Unlock()
				if notify != nil {
					notify(failures)
				}
			}

			backoff *= 2
			if backoff > m.maxBackoff {
				backoff = m.maxBackoff
			}
		}
	}
}

// readLoop dispatches inbound envelopes until the connection fails or
// the session is superseded.
func (m *Manager) readLoop(gen int, conn Conn) error {
	for {
		env, err := conn.Receive()
		if err != nil {
			return err
		}
		if !m.isCurrent(gen) {
			return nil
		}
		m.dispatch(env)
	}
}

// dispatch fans one envelope out to the handlers registered for its
// event name. The handler set is snapshotted first so a handler may be
// removed mid-dispatch without invalidating the iteration.
func (m *Manager) dispatch(env Envelope) {
	m.mu.Lock()
	subs := m.handlers[env.Name]
	snapshot := make([]Handler, 0, len(subs))
	for _, entry := range subs {
		snapshot = append(snapshot, entry.fn)
	}
	m.mu.Unlock()

	for _, fn := range snapshot {
		fn(env)
	}
}

// failFatal marks the session dead and surfaces the auth error once.
func (m *Manager) failFatal(gen int, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	notify := m.fatalFn
	m.mu.Unlock()

	m.log.Error().Err(err).Msg("channel authentication rejected")
	if notify != nil {
		notify(err)
	}
}
