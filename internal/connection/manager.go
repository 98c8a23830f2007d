package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/ordersync/internal/auth"
	"github.com/rickgao/ordersync/internal/listener"
	"github.com/rickgao/ordersync/internal/metrics"
	"github.com/rickgao/ordersync/internal/model"
)

// Manager owns the process-wide realtime channel.
type Manager interface {
	// Initialize reads the stored credential and connects if it is well formed.
	// Concurrent calls share one attempt. Connection failures are handled
	// internally; only credential store errors are returned.
	Initialize(ctx context.Context) error

	// Connect replaces any existing transport with a new one authenticated by
	// token and waits for the handshake outcome.
	Connect(ctx context.Context, token string) error

	// Emit sends an event if connected and drops it otherwise. Never blocks
	// beyond the transport write deadline and never panics.
	Emit(event string, payload any)

	// Disconnect tears down the channel and cancels pending retries.
	Disconnect()

	// ResetAttempts clears the reconnect counter (re-login path).
	ResetAttempts()

	// Subscribe registers h for event; the registration survives reconnects.
	Subscribe(event string, h listener.Handler) listener.ID

	// Unsubscribe removes a registration. Unknown IDs are ignored.
	Unsubscribe(event string, id listener.ID)

	// OnStateChange registers fn for state transitions and returns a function
	// that removes it.
	OnStateChange(fn func(State)) (cancel func())

	// State returns the current lifecycle state.
	State() State

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// connState holds one transport attempt.
type connState struct {
	id     int64 // generation; stale callbacks compare against manager.gen
	client Client
	table  *listener.Table
	cancel context.CancelFunc // aborts an in-flight dial
	timer  *time.Timer        // connect timeout

	done chan struct{} // closed on teardown

	settled chan struct{} // closed once the handshake outcome is known
	once    sync.Once
	result  error
}

func (c *connState) settle(err error) {
	c.once.Do(func() {
		c.result = err
		close(c.settled)
	})
}

type stateObserver struct {
	id int
	fn func(State)
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	store     auth.CredentialStore
	registry  *listener.Registry
	newClient ClientFactory
	logger    *slog.Logger
	sessionID string

	initGroup singleflight.Group

	mu          sync.Mutex
	state       State
	conn        *connState
	gen         int64
	token       string
	role        string
	attempts    int
	gaveUp      bool
	stopped     bool   // Disconnect called; no automatic retries
	retryEpoch  uint64 // bumped by Disconnect and Connect; armed retries compare against it
	retryTimer  *time.Timer
	connectedAt time.Time
	observers   []stateObserver
	nextObs     int

	dropped  atomic.Int64
	received atomic.Int64
}

// Option configures a Manager.
type Option func(*manager)

// WithClientFactory overrides how transports are built.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) {
		m.newClient = f
	}
}

// WithRegistry shares an existing Listener Registry.
func WithRegistry(r *listener.Registry) Option {
	return func(m *manager) {
		m.registry = r
	}
}

// NewManager creates a Connection Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, store auth.CredentialStore, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:       cfg,
		store:     store,
		newClient: NewClient,
		logger:    logger,
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = listener.NewRegistry(logger)
	}

	return m
}

// Initialize reads the stored credential and connects. Concurrent calls share
// one attempt, which is not cancelled when any one caller gives up.
func (m *manager) Initialize(ctx context.Context) error {
	ch := m.initGroup.DoChan("initialize", func() (any, error) {
		return nil, m.initialize(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("initialize coalesced with in-flight call")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	creds, err := m.store.Load(ctx)
	if errors.Is(err, auth.ErrNoCredentials) {
		m.logger.Debug("no stored credentials, realtime not started")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !creds.Valid() {
		m.logger.Info("stored token is malformed, realtime not started")
		return nil
	}

	m.mu.Lock()
	m.role = creds.User.Role
	m.mu.Unlock()

	if err := m.Connect(ctx, creds.Token); err != nil {
		m.logger.Warn("realtime connect failed", "error", err)
	}
	return nil
}

// Connect opens a new transport, replays listeners onto it, sends the
// handshake and waits for the server's verdict.
func (m *manager) Connect(ctx context.Context, token string) error {
	return m.connect(ctx, token, false, 0)
}

// connect does the work of Connect. A scheduled retry passes retry=true with
// the epoch it was armed under and is abandoned if Disconnect or an explicit
// Connect happened since.
func (m *manager) connect(ctx context.Context, token string, retry bool, epoch uint64) error {
	if !auth.ValidTokenShape(token) {
		return ErrInvalidCredential
	}

	m.mu.Lock()
	if retry {
		if m.stopped || m.retryEpoch != epoch {
			m.mu.Unlock()
			return ErrSuperseded
		}
	} else {
		m.stopped = false
		m.retryEpoch++
	}
	old := m.detachLocked()
	m.stopRetryLocked()
	m.gen++
	cs := &connState{
		id:      m.gen,
		table:   listener.NewTable(m.logger),
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
	m.conn = cs
	m.token = token
	role := m.role
	if role == "" {
		role = m.cfg.Role
	}

	clientCfg := m.cfg.Client
	clientCfg.URL = m.cfg.WSURL
	clientCfg.Header = auth.Credentials{Token: token}.Header()
	cs.client = m.newClient(clientCfg, m.logger.With("conn_gen", cs.id))

	dialCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel
	obs := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.closeConn(old)
	m.fire(obs, StateConnecting)

	m.logger.Info("connecting realtime channel", "url", m.cfg.WSURL, "attempt", cs.id)

	if err := cs.client.Connect(dialCtx); err != nil {
		m.fail(cs.id, err)
		return err
	}

	m.mu.Lock()
	if m.conn != cs {
		m.mu.Unlock()
		return ErrSuperseded
	}
	replayed := m.registry.Attach(cs.table)
	if m.cfg.ConnectTimeout > 0 {
		cs.timer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
			m.fail(cs.id, ErrConnectTimeout)
		})
	}
	m.mu.Unlock()

	m.logger.Debug("replayed listeners onto transport", "count", replayed)

	go m.readLoop(cs)

	if err := m.sendHandshake(cs, token, role); err != nil {
		m.fail(cs.id, err)
		return err
	}

	select {
	case <-cs.settled:
		return cs.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) sendHandshake(cs *connState, token, role string) error {
	data, err := json.Marshal(HandshakeAuth{Token: token, Role: role, SessionID: m.sessionID})
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	frame, err := json.Marshal(Envelope{Event: EventConnect, Data: data})
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	return cs.client.Send(frame)
}

// Emit sends event with payload if connected.
func (m *manager) Emit(event string, payload any) {
	if event == "" {
		m.drop(event, "empty_event")
		return
	}

	m.mu.Lock()
	var client Client
	if m.state == StateConnected && m.conn != nil {
		client = m.conn.client
	}
	m.mu.Unlock()

	if client == nil {
		m.logger.Debug("not connected, dropping emit", "event", event)
		m.drop(event, "not_connected")
		return
	}

	data, err := encodePayload(payload)
	if err != nil {
		m.logger.Error("failed to serialize emit payload", "event", event, "error", err)
		m.drop(event, "serialization")
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		m.logger.Error("failed to serialize emit frame", "event", event, "error", err)
		m.drop(event, "serialization")
		return
	}

	if err := client.Send(frame); err != nil {
		m.logger.Warn("emit failed", "event", event, "error", err)
		m.drop(event, "send_failed")
	}
}

func (m *manager) drop(event, reason string) {
	m.dropped.Add(1)
	metrics.EmitsDropped.WithLabelValues(reason).Inc()
}

// encodePayload marshals payload. Strings always go out as JSON strings;
// json.RawMessage and []byte are treated as already serialized.
func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("raw payload is not valid JSON")
		}
		return v, nil
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v), nil
		}
		return json.Marshal(string(v))
	default:
		return json.Marshal(v)
	}
}

// Disconnect tears down the channel. No retries happen until the next
// Initialize or Connect.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.retryEpoch++
	m.stopRetryLocked()
	cs := m.detachLocked()
	obs := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.closeConn(cs)
	m.fire(obs, StateDisconnected)

	m.logger.Info("realtime channel disconnected")
}

// ResetAttempts clears the reconnect counter.
func (m *manager) ResetAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.gaveUp = false
}

// Subscribe registers h for event.
func (m *manager) Subscribe(event string, h listener.Handler) listener.ID {
	return m.registry.Subscribe(event, h)
}

// Unsubscribe removes a registration.
func (m *manager) Unsubscribe(event string, id listener.ID) {
	m.registry.Unsubscribe(event, id)
}

// OnStateChange registers a state observer.
func (m *manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers = append(m.observers, stateObserver{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		GaveUp:            m.gaveUp,
		DroppedEmits:      m.dropped.Load(),
		EventsReceived:    m.received.Load(),
		Listeners:         m.registry.Len(),
		ConnectedSince:    m.connectedAt,
	}
}

// readLoop consumes frames from one transport, in order, until it is torn down.
func (m *manager) readLoop(cs *connState) {
	for {
		select {
		case <-cs.done:
			return
		case err := <-cs.client.Errors():
			m.logger.Warn("realtime transport error", "error", err)
			m.fail(cs.id, err)
			return
		case msg := <-cs.client.Messages():
			m.handleFrame(cs, msg)
		}
	}
}

// handleFrame processes a single inbound frame.
func (m *manager) handleFrame(cs *connState, msg TimestampedMessage) {
	select {
	case <-cs.done:
		return
	default:
	}

	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Event == "" {
		m.logger.Warn("dropping malformed frame", "error", err, "len", len(msg.Data))
		return
	}

	switch env.Event {
	case EventConnect:
		var ack ConnectAck
		_ = json.Unmarshal(env.Data, &ack)
		m.onConnected(cs, ack.SID)

	case EventConnectError:
		var ce ConnectErrorMsg
		_ = json.Unmarshal(env.Data, &ce)
		err := fmt.Errorf("connect_error: %s", ce.Message)
		if isAuthMessage(ce.Message) {
			err = fmt.Errorf("%w: %s", ErrAuth, ce.Message)
		}
		m.fail(cs.id, err)

	case EventDisconnect:
		var d DisconnectMsg
		_ = json.Unmarshal(env.Data, &d)
		m.fail(cs.id, fmt.Errorf("%w: %s", ErrServerDisconnect, d.Reason))

	default:
		m.received.Add(1)
		metrics.EventsReceived.WithLabelValues(eventLabel(env.Event)).Inc()
		if n := cs.table.Dispatch(env.Event, env.Data); n == 0 {
			m.logger.Debug("no listeners for event", "event", env.Event)
		}
	}
}

func (m *manager) onConnected(cs *connState, sid string) {
	m.mu.Lock()
	if m.conn != cs || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	if cs.timer != nil {
		cs.timer.Stop()
	}
	m.attempts = 0
	m.gaveUp = false
	m.connectedAt = time.Now()
	obs := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	cs.settle(nil)
	m.fire(obs, StateConnected)

	m.logger.Info("realtime channel connected", "sid", sid)
}

// fail handles any error on transport gen: auth errors are terminal, the rest
// schedule a retry while attempts remain.
func (m *manager) fail(gen int64, err error) {
	m.mu.Lock()
	cs := m.conn
	if cs == nil || cs.id != gen {
		m.mu.Unlock()
		return
	}
	m.detachLocked()

	authErr := errors.Is(err, ErrAuth)
	var next State
	if authErr {
		m.token = ""
		next = StateAuthFailed
	} else {
		next = StateDisconnected
		m.scheduleRetryLocked(err)
	}
	obs := m.setStateLocked(next)
	m.mu.Unlock()

	if authErr {
		metrics.AuthFailures.Inc()
		m.logger.Warn("realtime authentication rejected, clearing stored credential", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if cerr := m.store.Clear(ctx); cerr != nil {
			m.logger.Error("failed to clear stored credential", "error", cerr)
		}
		cancel()
	}

	// The credential is gone before any waiter in Connect observes err.
	cs.settle(err)
	m.closeConn(cs)

	m.fire(obs, next)
}

// scheduleRetryLocked arms the next reconnect, or gives up once the attempt
// budget is spent. Caller must hold m.mu.
func (m *manager) scheduleRetryLocked(cause error) {
	if m.stopped {
		return
	}

	m.attempts++
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.gaveUp = true
		m.logger.Warn("realtime reconnection attempts exhausted, continuing without realtime",
			"attempts", m.attempts,
			"error", cause,
		)
		return
	}

	wait := m.backoff(m.attempts - 1)
	m.logger.Info("scheduling reconnection",
		"attempt", m.attempts,
		"wait", wait,
		"error", cause,
	)
	metrics.ReconnectAttempts.Inc()

	epoch := m.retryEpoch
	m.retryTimer = time.AfterFunc(wait, func() { m.retry(epoch) })
}

// backoff returns base * 2^n capped at the max wait.
func (m *manager) backoff(n int) time.Duration {
	wait := m.cfg.ReconnectBaseWait
	for i := 0; i < n; i++ {
		wait *= 2
		if wait >= m.cfg.ReconnectMaxWait {
			return m.cfg.ReconnectMaxWait
		}
	}
	if wait > m.cfg.ReconnectMaxWait {
		wait = m.cfg.ReconnectMaxWait
	}
	return wait
}

func (m *manager) retry(epoch uint64) {
	m.mu.Lock()
	if m.stopped || m.retryEpoch != epoch || m.conn != nil || m.token == "" || m.state == StateAuthFailed {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	token := m.token
	m.mu.Unlock()

	if err := m.connect(context.Background(), token, true, epoch); err != nil {
		m.logger.Debug("reconnection attempt failed", "error", err)
	}
}

func (m *manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// detachLocked unlinks the current transport. The caller closes it with
// closeConn after releasing m.mu.
func (m *manager) detachLocked() *connState {
	cs := m.conn
	if cs == nil {
		return nil
	}
	m.conn = nil
	if cs.timer != nil {
		cs.timer.Stop()
	}
	if cs.cancel != nil {
		cs.cancel()
	}
	close(cs.done)
	m.registry.Detach(cs.table)
	m.connectedAt = time.Time{}
	return cs
}

func (m *manager) closeConn(cs *connState) {
	if cs == nil {
		return
	}
	cs.settle(ErrSuperseded)
	if cs.client != nil {
		cs.client.Close()
	}
}

// setStateLocked records s and returns the observers to notify, or nil if
// the state did not change. Caller must hold m.mu.
func (m *manager) setStateLocked(s State) []stateObserver {
	if m.state == s {
		return nil
	}
	m.logger.Debug("realtime state change", "from", m.state, "to", s)
	m.state = s
	metrics.ConnectionState.Set(float64(s))

	obs := make([]stateObserver, len(m.observers))
	copy(obs, m.observers)
	return obs
}

func (m *manager) fire(obs []stateObserver, s State) {
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("state observer panicked", "panic", r)
				}
			}()
			o.fn(s)
		}()
	}
}

// isAuthMessage classifies a connect_error message.
func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range []string{"auth", "token", "jwt", "unauthorized", "forbidden"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// eventLabel bounds metric label cardinality to the known event set.
func eventLabel(event string) string {
	if model.IsKnownEvent(event) {
		return event
	}
	return "other"
}
