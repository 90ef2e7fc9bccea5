package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
	"github.com/adimov-eth/vibecheck-sub001/pkg/wsx"
)

// Connection defaults. Auth-class failures back off exponentially and give
// up after MaxReconnectAttempts; network-class failures retry forever at the
// fixed network interval.
const (
	DefaultBackoffBase          = time.Second
	DefaultBackoffCap           = 30 * time.Second
	DefaultNetworkRetry         = 60 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultKeepAliveInterval    = 20 * time.Second
	DefaultInactivityThreshold  = 75 * time.Second
)

// ErrConnectionClosed reports use after Close.
var ErrConnectionClosed = errors.New("connection closed")

type ConnConfig struct {
	URL                  string
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	NetworkRetryInterval time.Duration
	MaxReconnectAttempts int
	KeepAliveInterval    time.Duration
	InactivityThreshold  time.Duration
}

func (cfg *ConnConfig) applyDefaults() {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.NetworkRetryInterval <= 0 {
		cfg.NetworkRetryInterval = DefaultNetworkRetry
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = DefaultInactivityThreshold
	}
}

// errorClass distinguishes reconnect policies.
type errorClass int

const (
	classNetwork errorClass = iota
	classAuth
)

// Connection owns the single logical duplex channel for the process. It runs
// the two-phase handshake (transport open, then an authenticate frame),
// replays topic subscriptions and drains the outbox after every
// authenticated transition, and drives backoff reconnection.
//
// Exactly one Connection exists per process; every consumer shares it by
// reference. Each socket carries its own costly handshake and the server
// counts connections, so this is a correctness requirement, not a tuning
// choice.
type Connection struct {
	cfg        ConnConfig
	dialer     wsx.Dialer
	creds      *CredentialService
	queue      *OutboundQueue
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu             sync.Mutex
	state          domain.ConnState
	conn           wsx.Conn
	gen            int // bumped on every teardown; stale goroutines check it
	authAttempts   int // auth-class failures only; network retries are unlimited
	lastInbound    time.Time
	lastErr        error
	reconnectTimer *time.Timer
	stopKeepAlive  chan struct{}
	closed         bool
	stateListeners []func(domain.ConnState)
}

// NewConnection wires the state machine to its collaborators. The credential
// service and outbox are constructed first and passed in; no component
// references another before it exists.
func NewConnection(
	cfg ConnConfig,
	dialer wsx.Dialer,
	creds *CredentialService,
	queue *OutboundQueue,
	registry *Registry,
	dispatcher *Dispatcher,
	logger *slog.Logger,
) *Connection {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		cfg:        cfg,
		dialer:     dialer,
		creds:      creds,
		queue:      queue,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		state:      domain.StateDisconnected,
	}
	dispatcher.BindControl(c)
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the failure behind the most recent non-connected state.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnStateChange registers a listener for lifecycle transitions. Consumers
// use this to fall back to polling when the connection stays down.
func (c *Connection) OnStateChange(fn func(domain.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
}

// Connect opens the transport and runs the authentication handshake. It is a
// no-op while a connection attempt, open channel, or scheduled reconnect is
// already in progress.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.state.Live() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// Reconnect cancels any pending backoff timer, resets the attempt counter,
// and dials immediately. This is the "tap to reconnect" path out of the
// failed state.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.cancelReconnectTimerLocked()
	c.teardownLocked()
	c.authAttempts = 0
	c.setStateLocked(domain.StateDisconnected)
	notify := c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)

	return c.dial(ctx)
}

// Close shuts the connection down for good.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelReconnectTimerLocked()
	c.teardownLocked()
	c.setStateLocked(domain.StateDisconnected)
	notify := c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)
	return nil
}

// Send transmits a frame immediately when authenticated; otherwise the frame
// goes to the durable outbox and a connection attempt is triggered
// opportunistically.
func (c *Connection) Send(ctx context.Context, frame domain.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	authenticated := c.state == domain.StateAuthenticated
	conn := c.conn
	c.mu.Unlock()

	if authenticated && conn != nil {
		if err := c.writeFrame(conn, frame); err == nil {
			return nil
		}
		// The write failed; the read loop will notice the dead transport.
		// Fall through and queue so the frame is not lost.
	}

	if err := c.queue.Enqueue(ctx, frame); err != nil {
		return err
	}

	c.mu.Lock()
	idle := !c.state.Live() && !c.closed
	c.mu.Unlock()
	if idle {
		go func() {
			if err := c.Connect(context.WithoutCancel(ctx)); err != nil {
				c.logger.Debug("opportunistic connect failed", "error", err)
			}
		}()
	}
	return nil
}

// Subscribe records a consumer's interest in a topic. The wire subscribe is
// sent right away when the channel is authenticated and the topic is newly
// held; otherwise the registry replays it on the next authenticated
// transition.
func (c *Connection) Subscribe(ctx context.Context, consumer, topic string) {
	first := c.registry.Add(consumer, topic)

	c.mu.Lock()
	authenticated := c.state == domain.StateAuthenticated
	conn := c.conn
	c.mu.Unlock()

	if first && authenticated && conn != nil {
		if err := c.writeFrame(conn, domain.SubscribeFrame(topic)); err != nil {
			c.logger.Warn("subscribe frame failed", "topic", topic, "error", err)
		}
	}
}

// Unsubscribe releases a consumer's interest. The wire unsubscribe only goes
// out when the last holder releases the topic, so one consumer cannot tear
// down a subscription another still wants.
func (c *Connection) Unsubscribe(ctx context.Context, consumer, topic string) {
	last := c.registry.Remove(consumer, topic)

	c.mu.Lock()
	authenticated := c.state == domain.StateAuthenticated
	conn := c.conn
	c.mu.Unlock()

	if last && authenticated && conn != nil {
		if err := c.writeFrame(conn, domain.UnsubscribeFrame(topic)); err != nil {
			c.logger.Warn("unsubscribe frame failed", "topic", topic, "error", err)
		}
	}
}

// IsSubscribed reports whether any consumer holds the topic.
func (c *Connection) IsSubscribed(topic string) bool {
	return c.registry.IsSubscribed(topic)
}

// dial opens the transport and performs the application-level handshake.
func (c *Connection) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state.Live() {
		c.mu.Unlock()
		return nil
	}
	c.cancelReconnectTimerLocked()
	c.setStateLocked(domain.StateConnecting)
	gen := c.gen
	notify := c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.logger.Warn("transport dial failed", "error", err)
		c.dropAndReschedule(gen, classNetwork, fmt.Errorf("%w: %v", ErrNetwork, err))
		return err
	}

	stop := make(chan struct{})
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.stopKeepAlive = stop
	c.lastInbound = time.Now()
	c.setStateLocked(domain.StateConnected)
	notify = c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)

	go c.readLoop(gen, conn)
	go c.keepAliveLoop(gen, stop)

	// Phase two: the transport handshake carries no credentials, so prove
	// identity with an authenticate frame before anything else.
	cred, err := c.creds.Token(ctx, false)
	if err != nil {
		class := classNetwork
		if SessionEnded(err) {
			class = classAuth
		}
		c.logger.Warn("handshake token fetch failed", "error", err)
		c.dropAndReschedule(gen, class, err)
		return err
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(domain.StateAuthenticating)
	notify = c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)

	if err := c.writeFrame(conn, domain.AuthenticateFrame(cred.Raw)); err != nil {
		c.logger.Warn("authenticate frame failed", "error", err)
		c.dropAndReschedule(gen, classNetwork, fmt.Errorf("%w: %v", ErrNetwork, err))
		return err
	}

	return nil
}

// readLoop pumps inbound frames into the dispatcher until the transport dies.
func (c *Connection) readLoop(gen int, conn wsx.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.dropAndReschedule(gen, classNetwork, fmt.Errorf("%w: %v", ErrNetwork, err))
			return
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.lastInbound = time.Now()
		c.mu.Unlock()

		c.dispatcher.Dispatch(data)
	}
}

// keepAliveLoop pings while authenticated and force-reconnects a transport
// that has gone silent past the inactivity threshold. Silently-dead mobile
// connections often never deliver a close event.
func (c *Connection) keepAliveLoop(gen int, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		state := c.state
		conn := c.conn
		idle := time.Since(c.lastInbound)
		c.mu.Unlock()

		if state != domain.StateAuthenticated {
			continue
		}

		if idle > c.cfg.InactivityThreshold {
			c.logger.Warn("connection silent past inactivity threshold", "idle", idle)
			c.dropAndReschedule(gen, classNetwork, fmt.Errorf("%w: inactivity timeout", ErrNetwork))
			return
		}

		if err := c.writeFrame(conn, domain.PingFrame(idx.New().String())); err != nil {
			c.logger.Debug("keep-alive ping failed", "error", err)
		}
	}
}

// HandlePing implements ControlHooks: answer a server probe with a pong
// echoing the same id.
func (c *Connection) HandlePing(id string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := c.writeFrame(conn, domain.PongFrame(id)); err != nil {
		c.logger.Debug("pong failed", "error", err)
	}
}

// HandleAuthSuccess implements ControlHooks: enter the authenticated state,
// replay every held topic, then drain the outbox exactly once.
func (c *Connection) HandleAuthSuccess() {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.authAttempts = 0
	c.lastErr = nil
	c.setStateLocked(domain.StateAuthenticated)
	notify := c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)

	c.logger.Info("connection authenticated")

	for _, topic := range c.registry.Topics() {
		if err := c.writeFrame(conn, domain.SubscribeFrame(topic)); err != nil {
			c.logger.Warn("subscription replay failed", "topic", topic, "error", err)
			return
		}
	}

	if _, err := c.queue.Drain(context.Background(), func(m domain.OutboundMessage) error {
		return c.writeFrame(conn, m.Frame)
	}); err != nil {
		c.logger.Warn("outbox drain incomplete", "error", err)
	}
}

// HandleAuthRejected implements ControlHooks: the server refused our
// credential. Drop it so the next handshake refreshes, then reconnect on the
// auth-class backoff curve.
func (c *Connection) HandleAuthRejected(frameType string) {
	c.logger.Warn("server rejected authentication", "frame", frameType)
	c.creds.Invalidate(context.Background())

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.dropAndReschedule(gen, classAuth, fmt.Errorf("%w: %s", ErrAuthInvalid, frameType))
}

// dropAndReschedule tears down the current transport (if gen is still
// current) and schedules the next attempt per the failure class.
func (c *Connection) dropAndReschedule(gen int, class errorClass, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.setStateLocked(domain.StateDisconnected)
	c.scheduleReconnectLocked(class, cause)
	notify := c.notifySnapshotLocked()
	c.mu.Unlock()
	c.fire(notify)
}

// scheduleReconnectLocked arms the retry timer. Auth-class failures burn
// through the attempt budget and park in failed until a manual Reconnect;
// network-class retries are unlimited and never touch that budget.
func (c *Connection) scheduleReconnectLocked(class errorClass, cause error) {
	c.lastErr = cause

	var delay time.Duration
	switch class {
	case classAuth:
		if c.authAttempts >= c.cfg.MaxReconnectAttempts {
			c.logger.Error("reconnect attempts exhausted", "attempts", c.authAttempts, "error", cause)
			c.setStateLocked(domain.StateFailed)
			return
		}
		delay = jitter(backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffCap, c.authAttempts))
		c.authAttempts++
	default:
		delay = jitter(c.cfg.NetworkRetryInterval)
	}

	c.setStateLocked(domain.StateReconnecting)
	c.logger.Info("reconnect scheduled", "attempt", c.authAttempts, "delay", delay, "error", cause)

	// Stop cannot cancel a callback that has already fired and is waiting on
	// the mutex, so the callback re-validates the generation and state: a
	// manual Reconnect or Close that won the lock first makes it a no-op.
	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || gen != c.gen || c.state != domain.StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.setStateLocked(domain.StateDisconnected)
		notify := c.notifySnapshotLocked()
		c.mu.Unlock()
		c.fire(notify)

		if err := c.dial(context.Background()); err != nil {
			c.logger.Debug("scheduled reconnect failed", "error", err)
		}
	})
}

// teardownLocked invalidates the current transport generation. Callers hold mu.
func (c *Connection) teardownLocked() {
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.stopKeepAlive != nil {
		close(c.stopKeepAlive)
		c.stopKeepAlive = nil
	}
}

func (c *Connection) cancelReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Connection) setStateLocked(st domain.ConnState) {
	c.state = st
}

// notifySnapshotLocked captures the listeners and state for firing outside
// the lock.
func (c *Connection) notifySnapshotLocked() func() {
	st := c.state
	listeners := make([]func(domain.ConnState), len(c.stateListeners))
	copy(listeners, c.stateListeners)
	return func() {
		for _, fn := range listeners {
			fn(st)
		}
	}
}

func (c *Connection) fire(notify func()) {
	if notify != nil {
		notify()
	}
}

func (c *Connection) writeFrame(conn wsx.Conn, frame domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}
