// Package realtime is a persistent websocket client with automatic
// reconnection, heartbeat, an outbound queue that survives disconnects,
// and isolated event dispatch.
//
// Example:
//
//	client, err := realtime.New(realtime.NewConfig("wss://example.com/ws"))
//	if err != nil {
//		return err
//	}
//	defer client.Destroy()
//
//	client.On("message.new", func(event string, data json.RawMessage) {
//		fmt.Println(event, string(data))
//	})
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	client.Send("conversation.join", map[string]string{"conversationId": "c-1"})
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Prismer-AI/realtime/internal/clock"
)

// Info is a point-in-time snapshot of a Client.
type Info struct {
	State             State     `json:"state"`
	Endpoint          string    `json:"endpoint"`
	Connected         bool      `json:"connected"`
	QueueSize         int       `json:"queueSize"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastPong          time.Time `json:"lastPong,omitempty"`
}

// StateHandler observes state transitions. It runs after the transition
// on the goroutine that caused it.
type StateHandler func(from, to State)

type stateChange struct {
	from, to State
}

type stateEntry struct {
	sub     *Subscription
	handler StateHandler
}

// connectAttempt is one in-flight transport open. Concurrent Connect
// callers share it.
type connectAttempt struct {
	gen    uint64
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (a *connectAttempt) finish(err error) error {
	a.err = err
	close(a.done)
	return err
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client is a websocket client with auto-reconnect and heartbeat.
//
// All connection state is guarded by mu. Every open, disconnect and
// destroy bumps generation; goroutines, heartbeat ticks and reconnect
// timers belonging to an older generation do nothing.
type Client struct {
	cfg        Config
	transport  Transport
	logger     Logger
	clock      clock.Clock
	metrics    *Metrics
	dispatcher *dispatcher

	mu               sync.Mutex
	state            State
	generation       uint64
	manualDisconnect bool
	destroyed        bool
	conn             Conn
	connCancel       context.CancelFunc
	wake             chan struct{}
	heartbeat        *heartbeat
	lastPong         time.Time
	recon            *reconnector
	reconnectTimer   *clock.Timer
	inflight         *connectAttempt
	queue            *outboundQueue
	writing          bool
	idle             []chan struct{}
	notes            []stateChange

	listenersMu sync.Mutex
	listeners   []stateEntry
	nextID      uint64
}

// New creates a Client. It does not connect; call Connect.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		transport: &NhooyrTransport{},
		logger:    NewSlogLogger(nil),
		clock:     clock.Real(),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.dispatcher = newDispatcher(c.logger, c.metrics)
	c.recon = newReconnector(cfg.Reconnect)
	c.queue = newOutboundQueue(cfg)
	c.metrics.setState(c.state)
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// ============================================================================
// Lifecycle
// ============================================================================

// Connect opens the connection. It returns nil once the transport is
// open, or an error wrapping ErrOpenFailed if this attempt fails.
// Background retries after a failure are not reported here.
//
// Connect on a connected client returns nil immediately. Connect while
// another attempt is in flight waits for that attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrClientDestroyed
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		attempt := c.inflight
		c.mu.Unlock()
		return attempt.wait(ctx)
	}

	c.manualDisconnect = false
	c.stopReconnectTimerLocked()
	c.recon.reset()
	attempt := c.beginOpenLocked(ctx)
	c.unlock()

	return c.open(attempt)
}

// Disconnect closes the connection with a normal closure and suppresses
// automatic reconnection until the next Connect. It cancels a pending
// reconnect timer and any in-flight open, and does not wait for the
// close handshake.
func (c *Client) Disconnect() {
	c.mu.Lock()
	prev, conn, cancel := c.disconnectLocked()
	c.unlock()

	c.finishDisconnect(prev, conn, cancel)
}

// disconnectLocked tears down the connection and any pending open.
func (c *Client) disconnectLocked() (State, Conn, context.CancelFunc) {
	c.manualDisconnect = true
	c.stopReconnectTimerLocked()
	if a := c.inflight; a != nil {
		a.cancel()
		c.inflight = nil
	}
	prev := c.state
	conn, cancel := c.detachLocked()
	if conn != nil {
		c.setStateLocked(StateDisconnecting)
	}
	c.setStateLocked(StateDisconnected)
	return prev, conn, cancel
}

func (c *Client) finishDisconnect(prev State, conn Conn, cancel context.CancelFunc) {
	if conn != nil {
		go c.closeConn(conn, cancel, StatusNormalClosure, "client disconnect")
	}
	if prev != StateDisconnected {
		c.logger.Info(CategoryConnection, "disconnected", "endpoint", c.cfg.Endpoint, "from", prev)
	}
}

// Destroy disconnects and clears all handlers and queued messages. The
// client cannot be used afterwards.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	prev, conn, cancel := c.disconnectLocked()
	c.destroyed = true
	discarded := c.queue.clear()
	c.notifyIdleLocked()
	c.metrics.queueDepth(0)
	c.unlock()

	c.finishDisconnect(prev, conn, cancel)

	c.dispatcher.clear()
	c.listenersMu.Lock()
	for _, e := range c.listeners {
		e.sub.removed.Store(true)
	}
	c.listeners = nil
	c.listenersMu.Unlock()

	c.logger.Info(CategoryConnection, "client destroyed", "endpoint", c.cfg.Endpoint, "discarded", discarded)
}

// beginOpenLocked moves to Connecting and registers a new attempt.
func (c *Client) beginOpenLocked(parent context.Context) *connectAttempt {
	c.generation++
	ctx, cancel := context.WithTimeout(parent, c.cfg.DialTimeout)
	a := &connectAttempt{
		gen:    c.generation,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.inflight = a
	c.setStateLocked(StateConnecting)
	return a
}

// open dials for attempt a and applies the outcome.
func (c *Client) open(a *connectAttempt) error {
	conn, err := c.transport.Dial(a.ctx, c.cfg.Endpoint, c.cfg.SubProtocols)
	a.cancel()

	c.mu.Lock()
	if c.inflight == a {
		c.inflight = nil
	}
	if a.gen != c.generation || c.destroyed {
		c.mu.Unlock()
		if err == nil {
			go c.closeConn(conn, nil, StatusNormalClosure, "connect aborted")
		}
		return a.finish(ErrConnectAborted)
	}

	if err != nil {
		c.logger.Warn(CategoryConnection, "open failed",
			"endpoint", c.cfg.Endpoint,
			"attempt", c.recon.attempt,
			"error", err)
		c.setStateLocked(StateError)
		if a.parent.Err() != nil {
			// Cancelled by the caller: no retry.
			c.setStateLocked(StateDisconnected)
		} else {
			c.afterDropLocked()
		}
		c.unlock()
		return a.finish(fmt.Errorf("%w: %w", ErrOpenFailed, err))
	}

	c.attachLocked(conn, a.gen)
	c.unlock()
	return a.finish(nil)
}

// attachLocked installs an open connection: Connected state, reader and
// writer goroutines, heartbeat, and a flush of the queue.
func (c *Client) attachLocked(conn Conn, gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCancel = cancel
	c.wake = make(chan struct{}, 1)
	c.recon.reset()
	c.setStateLocked(StateConnected)
	c.metrics.opened()
	c.logger.Info(CategoryConnection, "connected",
		"endpoint", c.cfg.Endpoint,
		"queued", c.queue.len())

	go c.readLoop(ctx, gen, conn)
	go c.writeLoop(ctx, gen, conn, c.wake)

	if c.cfg.HeartbeatInterval > 0 {
		c.heartbeat = newHeartbeat(c.cfg.HeartbeatInterval, c.cfg.PongTimeout, c.clock,
			func(now time.Time) { c.sendPing(gen, now) },
			func() { c.heartbeatExpired(gen) })
		c.heartbeat.start()
	}
	c.signalLocked()
}

// detachLocked retires the current connection, if any, and returns it
// for closing outside the lock.
func (c *Client) detachLocked() (Conn, context.CancelFunc) {
	c.generation++
	c.heartbeat.stop()
	c.heartbeat = nil
	c.queue.dropLiveness()
	conn, cancel := c.conn, c.connCancel
	c.conn, c.connCancel, c.wake = nil, nil, nil
	return conn, cancel
}

// dropConnection handles the loss of connection gen: the read side
// failed, or the heartbeat gave up on it.
func (c *Client) dropConnection(gen uint64, cause error, code StatusCode, reason string) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.logger.Warn(CategoryConnection, "connection lost", "endpoint", c.cfg.Endpoint, "error", cause)
	conn, cancel := c.detachLocked()
	c.setStateLocked(StateDisconnected)
	c.afterDropLocked()
	c.unlock()

	go c.closeConn(conn, cancel, code, reason)
}

func (c *Client) closeConn(conn Conn, cancel context.CancelFunc, code StatusCode, reason string) {
	if err := conn.Close(code, reason); err != nil {
		c.logger.Debug(CategoryConnection, "close", "code", int(code), "error", err)
	}
	if cancel != nil {
		cancel()
	}
}

// ============================================================================
// Reconnection
// ============================================================================

// afterDropLocked applies the reconnect policy after an unexpected close
// or a failed open.
func (c *Client) afterDropLocked() {
	if !c.cfg.ReconnectEnabled || c.manualDisconnect || c.destroyed {
		c.setStateLocked(StateDisconnected)
		return
	}
	if c.recon.exhausted() {
		c.setStateLocked(StateDisconnected)
		c.metrics.reconnectExhausted()
		c.logger.Error(CategoryReconnect, "giving up",
			"endpoint", c.cfg.Endpoint,
			"attempts", c.recon.attempt,
			"error", ErrReconnectExhausted)
		return
	}

	delay := c.recon.next()
	c.setStateLocked(StateReconnecting)
	c.metrics.reconnectScheduled()
	c.logger.Info(CategoryReconnect, "reconnect scheduled",
		"attempt", c.recon.attempt,
		"delay", delay)

	gen := c.generation
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
}

// reconnect runs a scheduled attempt unless the client moved on since
// it was scheduled.
func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.manualDisconnect || c.destroyed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.logger.Info(CategoryReconnect, "reconnecting", "attempt", c.recon.attempt)
	a := c.beginOpenLocked(context.Background())
	c.unlock()

	_ = c.open(a)
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// ============================================================================
// Reading
// ============================================================================

func (c *Client) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			c.dropConnection(gen, err, StatusGoingAway, "read failed")
			return
		}
		if !c.current(gen) {
			return
		}
		c.handleFrame(gen, frame)
	}
}

func (c *Client) handleFrame(gen uint64, frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		c.metrics.malformed()
		c.logger.Warn(CategoryDispatch, "dropping frame", "size", len(frame), "error", err)
		return
	}
	c.metrics.received(env.Event)

	switch env.Event {
	case EventPong:
		now := c.clock.Now()
		c.mu.Lock()
		hb := c.heartbeat
		if gen == c.generation {
			c.lastPong = now
		}
		c.mu.Unlock()
		hb.recordPong(now)
		c.logger.Debug(CategoryHeartbeat, "pong", "at", now)
		return
	case EventPing:
		c.sendLiveness(gen, EventPong, env.Data)
		return
	}

	c.dispatcher.dispatch(env)
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// ============================================================================
// Writing
// ============================================================================

// Send queues an event for delivery and returns without waiting for the
// network. Messages sent while disconnected are delivered in order once
// the connection opens. Send fails only for an empty or reserved event
// name, data that cannot be encoded, a full queue with the reject-new
// policy, or a destroyed client.
func (c *Client) Send(event string, data any) error {
	if event == "" || event == EventWildcard || isLiveness(event) {
		return fmt.Errorf("%w: %q", ErrReservedEvent, event)
	}
	now := c.clock.Now()
	frame, err := encodeEnvelope(event, data, now.UnixMilli())
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrClientDestroyed
	}
	dropped, err := c.queue.push(newQueuedMessage(event, frame, now))
	if err != nil {
		c.mu.Unlock()
		c.metrics.dropped("queue_full")
		c.logger.Warn(CategoryQueue, "message rejected", "event", event, "error", err)
		return err
	}
	depth := c.queue.len()
	connected := c.state == StateConnected
	if connected {
		c.signalLocked()
	}
	c.mu.Unlock()

	c.metrics.queueDepth(depth)
	if dropped != nil {
		c.dropMessage(dropped, "queue_overflow")
	}
	if !connected {
		c.logger.Debug(CategoryQueue, "queued while not connected", "event", event, "depth", depth)
	}
	return nil
}

func (c *Client) sendPing(gen uint64, now time.Time) {
	c.sendLiveness(gen, EventPing, HeartbeatPayload{Timestamp: now.UnixMilli()})
}

// sendLiveness queues a ping or pong for connection gen. Liveness frames
// are never kept for a later connection.
func (c *Client) sendLiveness(gen uint64, event string, data any) {
	now := c.clock.Now()
	frame, err := encodeEnvelope(event, data, now.UnixMilli())
	if err != nil {
		c.logger.Warn(CategoryHeartbeat, "encode failed", "event", event, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state != StateConnected {
		return
	}
	c.queue.items = append(c.queue.items, newQueuedMessage(event, frame, now))
	c.signalLocked()
}

func (c *Client) heartbeatExpired(gen uint64) {
	c.dropConnection(gen, ErrPongTimeout, StatusGoingAway, "heartbeat timeout")
}

func (c *Client) signalLocked() {
	if c.wake == nil {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// writeLoop is the only writer on conn. It drains the queue each time
// it is woken.
func (c *Client) writeLoop(ctx context.Context, gen uint64, conn Conn, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
		if !c.flush(ctx, gen, conn) {
			return
		}
	}
}

// flush writes queued messages in order until the queue is empty. It
// returns false once gen is no longer the current connection.
//
// A failed write ends the connection: the message is requeued with one
// more attempt counted and the connection is handled as lost, so the
// retry happens on the next open.
func (c *Client) flush(ctx context.Context, gen uint64, conn Conn) bool {
	for {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return false
		}
		msg, ok := c.queue.pop()
		depth := c.queue.len()
		if !ok {
			c.notifyIdleLocked()
			c.mu.Unlock()
			return true
		}
		c.writing = true
		c.mu.Unlock()
		c.metrics.queueDepth(depth)

		wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
		err := conn.Write(wctx, msg.Frame)
		cancel()

		c.mu.Lock()
		c.writing = false
		if err == nil {
			c.mu.Unlock()
			c.metrics.sent()
			continue
		}
		if gen != c.generation {
			// Torn down mid-write; keep the message for the next connection.
			if !msg.Liveness && !c.destroyed {
				c.queue.pushFront(msg)
			}
			c.mu.Unlock()
			return false
		}
		kept := c.queue.requeue(msg)
		if !kept {
			c.notifyIdleLocked()
		}
		c.mu.Unlock()

		if kept {
			c.logger.Warn(CategoryQueue, "write failed, requeued",
				"event", msg.Event,
				"id", msg.ID,
				"attempts", msg.Attempts,
				"error", err)
		} else if !msg.Liveness {
			c.dropMessage(msg, "redelivery_limit")
		}
		c.dropConnection(gen, err, StatusGoingAway, "write failed")
		return false
	}
}

// Flush blocks until every queued message has been written to the
// connection, or ctx ends. Messages dropped by the redelivery limit
// count as handled. Flush waits across reconnects.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrClientDestroyed
	}
	if c.queue.len() == 0 && !c.writing {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.idle = append(c.idle, ch)
	c.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrClientDestroyed
	}
	return nil
}

// notifyIdleLocked wakes Flush callers once nothing is left to write.
func (c *Client) notifyIdleLocked() {
	if !c.destroyed && (c.queue.len() > 0 || c.writing) {
		return
	}
	for _, ch := range c.idle {
		close(ch)
	}
	c.idle = nil
}

func (c *Client) dropMessage(msg *queuedMessage, reason string) {
	c.metrics.dropped(reason)
	c.logger.Warn(CategoryQueue, "message dropped",
		"event", msg.Event,
		"id", msg.ID,
		"attempts", msg.Attempts,
		"reason", reason)
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe registers h for event. Use "*" to receive every event.
func (c *Client) Subscribe(event string, h Handler) *Subscription {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed || h == nil {
		sub := &Subscription{event: event}
		sub.removed.Store(true)
		return sub
	}
	return c.dispatcher.subscribe(event, h)
}

// On is an alias for Subscribe.
func (c *Client) On(event string, h Handler) *Subscription {
	return c.Subscribe(event, h)
}

// Unsubscribe removes the handler registered under sub. The handler is
// not invoked for any dispatch that starts afterwards.
func (c *Client) Unsubscribe(sub *Subscription) {
	sub.Unsubscribe()
}

// Off is an alias for Unsubscribe.
func (c *Client) Off(sub *Subscription) {
	c.Unsubscribe(sub)
}

// SubscribeJSON registers h for event with the payload decoded into T.
// Payloads that do not decode are logged and skipped.
func SubscribeJSON[T any](c *Client, event string, h func(T)) *Subscription {
	return c.Subscribe(event, func(name string, data json.RawMessage) {
		var v T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v); err != nil {
				c.logger.Warn(CategoryDispatch, "payload decode failed", "event", name, "error", err)
				return
			}
		}
		h(v)
	})
}

// OnStateChange registers h for every state transition.
func (c *Client) OnStateChange(h StateHandler) *Subscription {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.nextID++
	sub := &Subscription{event: "state", id: c.nextID}
	sub.remove = func(s *Subscription) {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		for i, e := range c.listeners {
			if e.sub == s {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
	c.listeners = append(c.listeners, stateEntry{sub: sub, handler: h})
	return sub
}

// ============================================================================
// State
// ============================================================================

// setStateLocked applies a transition allowed by the state table and
// records it for delivery to state handlers once mu is released.
func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.logger.Warn(CategoryConnection, "illegal state transition", "from", from, "to", to)
		return
	}
	c.state = to
	c.metrics.setState(to)
	c.notes = append(c.notes, stateChange{from: from, to: to})
}

// unlock releases mu and then notifies state handlers of the
// transitions recorded while it was held.
func (c *Client) unlock() {
	notes := c.notes
	c.notes = nil
	c.mu.Unlock()

	if len(notes) == 0 {
		return
	}
	c.listenersMu.Lock()
	listeners := append([]stateEntry(nil), c.listeners...)
	c.listenersMu.Unlock()

	for _, n := range notes {
		c.logger.Debug(CategoryConnection, "state", "from", n.from, "to", n.to)
		for _, e := range listeners {
			if e.sub.removed.Load() {
				continue
			}
			c.notifyState(e, n)
		}
	}
}

func (c *Client) notifyState(e stateEntry, n stateChange) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.handlerPanicked()
			c.logger.Error(CategoryDispatch, "state handler panicked",
				"from", n.from, "to", n.to, "panic", fmt.Sprint(r))
		}
	}()
	e.handler(n.from, n.to)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// IsConnecting reports whether an open is in flight.
func (c *Client) IsConnecting() bool {
	return c.State() == StateConnecting
}

// Info returns a snapshot of the client.
func (c *Client) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		State:             c.state,
		Endpoint:          c.cfg.Endpoint,
		Connected:         c.state == StateConnected,
		QueueSize:         c.queue.len(),
		ReconnectAttempts: c.recon.attempt,
		LastPong:          c.lastPong,
	}
}

// Emit delivers data to the local handlers of event as if it had been
// received, without touching the connection.
func (c *Client) Emit(event string, data json.RawMessage) {
	c.dispatcher.dispatch(Envelope{Event: event, Data: data})
}
