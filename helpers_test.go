package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Prismer-AI/realtime/internal/clock"
)

// ============================================================================
// Fake transport
// ============================================================================

var errConnClosed = errors.New("fake: connection closed")

type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	failures []error // consumed one per dial before failAll is consulted
	failAll  error
	gate     chan struct{}
	conns    []*fakeConn
	prepare  func(n int, c *fakeConn) // n counts opened connections from 1
}

func (t *fakeTransport) Dial(ctx context.Context, endpoint string, _ []string) (Conn, error) {
	t.mu.Lock()
	t.dials++
	gate := t.gate
	var err error
	if len(t.failures) > 0 {
		err, t.failures = t.failures[0], t.failures[1:]
	} else {
		err = t.failAll
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	conn := newFakeConn()
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	if t.prepare != nil {
		t.prepare(len(t.conns), conn)
	}
	t.mu.Unlock()
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) setFailAll(err error) {
	t.mu.Lock()
	t.failAll = err
	t.mu.Unlock()
}

// opened returns every connection opened so far.
func (t *fakeTransport) opened() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConn(nil), t.conns...)
}

// last returns the most recently opened connection.
func (t *fakeTransport) last(tb testing.TB) *fakeConn {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.NotEmpty(tb, t.conns, "no connection opened")
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu          sync.Mutex
	writes      [][]byte
	failWrites  int
	rejectEvent string // writes of this event always fail
	closeCode   StatusCode
	closeReason string
	closedByUs  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.incoming:
		return frame, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectEvent != "" {
		if env, err := decodeEnvelope(frame); err == nil && env.Event == c.rejectEvent {
			return errors.New("fake: write rejected")
		}
	}
	if c.failWrites > 0 {
		c.failWrites--
		return errors.New("fake: write failed")
	}
	c.writes = append(c.writes, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close(code StatusCode, reason string) error {
	c.mu.Lock()
	if !c.closedByUs {
		c.closedByUs = true
		c.closeCode = code
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.once.Do(func() { close(c.closed) })
}

// push delivers a raw frame from the server.
func (c *fakeConn) push(frame string) {
	c.incoming <- []byte(frame)
}

func (c *fakeConn) pushEvent(tb testing.TB, event string, data any) {
	tb.Helper()
	frame, err := encodeEnvelope(event, data, 0)
	require.NoError(tb, err)
	c.incoming <- frame
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) closeInfo() (bool, StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedByUs, c.closeCode, c.closeReason
}

func (c *fakeConn) sent() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.writes))
	for _, w := range c.writes {
		var env Envelope
		if err := json.Unmarshal(w, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) sentEvents() []string {
	envs := c.sent()
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Event
	}
	return out
}

// waitSent blocks until at least n frames were written and returns them.
func (c *fakeConn) waitSent(tb testing.TB, n int) []Envelope {
	tb.Helper()
	require.Eventually(tb, func() bool { return len(c.sent()) >= n }, time.Second, time.Millisecond,
		"expected %d frames", n)
	return c.sent()
}

// ============================================================================
// Capturing logger
// ============================================================================

type logEntry struct {
	level    string
	category string
	msg      string
	args     []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, category, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, category: category, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(category, msg string, args ...any) { l.add("debug", category, msg, args) }
func (l *captureLogger) Info(category, msg string, args ...any)  { l.add("info", category, msg, args) }
func (l *captureLogger) Warn(category, msg string, args ...any)  { l.add("warn", category, msg, args) }
func (l *captureLogger) Error(category, msg string, args ...any) { l.add("error", category, msg, args) }

func (l *captureLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

// ============================================================================
// Client harness
// ============================================================================

var testEpoch = time.Unix(1_700_000_000, 0)

type harness struct {
	client    *Client
	transport *fakeTransport
	clock     *clock.FakeClock
	logger    *captureLogger
}

// newHarness builds a client on a fake transport and clock. The
// heartbeat is off unless mutate turns it on.
func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := NewConfig("ws://realtime.test/ws")
	cfg.HeartbeatInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		transport: &fakeTransport{},
		clock:     clock.Fake(testEpoch),
		logger:    &captureLogger{},
	}
	c, err := New(cfg, WithTransport(h.transport), WithClock(h.clock), WithLogger(h.logger))
	require.NoError(t, err)
	h.client = c
	t.Cleanup(c.Destroy)
	return h
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.client.Connect(context.Background()))
	return h.transport.last(t)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.client.State() == want }, time.Second, time.Millisecond,
		"state never became %s (now %s)", want, h.client.State())
}
