package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// eventServer greets every connection with "welcome" and "news", then
// echoes each frame back and records the event names it received.
type eventServer struct {
	*httptest.Server

	mu       sync.Mutex
	received []string
}

func newEventServer(t *testing.T) *eventServer {
	t.Helper()
	s := &eventServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusInternalError, "server exit")
		ctx := r.Context()
		for _, frame := range []string{
			`{"event":"welcome","data":{"hello":"cli"}}`,
			`{"event":"news","data":{"headline":"up"}}`,
		} {
			if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var env struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(data, &env) == nil {
				s.mu.Lock()
				s.received = append(s.received, env.Event)
				s.mu.Unlock()
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *eventServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// syncBuffer is a bytes.Buffer safe for a running command and a test
// polling its output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeTestConfig points --config at a temp file for endpoint.
func writeTestConfig(t *testing.T, endpoint string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[connection]\nendpoint = \"" + endpoint + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// resetFlags restores every flag to its default so commands can run
// more than once in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes the root command with args against the config at
// path, writing to stdout and stderr.
func runCLI(ctx context.Context, t *testing.T, path string, stdout, stderr *syncBuffer, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		resetFlags(rootCmd)
		configFile = ""
	})
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(append([]string{"--config", path, "--log-level", "error"}, args...))
	return rootCmd.ExecuteContext(ctx)
}

// outputEvents decodes the JSON lines printed by listen and send --await.
func outputEvents(t *testing.T, out string) []received {
	t.Helper()
	var lines []received
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l == "" {
			continue
		}
		var r received
		require.NoError(t, json.Unmarshal([]byte(l), &r), "line %q", l)
		lines = append(lines, r)
	}
	return lines
}

func TestSendCommand(t *testing.T) {
	srv := newEventServer(t)
	path := writeTestConfig(t, srv.URL)

	var stdout, stderr syncBuffer
	err := runCLI(context.Background(), t, path, &stdout, &stderr, "send", "chat.message", `{"text":"hi"}`)
	require.NoError(t, err, stderr.String())

	assert.Contains(t, stderr.String(), "sent chat.message")
	assert.Empty(t, stdout.String())
	require.Eventually(t, func() bool { return len(srv.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"chat.message"}, srv.events())
}

func TestSendCommandAwait(t *testing.T) {
	srv := newEventServer(t)
	path := writeTestConfig(t, srv.URL)

	var stdout, stderr syncBuffer
	err := runCLI(context.Background(), t, path, &stdout, &stderr,
		"send", "chat.echo", `{"n":1}`, "--await", "chat.echo", "--timeout", "5s")
	require.NoError(t, err, stderr.String())

	lines := outputEvents(t, stdout.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "chat.echo", lines[0].Event)
	assert.JSONEq(t, `{"n":1}`, string(lines[0].Data))
}

func TestSendCommandRejectsBadPayload(t *testing.T) {
	path := writeTestConfig(t, "ws://127.0.0.1:1/ws")

	var stdout, stderr syncBuffer
	err := runCLI(context.Background(), t, path, &stdout, &stderr, "send", "e", "{not json")
	assert.ErrorContains(t, err, "not valid JSON")
}

// listenUntil runs listen until want events were printed.
func listenUntil(t *testing.T, path string, want int, args ...string) []received {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- runCLI(ctx, t, path, &stdout, &stderr, append([]string{"listen"}, args...)...)
	}()

	require.Eventually(t, func() bool {
		return strings.Count(stdout.String(), "\n") >= want
	}, 5*time.Second, 5*time.Millisecond, "stderr: %s", stderr.String())
	// Let any unexpected extra events arrive before stopping.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop")
	}
	assert.Contains(t, stderr.String(), "state: disconnected -> connecting")
	return outputEvents(t, stdout.String())
}

func TestListenCommandNamedEvent(t *testing.T) {
	srv := newEventServer(t)
	path := writeTestConfig(t, srv.URL)

	lines := listenUntil(t, path, 1, "welcome")
	require.Len(t, lines, 1)
	assert.Equal(t, "welcome", lines[0].Event)
	assert.JSONEq(t, `{"hello":"cli"}`, string(lines[0].Data))
	assert.False(t, lines[0].ReceivedAt.IsZero())
}

func TestListenCommandAllEvents(t *testing.T) {
	srv := newEventServer(t)
	path := writeTestConfig(t, srv.URL)

	lines := listenUntil(t, path, 2)
	require.Len(t, lines, 2)
	assert.Equal(t, "welcome", lines[0].Event)
	assert.Equal(t, "news", lines[1].Event)
}

func TestStatusCommand(t *testing.T) {
	srv := newEventServer(t)
	path := writeTestConfig(t, srv.URL)

	var stdout, stderr syncBuffer
	require.NoError(t, runCLI(context.Background(), t, path, &stdout, &stderr, "status"))

	out := stdout.String()
	assert.Contains(t, out, "Endpoint:    "+srv.URL)
	assert.Contains(t, out, "Live status:")
	assert.Contains(t, out, "State:       connected")
	assert.Contains(t, out, "Connected:   true")
	assert.Contains(t, out, "Queued:      0")
	assert.NotContains(t, out, "Error connecting")
}

func TestStatusCommandUnreachable(t *testing.T) {
	srv := newEventServer(t)
	url := srv.URL
	srv.Close()
	path := writeTestConfig(t, url)

	var stdout, stderr syncBuffer
	require.NoError(t, runCLI(context.Background(), t, path, &stdout, &stderr, "status", "--timeout", "2s"))
	assert.Contains(t, stdout.String(), "Error connecting")
}

func TestConfigShowCommand(t *testing.T) {
	path := writeTestConfig(t, "https://example.com/ws")

	var stdout, stderr syncBuffer
	require.NoError(t, runCLI(context.Background(), t, path, &stdout, &stderr, "config", "show"))

	out := stdout.String()
	assert.Contains(t, out, `endpoint = "https://example.com/ws"`)
	assert.Contains(t, out, "Effective settings:")
	assert.Contains(t, out, "endpoint          wss://example.com/ws")
	assert.Contains(t, out, "heartbeat         30s")
	assert.Contains(t, out, "max redeliveries  5")
}
