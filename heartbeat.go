package realtime

import (
	"sync"
	"time"

	"github.com/Prismer-AI/realtime/internal/clock"
)

// heartbeat sends a ping every interval for the lifetime of a single
// connection. It records pong times and, when pongTimeout is set,
// reports a ping left unanswered for too long.
type heartbeat struct {
	interval    time.Duration
	pongTimeout time.Duration
	clock       clock.Clock

	// ping sends one ping; expired reports a missed pong. Both run on the
	// heartbeat goroutine.
	ping    func(now time.Time)
	expired func()

	mu       sync.Mutex
	ticker   *clock.Ticker
	done     chan struct{}
	started  bool
	stopped  bool
	lastPing time.Time
	lastPong time.Time
}

func newHeartbeat(interval, pongTimeout time.Duration, clk clock.Clock, ping func(time.Time), expired func()) *heartbeat {
	return &heartbeat{
		interval:    interval,
		pongTimeout: pongTimeout,
		clock:       clk,
		ping:        ping,
		expired:     expired,
		done:        make(chan struct{}),
	}
}

// start launches the ticker goroutine. It does nothing once stopped.
func (h *heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped || h.interval <= 0 {
		return
	}
	h.started = true
	h.ticker = h.clock.NewTicker(h.interval)
	go h.loop(h.ticker, h.done)
}

// stop halts the ticker before returning, so no tick is delivered
// afterwards. It does not wait for an in-progress tick to finish.
func (h *heartbeat) stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.ticker != nil {
		h.ticker.Stop()
	}
	close(h.done)
}

func (h *heartbeat) loop(ticker *clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !h.tick() {
				return
			}
		}
	}
}

// tick runs one heartbeat cycle and reports whether to keep going.
func (h *heartbeat) tick() bool {
	now := h.clock.Now()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	// lastPing stays at the oldest unanswered ping.
	outstanding := !h.lastPing.IsZero() && h.lastPong.Before(h.lastPing)
	missed := h.pongTimeout > 0 && outstanding && now.Sub(h.lastPing) >= h.pongTimeout
	if !outstanding {
		h.lastPing = now
	}
	h.mu.Unlock()

	if missed {
		if h.expired != nil {
			h.expired()
		}
		return false
	}
	h.ping(now)
	return true
}

func (h *heartbeat) recordPong(at time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.lastPong = at
	h.mu.Unlock()
}
