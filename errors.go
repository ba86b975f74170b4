package realtime

import "errors"

var (
	// ErrInvalidConfig is returned by New when the configuration cannot be used.
	ErrInvalidConfig = errors.New("realtime: invalid config")

	// ErrOpenFailed wraps the transport error of a failed Connect.
	ErrOpenFailed = errors.New("realtime: open failed")

	// ErrConnectAborted is returned to a Connect caller whose attempt was
	// cancelled by Disconnect or Destroy.
	ErrConnectAborted = errors.New("realtime: connect aborted")

	// ErrClientDestroyed is returned by operations on a destroyed client.
	ErrClientDestroyed = errors.New("realtime: client destroyed")

	// ErrReservedEvent is returned by Send for empty or liveness event names.
	ErrReservedEvent = errors.New("realtime: reserved event name")

	// ErrMalformedFrame marks an incoming frame that could not be decoded.
	ErrMalformedFrame = errors.New("realtime: malformed frame")

	// ErrReconnectExhausted is logged when automatic reconnection gives up.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

	// ErrPongTimeout is the cause logged when a ping goes unanswered for
	// longer than Config.PongTimeout.
	ErrPongTimeout = errors.New("realtime: pong timeout")

	// ErrQueueFull is returned by Send when a bounded queue rejects a message.
	ErrQueueFull = errors.New("realtime: outbound queue full")
)
