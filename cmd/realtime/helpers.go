package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Prismer-AI/realtime"
)

// newLogger builds the diagnostics sink selected by --log-format and
// --log-level. Diagnostics go to stderr; event output goes to stdout.
func newLogger() (realtime.Logger, func(), error) {
	switch logFormat {
	case "text", "json":
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level %q", logLevel)
		}
		opts := &slog.HandlerOptions{Level: level}
		var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if logFormat == "json" {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
		return realtime.NewSlogLogger(slog.New(h)), func() {}, nil
	case "zap":
		level, err := zapcore.ParseLevel(logLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level %q", logLevel)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		zc.OutputPaths = []string{"stderr"}
		l, err := zc.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("cannot build zap logger: %w", err)
		}
		return realtime.NewZapLogger(l), func() { _ = l.Sync() }, nil
	default:
		return nil, nil, fmt.Errorf("invalid --log-format %q (valid: text, json, zap)", logFormat)
	}
}

// newTransport returns the transport named in the config, with the
// auth token attached to the upgrade request.
func newTransport(cfg *Config) (realtime.Transport, error) {
	header := http.Header{}
	if cfg.Auth.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Auth.Token)
	}
	switch strings.ToLower(cfg.Connection.Transport) {
	case "", "nhooyr":
		return &realtime.NhooyrTransport{Header: header}, nil
	case "gorilla":
		return &realtime.GorillaTransport{Header: header}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (valid: nhooyr, gorilla)", cfg.Connection.Transport)
	}
}

// newClient builds a client from the config file. The returned cleanup
// destroys the client and flushes the logger.
func newClient(extra ...realtime.Option) (*realtime.Client, *Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Connection.Endpoint == "" {
		return nil, nil, nil, fmt.Errorf("no endpoint configured; run 'realtime init <endpoint>' first")
	}

	logger, flush, err := newLogger()
	if err != nil {
		return nil, nil, nil, err
	}
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := append([]realtime.Option{
		realtime.WithLogger(logger),
		realtime.WithTransport(transport),
	}, extra...)
	client, err := realtime.New(cfg.clientConfig(), opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return client, cfg, func() {
		client.Destroy()
		flush()
	}, nil
}
