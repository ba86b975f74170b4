package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/realtime"
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

// received is one line of listen output.
type received struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

var listenCmd = &cobra.Command{
	Use:   "listen [event...]",
	Short: "Print received events as JSON lines",
	Long:  "Connect to the configured endpoint and print every received event (or only the named ones) as JSON lines until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var opts []realtime.Option
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics, err := realtime.NewMetrics(reg, "")
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}
			opts = append(opts, realtime.WithMetrics(metrics))

			srv := &http.Server{
				Addr:              addr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(cmd.ErrOrStderr(), "metrics server: %v\n", err)
				}
			}()
			defer srv.Close()
		}

		client, _, cleanup, err := newClient(opts...)
		if err != nil {
			return err
		}
		defer cleanup()

		events := args
		if len(events) == 0 {
			events = []string{realtime.EventWildcard}
		}
		emit := printer(cmd.OutOrStdout())
		for _, e := range events {
			client.On(e, emit)
		}
		client.OnStateChange(func(from, to realtime.State) {
			fmt.Fprintf(cmd.ErrOrStderr(), "state: %s -> %s\n", from, to)
		})

		if err := client.Connect(ctx); err != nil && !errors.Is(err, realtime.ErrOpenFailed) {
			return err
		}
		<-ctx.Done()
		client.Disconnect()
		return nil
	},
}

// printer returns a handler writing each event as one JSON line.
func printer(w io.Writer) realtime.Handler {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(event string, data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(received{Event: event, Data: data, ReceivedAt: time.Now().UTC()})
	}
}
