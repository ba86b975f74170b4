package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the connection")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration and probe the endpoint with a live connection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		cc := cfg.clientConfig()
		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Endpoint:    %s\n", valueOrDefault(cfg.Connection.Endpoint, "(not set)"))
		fmt.Fprintf(out, "  Transport:   %s\n", valueOrDefault(cfg.Connection.Transport, "nhooyr"))
		fmt.Fprintf(out, "  Heartbeat:   %s\n", durationOrOff(cc.HeartbeatInterval))
		fmt.Fprintf(out, "  Pong wait:   %s\n", durationOrOff(cc.PongTimeout))
		if cc.ReconnectEnabled {
			fmt.Fprintf(out, "  Reconnect:   up to %d attempts\n", cc.Reconnect.MaxAttempts)
		} else {
			fmt.Fprintln(out, "  Reconnect:   disabled")
		}
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token:       %s\n", maskKey(cfg.Auth.Token))
		}

		if cfg.Connection.Endpoint == "" {
			return nil
		}

		client, _, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		start := time.Now()
		if err := client.Connect(ctx); err != nil {
			fmt.Fprintf(out, "  Error connecting: %v\n", err)
			return nil
		}
		info := client.Info()
		fmt.Fprintf(out, "  State:       %s\n", info.State)
		fmt.Fprintf(out, "  Endpoint:    %s\n", info.Endpoint)
		fmt.Fprintf(out, "  Connected:   %t\n", info.Connected)
		fmt.Fprintf(out, "  Queued:      %d\n", info.QueueSize)
		fmt.Fprintf(out, "  Open time:   %s\n", time.Since(start).Round(time.Millisecond))
		client.Disconnect()
		return nil
	},
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func durationOrOff(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}
