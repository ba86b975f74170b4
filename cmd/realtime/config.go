package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Prismer-AI/realtime"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage realtime configuration",
	Long:  "View or modify the realtime CLI configuration stored in ~/.realtime/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration file and the settings a client would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(out, "No configuration file found. Run 'realtime init <endpoint>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Fprintf(out, "# %s\n", path)
		fmt.Fprint(out, string(data))

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Connection.Endpoint == "" {
			return nil
		}
		client, err := realtime.New(cfg.clientConfig())
		if err != nil {
			fmt.Fprintf(out, "\nInvalid configuration: %v\n", err)
			return nil
		}
		defer client.Destroy()
		printEffective(out, client.Config())
		return nil
	},
}

// printEffective prints cc after defaults and normalization.
func printEffective(w io.Writer, cc realtime.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Effective settings:")
	fmt.Fprintf(w, "  endpoint          %s\n", cc.Endpoint)
	if len(cc.SubProtocols) > 0 {
		fmt.Fprintf(w, "  subprotocols      %s\n", strings.Join(cc.SubProtocols, ", "))
	}
	fmt.Fprintf(w, "  heartbeat         %s\n", durationOrOff(cc.HeartbeatInterval))
	fmt.Fprintf(w, "  pong timeout      %s\n", durationOrOff(cc.PongTimeout))
	if cc.ReconnectEnabled {
		p := cc.Reconnect
		fmt.Fprintf(w, "  reconnect         %s..%s x%g, %d attempts\n", p.BaseDelay, p.MaxDelay, p.Multiplier, p.MaxAttempts)
	} else {
		fmt.Fprintln(w, "  reconnect         disabled")
	}
	limit := "unbounded"
	if cc.QueueLimit > 0 {
		limit = fmt.Sprintf("%d (%s)", cc.QueueLimit, cc.QueueOverflow)
	}
	fmt.Fprintf(w, "  queue limit       %s\n", limit)
	fmt.Fprintf(w, "  max redeliveries  %d\n", cc.MaxRedeliveries)
	fmt.Fprintf(w, "  write timeout     %s\n", cc.WriteTimeout)
	fmt.Fprintf(w, "  dial timeout      %s\n", cc.DialTimeout)
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: realtime config set heartbeat.interval_ms 15000",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
