package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Prismer-AI/realtime"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <endpoint>",
	Short: "Store the endpoint in ~/.realtime/config.toml",
	Long:  "Initialize the realtime CLI by storing the websocket endpoint in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Connection.Endpoint = args[0]
		if cfg.Heartbeat.IntervalMS == 0 {
			cfg.Heartbeat.IntervalMS = int(realtime.DefaultHeartbeatInterval.Milliseconds())
		}

		// Reject endpoints the client would refuse.
		if _, err := realtime.New(cfg.clientConfig()); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Endpoint saved to %s\n", path)
		return nil
	},
}
