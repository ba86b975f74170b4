package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for connect, delivery and reply")
	sendCmd.Flags().String("await", "", "wait for one event with this name and print it")
}

var sendCmd = &cobra.Command{
	Use:   "send <event> [json]",
	Short: "Send one event",
	Long:  "Connect, send one event with an optional JSON payload, and wait until it has been written to the connection.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		event := args[0]
		var data json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			data = json.RawMessage(args[1])
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		client, _, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		replies := make(chan struct{}, 1)
		if await, _ := cmd.Flags().GetString("await"); await != "" {
			emit := printer(cmd.OutOrStdout())
			client.On(await, func(event string, data json.RawMessage) {
				emit(event, data)
				select {
				case replies <- struct{}{}:
				default:
				}
			})
		} else {
			close(replies)
		}

		if err := client.Connect(ctx); err != nil {
			return err
		}
		if err := client.Send(event, data); err != nil {
			return err
		}
		if err := client.Flush(ctx); err != nil {
			return fmt.Errorf("message not delivered: %w", err)
		}

		select {
		case <-replies:
		case <-ctx.Done():
			return fmt.Errorf("no reply: %w", ctx.Err())
		}
		client.Disconnect()
		fmt.Fprintf(cmd.ErrOrStderr(), "sent %s\n", event)
		return nil
	},
}
