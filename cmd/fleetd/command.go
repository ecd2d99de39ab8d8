package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/commands"
	"github.com/benmeehan/fleet-monitor/pkg/mqtt"
	"github.com/spf13/cobra"
)

var commandTimeout time.Duration

var commandCmd = &cobra.Command{
	Use:   "command <device-id> <command> [arg]",
	Short: "Publish one command to a device and exit",
	Long: `Publish one command to <namespace>/<device-id>/cmd.

Commands: STATUS, RESET_CLEAN_LITRES, RESET_WASTE_LITRES, REBOOT, RESET_WIFI,
FACTORY_RESET, SET_INTERVAL_MS <ms>, OTA <url>.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var arg string
		if len(args) == 3 {
			arg = args[2]
		}
		command, err := commands.Parse(args[1], arg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		if err := sendCommand(ctx, args[0], command); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", command.Payload(), args[0])
		return nil
	},
}

func init() {
	commandCmd.Flags().DurationVar(&commandTimeout, "timeout", 30*time.Second, "time allowed to connect and publish")
	rootCmd.AddCommand(commandCmd)
}

// sendCommand connects without subscribing, publishes once and disconnects.
func sendCommand(ctx context.Context, deviceID string, command commands.Command) error {
	transport, err := newTransport("")
	if err != nil {
		return err
	}

	connected := make(chan error, 1)
	transport.OnStatusChange(func(status mqtt.Status, err error) {
		var result error
		switch status {
		case mqtt.StatusConnected:
		case mqtt.StatusError:
			result = err
		default:
			return
		}
		select {
		case connected <- result:
		default:
		}
	})

	if err := transport.Connect(); err != nil {
		return err
	}
	defer transport.Close()

	select {
	case err := <-connected:
		if err != nil {
			return fmt.Errorf("broker refused connection: %w", err)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out connecting to %s", config.MQTT.Broker)
		}
		return ctx.Err()
	}

	return commands.NewService(config.MQTT.Namespace, transport, log).Send(deviceID, command)
}
