package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/benmeehan/fleet-monitor/internal/utils"
	"github.com/benmeehan/fleet-monitor/pkg/file"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	envFile string

	// Shared state set during PersistentPreRun
	config     *utils.Config
	fileClient file.FileOperations
	log        zerolog.Logger
)

// rootCmd is the base command for fleetd.
var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "Water treatment fleet monitor",
	Long: `fleetd subscribes to the device fleet over MQTT, keeps the live state of
every device in memory, optionally archives messages to ClickHouse, and
serves the read model over HTTP and WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		fileClient = file.NewFileService()

		var err error
		config, err = utils.LoadConfig(cfgFile, envFile, fileClient)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log, err = newLogger(config.Log.Level, config.Log.Pretty)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional .env file with FLEETD_* overrides")
}

func newLogger(level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().Timestamp().Logger(), nil
}

// uniqueClientID appends a UUID so several instances can share one prefix.
func uniqueClientID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
