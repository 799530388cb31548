// Command ofs is a client for a remote file store, with an interactive
// shell, one-shot commands, and an in-memory reference server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmad-cheema/file-verse/internal/config"
	"github.com/ahmad-cheema/file-verse/internal/logging"
)

var (
	configFile  string
	endpoint    string
	logLevel    string
	callTimeout time.Duration
	username    string
	password    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ofs",
	Short: "Client for a remote hierarchical file store",
	Long: `ofs talks to a remote file store over HTTP, WebSocket or TCP.

Run 'ofs shell' for an interactive session, or use the one-shot commands
(ls, cat, put, mkdir, rm, ...) from scripts. 'ofs devserver' starts an
in-memory server that speaks the same protocol.

The endpoint scheme picks the transport:
  http://host:8080/api   JSON over HTTP POST
  ws://host:8080/ws      JSON frames over a WebSocket
  tcp://host:9000        newline-delimited JSON over TCP`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
		if cmd.Flags().Changed("endpoint") {
			cfg.Endpoint = endpoint
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("timeout") {
			cfg.CallTimeout.Duration = callTimeout
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/file-verse/config.toml)")
	flags.StringVar(&endpoint, "endpoint", "", "server endpoint URL")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.DurationVar(&callTimeout, "timeout", 0, "per-call timeout, negative to disable")
	flags.StringVarP(&username, "user", "u", os.Getenv("OFS_USER"), "username")
	flags.StringVar(&password, "password", "", "password (or OFS_PASSWORD, or prompt)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
