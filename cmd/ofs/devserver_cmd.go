package main

import (
	"github.com/spf13/cobra"

	"github.com/ahmad-cheema/file-verse/internal/devserver"
)

var (
	devListen string
	devTCP    string
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the in-memory reference server",
	Long: `Run an in-memory server that implements the remote file API over
HTTP (POST /api), WebSocket (GET /ws) and, with --tcp, newline-delimited
JSON over TCP. State is lost on exit. GET /metrics exposes Prometheus
metrics and GET /health a status summary.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dc := cfg.Devserver
		if cmd.Flags().Changed("listen") {
			dc.ListenAddr = devListen
		}
		if cmd.Flags().Changed("tcp") {
			dc.TCPAddr = devTCP
		}

		srv, err := devserver.New(devserver.Config{
			JWTSecret:     dc.JWTSecret,
			SessionTTL:    dc.SessionTTL.Duration,
			AdminUser:     dc.AdminUser,
			AdminPassword: dc.AdminPassword,
		})
		if err != nil {
			return err
		}
		defer srv.Close()

		ctx, cancel := signalContext()
		defer cancel()
		return srv.Run(ctx, dc.ListenAddr, dc.TCPAddr)
	},
}

func init() {
	devserverCmd.Flags().StringVar(&devListen, "listen", ":8080", "HTTP listen address")
	devserverCmd.Flags().StringVar(&devTCP, "tcp", "", "TCP line listener address (disabled if empty)")
	rootCmd.AddCommand(devserverCmd)
}
