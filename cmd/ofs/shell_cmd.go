package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahmad-cheema/file-verse/internal/shell"
	"github.com/ahmad-cheema/file-verse/pkg/workspace"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session",
	Long: `Open an interactive session. With --user the shell logs in first;
otherwise use the login or signup commands inside it. Type 'help' for the
command list.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var client *workspace.Client
		var err error
		if username != "" {
			client, err = loggedIn(ctx)
		} else {
			client, err = dial()
		}
		if err != nil {
			return err
		}
		defer client.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", cfg.Endpoint)
		sh := shell.New(client, cmd.InOrStdin(), cmd.OutOrStdout())
		defer sh.Close()
		return sh.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
