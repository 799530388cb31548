package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahmad-cheema/file-verse/pkg/workspace"
)

var signupRole string

// withClient runs fn with a logged-in client.
func withClient(fn func(cmd *cobra.Command, c *workspace.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		cmd.SetContext(ctx)

		c, err := loggedIn(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, c, args)
	}
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *workspace.Client, args []string) error {
		dir := "/"
		if len(args) == 1 {
			dir = args[0]
		}
		listing, err := c.Browse(cmd.Context(), dir)
		if err != nil {
			return err
		}
		for _, e := range listing.Entries {
			name := e.DisplayName()
			if e.IsDir() {
				name += "/"
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}),
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *workspace.Client, args []string) error {
		doc, err := c.OpenFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), doc.Content)
		return err
	}),
}

var putCmd = &cobra.Command{
	Use:   "put <path> [local-file]",
	Short: "Write a file from a local file or stdin, replacing any existing content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withClient(func(cmd *cobra.Command, c *workspace.Client, args []string) error {
		var content []byte
		var err error
		if len(args) == 2 {
			content, err = os.ReadFile(args[1])
		} else {
			content, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}

		if err := c.SaveFile(cmd.Context(), args[0], string(content)); err != nil {
			if pe, ok := workspace.AsPartialSave(err); ok {
				return fmt.Errorf("%w (the file %s may no longer exist; run put again)", err, pe.Path)
			}
			return err
		}
		return nil
	}),
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *workspace.Client, args []string) error {
		_, err := c.CreateDirectory(cmd.Context(), args[0])
		return err
	}),
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *workspace.Client, args []string) error {
		return c.DeleteFile(cmd.Context(), args[0])
	}),
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List accounts (admin only)",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, c *workspace.Client, args []string) error {
		users, err := c.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USERNAME\tROLE")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.Role)
		}
		return tw.Flush()
	}),
}

var signupCmd = &cobra.Command{
	Use:   "signup <username>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pw, err := resolvePassword(fmt.Sprintf("New password for %s: ", args[0]))
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Signup(ctx, args[0], pw, signupRole); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created account %s\n", args[0])
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		msg, err := c.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

func init() {
	signupCmd.Flags().StringVar(&signupRole, "role", "normal", "account role")
	rootCmd.AddCommand(lsCmd, catCmd, putCmd, mkdirCmd, rmCmd, usersCmd, signupCmd, pingCmd)
}
