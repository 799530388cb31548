// Package shell is an interactive line-oriented view of a workspace.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"mvdan.cc/sh/v3/shell"

	"github.com/ahmad-cheema/file-verse/pkg/events"
	"github.com/ahmad-cheema/file-verse/pkg/models"
	"github.com/ahmad-cheema/file-verse/pkg/workspace"
)

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit")

type command struct {
	usage string
	help  string
	min   int
	max   int // -1 for no limit
	run   func(ctx context.Context, s *Shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":   {"help", "list commands", 0, 0, cmdHelp},
		"login":  {"login <user> <password>", "log in", 2, 2, cmdLogin},
		"signup": {"signup <user> <password> [role]", "create an account and log in", 2, 3, cmdSignup},
		"logout": {"logout", "drop the session", 0, 0, cmdLogout},
		"whoami": {"whoami", "show the session", 0, 0, cmdWhoami},
		"pwd":    {"pwd", "show the current directory", 0, 0, cmdPwd},
		"ls":     {"ls [dir]", "list the current directory, or peek into dir", 0, 1, cmdLs},
		"cd":     {"cd <dir>", "change directory (.. for parent)", 1, 1, cmdCd},
		"cat":    {"cat <file>", "open a file and print it", 1, 1, cmdCat},
		"close":  {"close", "close the open file", 0, 0, cmdClose},
		"touch":  {"touch <file> [content]", "create a file", 1, 2, cmdTouch},
		"mkdir":  {"mkdir <dir>", "create a directory", 1, 1, cmdMkdir},
		"write":  {"write <file> <content>", "replace the content of a file", 2, 2, cmdWrite},
		"save":   {"save <content>", "replace the content of the open file", 1, 1, cmdSave},
		"rm":     {"rm <file>", "delete a file", 1, 1, cmdRm},
		"ping":   {"ping", "check the server", 0, 0, cmdPing},
		"users":  {"users", "list accounts (admin)", 0, 0, cmdUsers},
		"exit":   {"exit", "leave the shell", 0, 0, cmdExit},
	}
	commands["quit"] = commands["exit"]
}

// Shell reads commands from in and renders workspace state to out.
type Shell struct {
	client *workspace.Client
	in     io.Reader
	out    io.Writer
	events <-chan events.Event
}

// New creates a shell over client. It subscribes to the client's events
// until Close.
func New(client *workspace.Client, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		client: client,
		in:     in,
		out:    out,
		events: client.Events().Subscribe(),
	}
}

// Close unsubscribes from the client's events.
func (s *Shell) Close() {
	s.client.Events().Unsubscribe(s.events)
}

// Prompt renders "user@ofs:/dir$ ".
func (s *Shell) Prompt() string {
	user := s.client.Session().Username
	if user == "" {
		user = "guest"
	}
	return fmt.Sprintf("%s@ofs:%s$ ", user, s.client.Location())
}

// Run reads lines until EOF or exit. Command failures are printed, not
// returned.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for {
		fmt.Fprint(s.out, s.Prompt())
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.ExecLine(ctx, scanner.Text())
		if errors.Is(err, ErrExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		s.drainEvents()
	}
}

// ExecLine splits a line shell-style and runs it.
func (s *Shell) ExecLine(ctx context.Context, line string) error {
	args, err := shell.Fields(line, s.env)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	return s.Exec(ctx, args)
}

// Exec runs one command.
func (s *Shell) Exec(ctx context.Context, args []string) error {
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	n := len(args) - 1
	if n < cmd.min || (cmd.max >= 0 && n > cmd.max) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, s, args[1:])
}

// env exposes $PWD and $USER to command lines.
func (s *Shell) env(name string) string {
	switch name {
	case "PWD":
		return s.client.Location()
	case "USER":
		return s.client.Session().Username
	}
	return ""
}

// drainEvents prints the notifications a command produced.
func (s *Shell) drainEvents() {
	for {
		select {
		case e, ok := <-s.events:
			if !ok {
				return
			}
			s.render(e)
		default:
			return
		}
	}
}

func (s *Shell) render(e events.Event) {
	switch e.Type {
	case events.SessionExpired:
		fmt.Fprintln(s.out, "session expired, please log in again")
	case events.PartialSave:
		fmt.Fprintf(s.out, "warning: %s may be missing on the server: %s\n", e.Path, e.Error)
	}
}

func cmdHelp(_ context.Context, s *Shell, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		if name != "quit" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", commands[name].usage, commands[name].help)
	}
	return tw.Flush()
}

func cmdLogin(ctx context.Context, s *Shell, args []string) error {
	sess, err := s.client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "logged in as %s\n", sess.Username)
	return nil
}

func cmdSignup(ctx context.Context, s *Shell, args []string) error {
	role := ""
	if len(args) == 3 {
		role = args[2]
	}
	sess, err := s.client.Signup(ctx, args[0], args[1], role)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "account created, logged in as %s\n", sess.Username)
	return nil
}

func cmdLogout(_ context.Context, s *Shell, _ []string) error {
	s.client.Logout()
	fmt.Fprintln(s.out, "logged out")
	return nil
}

func cmdWhoami(_ context.Context, s *Shell, _ []string) error {
	sess := s.client.Session()
	if !sess.Valid() {
		fmt.Fprintln(s.out, "not logged in")
		return nil
	}
	if sess.ExpiresAt.IsZero() {
		fmt.Fprintln(s.out, sess.Username)
		return nil
	}
	fmt.Fprintf(s.out, "%s (session until %s)\n", sess.Username, sess.ExpiresAt.Local().Format("15:04:05"))
	return nil
}

func cmdPwd(_ context.Context, s *Shell, _ []string) error {
	fmt.Fprintln(s.out, s.client.Location())
	return nil
}

func cmdLs(ctx context.Context, s *Shell, args []string) error {
	var listing models.Listing
	var err error
	if len(args) == 1 {
		listing, err = s.client.Browse(ctx, args[0])
	} else {
		listing, err = s.client.Refresh(ctx)
	}
	if err != nil {
		return err
	}
	printEntries(s.out, listing.Entries)
	return nil
}

func cmdCd(ctx context.Context, s *Shell, args []string) error {
	_, err := s.client.ChangeDirectory(ctx, args[0])
	return err
}

func cmdCat(ctx context.Context, s *Shell, args []string) error {
	doc, err := s.client.OpenFile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, doc.Content)
	if doc.Content != "" && !strings.HasSuffix(doc.Content, "\n") {
		fmt.Fprintln(s.out)
	}
	return nil
}

func cmdClose(_ context.Context, s *Shell, _ []string) error {
	s.client.CloseFile()
	return nil
}

func cmdTouch(ctx context.Context, s *Shell, args []string) error {
	content := ""
	if len(args) == 2 {
		content = args[1]
	}
	p, err := s.client.CreateFile(ctx, args[0], content)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created %s\n", p)
	return nil
}

func cmdMkdir(ctx context.Context, s *Shell, args []string) error {
	p, err := s.client.CreateDirectory(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created %s/\n", p)
	return nil
}

func cmdWrite(ctx context.Context, s *Shell, args []string) error {
	if err := s.client.SaveFile(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "saved")
	return nil
}

func cmdSave(ctx context.Context, s *Shell, args []string) error {
	if err := s.client.SaveDocument(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "saved")
	return nil
}

func cmdRm(ctx context.Context, s *Shell, args []string) error {
	return s.client.DeleteFile(ctx, args[0])
}

func cmdPing(ctx context.Context, s *Shell, _ []string) error {
	msg, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, msg)
	return nil
}

func cmdUsers(ctx context.Context, s *Shell, _ []string) error {
	users, err := s.client.ListUsers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.Role)
	}
	return tw.Flush()
}

func cmdExit(context.Context, *Shell, []string) error {
	return ErrExit
}

// printEntries prints one entry per line in server order, directories with
// a trailing slash.
func printEntries(w io.Writer, entries []models.Entry) {
	for _, e := range entries {
		name := e.DisplayName()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintln(w, name)
	}
}
