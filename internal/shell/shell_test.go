package shell

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahmad-cheema/file-verse/internal/devserver"
	"github.com/ahmad-cheema/file-verse/pkg/workspace"
)

func newShell(t *testing.T, input string) (*Shell, *bytes.Buffer, *devserver.Server) {
	t.Helper()
	srv, err := devserver.New(devserver.Config{JWTSecret: "test", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	client, err := workspace.Dial(hs.URL+"/api", workspace.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var out bytes.Buffer
	sh := New(client, strings.NewReader(input), &out)
	t.Cleanup(sh.Close)
	return sh, &out, srv
}

func TestRun_Session(t *testing.T) {
	script := strings.Join([]string{
		"signup alice pw1",
		"mkdir docs",
		"cd docs",
		"pwd",
		`touch notes.txt "hello world"`,
		"ls",
		"cat notes.txt",
		"save 'second draft'",
		"cat $PWD/notes.txt",
		"cd ..",
		"ls docs",
		"exit",
		"pwd",
	}, "\n")
	sh, out, _ := newShell(t, script)

	require.NoError(t, sh.Run(context.Background()))
	got := out.String()

	assert.Contains(t, got, "account created, logged in as alice")
	assert.Contains(t, got, "created /docs/\n")
	assert.Contains(t, got, "alice@ofs:/docs$ /docs\n")
	assert.Contains(t, got, "created /docs/notes.txt\n")
	assert.Contains(t, got, "alice@ofs:/docs$ notes.txt\n")
	assert.Contains(t, got, "hello world\n")
	assert.Contains(t, got, "second draft\n")
	assert.NotContains(t, got, "error:")
	assert.True(t, strings.HasSuffix(got, "alice@ofs:/$ "), "stops at exit, got %q", got)
}

func TestRun_ErrorsArePrinted(t *testing.T) {
	sh, out, _ := newShell(t, "frobnicate\nlogin alice\nlogin alice wrong\ncat missing.txt\n")

	require.NoError(t, sh.Run(context.Background()))
	got := out.String()
	assert.Contains(t, got, `error: unknown command "frobnicate"`)
	assert.Contains(t, got, "error: usage: login <user> <password>")
	assert.Contains(t, got, "error: login: user_login alice")
	assert.Contains(t, got, "error: open /missing.txt: ")
	assert.True(t, strings.HasPrefix(got, "guest@ofs:/$ "))
}

func TestRun_SessionExpiryIsRendered(t *testing.T) {
	sh, out, srv := newShell(t, "")
	ctx := context.Background()

	require.NoError(t, sh.ExecLine(ctx, "signup alice pw1"))
	srv.Sessions().Revoke(sh.client.Session().Token)
	require.Error(t, sh.ExecLine(ctx, "ls"))
	sh.drainEvents()

	assert.Contains(t, out.String(), "session expired, please log in again")
	assert.Equal(t, "guest@ofs:/$ ", sh.Prompt())
}

func TestExecLine_Quoting(t *testing.T) {
	sh, out, _ := newShell(t, "")
	ctx := context.Background()

	require.NoError(t, sh.ExecLine(ctx, "signup bob pw"))
	require.NoError(t, sh.ExecLine(ctx, `touch "with space.txt" 'a "quoted" body'`))
	require.NoError(t, sh.ExecLine(ctx, `cat "with space.txt"`))
	assert.Contains(t, out.String(), `a "quoted" body`)

	assert.NoError(t, sh.ExecLine(ctx, "   "))
	assert.Error(t, sh.ExecLine(ctx, `cat "unterminated`))
}

func TestSave_WithoutOpenFile(t *testing.T) {
	sh, _, _ := newShell(t, "")
	ctx := context.Background()

	require.NoError(t, sh.ExecLine(ctx, "signup bob pw"))
	assert.ErrorIs(t, sh.ExecLine(ctx, "save text"), workspace.ErrNoDocument)
}

func TestHelp(t *testing.T) {
	sh, out, _ := newShell(t, "")
	require.NoError(t, sh.ExecLine(context.Background(), "help"))
	for _, name := range []string{"login", "ls", "cd", "cat", "write", "rm", "users"} {
		assert.Contains(t, out.String(), "  "+name)
	}
	assert.NotContains(t, out.String(), "quit")
}
