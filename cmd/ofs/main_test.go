package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahmad-cheema/file-verse/internal/devserver"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	t.Setenv("OFS_CONFIG_DIR", t.TempDir())
	t.Setenv("OFS_PASSWORD", "")

	srv, err := devserver.New(devserver.Config{JWTSecret: "test", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	ep := "--endpoint=" + hs.URL + "/api"
	creds := []string{ep, "--user=alice", "--password=pw1", "--log-level=error"}

	out, err := run(t, "", ep, "--log-level=error", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong\n", out)

	out, err = run(t, "", append(creds, "signup", "alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "created account alice")

	_, err = run(t, "", append(creds, "mkdir", "/docs")...)
	require.NoError(t, err)

	_, err = run(t, "first version", append(creds, "put", "/docs/a.txt")...)
	require.NoError(t, err)
	_, err = run(t, "second version", append(creds, "put", "/docs/a.txt")...)
	require.NoError(t, err)

	out, err = run(t, "", append(creds, "cat", "/docs/a.txt")...)
	require.NoError(t, err)
	assert.Equal(t, "second version", out)

	out, err = run(t, "", append(creds, "ls", "/")...)
	require.NoError(t, err)
	assert.Equal(t, "docs/\n", out)

	_, err = run(t, "", append(creds, "rm", "/docs/a.txt")...)
	require.NoError(t, err)
	out, err = run(t, "", append(creds, "ls", "/docs")...)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "", append(creds, "users")...)
	assert.ErrorContains(t, err, "permission_denied")
}
