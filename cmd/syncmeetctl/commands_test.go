package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/syncmeet/internal/auth"
)

const testSecret = "cli-test-secret-with-plenty-of-bytes!!"

func writeConfig(t *testing.T, secret string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cli.sqlite")
	body := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\nauth:\n  jwt:\n    secret: %q\n    issuer: cli-test\n", dbPath, secret)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := newApp()
	cliApp.Writer = &out
	cliApp.ErrWriter = &out
	err := cliApp.Run(append([]string{"syncmeetctl"}, args...))
	return out.String(), err
}

func TestCLIUserAddAndToken(t *testing.T) {
	dir := writeConfig(t, testSecret)

	out, err := runCLI(t, "--config", dir, "user", "add", "--email", "Alice@Example.com", "--name", "Alice")
	require.NoError(t, err)
	require.Contains(t, out, "alice@example.com")

	_, err = runCLI(t, "--config", dir, "user", "add", "--email", "alice@example.com")
	require.Error(t, err)

	out, err = runCLI(t, "--config", dir, "token", "--email", "alice@example.com")
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: testSecret, Issuer: "cli-test"})
	require.NoError(t, err)
	claims, err := jwtSvc.ValidateAccessToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", claims.Email)

	_, err = runCLI(t, "--config", dir, "token", "--email", "nobody@example.com")
	require.Error(t, err)
}

func TestCLITokenRequiresConfiguredSecret(t *testing.T) {
	dir := writeConfig(t, "")

	_, err := runCLI(t, "--config", dir, "user", "add", "--email", "alice@example.com")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", dir, "token", "--email", "alice@example.com")
	require.ErrorContains(t, err, "auth.jwt.secret")
}

func TestCLIJobs(t *testing.T) {
	dir := writeConfig(t, testSecret)

	out, err := runCLI(t, "--config", dir, "sweep")
	require.NoError(t, err)
	require.Contains(t, out, "archived 0 meeting(s)")

	out, err = runCLI(t, "--config", dir, "remind")
	require.NoError(t, err)
	require.Contains(t, out, "sent 0")

	out, err = runCLI(t, "--config", dir, "prune-sync-runs", "--days", "7")
	require.NoError(t, err)
	require.Contains(t, out, "removed 0")

	_, err = runCLI(t, "--config", dir, "reconcile", "--email", "alice@example.com")
	require.ErrorContains(t, err, "not configured")
}
