package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/loyalty_layer/internal/app"
	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/loyalty"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	for _, path := range [][]string{
		{"serve"}, {"migrate"}, {"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"}, {"audit"}, {"expire"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "migrate", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "broken")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitCommandError, "x", io.EOF))))
	assert.Equal(t, ExitCommandError, GetExitCode(io.EOF))
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loyaltyd.yaml")
	doc := fmt.Sprintf(`database:
  driver: sqlite3
  dsn: %s
  auto_migrate: true
logging:
  level: error
loyalty:
  expiry_schedule: "off"
`, filepath.Join(dir, "loyalty.db"))
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand("test")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "-c", cfgPath, "--format", "json", "migrate", "up")
	require.NoError(t, err)
	var v schemaVersion
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "sqlite3", v.Driver)
	assert.Greater(t, v.Version, uint(0))
	assert.False(t, v.Dirty)

	out, err = execute(t, "-c", cfgPath, "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("schema version: %d", v.Version))

	_, err = execute(t, "-c", cfgPath, "migrate", "down", "zero")
	require.Error(t, err)

	out, err = execute(t, "-c", cfgPath, "--format", "json", "migrate", "down")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, uint(0), v.Version)
}

func TestAuditAndExpireCommands(t *testing.T) {
	cfgPath := writeConfig(t)
	ctx := context.Background()

	// Seed through the application so the CLI sees a real ledger.
	_, err := execute(t, "-c", cfgPath, "migrate", "up")
	require.NoError(t, err)
	opts := &RootOptions{ConfigFile: cfgPath}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	a, err := app.Open(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Ledger.Settings().GetSettings(ctx)
	require.NoError(t, err)
	seedCustomer(t, a)
	_, _, err = a.Ledger.AdjustPoints(ctx, "cust-1", 120, "welcome", "admin-1")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	out, err := execute(t, "-c", cfgPath, "--format", "json", "audit", "cust-1")
	require.NoError(t, err)
	var report loyalty.AuditReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(120), report.StoredBalance)

	_, err = execute(t, "-c", cfgPath, "audit", "nobody")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	at := time.Now().UTC().AddDate(2, 0, 0).Format(time.RFC3339)
	out, err = execute(t, "-c", cfgPath, "--format", "json", "expire", "--at", at)
	require.NoError(t, err)
	var sweep loyalty.SweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &sweep))
	assert.Equal(t, 1, sweep.Expired)
	assert.Equal(t, int64(120), sweep.Points)

	out, err = execute(t, "-c", cfgPath, "audit", "cust-1")
	require.NoError(t, err)
	assert.Contains(t, out, "customer cust-1: 2 entries, balance 0")

	_, err = execute(t, "-c", cfgPath, "expire", "--at", "tomorrow")
	require.Error(t, err)
}

func seedCustomer(t *testing.T, a *app.Application) {
	t.Helper()
	_, err := a.Store().CreateCustomer(context.Background(), domain.Customer{ID: "cust-1", FirstName: "Ada", LastName: "Byron"})
	require.NoError(t, err)
}
