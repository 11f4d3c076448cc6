package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/auth"
	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/reconcile"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")
	body := fmt.Sprintf(`
[database]
driver = "sqlite"
path = %q

[auth]
jwt_secret = "cli-test"
`, filepath.Join(dir, "coins.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "$2"), "bcrypt hash, got %q", out)
}

func TestToken(t *testing.T) {
	cfg := writeConfig(t)
	id := uuid.New()

	out, err := run(t, "--config", cfg, "token", id.String())
	require.NoError(t, err)
	actor, err := auth.NewService("cli-test", 0, nil).ValidateToken(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.False(t, actor.IsAdmin())
	assert.Equal(t, id, actor.AccountID)

	out, err = run(t, "--config", cfg, "token", "--admin", id.String())
	require.NoError(t, err)
	actor, err = auth.NewService("cli-test", 0, nil).ValidateToken(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin())
}

func TestGrantHistoryReconcile(t *testing.T) {
	cfg := writeConfig(t)
	id := uuid.New().String()

	_, err := run(t, "--config", cfg, "grant", id, "40")
	require.Error(t, err, "reason is required")

	out, err := run(t, "--config", cfg, "grant", "--open", "--reason", "welcome", "--key", "w1", id, "40")
	require.NoError(t, err)
	var granted balance.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &granted))
	assert.Equal(t, int64(40), granted.Balance)

	out, err = run(t, "--config", cfg, "grant", "--reason", "welcome", "--key", "w1", id, "40")
	require.NoError(t, err)
	var again balance.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(40), again.Balance)

	out, err = run(t, "--config", cfg, "history", id)
	require.NoError(t, err)
	var page ledger.Page
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "welcome", page.Entries[0].Reason)

	out, err = run(t, "--config", cfg, "reconcile")
	require.NoError(t, err)
	var rep reconcile.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Accounts)
	assert.Empty(t, rep.Mismatches)

	_, err = run(t, "--config", cfg, "reconcile", id)
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "sweep", "--retention-days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, `"retention_days": 7`)
	assert.Contains(t, out, `"pruned": 0`)
}

func TestBadArguments(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "history", "not-a-uuid")
	assert.Error(t, err)
	_, err = run(t, "--config", cfg, "grant", "--reason", "x", uuid.New().String(), "ten")
	assert.Error(t, err)
}
