package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "pools:\n  main:\n    dialect: sqlite\n    path: " + filepath.Join(dir, "budget.db") + "\n"
	p := filepath.Join(dir, "perf.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out}
	root := a.root()
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	require.NoError(t, a.close())
	return out.String(), err
}

func TestHealth(t *testing.T) {
	out, err := run(t, writeConfig(t), "health")
	require.NoError(t, err)

	var got map[string]struct {
		Health struct {
			Healthy bool `json:"healthy"`
		} `json:"health"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got["main"].Health.Healthy)
}

func TestSchemaIndexesAndSummary(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "schema")
	require.NoError(t, err)

	out, err := run(t, cfg, "indexes")
	require.NoError(t, err)
	var idx map[string]struct {
		Created []string          `json:"created"`
		Failed  map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &idx))
	assert.Contains(t, idx["main"].Created, "idx_transactions_user_date")
	// the side tables are not part of this schema
	assert.Contains(t, idx["main"].Failed, "idx_accounts_user")

	out, err = run(t, cfg, "summary", "--user", "7", "--month", "2024-03")
	require.NoError(t, err)
	var s struct {
		UserID int64  `json:"userId"`
		Income string `json:"income"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, int64(7), s.UserID)
	assert.Equal(t, "0", s.Income)
}

func TestSummaryNeedsUser(t *testing.T) {
	_, err := run(t, writeConfig(t), "summary")
	assert.ErrorContains(t, err, "user")
}

func TestMetricsAndReport(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "budget_perf_")

	out, err = run(t, cfg, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "instanceId")
}

func TestLoggerBackends(t *testing.T) {
	cfg := writeConfig(t)
	for _, backend := range []string{"zap", "logrus", "slog"} {
		_, err := run(t, cfg, "--logger", backend, "--verbose", "health")
		assert.NoError(t, err, backend)
	}
	_, err := run(t, cfg, "--logger", "syslog", "health")
	assert.ErrorContains(t, err, "unknown logger")
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "absent.yaml"), "health")
	assert.ErrorContains(t, err, "read config file")
}
