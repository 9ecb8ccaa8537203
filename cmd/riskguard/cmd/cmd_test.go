package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "riskguard.yaml")
	yml := fmt.Sprintf(`storage:
  state: sqlite
  state_path: %s
  audit: sqlite
  audit_path: %s
metrics:
  addr: ""
log:
  level: error
`, filepath.Join(dir, "state.db"), filepath.Join(dir, "audit.db"))
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	return path
}

func TestCLIWorkflow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out := execute(t, "config", "validate", "-f", cfgPath)
	assert.Contains(t, out, "Configuration valid")

	out = execute(t, "-c", cfgPath, "stoploss", "set", "infy", "--entry", "100", "--qty", "10")
	assert.Contains(t, out, "INFY")
	assert.Contains(t, out, "stop=97.00")

	out = execute(t, "-c", cfgPath, "stoploss", "list")
	assert.Contains(t, out, "INFY")

	out = execute(t, "-c", cfgPath, "risk", "trip", "--reason", "drill")
	assert.Contains(t, out, "OPEN")
	out = execute(t, "-c", cfgPath, "risk", "show")
	assert.Contains(t, out, `"circuit_broken": true`)
	execute(t, "-c", cfgPath, "risk", "reset")

	out = execute(t, "-c", cfgPath, "risk", "set", "--max-open-positions", "4")
	assert.Contains(t, out, `"max_open_positions": 4`)
	assert.Contains(t, out, `"max_daily_loss": 5000`)

	ticks := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(ticks, []byte("time,symbol,price\n2026-03-02T09:15:00Z,INFY,96\n"), 0o644))
	out = execute(t, "-c", cfgPath, "run", "--ticks", ticks)
	assert.Contains(t, out, "Stop-losses: 0")
	assert.Contains(t, out, "realized -40.00")

	out = execute(t, "-c", cfgPath, "audit", "query", "--symbol", "INFY", "--type", "STOP_LOSS_EXECUTED")
	assert.Contains(t, out, "STOP_LOSS_EXECUTED")

	csvPath := filepath.Join(dir, "audit.csv")
	out = execute(t, "-c", cfgPath, "audit", "export", "-o", csvPath)
	assert.Contains(t, out, "exported")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,timestamp,event_type"))

	rootCmd.SetArgs([]string{"-c", cfgPath, "stoploss", "remove", "TCS"})
	assert.Error(t, rootCmd.Execute(), "no stop-loss for TCS")
}

func TestCLIReconcileAndResume(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	for _, sym := range []string{"INFY", "TCS"} {
		execute(t, "-c", cfgPath, "stoploss", "set", sym, "--entry", "100", "--qty", "10")
	}

	out := execute(t, "-c", cfgPath, "stoploss", "reconcile", "infy=6", "HDFC=2")
	assert.Contains(t, out, "removed: TCS")
	assert.Contains(t, out, "adjusted: INFY")
	assert.Contains(t, out, "unprotected: HDFC")

	out = execute(t, "-c", cfgPath, "stoploss", "list")
	assert.Contains(t, out, "qty=6")
	assert.NotContains(t, out, "TCS")

	out = execute(t, "-c", cfgPath, "stoploss", "resume", "INFY")
	assert.Contains(t, out, "resumed auto-liquidation for INFY")

	rootCmd.SetArgs([]string{"-c", cfgPath, "stoploss", "resume", "WIPRO"})
	assert.Error(t, rootCmd.Execute())
	rootCmd.SetArgs([]string{"-c", cfgPath, "stoploss", "reconcile", "INFY"})
	assert.Error(t, rootCmd.Execute())
}

func TestVersion(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "riskguard version")
}
