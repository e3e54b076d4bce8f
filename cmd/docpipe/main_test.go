package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpipe/internal/config"
	"github.com/dshills/docpipe/internal/orchestrator"
)

// writeTestConfig puts all state under a temp dir and uses the offline embedder
func writeTestConfig(t *testing.T) (configPath, stateRoot string) {
	t.Helper()
	root := t.TempDir()
	configPath = filepath.Join(root, "docpipe.toml")
	content := fmt.Sprintf(`state_dir = %q
db_path = %q
report_path = %q
log_level = "disabled"

[embedding]
provider = "local"
`, filepath.Join(root, "state"), filepath.Join(root, "state", "docpipe.db"), filepath.Join(root, "report.json"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "watch", "serve", "status", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docpipe version dev")
	assert.Contains(t, out, "SQLite Driver:")
}

func TestIngestAndStatus_EmptyDir(t *testing.T) {
	configPath, root := writeTestConfig(t)
	input := t.TempDir()

	out, err := execute(t, "--config", configPath, "ingest", input)
	require.NoError(t, err)

	var report orchestrator.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, orchestrator.MessageNothingToProcess, report.Message)
	assert.FileExists(t, filepath.Join(root, "report.json"))

	out, err = execute(t, "--config", configPath, "status", input)
	require.NoError(t, err)

	var status orchestrator.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.NotNil(t, status.LatestRun)
	assert.Equal(t, report.RunID, status.LatestRun.RunID)
	assert.Nil(t, status.Checkpoint)
}

func TestIngest_Errors(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	_, err := execute(t, "--config", configPath, "ingest")
	assert.Error(t, err, "dir argument is required")

	_, err = execute(t, "--config", configPath, "--mode", "summarize", "ingest", t.TempDir())
	assert.ErrorContains(t, err, "unknown mode")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "ingest", t.TempDir())
	assert.ErrorContains(t, err, "failed to load config")

	_, err = execute(t, "--config", configPath, "ingest", filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestStateFilter(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = "/data/in/.docpipe"
	cfg.ReportPath = "/data/in/report.json"
	ignore := stateFilter(cfg)

	assert.True(t, ignore("/data/in/.docpipe"))
	assert.True(t, ignore("/data/in/.docpipe/checkpoints/x.json"))
	assert.True(t, ignore("/data/in/report.json"))
	assert.False(t, ignore("/data/in/invoice.pdf"))
	assert.False(t, ignore("/data/in/.docpipe-old/x"), "prefix must end at a separator")
}
