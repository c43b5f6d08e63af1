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

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out))
	assert.Equal(t, "tidb-dataframe dev (none)\n", out.String())
}

func TestRun_EmptySourceReport(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.json")
	cfgPath := writeFile(t, "tidb-dataframe.yaml", `
pipeline:
  source:
    kind: empty
    entries: 20
  slots: 1
  verbosity: quiet
  range:
    begin: 0
    end: 10
    stride: 2
  actions:
    - name: entries
      kind: Count
observability:
  logging:
    level: error
`)

	err := run([]string{
		"--config", cfgPath,
		"--pipeline.output.path", reportPath,
		"--pipeline.output.format", "json",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report struct {
		Passes  int `json:"passes"`
		Actions []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.Passes)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, "entries", report.Actions[0].Name)
	assert.Equal(t, 5.0, report.Actions[0].Value)
}

func TestRun_InvalidConfiguration(t *testing.T) {
	cfgPath := writeFile(t, "tidb-dataframe.yaml", `
pipeline:
  source:
    kind: empty
  slots: 0
`)
	err := run([]string{"--config", cfgPath}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestRun_MissingConfigFile(t *testing.T) {
	err := run([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
