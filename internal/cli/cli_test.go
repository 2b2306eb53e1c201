package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/voxrelay/internal/secrets"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns everything it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)

	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// resetFlags restores flag state left by earlier runs and isolates the
// config, data directory and age identity lookup.
func resetFlags(t *testing.T) {
	t.Helper()
	cfgFile = filepath.Join(t.TempDir(), "config.yaml")
	logLevel = "info"
	rootCmd.PersistentFlags().Lookup("log-level").Changed = false
	statusURL = ""
	stopTimeout = 30
	toolArgs = "{}"
	toolCallID = "cli"
	keyOut = ""
	recipient = ""

	t.Setenv("HOME", t.TempDir())
	t.Setenv(secrets.EnvKey, "")
	t.Setenv(secrets.EnvKeyFile, "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
