package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears flag values left behind by earlier executions.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with fresh global flag state.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel, initForce, stopTimeout = "", "", false, 30

	cmd := GetRootCmd()
	resetFlags(cmd)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	})

	err := cmd.Execute()
	return output.String(), err
}

// writeConfig writes a config file pointing the data directory into a temp dir.
func writeConfig(t *testing.T, overrides map[string]any) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	doc := map[string]any{"data_dir": dataDir}
	for k, v := range overrides {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(dir, "seance.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, dataDir
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := executeCommand(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "seance version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := executeCommand(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Seance")
		assert.Contains(t, output, "tool-calling")
		for _, sub := range []string{"serve", "status", "stop", "init", "models", "tools"} {
			assert.Contains(t, output, sub)
		}
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})
}

func TestGetVersion(t *testing.T) {
	assert.NotEmpty(t, GetVersion())
}

func TestLoadConfig(t *testing.T) {
	path, dataDir := writeConfig(t, map[string]any{
		"logging": map[string]any{"level": "warn"},
	})

	t.Run("file values", func(t *testing.T) {
		cfgFile, logLevel = path, ""
		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, dataDir, cfg.DataDir)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("log level flag wins", func(t *testing.T) {
		cfgFile, logLevel = path, "debug"
		defer func() { logLevel = "" }()

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("pid file in data dir", func(t *testing.T) {
		cfgFile, logLevel = path, ""
		pidFile, err := pidFilePath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dataDir, "seance.pid"), pidFile)
	})
}
