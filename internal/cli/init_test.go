package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/seance/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "seance.json")

	output, err := executeCommand(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration saved to: "+path)
	assert.FileExists(t, path)

	cfg, err := config.NewLoader(path).WithEnvFiles().Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, "search_splunk", cfg.Tools.DefaultQueryTool)

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, err := executeCommand(t, "init", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("force overwrites", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9999}}`), 0644))

		_, err := executeCommand(t, "init", "--config", path, "--force")
		require.NoError(t, err)

		cfg, err := config.NewLoader(path).WithEnvFiles().Load()
		require.NoError(t, err)
		assert.Equal(t, 8000, cfg.Server.Port)
	})
}
