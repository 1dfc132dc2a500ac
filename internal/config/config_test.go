package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "runlet.db", cfg.Database)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Poll.Std())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9999"
database: /tmp/other.db
ai:
  model: gpt-4o
  base_url: http://localhost:11434/v1
scheduler:
  enabled: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "/tmp/other.db", cfg.Database)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.AI.BaseURL)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.AI.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty listen", "listen: \"\""},
		{"empty database", "database: \"\""},
		{"bad poll", "scheduler:\n  enabled: true\n  poll: 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
