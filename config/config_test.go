package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
mysql:
  dsn: "user:pass@tcp(localhost:3306)/adreel"
redis:
  addr: "localhost:6379"
worker:
  addr: "http://localhost:9000"
minio:
  endpoint: "localhost:9001"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_RepositoryFile(t *testing.T) {
	cfg, err := LoadConfig("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Store.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Pipeline.SilenceGap)
	assert.Equal(t, 20*time.Minute, cfg.Retry.VideoTimeout)
	assert.Equal(t, "abort", cfg.Pipeline.SceneFailurePolicy)
}

func TestLoadConfig_FillsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pipeline.MaxRounds)
	assert.Equal(t, 18, cfg.Pipeline.MaxDialogueWords)
	assert.Equal(t, 6, cfg.Pipeline.SceneDuration)
	assert.Equal(t, 1, cfg.Pipeline.SceneConcurrency)
	assert.Equal(t, 90*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Initial)
	assert.Equal(t, "85%", cfg.Polly.Rate)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MINIO_SECRET_KEY", "minio-secret")
	t.Setenv("SCENE_CONCURRENCY", "3")

	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "minio-secret", cfg.MinIO.SecretKey)
	assert.Equal(t, 3, cfg.Pipeline.SceneConcurrency)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{
			name:  "unknown scene failure policy",
			extra: "pipeline:\n  scene_failure_policy: placeholder\n",
		},
		{
			name:  "unknown store backend",
			extra: "store:\n  backend: postgres\n",
		},
		{
			name:  "retry max below initial",
			extra: "retry:\n  initial: 10s\n  max: 1s\n",
		},
		{
			name:  "dynamo without table",
			extra: "store:\n  backend: dynamo\ndynamo:\n  region: us-east-1\n  table: \"\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, minimalYAML+tt.extra))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
