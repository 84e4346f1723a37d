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
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "waba-flow", cfg.Service.Name)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "./dev.db", cfg.Database.DSN)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, "wabaflow:", cfg.Redis.Prefix)
	assert.Equal(t, 100, cfg.Engine.MaxSteps)
	assert.Equal(t, "close", cfg.Engine.DanglingPolicy)
	assert.Equal(t, "early_answer", cfg.Engine.QuestionPolicy)
	assert.Equal(t, 30*time.Second, cfg.Engine.LockTTL)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Worker.RetryBackoff)
	assert.Equal(t, 200*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4096, cfg.Input.MaxSize)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: Postgres
  dsn: postgres://localhost/wabaflow
engine:
  max_steps: 20
  dangling_policy: escalate
worker:
  retry_backoff: 500ms
`), 0o644))

	t.Setenv("WABAFLOW_REDIS_ADDR", "localhost:6379")
	t.Setenv("WABAFLOW_ENGINE_MAX_STEPS", "30")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/wabaflow", cfg.Database.DSN)
	assert.Equal(t, 30, cfg.Engine.MaxSteps, "env wins over file")
	assert.Equal(t, "escalate", cfg.Engine.DanglingPolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.RetryBackoff)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wabaflow.yaml"), []byte("http:\n  addr: \":9090\"\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  any
		target error
	}{
		{"Driver", "database.driver", "mysql", ErrInvalidDriver},
		{"Max Steps", "engine.max_steps", 0, ErrInvalidMaxSteps},
		{"Dangling Policy", "engine.dangling_policy", "ignore", ErrInvalidPolicy},
		{"Question Policy", "engine.question_policy", "whenever", ErrInvalidPolicy},
		{"Concurrency", "worker.concurrency", 0, ErrInvalidConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			v := New()
			v.Set(tt.key, tt.value)
			_, err := Load(v, "")
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
