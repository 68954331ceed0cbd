package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear env to test defaults
	for _, key := range []string{
		"POOLMGR_PORT", "POOLMGR_BACKEND", "POOLMGR_GRANULARITY", "POOLMGR_MAX_NODES",
		"POOLMGR_STATE_BACKEND", "POOLMGR_STATE_PATH", "POOLMGR_REGION", "POOLMGR_S3_REGION",
		"POOLMGR_SECRETS_ARN", "POOLMGR_CALL_TIMEOUT", "POOLMGR_NATS_URL", "POOLMGR_REFRESH_INTERVAL",
		"POOLMGR_STATUS_RETENTION",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Backend != BackendLocal {
		t.Errorf("expected backend local, got %s", cfg.Backend)
	}
	if cfg.Granularity != 1 || cfg.MaxNodes != 10 {
		t.Errorf("expected granularity 1 and max nodes 10, got %d and %d", cfg.Granularity, cfg.MaxNodes)
	}
	if cfg.StateBackend != StateFile || cfg.StatePath != "poolmgr_state.json" {
		t.Errorf("unexpected state backend %s at %s", cfg.StateBackend, cfg.StatePath)
	}
	if cfg.S3Region != cfg.Region {
		t.Errorf("expected S3 region to default to %s, got %s", cfg.Region, cfg.S3Region)
	}
	if cfg.CallTimeout != 2*time.Minute {
		t.Errorf("expected call timeout 2m, got %s", cfg.CallTimeout)
	}
	if cfg.RefreshInterval != 30*time.Second {
		t.Errorf("expected refresh interval 30s, got %s", cfg.RefreshInterval)
	}
	if cfg.StatusRetention != 24*time.Hour {
		t.Errorf("expected status retention 24h, got %s", cfg.StatusRetention)
	}
	if cfg.NATSURL != "" {
		t.Errorf("expected events disabled by default, got %s", cfg.NATSURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POOLMGR_PORT", "9999")
	t.Setenv("POOLMGR_API_KEY", "test-key")
	t.Setenv("POOLMGR_BACKEND", "slurm")
	t.Setenv("POOLMGR_GRANULARITY", "2")
	t.Setenv("POOLMGR_TASKS_PER_NODE", "4.5")
	t.Setenv("POOLMGR_SLURM_COMMAND_TIMEOUT", "30s")
	t.Setenv("POOLMGR_S3_FORCE_PATH_STYLE", "true")
	t.Setenv("POOLMGR_NATS_URL", "nats://nats:4222")
	t.Setenv("POOLMGR_REFRESH_INTERVAL", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("expected API key test-key, got %s", cfg.APIKey)
	}
	if cfg.Backend != BackendSlurm {
		t.Errorf("expected backend slurm, got %s", cfg.Backend)
	}
	if cfg.Granularity != 2 {
		t.Errorf("expected granularity 2, got %d", cfg.Granularity)
	}
	if cfg.TasksPerNode != 4.5 {
		t.Errorf("expected 4.5 tasks per node, got %v", cfg.TasksPerNode)
	}
	if cfg.SlurmCommandTimeout != 30*time.Second {
		t.Errorf("expected 30s, got %s", cfg.SlurmCommandTimeout)
	}
	if !cfg.S3ForcePathStyle {
		t.Error("expected path-style S3 addressing")
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("expected NATS URL, got %s", cfg.NATSURL)
	}
	if cfg.RefreshInterval != 0 {
		t.Errorf("expected refresh disabled, got %s", cfg.RefreshInterval)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("POOLMGR_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Backend:      BackendLocal,
			StateBackend: StateFile,
			StatePath:    "state.json",
			Granularity:  1,
			MaxNodes:     4,
			TasksPerNode: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "gce" }, true},
		{"zero granularity", func(c *Config) { c.Granularity = 0 }, true},
		{"negative max nodes", func(c *Config) { c.MaxNodes = -1 }, true},
		{"zero tasks per node", func(c *Config) { c.TasksPerNode = 0 }, true},
		{"s3 without bucket", func(c *Config) { c.StateBackend = StateS3 }, true},
		{"s3 with bucket", func(c *Config) { c.StateBackend = StateS3; c.S3Bucket = "b" }, false},
		{"redis without url", func(c *Config) { c.StateBackend = StateRedis }, true},
		{"redis with url", func(c *Config) { c.StateBackend = StateRedis; c.RedisURL = "redis://localhost:6379/0" }, false},
		{"negative refresh", func(c *Config) { c.RefreshInterval = -time.Second }, true},
		{"unknown state backend", func(c *Config) { c.StateBackend = "etcd" }, true},
		{"ec2 without ami", func(c *Config) { c.Backend = BackendEC2 }, true},
		{"ec2 with ami", func(c *Config) { c.Backend = BackendEC2; c.EC2AMI = "ami-1" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplySecretsEnvWins(t *testing.T) {
	t.Setenv("POOLMGR_API_KEY", "from-env")
	t.Setenv("POOLMGR_S3_BUCKET", "")

	applied, total, err := applySecrets(`{"POOLMGR_API_KEY":"from-secret","POOLMGR_S3_BUCKET":"pool-state"}`)
	if err != nil {
		t.Fatalf("applySecrets() error: %v", err)
	}
	if applied != 1 || total != 2 {
		t.Errorf("expected 1 of 2 applied, got %d of %d", applied, total)
	}
	if got := os.Getenv("POOLMGR_API_KEY"); got != "from-env" {
		t.Errorf("env var was overridden: %s", got)
	}
	if got := os.Getenv("POOLMGR_S3_BUCKET"); got != "pool-state" {
		t.Errorf("expected bucket from secret, got %q", got)
	}
}

func TestApplySecretsInvalidJSON(t *testing.T) {
	if _, _, err := applySecrets("not json"); err == nil {
		t.Fatal("expected error for invalid secret JSON")
	}
}

func TestReadOptionalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user-data.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{EC2UserDataFile: path}
	data, err := cfg.UserData()
	if err != nil || data != "#!/bin/sh\n" {
		t.Errorf("UserData() = %q, %v", data, err)
	}

	tmpl, err := cfg.JobTemplate()
	if err != nil || tmpl != "" {
		t.Errorf("JobTemplate() with no file = %q, %v", tmpl, err)
	}

	cfg.JobTemplateFile = filepath.Join(dir, "missing.tmpl")
	if _, err := cfg.JobTemplate(); err == nil {
		t.Error("expected error for missing template file")
	}
}
