package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: postgres
  host: db.internal
  port: 5433
  name: presswork
  user: pw
  password: ${PW_TEST_DB_PASSWORD}

server:
  port: 9090
  trigger_secret: trigger-secret
  worker_secret: worker-secret
  rate_limit_per_minute: 120

dispatch:
  mode: remote
  worker_url: http://worker.internal:8081
  max_in_flight: 8
  job_timeout: 10m

recovery:
  stuck_timeout: 20m

scheduler:
  enabled: true
  trigger_cron: "*/5 * * * *"

bulk:
  max_per_request: 10

generation:
  endpoint: https://gen.internal
  requests_per_minute: 12

log:
  level: debug
  format: console
`

const minimalYAML = `
database:
  driver: sqlite
`

func TestParse_FullConfig(t *testing.T) {
	t.Setenv("PW_TEST_DB_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Database.Port != 5433 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 5433)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Database.Password = %q, want value expanded from env", cfg.Database.Password)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Dispatch.Mode != DispatchRemote {
		t.Errorf("Dispatch.Mode = %q, want %q", cfg.Dispatch.Mode, DispatchRemote)
	}
	if cfg.Dispatch.JobTimeout != 10*time.Minute {
		t.Errorf("Dispatch.JobTimeout = %v, want 10m", cfg.Dispatch.JobTimeout)
	}
	if cfg.Recovery.StuckTimeout != 20*time.Minute {
		t.Errorf("Recovery.StuckTimeout = %v, want 20m", cfg.Recovery.StuckTimeout)
	}
	if cfg.Scheduler.TriggerCron != "*/5 * * * *" {
		t.Errorf("Scheduler.TriggerCron = %q, want %q", cfg.Scheduler.TriggerCron, "*/5 * * * *")
	}
	if cfg.Bulk.MaxPerRequest != 10 {
		t.Errorf("Bulk.MaxPerRequest = %d, want 10", cfg.Bulk.MaxPerRequest)
	}
	if cfg.Generation.RequestsPerMinute != 12 {
		t.Errorf("Generation.RequestsPerMinute = %d, want 12", cfg.Generation.RequestsPerMinute)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, want console", cfg.Log.Format)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Path != "presswork.db" {
		t.Errorf("Database.Path = %q, want %q (default)", cfg.Database.Path, "presswork.db")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
	if cfg.Dispatch.Mode != DispatchInProcess {
		t.Errorf("Dispatch.Mode = %q, want %q (default)", cfg.Dispatch.Mode, DispatchInProcess)
	}
	if cfg.Recovery.StuckTimeout != 20*time.Minute {
		t.Errorf("Recovery.StuckTimeout = %v, want 20m (default)", cfg.Recovery.StuckTimeout)
	}
	if cfg.Scheduler.TriggerCron != "*/15 * * * *" {
		t.Errorf("Scheduler.TriggerCron = %q, want default", cfg.Scheduler.TriggerCron)
	}
	if cfg.Scheduler.QuotaResetCron != "0 0 1 * *" {
		t.Errorf("Scheduler.QuotaResetCron = %q, want default", cfg.Scheduler.QuotaResetCron)
	}
	if cfg.Bulk.MaxPerRequest != 20 {
		t.Errorf("Bulk.MaxPerRequest = %d, want 20 (default)", cfg.Bulk.MaxPerRequest)
	}
	if cfg.Worker.PollInterval != 30*time.Second {
		t.Errorf("Worker.PollInterval = %v, want 30s (default)", cfg.Worker.PollInterval)
	}
	if cfg.Auth.CacheSize != 1024 {
		t.Errorf("Auth.CacheSize = %d, want 1024 (default)", cfg.Auth.CacheSize)
	}
}

func TestParse_DefaultPortFollowsDriver(t *testing.T) {
	tests := []struct {
		driver string
		want   int
	}{
		{"mysql", 3306},
		{"postgres", 5432},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg, err := Parse([]byte("database:\n  driver: " + tt.driver + "\n  name: pw\n"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Database.Port != tt.want {
				t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, tt.want)
			}
		})
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing database name",
			yaml: "database:\n  driver: mysql\n",
			want: "database.name is required",
		},
		{
			name: "unknown driver",
			yaml: "database:\n  driver: oracle\n",
			want: `database.driver "oracle"`,
		},
		{
			name: "remote without worker url",
			yaml: "database:\n  driver: sqlite\ndispatch:\n  mode: remote\nserver:\n  worker_secret: x\n",
			want: "dispatch.worker_url is required",
		},
		{
			name: "remote without secret",
			yaml: "database:\n  driver: sqlite\ndispatch:\n  mode: remote\n  worker_url: http://w\n",
			want: "server.worker_secret is required",
		},
		{
			name: "unknown dispatch mode",
			yaml: "database:\n  driver: sqlite\ndispatch:\n  mode: carrier-pigeon\n",
			want: `dispatch.mode "carrier-pigeon"`,
		},
		{
			name: "stuck timeout too short",
			yaml: "database:\n  driver: sqlite\nrecovery:\n  stuck_timeout: 30s\ndispatch:\n  job_timeout: 10s\n",
			want: "recovery.stuck_timeout must be at least 1m",
		},
		{
			name: "job timeout beyond stuck timeout",
			yaml: "database:\n  driver: sqlite\nrecovery:\n  stuck_timeout: 10m\ndispatch:\n  job_timeout: 30m\n",
			want: "dispatch.job_timeout must not exceed recovery.stuck_timeout",
		},
		{
			name: "bad log format",
			yaml: "database:\n  driver: sqlite\nlog:\n  format: xml\n",
			want: `log.format "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleErrorsJoined(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: mysql\ndispatch:\n  mode: remote\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"database.name is required", "dispatch.worker_url is required", "server.worker_secret is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to contain %q", err.Error(), want)
		}
	}
	if strings.Count(err.Error(), "; ") < 2 {
		t.Errorf("error = %q, want errors joined with \"; \"", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unterminated"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presswork.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}
