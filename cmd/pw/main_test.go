package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zulandar/presswork/internal/config"
	pwdb "github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/models"
)

func init() {
	color.NoColor = true
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a sqlite config into a temp dir and returns its path
// and the database path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "pw.db")
	cfgPath := filepath.Join(dir, "presswork.yaml")
	data := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
log:
  level: error
`, dbPath)
	if err := os.WriteFile(cfgPath, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "pw dev") {
		t.Errorf("expected output to contain 'pw dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"pw 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdListsSubcommands(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, sub := range []string{"serve", "worker", "trigger", "sweep", "db", "job", "status", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestCommandsHaveConfigFlag(t *testing.T) {
	root := newRootCmd()
	var check func(c *cobra.Command)
	check = func(c *cobra.Command) {
		if c.RunE != nil {
			f := c.Flags().Lookup("config")
			if f == nil {
				t.Errorf("%s: missing --config flag", c.CommandPath())
			} else if f.Shorthand != "c" || f.DefValue != defaultConfigPath {
				t.Errorf("%s: --config = -%s default %q, want -c default %q", c.CommandPath(), f.Shorthand, f.DefValue, defaultConfigPath)
			}
		}
		for _, sub := range c.Commands() {
			check(sub)
		}
	}
	check(root)
}

func TestMissingConfig(t *testing.T) {
	for _, args := range [][]string{
		{"db", "migrate"},
		{"sweep"},
		{"status"},
		{"job", "show", "job-1"},
	} {
		_, err := run(t, append(args, "--config", "/nonexistent/presswork.yaml")...)
		if err == nil {
			t.Errorf("%v: expected error for missing config", args)
		}
	}
}

func TestJobEnqueue_RequiresFlags(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if _, err := run(t, "job", "enqueue", "-c", cfgPath, "--website", "site-1"); err == nil {
		t.Fatal("expected error without --keyword")
	}
}

func TestDBMigrateSweepStatus(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := run(t, "db", "migrate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, fmt.Sprintf("Migrated %d tables", len(pwdb.AllModels()))) {
		t.Errorf("db migrate output = %q", out)
	}

	out, err = run(t, "sweep", "-c", cfgPath)
	if err != nil {
		t.Fatalf("sweep: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Recovered 0 stuck jobs") {
		t.Errorf("sweep output = %q", out)
	}

	out, err = run(t, "status", "-c", cfgPath)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	for _, want := range []string{"QUEUED", "FAILED", "none registered", "Scheduler: disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestJobEnqueueRunsInProcess(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	if _, err := run(t, "db", "migrate", "-c", cfgPath); err != nil {
		t.Fatalf("db migrate: %v", err)
	}

	gormDB, err := pwdb.ConnectSQLite(dbPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := gormDB.Create(&models.Organization{ID: "org-1", Name: "Acme", MaxPostsPerMonth: 5}).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	if err := gormDB.Create(&models.Website{ID: "site-1", OrganizationID: "org-1", Name: "S", Domain: "s.test", Active: true}).Error; err != nil {
		t.Fatalf("seed website: %v", err)
	}
	sqlDB, _ := gormDB.DB()
	sqlDB.Close()

	out, err := run(t, "job", "enqueue", "-c", cfgPath, "--website", "site-1", "--keyword", "cold brew")
	if err != nil {
		t.Fatalf("job enqueue: %v\n%s", err, out)
	}
	if !strings.Contains(out, "queued for site-1") {
		t.Errorf("expected queued message, got: %s", out)
	}
	if !strings.Contains(out, "Status:     COMPLETED") {
		t.Errorf("expected job to complete in process, got: %s", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer keyword", 10, "a longe..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestPlural(t *testing.T) {
	if got := plural(1, "job"); got != "job" {
		t.Errorf("plural(1) = %q", got)
	}
	if got := plural(2, "job"); got != "jobs" {
		t.Errorf("plural(2) = %q", got)
	}
}

func TestPullWriteTimeout(t *testing.T) {
	tests := []struct {
		write, job time.Duration
		want       time.Duration
	}{
		{30 * time.Second, 15 * time.Minute, 16 * time.Minute},
		{time.Hour, 15 * time.Minute, time.Hour},
	}
	for _, tt := range tests {
		cfg := &config.Config{}
		cfg.Server.WriteTimeout = tt.write
		cfg.Dispatch.JobTimeout = tt.job
		if got := pullWriteTimeout(cfg); got != tt.want {
			t.Errorf("pullWriteTimeout(write=%s, job=%s) = %s, want %s", tt.write, tt.job, got, tt.want)
		}
	}
}
