package authcli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"status"}, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Command != "status" {
		t.Fatalf("expected status command, got %q", cfg.Command)
	}
	if cfg.SessionPath == "" {
		t.Fatal("expected a default session path")
	}
}

func TestParseConfigOverrides(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "EVERWITH_SESSION_PATH" {
			return "env-session.db", true
		}
		return "", false
	}

	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-email", "a@example.com", "-password", "secret", "login"}, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SessionPath != "env-session.db" {
		t.Fatalf("expected env session path, got %q", cfg.SessionPath)
	}
	if cfg.Email != "a@example.com" || cfg.Password != "secret" {
		t.Fatalf("expected credentials from flags, got %q/%q", cfg.Email, cfg.Password)
	}
	if cfg.Command != "login" {
		t.Fatalf("expected login command, got %q", cfg.Command)
	}
}

func TestEnsureParentDirCreatesMissingDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "everwith", "nested", "session.db")

	if err := ensureParentDir(path); err != nil {
		t.Fatalf("ensure parent dir: %v", err)
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("expected parent directory created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}

	// Idempotent and safe for paths with no parent to create.
	if err := ensureParentDir(path); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if err := ensureParentDir(":memory:"); err != nil {
		t.Fatalf("memory path: %v", err)
	}
	if err := ensureParentDir("session.db"); err != nil {
		t.Fatalf("bare filename: %v", err)
	}
}

func TestParseConfigRequiresCommand(t *testing.T) {
	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil, nil); err == nil {
		t.Fatal("expected an error without a subcommand")
	}
}
