package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
paths:
  unionfs_folder: "/local/.unionfs"
  cloud_folder: "/cloud"
  remote_folder: "remote:"
  local_folder: "/local/Media"
  local_remote: "remote:/Media"
writeback:
  local_folder_size_gb: 100
  prune:
    - path: "/local/Media/Movies"
      min_depth: 2
dry_run: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Paths.CloudFolder != "/cloud" {
		t.Errorf("unexpected cloud folder: %s", cfg.Paths.CloudFolder)
	}
	if cfg.WriteBack.LocalFolderSizeGB != 100 {
		t.Errorf("unexpected size ceiling: %d", cfg.WriteBack.LocalFolderSizeGB)
	}
	if cfg.WriteBack.CheckIntervalMinutes != 60 {
		t.Errorf("check interval not back-filled: %d", cfg.WriteBack.CheckIntervalMinutes)
	}
	if len(cfg.WriteBack.Prune) != 1 || cfg.WriteBack.Prune[0].MinDepth != 2 {
		t.Errorf("unexpected prune roots: %+v", cfg.WriteBack.Prune)
	}
	if cfg.DryRun {
		t.Error("dry_run should be false")
	}
	if cfg.Ledger.Path != filepath.Join(filepath.Dir(path), "ledger.db") {
		t.Errorf("ledger path not resolved next to config: %s", cfg.Ledger.Path)
	}
	if len(cfg.Upgraded) == 0 {
		t.Fatal("expected missing keys to be reported")
	}

	// The upgraded document must be persisted.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "check_interval_minutes: 60") {
		t.Errorf("upgraded config not persisted:\n%s", data)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadCompleteConfigIsNotUpgraded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Upgraded) != 0 {
		t.Fatalf("expected no upgrade, got %v", cfg.Upgraded)
	}
}

func TestUpgradeIsIdempotent(t *testing.T) {
	in := []byte("writeback:\n  local_folder_size_gb: 10\n")

	once, added, err := Upgrade(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) == 0 {
		t.Fatal("expected keys to be added")
	}

	twice, addedAgain, err := Upgrade(once)
	if err != nil {
		t.Fatal(err)
	}
	if len(addedAgain) != 0 {
		t.Errorf("second upgrade added %v", addedAgain)
	}
	if !bytes.Equal(once, twice) {
		t.Errorf("upgrade not idempotent:\n--- once\n%s\n--- twice\n%s", once, twice)
	}
}

func TestUpgradeContainsEveryDefaultKey(t *testing.T) {
	out, _, err := Upgrade([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]interface{}{}
	if err := yaml.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	defaults, err := defaultDocument()
	if err != nil {
		t.Fatal(err)
	}
	var missing []string
	backfill(got, defaults, "", &missing)
	if len(missing) != 0 {
		t.Errorf("keys still missing after upgrade: %v", missing)
	}
}

func TestUpgradeKeepsUnknownAndExistingKeys(t *testing.T) {
	in := []byte(`
legacy_option: 42
writeback:
  local_folder_size_gb: 10
  custom_note: keep me
`)
	out, added, err := Upgrade(in)
	if err != nil {
		t.Fatal(err)
	}

	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["legacy_option"] != 42 {
		t.Errorf("unknown top-level key dropped: %v", doc["legacy_option"])
	}
	wb := doc["writeback"].(map[string]interface{})
	if wb["custom_note"] != "keep me" {
		t.Errorf("unknown nested key dropped: %v", wb["custom_note"])
	}
	if wb["local_folder_size_gb"] != 10 {
		t.Errorf("existing value overwritten: %v", wb["local_folder_size_gb"])
	}

	found := false
	for _, k := range added {
		if k == "writeback.check_interval_minutes" {
			found = true
		}
		if k == "writeback.local_folder_size_gb" {
			t.Error("existing key reported as added")
		}
	}
	if !found {
		t.Errorf("nested key not reported as added: %v", added)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no unionfs folder", func(c *Config) { c.Paths.UnionFSFolder = "" }},
		{"zero ceiling", func(c *Config) { c.WriteBack.LocalFolderSizeGB = 0 }},
		{"zero interval", func(c *Config) { c.WriteBack.CheckIntervalMinutes = 0 }},
		{"prune min depth", func(c *Config) { c.WriteBack.Prune = []PruneRoot{{Path: "/x", MinDepth: 0}} }},
		{"bad pattern", func(c *Config) { c.Rclone.RateLimitPattern = "(" }},
		{"bad backend", func(c *Config) { c.Remote.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Remote.Backend = "s3" }},
		{"bad watch mode", func(c *Config) { c.ConfigWatch.Mode = "inotify" }},
		{"nats without url", func(c *Config) {
			c.Notify.NATS.Enabled = true
			c.Notify.NATS.URL = ""
		}},
		{"responder without subject", func(c *Config) {
			c.API.NATSResponder.Enabled = true
			c.API.NATSResponder.Subject = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UFC_CONFIG", "/etc/ufc.yaml")
	t.Setenv("UFC_LOG_LEVEL", "debug")
	t.Setenv("UFC_DRY_RUN", "false")

	e, err := ParseEnv()
	if err != nil {
		t.Fatal(err)
	}
	if e.ConfigPath != "/etc/ufc.yaml" {
		t.Errorf("unexpected config path: %s", e.ConfigPath)
	}

	cfg := DefaultConfig()
	e.Apply(cfg)
	if cfg.Observability.Logging.Level != "debug" {
		t.Errorf("log level not applied: %s", cfg.Observability.Logging.Level)
	}
	if cfg.DryRun {
		t.Error("dry run override not applied")
	}
	if cfg.Observability.Logging.Format != "json" {
		t.Errorf("unset override changed format: %s", cfg.Observability.Logging.Format)
	}
}
