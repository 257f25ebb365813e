package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
profiles:
  default:
    storage_provider:
      type: file
      options:
        base_path: /data
cache:
  size: 10G
  use_etag: true
  eviction_policy: lru
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	prof, ok := cfg.Profiles["default"]
	if !ok || prof.StorageProvider == nil || prof.StorageProvider.Type != "file" {
		t.Fatalf("profiles = %+v", cfg.Profiles)
	}
	if cfg.Cache.Size != "10G" || !cfg.Cache.UseEtag {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
}

func TestLoadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		"profiles": {
			"default": {"storage_provider": {"type": "s3", "options": {"bucket": "b"}}}
		}
	}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Profiles["default"].StorageProvider.Type != "s3" {
		t.Fatalf("profiles = %+v", cfg.Profiles)
	}
}

func TestValidateRejectsUnknownProviderType(t *testing.T) {
	cfg := &Config{Profiles: map[string]Profile{
		"bad": {StorageProvider: &NamedConfig{Type: "ftp"}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported storage_provider.type")
	}
}

func TestValidateRejectsUnderscoreProfileName(t *testing.T) {
	cfg := &Config{Profiles: map[string]Profile{
		"_internal": {StorageProvider: &NamedConfig{Type: "file"}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a profile name starting with underscore")
	}
}

func TestValidateRequiresProviderOrBundle(t *testing.T) {
	cfg := &Config{Profiles: map[string]Profile{
		"empty": {},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when neither storage_provider nor provider_bundle is set")
	}
}

func TestMergeRcloneAddsProfiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	rcloneDir := filepath.Join(home, ".config", "rclone")
	if err := os.MkdirAll(rcloneDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, rcloneDir, "rclone.conf", `
[remote-a]
type = s3
region = us-east-1
`)

	cfg := &Config{}
	if err := mergeRclone(cfg); err != nil {
		t.Fatalf("mergeRclone: %v", err)
	}
	prof, ok := cfg.Profiles["remote-a"]
	if !ok || prof.StorageProvider.Type != "s3" {
		t.Fatalf("profiles = %+v", cfg.Profiles)
	}
	if prof.StorageProvider.Options["region"] != "us-east-1" {
		t.Fatalf("options = %+v", prof.StorageProvider.Options)
	}
}

func TestMergeRcloneConflictIsError(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	rcloneDir := filepath.Join(home, ".config", "rclone")
	if err := os.MkdirAll(rcloneDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, rcloneDir, "rclone.conf", `
[default]
type = s3
`)

	cfg := &Config{Profiles: map[string]Profile{
		"default": {StorageProvider: &NamedConfig{Type: "file"}},
	}}
	if err := mergeRclone(cfg); err == nil {
		t.Fatal("expected a conflict error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MSC_MAX_WORKERS", "16")
	t.Setenv("MSC_JOB_NAME", "nightly-sync")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.Runtime.MaxWorkers != 16 {
		t.Fatalf("MaxWorkers = %d, want 16", cfg.Runtime.MaxWorkers)
	}
	if cfg.Runtime.JobName != "nightly-sync" {
		t.Fatalf("JobName = %q", cfg.Runtime.JobName)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	if cfg.Runtime.MaxWorkers != 8 {
		t.Fatalf("MaxWorkers = %d, want default 8", cfg.Runtime.MaxWorkers)
	}
}

func TestCacheSectionRejectsMixedSizeForms(t *testing.T) {
	sizeMB := int64(100)
	c := CacheSection{SizeMB: &sizeMB, Size: "10G"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when both size_mb and size are set")
	}
}

func TestCacheSectionToCacheConfig(t *testing.T) {
	c := CacheSection{Size: "1G", UseEtag: true, EvictionPolicy: "fifo"}
	out, err := c.ToCacheConfig()
	if err != nil {
		t.Fatalf("ToCacheConfig: %v", err)
	}
	if out.MaxCacheSize != 1<<30 {
		t.Fatalf("MaxCacheSize = %d", out.MaxCacheSize)
	}
	if !out.UseEtag {
		t.Fatal("UseEtag not propagated")
	}
}

func TestLoadNoFileFound(t *testing.T) {
	t.Setenv("MSC_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when no config file exists")
	}
}
