package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photoqueue/internal/testsupport"
)

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "photoqueue", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected sample config at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing config error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowRedactsToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transport.APIToken = "secret-token"
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"config", "show"}, "", configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "secret-token") {
		t.Fatalf("expected token to be redacted:\n%s", out)
	}
	requireContains(t, out, "********")
	requireContains(t, out, configPath)
	requireContains(t, out, "[transport]")
}

func TestConfigValidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"config", "validate"}, "", configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	broken := filepath.Join(testsupport.BaseDir(cfg), "broken.toml")
	if err := os.WriteFile(broken, []byte("[upload]\nconcurrency = \"many\"\n"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, "", broken); err == nil {
		t.Fatal("expected broken config to fail")
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[string]string{
		"queued":         "Queued",
		"uploading":      "Uploading",
		"files_rejected": "Files Rejected",
	}
	for input, want := range tests {
		if got := statusLabel(input); got != want {
			t.Fatalf("statusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}
