package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Addr    string        `split_words:"true" default:":8080"`
	APIKey  string        `envconfig:"API_KEY" required:"true"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

func TestNewLoadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SAMPLE_API_KEY=from-file\nSAMPLE_TIMEOUT=2s\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	os.Unsetenv("SAMPLE_API_KEY")
	os.Unsetenv("SAMPLE_TIMEOUT")
	t.Cleanup(func() {
		os.Unsetenv("SAMPLE_API_KEY")
		os.Unsetenv("SAMPLE_TIMEOUT")
		SetEnvFile("")
	})

	SetEnvFile(path)
	conf, err := New[sampleConfig]("SAMPLE")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.APIKey != "from-file" {
		t.Fatalf("APIKey = %q, want %q", conf.APIKey, "from-file")
	}
	if conf.Timeout != 2*time.Second {
		t.Fatalf("Timeout = %v, want 2s", conf.Timeout)
	}
	if conf.Addr != ":8080" {
		t.Fatalf("Addr = %q, want default", conf.Addr)
	}
}

func TestNewEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.env")
	if err := os.WriteFile(path, []byte("OVERRIDE_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("OVERRIDE_API_KEY", "from-env")
	t.Cleanup(func() { SetEnvFile("") })

	SetEnvFile(path)
	conf, err := New[sampleConfig]("OVERRIDE")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.APIKey != "from-env" {
		t.Fatalf("APIKey = %q, want %q", conf.APIKey, "from-env")
	}
}

func TestNewMissingEnvFile(t *testing.T) {
	t.Cleanup(func() { SetEnvFile("") })
	SetEnvFile(filepath.Join(t.TempDir(), "missing.env"))

	if _, err := New[sampleConfig]("MISSINGFILE"); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
