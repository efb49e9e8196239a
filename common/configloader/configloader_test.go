package configloader

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
	Hosts   []string      `mapstructure:"hosts"`
	Enabled bool          `mapstructure:"enabled"`
	Secret  string        `mapstructure:"secret" json:"-"`
	Nested  struct {
		Limit int `mapstructure:"limit"`
	} `mapstructure:"nested"`
}

func (s *sample) Validate() error {
	if s.Name == "" {
		return errors.New("name required")
	}
	return nil
}

var sampleDefaults = map[string]interface{}{
	"name":         "svc",
	"timeout":      "5s",
	"hosts":        []string{"a"},
	"enabled":      false,
	"secret":       "",
	"nested.limit": 10,
}

func TestLoad_DefaultsOnly(t *testing.T) {
	var cfg sample
	if err := Load("", "CLTEST", sampleDefaults, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "svc" || cfg.Timeout != 5*time.Second || cfg.Nested.Limit != 10 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CLTEST_TIMEOUT", "250ms")
	t.Setenv("CLTEST_HOSTS", "x,y,z")
	t.Setenv("CLTEST_ENABLED", "true")
	t.Setenv("CLTEST_NESTED_LIMIT", "3")

	var cfg sample
	if err := Load("", "CLTEST", sampleDefaults, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if strings.Join(cfg.Hosts, ",") != "x,y,z" {
		t.Errorf("Hosts = %v", cfg.Hosts)
	}
	if !cfg.Enabled {
		t.Error("Enabled = false; want true")
	}
	if cfg.Nested.Limit != 3 {
		t.Errorf("Nested.Limit = %d", cfg.Nested.Limit)
	}
}

func TestLoad_FileAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("name: \"\"\ntimeout: 1m\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var cfg sample
	err := Load(path, "CLTEST", sampleDefaults, &cfg)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg sample
	if err := Load("/does/not/exist.yaml", "CLTEST", sampleDefaults, &cfg); err == nil {
		t.Fatal("expected read error")
	}
}

func TestPrintConfig_HidesSecrets(t *testing.T) {
	cfg := sample{Name: "svc", Secret: "hunter2"}
	var buf bytes.Buffer
	if err := PrintConfig(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("secret leaked: %s", buf.String())
	}
}

func TestLoad_EnvListsTrimmedAndEmptyBool(t *testing.T) {
	t.Setenv("CLTEST_HOSTS", " a=1 , ,b=2")
	t.Setenv("CLTEST_ENABLED", "")

	var cfg sample
	if err := Load("", "CLTEST", sampleDefaults, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.Hosts, "|") != "a=1|b=2" {
		t.Errorf("Hosts = %q", cfg.Hosts)
	}
	if cfg.Enabled {
		t.Error("empty bool should decode as false")
	}
}
