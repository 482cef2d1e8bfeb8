package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_TOKEN", "abc")
	p := writeFile(t, "name: svc\ntoken: ${SAMPLE_TOKEN}\n")

	s := &sample{Port: 8080}
	if err := Load(p, s); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "svc" || s.Port != 8080 || s.Token != "abc" {
		t.Errorf("got %+v", s)
	}
}

func TestLoadValidates(t *testing.T) {
	p := writeFile(t, "port: -1\n")
	if err := Load(p, &sample{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	s := &sample{Port: 1}
	if err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), s); err != nil {
		t.Fatalf("missing file should use defaults: %v", err)
	}
	if err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), &sample{}); err == nil {
		t.Fatal("defaults still go through validation")
	}
}

func TestLoadBadYAML(t *testing.T) {
	p := writeFile(t, "port: [\n")
	if err := Load(p, &sample{Port: 1}); err == nil {
		t.Fatal("expected parse error")
	}
}
