package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "quill")
	p := writeFile(t, "name: ${SAMPLE_NAME}\nport: 80\n")
	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "quill" || s.Port != 80 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadValidates(t *testing.T) {
	p := writeFile(t, "name: x\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	s := sample{Port: 8080}
	if err := LoadOptional(missing, &s); err != nil {
		t.Fatalf("missing file with valid defaults: %v", err)
	}

	bad := sample{}
	if err := LoadOptional(missing, &bad); err == nil {
		t.Fatal("defaults should still be validated")
	}

	p := writeFile(t, "port: 9\n")
	if err := LoadOptional(p, &s); err != nil || s.Port != 9 {
		t.Fatalf("existing file: %v %+v", err, s)
	}
}
