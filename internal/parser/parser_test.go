package parser

import (
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ncover: assets/cover.png\nauthor: Ann\ndescription: short\n---\n# Heading\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	want := Meta{Title: "Hello", Cover: "assets/cover.png", Author: "Ann", Digest: "short"}
	if r.Meta != want {
		t.Errorf("meta = %+v, want %+v", r.Meta, want)
	}
	if r.Body != "# Heading\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("intro\n# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_UnclosedFrontmatterIsBody(t *testing.T) {
	input := []byte("---\ntitle: x\nno closing\n")
	r, _ := Parse(input)
	if r.Frontmatter != nil || r.Body != string(input) {
		t.Errorf("unexpected split: %+v", r)
	}
}

func TestString(t *testing.T) {
	fm := map[string]interface{}{"s": "  v ", "n": 3, "b": true, "list": []interface{}{"a"}}
	cases := map[string]string{"s": "v", "n": "3", "b": "true", "list": "", "missing": ""}
	for k, want := range cases {
		if got := String(fm, k); got != want {
			t.Errorf("String(%q) = %q, want %q", k, got, want)
		}
	}
	if String(nil, "s") != "" {
		t.Error("nil frontmatter should yield empty")
	}
}

func TestHeadingTitle(t *testing.T) {
	tests := map[string]string{
		"# Title":                 "Title",
		"text\n#   Spaced out  \n": "Spaced out",
		"## Second level":         "",
		"#NoSpace":                "",
		"":                        "",
	}
	for in, want := range tests {
		if got := HeadingTitle(in); got != want {
			t.Errorf("HeadingTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
