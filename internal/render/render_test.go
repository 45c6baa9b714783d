package render

import (
	"strings"
	"testing"
)

func TestRenderBasics(t *testing.T) {
	r := New(Options{})
	html, err := r.Render("# Title\n\nSome **bold** text and ~~gone~~.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{`<h1 id="title">Title</h1>`, "<strong>bold</strong>", "<del>gone</del>", "<table>"} {
		if !strings.Contains(html, want) {
			t.Errorf("missing %q in %s", want, html)
		}
	}
}

func TestRenderKeepsRawHTMLAndDataImages(t *testing.T) {
	r := New(Options{})
	html, err := r.Render("<span class=\"x\">raw</span>\n\n![a](data:image/png;base64,AAAA)\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, `<span class="x">raw</span>`) {
		t.Errorf("raw html dropped: %s", html)
	}
	if !strings.Contains(html, `src="data:image/png;base64,AAAA"`) {
		t.Errorf("data image dropped: %s", html)
	}
}

func TestRenderHighlightsCode(t *testing.T) {
	r := New(Options{HighlightStyle: "monokai"})
	html, err := r.Render("```go\nfunc main() {}\n```\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "<pre") || !strings.Contains(html, "style=") {
		t.Errorf("expected inline-styled highlighted block, got %s", html)
	}
}

func TestRenderHardWraps(t *testing.T) {
	soft, _ := New(Options{}).Render("a\nb")
	hard, _ := New(Options{HardWraps: true}).Render("a\nb")
	if strings.Contains(soft, "<br") {
		t.Errorf("soft wrap rendered a break: %s", soft)
	}
	if !strings.Contains(hard, "<br") {
		t.Errorf("hard wrap missing break: %s", hard)
	}
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"plain text", 0},
		{"```mermaid\ngraph TD\n```", 1},
		{"$$x^2$$", 1},
		{"inline $a+b$ math", 1},
		{"```infographic\ndata\n```\n$$y$$", 2},
	}
	for _, tt := range tests {
		if got := Warnings(tt.in); len(got) != tt.want {
			t.Errorf("Warnings(%q) = %v, want %d", tt.in, got, tt.want)
		}
	}
}
