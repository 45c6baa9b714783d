package importer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/starford/quill/internal/apperr"
)

const page = `<html><head><title>t</title><script>var x = 1;</script></head>
<body><h1>Page Title</h1><p>Hello <a href="/docs/next">next page</a></p></body></html>`

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestImportViaReader(t *testing.T) {
	var gotAuth, gotEngine, gotPath string
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEngine = r.Header.Get("X-Engine")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("# Reader: Title?\n\n[![pic](https://img/a.png)](https://link)\n"))
	}))
	defer reader.Close()

	im := New(Options{Mode: ModeReader, ReaderURL: reader.URL + "/", ReaderKey: "k", Engine: "browser"}, quiet())
	doc, err := im.Import(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if gotAuth != "Bearer k" || gotEngine != "browser" {
		t.Errorf("headers: auth=%q engine=%q", gotAuth, gotEngine)
	}
	if !strings.HasSuffix(gotPath, "/example.com/post") {
		t.Errorf("reader path = %q", gotPath)
	}
	if !strings.Contains(doc.Markdown, "![pic](https://img/a.png)\n") || strings.Contains(doc.Markdown, "https://link") {
		t.Errorf("nested image not cleaned: %q", doc.Markdown)
	}
	if doc.Title != "Reader: Title?" || doc.Filename != "Reader Title.md" || doc.Via != ModeReader {
		t.Errorf("doc = %+v", doc)
	}
}

func TestImportNoReaderKeyOmitsAuthorization(t *testing.T) {
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header")
		}
		_, _ = w.Write([]byte("body"))
	}))
	defer reader.Close()

	im := New(Options{Mode: ModeReader, ReaderURL: reader.URL + "/"}, quiet())
	doc, err := im.Import(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "example.com" {
		t.Errorf("title = %q, want host fallback", doc.Title)
	}
}

func TestImportAutoFallsBackToLocal(t *testing.T) {
	var readerCalls atomic.Int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readerCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer reader.Close()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer site.Close()

	im := New(Options{ReaderURL: reader.URL + "/"}, quiet())
	doc, err := im.Import(context.Background(), site.URL+"/article")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if readerCalls.Load() != 2 {
		t.Errorf("reader calls = %d, want one retry", readerCalls.Load())
	}
	if doc.Via != ModeLocal || doc.Title != "Page Title" {
		t.Errorf("doc = %+v", doc)
	}
	if strings.Contains(doc.Markdown, "var x") {
		t.Errorf("script leaked into markdown: %q", doc.Markdown)
	}
	if !strings.Contains(doc.Markdown, site.URL+"/docs/next") {
		t.Errorf("relative link not absolutized: %q", doc.Markdown)
	}
}

func TestImportLocalNotFound(t *testing.T) {
	site := httptest.NewServer(http.NotFoundHandler())
	defer site.Close()
	im := New(Options{Mode: ModeLocal}, quiet())
	if _, err := im.Import(context.Background(), site.URL); err == nil {
		t.Fatal("expected error for 404 page")
	}
}

func TestImportRejectsNonHTTP(t *testing.T) {
	im := New(Options{}, quiet())
	for _, u := range []string{"", "ftp://x/y", "not a url", "file:///etc/passwd"} {
		if _, err := im.Import(context.Background(), u); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Import(%q) err = %v", u, err)
		}
	}
}

func TestCleanNestedImages(t *testing.T) {
	in := "a [![x](i1.png)](l1) b [![](i2.png)](l2) [plain](l3)"
	want := "a ![x](i1.png) b ![](i2.png) [plain](l3)"
	if got := CleanNestedImages(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"# Hello  \nbody", "Hello"},
		{"intro\n#  Second\n# Third", "Second"},
		{"## Not h1", ""},
		{"#NoSpace", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractTitle(tt.in); got != tt.want {
			t.Errorf("ExtractTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{`a/b\c:d*e?f"g<h>i|j`, "a b c d e f g h i j"},
		{"  many   spaces\t", "many spaces"},
		{`///`, "Untitled"},
		{"", "Untitled"},
		{"中文 标题", "中文 标题"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
