package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/mpclient"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/testutil"
)

// Minimal 1x1 PNG.
var pngBytes, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

type fakeAPI struct{}

func (fakeAPI) Token(context.Context, string, string) (string, error) { return "tok", nil }
func (fakeAPI) InvalidateToken(string)                                {}
func (fakeAPI) UploadImage(_ context.Context, _ string, _ []byte, name string) (string, error) {
	return "https://mmbiz.qpic.cn/" + name, nil
}
func (fakeAPI) UploadCover(context.Context, string, []byte, string) (string, error) {
	return "thumb", nil
}
func (fakeAPI) FirstImageMaterial(context.Context, string) (string, bool, error) {
	return "lib-thumb", true, nil
}
func (fakeAPI) AddDraft(context.Context, string, mpclient.Article) (string, error) {
	return "media-9", nil
}

type stubImporter struct{}

func (stubImporter) Import(_ context.Context, rawURL string) (*importer.Document, error) {
	return &importer.Document{Source: rawURL, Title: "Web", Filename: "Web.md", Markdown: "# Web\n", Via: importer.ModeReader}, nil
}

type stubFetcher struct{ data []byte }

func (f stubFetcher) Fetch(context.Context, string) ([]byte, error) { return f.data, nil }

func testServer(t *testing.T) (*Server, *storage.FS) {
	t.Helper()
	ns, db := testutil.TestNamespace(t, map[string]string{
		"posts/hello.md": "# Hello\n\nSee [[Other]] #x\n",
		"posts/Other.md": "other",
		"assets/a.png":   "PNG",
		"misc/data.csv":  "a,b",
	})
	svc := noteservice.NewService(ns, noteservice.Config{
		AttachmentFolder: models.ParseAttachmentFolder("assets"),
	},
		noteservice.WithHistory(db),
		noteservice.WithPublisher(fakeAPI{}, nil, []models.Account{{Name: "main", AppID: "wx", AppSecret: "s", Enabled: true}}),
		noteservice.WithLogger(testutil.Logger()),
	)
	srv := New(svc, ns.FS,
		WithImporter(stubImporter{}),
		WithFetcher(stubFetcher{data: pngBytes}),
		WithAttachmentDir("assets"),
		WithLogger(testutil.Logger()),
	)
	return srv, ns.FS
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no call-tool test helper, so handlers are invoked directly.
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"render_note":         srv.renderNote,
		"render_markdown":     srv.renderMarkdown,
		"resolve_reference":   srv.resolveReference,
		"publish_note":        srv.publishNote,
		"list_drafts":         srv.listDrafts,
		"import_url":          srv.importURL,
		"save_image":          srv.saveImage,
		"list_notes":          srv.listNotes,
		"read_note":           srv.readNote,
		"get_markup_contract": srv.getMarkupContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRenderNote(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "render_note", map[string]interface{}{"path": "posts/hello.md"})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	var out renderOutput
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Title != "Hello" || !strings.Contains(out.HTML, `href="posts/Other.md"`) {
		t.Errorf("out = %+v", out)
	}

	r = callTool(t, srv, "render_note", map[string]interface{}{"path": "ghost.md"})
	if !r.IsError || !strings.HasPrefix(resultText(r), "not found") {
		t.Errorf("missing note result = %q", resultText(r))
	}
	if r := callTool(t, srv, "render_note", map[string]interface{}{}); !r.IsError {
		t.Error("expected error without path")
	}
}

func TestRenderMarkdownRemoveTags(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "render_markdown", map[string]interface{}{"content": "a #tag b", "remove_tags": true})
	if strings.Contains(resultText(r), "#tag") {
		t.Errorf("tag kept: %s", resultText(r))
	}
	r = callTool(t, srv, "render_markdown", map[string]interface{}{"content": "a #tag b"})
	if !strings.Contains(resultText(r), "#tag") {
		t.Errorf("tag removed by default: %s", resultText(r))
	}
}

func TestResolveReference(t *testing.T) {
	srv, _ := testServer(t)
	tests := []struct {
		args map[string]interface{}
		want resolveOutput
	}{
		{map[string]interface{}{"name": "Other", "from": "posts/hello.md"}, resolveOutput{Name: "Other", Found: true, Path: "posts/Other.md", Kind: "document"}},
		{map[string]interface{}{"name": "a.png"}, resolveOutput{Name: "a.png", Found: true, Path: "assets/a.png", Kind: "image"}},
		{map[string]interface{}{"name": "data.csv"}, resolveOutput{Name: "data.csv", Found: true, Path: "misc/data.csv", Kind: "other"}},
		{map[string]interface{}{"name": "nothing"}, resolveOutput{Name: "nothing"}},
	}
	for _, tt := range tests {
		var got resolveOutput
		if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "resolve_reference", tt.args))), &got); err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("resolve(%v) = %+v, want %+v", tt.args, got, tt.want)
		}
	}
}

func TestPublishNoteAndDrafts(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "publish_note", map[string]interface{}{"path": "posts/hello.md", "accounts": " main , "})
	if r.IsError || !strings.Contains(resultText(r), `"media_id": "media-9"`) {
		t.Fatalf("publish = %s", resultText(r))
	}
	r = callTool(t, srv, "publish_note", map[string]interface{}{"path": "posts/hello.md", "accounts": "ghost"})
	if !r.IsError {
		t.Error("expected error for unknown account")
	}

	r = callTool(t, srv, "list_drafts", map[string]interface{}{"path": "posts/hello.md"})
	var records []models.PublishRecord
	if err := json.Unmarshal([]byte(resultText(r)), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].MediaID != "media-9" || records[0].Title != "Hello" {
		t.Errorf("records = %+v", records)
	}
}

func TestImportURL(t *testing.T) {
	srv, store := testServer(t)
	r := callTool(t, srv, "import_url", map[string]interface{}{"url": "https://example.com"})
	if !strings.Contains(resultText(r), `"markdown": "# Web\n"`) {
		t.Errorf("import = %s", resultText(r))
	}
	if store.Exists("Web.md") {
		t.Error("saved without save=true")
	}

	r = callTool(t, srv, "import_url", map[string]interface{}{"url": "https://example.com", "save": true, "dir": "inbox"})
	if r.IsError || !store.Exists("inbox/Web.md") {
		t.Fatalf("save import = %s", resultText(r))
	}
	r = callTool(t, srv, "import_url", map[string]interface{}{"url": "https://example.com", "save": true, "dir": "inbox"})
	if !r.IsError {
		t.Error("expected error on duplicate save")
	}
}

func TestSaveImage(t *testing.T) {
	srv, store := testServer(t)

	r := callTool(t, srv, "save_image", map[string]interface{}{"url": "https://cdn.example.com/img/photo.png"})
	if r.IsError {
		t.Fatalf("save = %s", resultText(r))
	}
	var out saveResult
	_ = json.Unmarshal([]byte(resultText(r)), &out)
	if out.SavedPath != "assets/photo.png" || out.Embed != "![[photo.png]]" || !store.Exists("assets/photo.png") {
		t.Errorf("out = %+v", out)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	r = callTool(t, srv, "save_image", map[string]interface{}{"url": dataURI, "filename": "../../evil name.png"})
	_ = json.Unmarshal([]byte(resultText(r)), &out)
	if r.IsError || out.SavedPath != "assets/evil_name.png" {
		t.Errorf("data uri save = %s", resultText(r))
	}

	if r := callTool(t, srv, "save_image", map[string]interface{}{"url": dataURI, "filename": "evil name.png"}); !r.IsError {
		t.Error("expected error for existing file")
	}
	if r := callTool(t, srv, "save_image", map[string]interface{}{"url": dataURI, "filename": "x.gif"}); !r.IsError {
		t.Error("expected magic byte mismatch")
	}
	if r := callTool(t, srv, "save_image", map[string]interface{}{"url": dataURI, "filename": "x.exe"}); !r.IsError {
		t.Error("expected extension rejection")
	}
	if r := callTool(t, srv, "save_image", map[string]interface{}{"url": "ftp://x/y.png"}); !r.IsError {
		t.Error("expected scheme rejection")
	}
}

func TestListAndReadNotes(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "list_notes", map[string]interface{}{}))
	if !strings.Contains(text, "posts/hello.md") || strings.Contains(text, "a.png") {
		t.Errorf("list = %q", text)
	}
	if got := resultText(callTool(t, srv, "read_note", map[string]interface{}{"path": "posts/Other.md"})); got != "other" {
		t.Errorf("read = %q", got)
	}
	if r := callTool(t, srv, "read_note", map[string]interface{}{"path": "nope.md"}); !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestMarkupContract(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "get_markup_contract", nil))
	for _, want := range []string{"[[target|shown text]]", "![[target]]", "%%comment%%", "cover:"} {
		if !strings.Contains(text, want) {
			t.Errorf("contract missing %q", want)
		}
	}
	res, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(res) != 1 {
		t.Fatalf("resource = %v, %v", res, err)
	}
	if tc, ok := res[0].(mcp.TextResourceContents); !ok || tc.URI != ContractURI {
		t.Errorf("resource = %+v", res[0])
	}
}
