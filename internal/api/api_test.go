package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/mpclient"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/testutil"
)

var vaultFiles = map[string]string{
	"posts/hello.md":     "---\ntitle: Hello\ncover: cover.png\n---\nSee [[Other]] and ![[pic.png]] #draft\n",
	"posts/Other.md":     "# Other\n",
	"assets/pic.png":     "PNGDATA",
	"assets/cover.png":   "COVER",
	"notes/untitled.md":  "no heading here\n",
	"assets/readme.txt":  "text",
	"notes/math-demo.md": "$$x^2$$\n",
}

type fakeAPI struct {
	mu     sync.Mutex
	drafts []mpclient.Article
}

func (f *fakeAPI) Token(_ context.Context, appID, _ string) (string, error) {
	if appID == "bad" {
		return "", &mpclient.APIError{Code: 40125, Message: "invalid appsecret"}
	}
	return "tok-" + appID, nil
}
func (f *fakeAPI) InvalidateToken(string) {}
func (f *fakeAPI) UploadImage(_ context.Context, _ string, _ []byte, name string) (string, error) {
	return "https://mmbiz.qpic.cn/" + name, nil
}
func (f *fakeAPI) UploadCover(context.Context, string, []byte, string) (string, error) {
	return "thumb-1", nil
}
func (f *fakeAPI) FirstImageMaterial(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeAPI) AddDraft(_ context.Context, _ string, a mpclient.Article) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, a)
	return "media-1", nil
}

type fakePreview struct {
	mu      sync.Mutex
	sources []string
}

func (p *fakePreview) Notify(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, source)
}

func (p *fakePreview) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(len(p.sources))
}

type fakeImporter struct{ err error }

func (f fakeImporter) Import(_ context.Context, rawURL string) (*importer.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &importer.Document{Source: rawURL, Title: "Page", Filename: "Page.md", Markdown: "# Page\n", Via: importer.ModeLocal}, nil
}

type fakePolisher struct{}

func (fakePolisher) Polish(_ context.Context, md string) (string, error) {
	return strings.ToUpper(md), nil
}

type testEnv struct {
	router  http.Handler
	store   *storage.FS
	api     *fakeAPI
	preview *fakePreview
}

func newEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	ns, db := testutil.TestNamespace(t, vaultFiles)
	fake := &fakeAPI{}
	accounts := []models.Account{
		{Name: "main", AppID: "wx1", AppSecret: "s1", Enabled: true},
		{Name: "broken", AppID: "bad", AppSecret: "s2", Enabled: true},
		{Name: "spare", AppID: "wx3", AppSecret: "s3"},
	}
	svc := noteservice.NewService(ns, noteservice.Config{
		AttachmentFolder: models.ParseAttachmentFolder("assets"),
		MaxContentBytes:  1024,
	},
		noteservice.WithHistory(db),
		noteservice.WithPublisher(fake, nil, accounts),
		noteservice.WithLogger(testutil.Logger()),
	)
	env := &testEnv{store: ns.FS, api: fake, preview: &fakePreview{}}
	d := Deps{
		Service:         svc,
		Store:           ns.FS,
		Preview:         env.preview,
		Importer:        fakeImporter{},
		Polisher:        fakePolisher{},
		MaxContentBytes: 1024,
		Logger:          testutil.Logger(),
	}
	if mutate != nil {
		mutate(&d)
	}
	env.router = NewRouter(d)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rd = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			if err != nil {
				t.Fatal(err)
			}
			rd = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestRenderText(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodPost, "/render", RenderRequest{Content: "# T\n\nsee [[Other]] #tag\n\n```mermaid\ngraph\n```\n"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	out := decode[RenderResponse](t, w)
	if !strings.Contains(out.HTML, `<a href="posts/Other.md">Other</a>`) {
		t.Errorf("wiki link not rewritten: %s", out.HTML)
	}
	if !strings.Contains(out.HTML, "#tag") {
		t.Errorf("tag removed without remove_tags: %s", out.HTML)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "mermaid") {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestRenderTextRemoveTagsOption(t *testing.T) {
	env := newEnv(t, nil)
	yes := true
	w := env.do(t, http.MethodPost, "/render", RenderRequest{Content: "keep #tag words", Options: &RenderOptions{RemoveTags: &yes}})
	out := decode[RenderResponse](t, w)
	if strings.Contains(out.HTML, "#tag") {
		t.Errorf("tag kept: %s", out.HTML)
	}
}

func TestRenderTextValidation(t *testing.T) {
	env := newEnv(t, nil)
	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing content", RenderRequest{}, http.StatusBadRequest},
		{"bad json", "{not json", http.StatusBadRequest},
		{"too large", RenderRequest{Content: strings.Repeat("a", 1025)}, http.StatusRequestEntityTooLarge},
		{"body over limit", RenderRequest{Content: strings.Repeat("a", 8000)}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/render", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRenderAPIKey(t *testing.T) {
	env := newEnv(t, func(d *Deps) { d.RenderAPIKey = "k1" })
	body := RenderRequest{Content: "hi"}

	if w := env.do(t, http.MethodPost, "/render", body); w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/render", body, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/render", body, "Authorization", "Bearer k1"); w.Code != http.StatusOK {
		t.Errorf("bearer key: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/render", body, "X-API-Key", "k1"); w.Code != http.StatusOK {
		t.Errorf("x-api-key: status = %d", w.Code)
	}
}

func TestRenderFile(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodGet, "/render/posts%2Fhello.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	out := decode[RenderResponse](t, w)
	if out.Title != "Hello" || out.Path != "posts/hello.md" {
		t.Errorf("title=%q path=%q", out.Title, out.Path)
	}
	if !strings.Contains(out.HTML, `src="assets/pic.png"`) {
		t.Errorf("embed not canonicalised: %s", out.HTML)
	}

	if w := env.do(t, http.MethodGet, "/render/nope.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing note status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/render/assets/pic.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("non-note status = %d", w.Code)
	}
}

func TestResolve(t *testing.T) {
	env := newEnv(t, nil)
	tests := []struct {
		query string
		want  ResolveResponse
	}{
		{"name=pic.png&from=posts/hello.md", ResolveResponse{Name: "pic.png", Found: true, Path: "assets/pic.png"}},
		{"name=Other", ResolveResponse{Name: "Other", Found: true, Path: "posts/Other.md", IsNote: true}},
		{"name=ghost", ResolveResponse{Name: "ghost"}},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, "/resolve?"+tt.query, nil)
		if diff := cmp.Diff(tt.want, decode[ResolveResponse](t, w)); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", tt.query, diff)
		}
	}
	if w := env.do(t, http.MethodGet, "/resolve", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d", w.Code)
	}
}

func TestPublishAndDrafts(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodPost, "/publish", PublishRequest{Path: "posts/hello.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[PublishResponse](t, w)
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v, want the two enabled accounts", resp.Results)
	}
	if !resp.Results[0].Success || resp.Results[0].MediaID != "media-1" {
		t.Errorf("main result = %+v", resp.Results[0])
	}
	if resp.Results[1].Success || resp.Results[1].Error == "" {
		t.Errorf("broken result = %+v", resp.Results[1])
	}
	if len(env.api.drafts) != 1 || !strings.Contains(env.api.drafts[0].Content, "https://mmbiz.qpic.cn/pic.png") {
		t.Errorf("drafts = %+v", env.api.drafts)
	}

	w = env.do(t, http.MethodGet, "/drafts?path=posts/hello.md", nil)
	drafts := decode[DraftsResponse](t, w)
	if len(drafts.Drafts) != 1 || drafts.Drafts[0].Account != "main" || drafts.Drafts[0].MediaID != "media-1" {
		t.Errorf("drafts = %+v", drafts.Drafts)
	}
}

func TestPublishErrors(t *testing.T) {
	env := newEnv(t, nil)
	tests := []struct {
		name string
		req  PublishRequest
		want int
	}{
		{"missing path", PublishRequest{}, http.StatusBadRequest},
		{"unknown note", PublishRequest{Path: "ghost.md"}, http.StatusNotFound},
		{"unknown account", PublishRequest{Path: "posts/hello.md", Accounts: []string{"ghost"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/publish", tt.req); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAccountsHidesSecrets(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodGet, "/accounts", nil)
	if strings.Contains(w.Body.String(), "s1") {
		t.Errorf("secret leaked: %s", w.Body.String())
	}
	if got := decode[AccountsResponse](t, w); len(got.Accounts) != 3 {
		t.Errorf("accounts = %+v", got.Accounts)
	}
}

func TestPreview(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodPost, "/preview", PreviewRequest{Path: "posts/hello.md"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[PreviewResponse](t, w); got.Path != "posts/hello.md" || got.Version != 1 {
		t.Errorf("resp = %+v", got)
	}
	if w := env.do(t, http.MethodPost, "/preview", PreviewRequest{Path: "assets/pic.png"}); w.Code != http.StatusNotFound {
		t.Errorf("non-note preview status = %d", w.Code)
	}
	if diff := cmp.Diff([]string{"posts/hello.md"}, env.preview.sources); diff != "" {
		t.Errorf("notified (-want +got):\n%s", diff)
	}
}

func TestOptionalFeaturesDisabled(t *testing.T) {
	env := newEnv(t, func(d *Deps) {
		d.Preview = nil
		d.Importer = nil
		d.Polisher = nil
	})
	for _, p := range []string{"/preview", "/import", "/polish"} {
		if w := env.do(t, http.MethodPost, p, map[string]string{}); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d", p, w.Code)
		}
	}
}

func TestImport(t *testing.T) {
	env := newEnv(t, nil)

	w := env.do(t, http.MethodPost, "/import", ImportRequest{URL: "https://example.com/a"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[ImportResponse](t, w); got.Markdown != "# Page\n" || got.Path != "" {
		t.Errorf("resp = %+v", got)
	}

	w = env.do(t, http.MethodPost, "/import", ImportRequest{URL: "https://example.com/a", Save: true, Dir: "/inbox/"})
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	data, err := env.store.Read("inbox/Page.md")
	if err != nil || string(data) != "# Page\n" {
		t.Errorf("saved = %q, %v", data, err)
	}

	w = env.do(t, http.MethodPost, "/import", ImportRequest{URL: "https://example.com/a", Save: true, Dir: "inbox"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate save status = %d", w.Code)
	}
}

func TestImportInvalidURL(t *testing.T) {
	env := newEnv(t, func(d *Deps) {
		d.Importer = fakeImporter{err: errors.Join(apperr.ErrInvalidInput, errors.New("bad scheme"))}
	})
	if w := env.do(t, http.MethodPost, "/import", ImportRequest{URL: "ftp://x"}); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestPolish(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodPost, "/polish", PolishRequest{Content: "draft"})
	if got := decode[PolishResponse](t, w); got.Content != "DRAFT" {
		t.Errorf("resp = %+v", got)
	}
}

func TestFiles(t *testing.T) {
	env := newEnv(t, nil)

	w := env.do(t, http.MethodGet, "/files/assets/pic.png", nil)
	if w.Code != http.StatusOK || w.Body.String() != "PNGDATA" {
		t.Fatalf("serve: status = %d body = %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if w := env.do(t, http.MethodGet, "/files/../secret", nil); w.Code != http.StatusNotFound {
		t.Errorf("traversal status = %d", w.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "shot.png")
	_, _ = part.Write([]byte("SHOT"))
	_ = mw.Close()

	upload := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/files", bytes.NewReader(buf.Bytes()))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}
	w = upload()
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	want := UploadResponse{Path: "attachments/shot.png", Size: 4, URL: "/api/files/attachments/shot.png"}
	if diff := cmp.Diff(want, decode[UploadResponse](t, w)); diff != "" {
		t.Errorf("upload mismatch (-want +got):\n%s", diff)
	}
	if w := upload(); w.Code != http.StatusConflict {
		t.Errorf("second upload status = %d", w.Code)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a.png", "a.png", true},
		{"", "", false},
		{"../a.png", "", false},
		{"dir/a.png", "", false},
		{`dir\a.png`, "", false},
		{"..", "", false},
	}
	for _, tt := range tests {
		got, ok := safeName(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("safeName(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newEnv(t, func(d *Deps) {
		d.AuthEnabled = true
		d.Token = "secret"
	})
	if w := env.do(t, http.MethodGet, "/accounts", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/accounts", nil, "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/accounts", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("good token status = %d", w.Code)
	}
	// The render endpoint has its own key and stays open when none is set.
	if w := env.do(t, http.MethodPost, "/render", RenderRequest{Content: "x"}); w.Code != http.StatusOK {
		t.Errorf("render status = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(t, http.MethodOptions, "/render", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}

func TestEventsMounted(t *testing.T) {
	called := false
	env := newEnv(t, func(d *Deps) {
		d.Events = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})
	})
	env.do(t, http.MethodGet, "/events", nil)
	if !called {
		t.Error("events handler not mounted")
	}
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{apperr.ErrInvalidInput, http.StatusBadRequest},
		{apperr.ErrConfig, http.StatusBadRequest},
		{apperr.ErrUnauthorized, http.StatusUnauthorized},
		{apperr.ErrAlreadyExists, http.StatusConflict},
		{&mpclient.APIError{Code: 45009, Message: "quota"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeError(w, "test", tt.err)
		if w.Code != tt.want {
			t.Errorf("writeError(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestHandlersRespectTimeout(t *testing.T) {
	env := newEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/render/posts/Other.md", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
