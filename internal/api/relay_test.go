package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/quill/internal/testutil"
)

func TestRelayForwards(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotXFF, gotCF, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotCF = r.Header.Get("Cf-Connecting-Ip")
		gotHost = r.Host
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode":0,"media_id":"m1"}`))
	}))
	defer upstream.Close()

	relay, err := NewRelay(upstream.URL, time.Second, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/cgi-bin/draft/add?access_token=tok", strings.NewReader(`{"articles":[]}`))
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set("Cf-Connecting-Ip", "10.0.0.2")
	w := httptest.NewRecorder()
	relay.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"media_id":"m1"`) {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if gotPath != "/cgi-bin/draft/add" || gotQuery != "access_token=tok" || gotBody != `{"articles":[]}` {
		t.Errorf("forwarded path=%q query=%q body=%q", gotPath, gotQuery, gotBody)
	}
	if gotXFF != "" || gotCF != "" {
		t.Errorf("client address headers leaked: xff=%q cf=%q", gotXFF, gotCF)
	}
	if !strings.HasPrefix(upstream.URL, "http://"+gotHost) {
		t.Errorf("host = %q", gotHost)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on relayed response")
	}
}

func TestRelayPreflight(t *testing.T) {
	relay, err := NewRelay("https://api.example.com", time.Second, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	relay.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/cgi-bin/token", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRelayUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	relay, err := NewRelay(url, time.Second, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	relay.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cgi-bin/token", nil))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestNewRelayRejectsRelativeUpstream(t *testing.T) {
	if _, err := NewRelay("api.weixin.qq.com", time.Second, nil); err == nil {
		t.Fatal("expected error for upstream without scheme")
	}
}
