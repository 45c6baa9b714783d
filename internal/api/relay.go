package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// DefaultUpstream is the platform API host the relay forwards to.
const DefaultUpstream = "https://api.weixin.qq.com"

// strippedHeaders identify the caller and are dropped before forwarding.
var strippedHeaders = []string{
	"Cf-Connecting-Ip",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-Ip",
	"Forwarded",
}

// NewRelay returns a pass-through proxy for /cgi-bin/* calls. The request
// path and query are kept as-is and sent to upstream.
func NewRelay(upstream string, timeout time.Duration, logger *slog.Logger) (http.Handler, error) {
	if upstream == "" {
		upstream = DefaultUpstream
	}
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("api: relay upstream %q is not an absolute URL", upstream)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
			for _, h := range strippedHeaders {
				pr.Out.Header.Del(h)
			}
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set("Access-Control-Allow-Origin", "*")
			resp.Header.Set("Access-Control-Allow-Headers", "*")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("relay: upstream request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			w.Header().Set("Access-Control-Allow-Origin", "*")
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		},
	}

	return CORS("GET,POST,OPTIONS")(proxy), nil
}
