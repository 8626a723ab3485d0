// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"openai-proxy-go/internal/client"
	"openai-proxy-go/internal/config"
	"openai-proxy-go/internal/model"
)

// ErrHostNotAllowed is returned when the configured upstream host is not in the allowlist.
var ErrHostNotAllowed = errors.New("upstream host is not in the allowlist")

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.openai.com": true,
}

// forwardableRequestHeaders are the only request headers forwarded upstream.
// Everything else, Host and edge-injected headers included, is dropped.
var forwardableRequestHeaders = []string{
	"Authorization",
	"Content-Type",
	"Accept",
	"Accept-Encoding",
	"OpenAI-Organization",
	"OpenAI-Project",
}

// hopByHopHeaders describe the upstream connection rather than the message
// and are never relayed to the client.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CORS headers set on every relayed response, overwriting upstream values.
const (
	corsAllowOrigin  = "*"
	corsAllowHeaders = "*"
	corsAllowMethods = "GET,POST,PUT,PATCH,DELETE,OPTIONS"
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("%w: %q", ErrHostNotAllowed, u.Hostname())
	}

	return newProxyService(c, u, logger), nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return newProxyService(c, u, logger), nil
}

func newProxyService(c *client.UpstreamClient, u *url.URL, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}
}

// Forward sends a ProxyRequest to the upstream API and returns the response
// with sanitized headers. The caller is responsible for closing the response body.
//
// OPTIONS requests are answered locally as CORS preflights and never reach
// the upstream. GET and HEAD requests are sent without a body; every other
// method streams the inbound body through unbuffered.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	method := strings.ToUpper(pr.Method)

	if method == http.MethodOptions {
		return Preflight(), nil
	}

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawPath, pr.RawQuery)
	header := s.filterRequestHeaders(pr.Header)

	var body io.Reader
	if hasBody(method) && pr.Body != nil {
		body = pr.Body
	}

	s.logger.Debug("forwarding request",
		"method", method,
		"path", pr.Path,
		"with_body", body != nil,
	)

	resp, err := s.client.DoStream(pr.Ctx, method, upstreamURL, header, body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = sanitizeResponseHeaders(resp.Header)
	return resp, nil
}

// Preflight returns the local answer to a CORS preflight request: 204, no
// body, and the CORS header set.
func Preflight() *model.ProxyResponse {
	h := make(http.Header)
	setCORSHeaders(h)
	return &model.ProxyResponse{
		StatusCode: http.StatusNoContent,
		Header:     h,
		Body:       http.NoBody,
	}
}

// hasBody reports whether an upstream request with the given (uppercased)
// method carries the inbound body.
func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// buildUpstreamURL swaps in the upstream scheme and host and keeps the
// inbound path and query exactly as received.
func (s *ProxyService) buildUpstreamURL(path, rawPath, rawQuery string) string {
	u := url.URL{
		Scheme:   s.baseURL.Scheme,
		Host:     s.baseURL.Host,
		Path:     path,
		RawPath:  rawPath,
		RawQuery: rawQuery,
	}
	return u.String()
}

func (s *ProxyService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		// Values canonicalizes the key, so lookups ignore the inbound case.
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
	}
	// An empty User-Agent stops net/http from adding its default one.
	dst["User-Agent"] = []string{""}
	return dst
}

// sanitizeResponseHeaders copies the upstream headers, drops Set-Cookie and
// hop-by-hop headers, and sets the CORS headers.
func sanitizeResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Set-Cookie")
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	setCORSHeaders(dst)
	return dst
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
}
