package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"openai-proxy-go/internal/model"
	"openai-proxy-go/internal/service"
)

// streamBufSize is the chunk size used when relaying upstream bodies.
const streamBufSize = 32 * 1024

// ProxyHandler forwards API requests to the upstream API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream API and streams the response back.
//
// Upstream transport failures are returned to Echo unchanged in kind, so the
// caller sees Echo's generic server error rather than a crafted payload.
func (h *ProxyHandler) Handle(c echo.Context) error {
	restoreMethod(c)
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		h.logger.Error("proxy error",
			"err", err,
			"method", req.Method,
			"path", req.URL.Path,
		)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// Upstream headers replace anything the middleware chain set earlier
	// (e.g. X-Request-Id), so the caller sees the upstream's values.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// If the copy fails mid-stream (client disconnect, upstream reset), the
	// status line is already out and the client gets a truncated body.
	if err := copyFlushing(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// copyFlushing relays src to the response, flushing after every chunk so
// event streams reach the client as they are produced.
func copyFlushing(dst *echo.Response, src io.Reader) error {
	buf := make([]byte, streamBufSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := http.NewResponseController(dst.Writer).Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
