// Package server exposes a router over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/logging"
	"github.com/agenthands/sigcas/pkg/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderDigest    = "X-Sigcas-Digest"
	HeaderPointer   = "X-Sigcas-Pointer"
	HeaderCID       = "X-Sigcas-Cid"

	spoolPattern = "sigcas-spool-*"
	ctxResult    = "sigcas.result"
	ctxRequestID = "sigcas.request_id"
)

var (
	errTooLarge        = errors.New("server: request body too large")
	errUnknownEncoding = errors.New("server: unsupported content encoding")
)

// Server serves one router on cfg.Addr and, when configured, prometheus
// metrics on cfg.MetricsAddr.
type Server struct {
	cfg     core.ServerConfig
	router  *router.Router
	log     *zap.Logger
	metrics *metrics
	sem     chan struct{}
	handler http.Handler
}

// New builds the HTTP handler chain for rt.
func New(cfg core.ServerConfig, rt *router.Router, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		router:  rt,
		log:     logging.OrNop(log),
		metrics: newMetrics(),
	}
	if cfg.MaxInflight > 0 {
		s.sem = make(chan struct{}, cfg.MaxInflight)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestID, s.observe, s.limit)
	engine.Any("/*name", s.serveRecord)

	s.handler = engine
	if cfg.CompressResponses {
		s.handler = gzhttp.GzipHandler(engine)
	}
	return s
}

// Handler returns the record handler.
func (s *Server) Handler() http.Handler { return s.handler }

// MetricsHandler returns the prometheus scrape handler.
func (s *Server) MetricsHandler() http.Handler { return s.metrics.handler() }

// Serve listens until ctx is cancelled, then drains in-flight requests for
// up to cfg.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	var metricsLn net.Listener
	if s.cfg.MetricsAddr != "" {
		metricsLn, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.MetricsAddr, err)
		}
	}
	return s.ServeListeners(ctx, ln, metricsLn)
}

// ServeListeners is Serve on listeners the caller already opened.
// metricsLn may be nil.
func (s *Server) ServeListeners(ctx context.Context, ln, metricsLn net.Listener) error {
	servers := []*http.Server{{Handler: s.handler, ReadHeaderTimeout: 30 * time.Second}}
	listeners := []net.Listener{ln}
	if metricsLn != nil {
		servers = append(servers, &http.Server{Handler: s.metrics.handler(), ReadHeaderTimeout: 30 * time.Second})
		listeners = append(listeners, metricsLn)
	}

	errc := make(chan error, len(servers))
	for i, srv := range servers {
		s.log.Info("listening", zap.Stringer("addr", listeners[i].Addr()))
		go func(srv *http.Server, l net.Listener) {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
				return
			}
			errc <- nil
		}(srv, listeners[i])
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("shutting down", zap.Duration("timeout", timeout))
	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader(HeaderRequestID)
	if id == "" {
		id = uuid.New().String()
	}
	c.Set(ctxRequestID, id)
	c.Header(HeaderRequestID, id)
	c.Next()
}

func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	s.metrics.inflight.Inc()
	defer s.metrics.inflight.Dec()

	c.Next()

	latency := time.Since(start)
	result := c.GetString(ctxResult)
	if result == "" {
		result = "none"
	}
	method := methodLabel(c.Request.Method)
	s.metrics.requests.WithLabelValues(method, result).Inc()
	s.metrics.duration.WithLabelValues(method).Observe(latency.Seconds())

	fields := []zap.Field{
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.String("result", result),
		zap.Duration("latency", latency),
		zap.String("client_ip", c.ClientIP()),
	}
	switch {
	case c.Writer.Status() >= 500:
		s.log.Error("request", fields...)
	case c.Writer.Status() >= 400:
		s.log.Warn("request", fields...)
	default:
		s.log.Info("request", fields...)
	}
}

func (s *Server) limit(c *gin.Context) {
	if s.sem == nil {
		c.Next()
		return
	}
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
		c.Next()
	default:
		c.Set(ctxResult, "busy")
		c.Header("Retry-After", "1")
		c.String(http.StatusServiceUnavailable, "server busy")
		c.Abort()
	}
}

func (s *Server) serveRecord(c *gin.Context) {
	req := router.Request{
		Method: c.Request.Method,
		Name:   strings.TrimPrefix(c.Param("name"), "/"),
	}
	if vals, ok := c.Request.Header["Authorization"]; ok && len(vals) > 0 {
		cred := vals[0]
		req.Credential = &cred
	}

	var spooled int64
	if c.Request.Method == http.MethodPut {
		spool, n, expected, err := s.spool(c.Request)
		if spool != nil {
			defer func() {
				spool.Close()
				os.Remove(spool.Name())
			}()
		}
		if err != nil {
			s.spoolFailure(c, err)
			return
		}
		req.Body = spool
		req.ExpectedSize = expected
		spooled = n
	}

	res := s.router.Handle(c.Request.Context(), req)
	c.Set(ctxResult, res.Kind.String())

	if res.Kind == router.Changed && spooled > 0 {
		s.metrics.storedBytes.Add(float64(spooled))
	}
	s.respond(c, res)
}

// spool copies the request body to a private temp file so auth backends can
// re-read it. The returned file is positioned at its start.
func (s *Server) spool(r *http.Request) (*os.File, int64, int64, error) {
	body, expected, err := decodeBody(r)
	if err != nil {
		return nil, 0, 0, err
	}
	defer body.Close()

	f, err := os.CreateTemp(s.cfg.SpoolDir, spoolPattern)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: creating spool file: %v", core.ErrWrite, err)
	}

	src := io.Reader(body)
	if s.cfg.MaxBodyBytes > 0 {
		src = io.LimitReader(body, s.cfg.MaxBodyBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return f, n, 0, fmt.Errorf("%w: %v", core.ErrRead, err)
	}
	if s.cfg.MaxBodyBytes > 0 && n > s.cfg.MaxBodyBytes {
		return f, n, 0, errTooLarge
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return f, n, 0, fmt.Errorf("%w: rewinding spool file: %v", core.ErrWrite, err)
	}
	return f, n, expected, nil
}

// decodeBody undoes Content-Encoding. The expected size is only known for
// unencoded bodies.
func decodeBody(r *http.Request) (io.ReadCloser, int64, error) {
	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		expected := r.ContentLength
		if expected < 0 {
			expected = 0
		}
		return r.Body, expected, nil
	case "zstd":
		dec, err := zstd.NewReader(r.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrRead, err)
		}
		return dec.IOReadCloser(), 0, nil
	case "gzip":
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrRead, err)
		}
		return zr, 0, nil
	default:
		return nil, 0, fmt.Errorf("%w: %s", errUnknownEncoding, enc)
	}
}

func (s *Server) spoolFailure(c *gin.Context, err error) {
	s.log.Warn("cannot spool request body",
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.Error(err))

	switch {
	case errors.Is(err, errTooLarge):
		c.Set(ctxResult, "too_large")
		c.String(http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, errUnknownEncoding):
		c.Set(ctxResult, router.InputError.String())
		c.String(http.StatusUnsupportedMediaType, "unsupported content encoding")
	case errors.Is(err, core.ErrRead):
		s.respond(c, router.Result{Kind: router.RecordError, Payload: "cannot read request body"})
		c.Set(ctxResult, router.RecordError.String())
	default:
		s.respond(c, router.Result{Kind: router.WriteError, Payload: "cannot store record"})
		c.Set(ctxResult, router.WriteError.String())
	}
}

func (s *Server) respond(c *gin.Context, res router.Result) {
	status := StatusFor(res.Kind)

	if res.Kind != router.Found || res.Content == nil {
		c.String(status, res.Payload)
		return
	}
	defer res.Content.Close()

	info := res.Info
	etag := `"` + info.Digest.String() + `"`
	if match := c.GetHeader("If-None-Match"); match == etag {
		c.Header("ETag", etag)
		c.Status(http.StatusNotModified)
		return
	}

	headers := map[string]string{
		"ETag":       etag,
		HeaderDigest: info.Digest.String(),
		HeaderCID:    info.CID,
	}
	if info.Pointer != nil {
		headers[HeaderPointer] = info.Pointer.String()
		headers["Cache-Control"] = "no-cache"
	} else {
		headers["Cache-Control"] = "public, max-age=31536000, immutable"
	}
	c.DataFromReader(status, info.Size, "application/octet-stream", res.Content, headers)
}

// StatusFor maps a result classification to an HTTP status.
func StatusFor(k router.Kind) int {
	switch k {
	case router.Found, router.Changed:
		return http.StatusOK
	case router.AuthError:
		return http.StatusForbidden
	case router.InputError:
		return http.StatusBadRequest
	case router.RecordError:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
