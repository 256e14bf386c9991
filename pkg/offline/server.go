package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	cacheHeader        = "X-Healthnet-Cache"
	sourceHeader       = "X-Healthnet-Source"
	maxSubmissionBytes = 1 << 20
)

// passthroughHeaders are forwarded from local clients to the backend.
var passthroughHeaders = []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "If-None-Match"}

// Server exposes the agent to the local application shell.
type Server struct {
	agent   *Agent
	watcher *Watcher
	log     *slog.Logger
	echo    *echo.Echo

	mu        sync.RWMutex
	startedAt time.Time
}

type statusResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Generation    string   `json:"generation,omitempty"`
	QueueDepth    int      `json:"queue_depth"`
	Online        bool     `json:"online"`
	LastProbeAt   string   `json:"last_probe_at,omitempty"`
	PendingTags   []string `json:"pending_tags,omitempty"`
}

func NewServer(agent *Agent, watcher *Watcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		agent:   agent,
		watcher: watcher,
		log:     log.With("component", "offline.server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("Request handled",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/api/metrics", s.handleSubmit)
	e.POST("/sync/:tag", s.handleSync)
	e.GET("/*", s.handleFetch)

	s.echo = e
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve accepts connections on listener until ctx ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.echo.Listener = listener
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	s.log.Info("Offline agent server started", "address", listener.Addr().String())
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start offline server: %w", err)
	}
	return nil
}

// ListenAndServe binds host:port and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.currentStatus(c.Request().Context(), "ok"))
}

func (s *Server) handleReady(c echo.Context) error {
	status := s.currentStatus(c.Request().Context(), "ready")
	if status.Generation == "" {
		status.Status = "not_ready"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleFetch(c echo.Context) error {
	req := Request{
		Method: http.MethodGet,
		URL:    c.Request().URL.RequestURI(),
		Header: make(http.Header),
	}
	for _, name := range passthroughHeaders {
		if value := c.Request().Header.Get(name); value != "" {
			req.Header.Set(name, value)
		}
	}

	resp, err := s.agent.HandleFetch(c.Request().Context(), req)
	if err != nil {
		s.log.Warn("Fetch failed", "url", req.URL, "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": CategoryFromError(err)})
	}

	for name, values := range resp.Header {
		if skipResponseHeader(name) {
			continue
		}
		for _, value := range values {
			c.Response().Header().Add(name, value)
		}
	}
	if resp.FromCache {
		c.Response().Header().Set(cacheHeader, "hit")
	} else {
		c.Response().Header().Set(cacheHeader, "miss")
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(resp.Status, contentType, resp.Body)
}

func (s *Server) handleSubmit(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSubmissionBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
	}

	source := strings.TrimSpace(c.Request().Header.Get(sourceHeader))
	if source == "" {
		source = "api"
	}

	entry, err := s.agent.Enqueue(c.Request().Context(), source, body)
	if err != nil {
		if CategoryFromError(err) == ErrorInvalidPayload {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.log.Error("Failed to queue submission", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to queue submission"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"id": entry.ID, "status": "queued"})
}

func (s *Server) handleSync(c echo.Context) error {
	tag := c.Param("tag")
	s.agent.RegisterSync(tag)

	if err := s.agent.HandleSync(c.Request().Context(), tag); err != nil {
		if CategoryFromError(err) == ErrorUnknownTag {
			return c.JSON(http.StatusNotFound, map[string]string{"tag": tag, "error": "no handler for tag"})
		}
		return c.JSON(http.StatusAccepted, map[string]string{"tag": tag, "status": "pending"})
	}
	return c.JSON(http.StatusOK, map[string]string{"tag": tag, "status": "synced"})
}

func (s *Server) currentStatus(ctx context.Context, status string) statusResponse {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	resp := statusResponse{Status: status, PendingTags: s.agent.RegisteredTags()}
	if !startedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	if generation, err := s.agent.ActiveGeneration(ctx); err == nil {
		resp.Generation = generation
	}
	if depth, err := s.agent.QueueLen(ctx); err == nil {
		resp.QueueDepth = depth
	}
	if s.watcher != nil {
		resp.Online = s.watcher.Online()
		if last := s.watcher.LastCheck(); !last.IsZero() {
			resp.LastProbeAt = last.UTC().Format(time.RFC3339)
		}
	}
	return resp
}

func skipResponseHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Content-Length", "Content-Type", "Connection", "Transfer-Encoding":
		return true
	}
	return false
}
