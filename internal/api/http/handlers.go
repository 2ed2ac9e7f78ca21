package http

import (
	"bytes"
	_ "embed"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/webshell/internal/domain/terminal"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webshell/internal/providers/auth"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

//go:embed static/index.html
var indexHTML []byte

// indexGzip is the page compressed once at startup.
var indexGzip = mustGzip(indexHTML)

func mustGzip(data []byte) []byte {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		panic(err)
	}
	if _, err := zw.Write(data); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Version is reported by the root and health endpoints.
const Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	registry *terminal.Registry
	verifier *auth.Verifier
	metrics  *monitoring.Metrics
	track    *HandlerMetrics
	logger   *zap.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(registry *terminal.Registry, verifier *auth.Verifier, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry: registry,
		verifier: verifier,
		metrics:  metrics,
		track:    NewHandlerMetrics(metrics),
		logger:   logger,
		started:  time.Now(),
	}
}

// Root serves the terminal page
func (h *Handlers) Root(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Vary", "Accept-Encoding")
	if strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		c.Header("Content-Encoding", "gzip")
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexGzip)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "webshell",
		"version": Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"sessions": gin.H{
			"active": h.registry.ActiveCount(),
			"max":    h.registry.Capacity(),
		},
		"auth":    gin.H{"configured": h.verifier.Enabled()},
		"metrics": h.metrics.Snapshot(),
	})
}

// GetSession returns the caller's own session
func (h *Handlers) GetSession(c *gin.Context) {
	done := h.track.TrackSessionOperation("info")

	owner, ok := h.owner(c)
	if !ok {
		done("unauthorized")
		return
	}

	s, found := h.registry.Get(owner)
	if !found || !s.Alive() {
		done("not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}

	done("success")
	c.JSON(http.StatusOK, s.Info())
}

// DeleteSession terminates the caller's own session
func (h *Handlers) DeleteSession(c *gin.Context) {
	done := h.track.TrackSessionOperation("terminate")

	owner, ok := h.owner(c)
	if !ok {
		done("unauthorized")
		return
	}

	if !h.registry.Terminate(owner) {
		done("not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}

	done("success")
	h.logger.Info("Session terminated over HTTP", zap.String("owner", owner))
	c.JSON(http.StatusOK, gin.H{"terminated": true})
}

// owner resolves the caller or writes a 401.
func (h *Handlers) owner(c *gin.Context) (string, bool) {
	owner, err := h.verifier.Verify(c.Request)
	if err != nil {
		c.Header("WWW-Authenticate", `Basic realm="webshell"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return "", false
	}
	return owner, true
}
