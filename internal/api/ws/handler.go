package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/webshell/internal/domain/terminal"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webshell/internal/providers/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler manages terminal WebSocket connections
type Handler struct {
	ctx      context.Context
	registry *terminal.Registry
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	bridge   terminal.BridgeConfig
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// Config configures a Handler.
type Config struct {
	// AllowedOrigins lists acceptable Origin values. Entries may be "*" or
	// end in ":*" to allow any port. Empty means same host only.
	AllowedOrigins []string
	Bridge         terminal.BridgeConfig
}

// NewHandler creates a new WebSocket handler. Connections end with a
// shutdown frame once ctx is cancelled.
func NewHandler(ctx context.Context, registry *terminal.Registry, verifier *auth.Verifier, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	allowed := make([]string, 0, len(cfg.AllowedOrigins))
	for _, a := range cfg.AllowedOrigins {
		if a = strings.TrimSpace(a); a != "" {
			allowed = append(allowed, a)
		}
	}

	return &Handler{
		ctx:      ctx,
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, allowed)
			},
		},
		bridge:  cfg.Bridge,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleConnection authenticates the upgrade, attaches the owner's session
// and relays until the connection ends.
func (h *Handler) HandleConnection(c *gin.Context) {
	connID := uuid.NewString()
	owner, authErr := h.verifier.Verify(c.Request)

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("conn_id", connID),
			zap.String("remote", c.ClientIP()),
			zap.Error(err))
		return
	}
	conn := NewConn(wsConn)
	logger := h.logger.Connection(connID, owner)

	// Identity is settled before the registry is touched.
	if authErr != nil {
		logger.Warn("Authentication failed", zap.String("remote", c.ClientIP()))
		h.reject(conn, logger, terminal.MsgAuthFailed, terminal.CloseAuthFailed)
		return
	}

	cols, rows, sized := geometry(c.Request.URL.Query())
	session, reattached, err := h.registry.GetOrCreate(owner, cols, rows)
	if err != nil {
		message, code := classify(err)
		logger.Warn("Session unavailable", zap.Error(err), zap.Int("close_code", code))
		h.reject(conn, logger, message, code)
		return
	}
	if reattached && sized {
		if err := session.Resize(cols, rows); err != nil {
			logger.Debug("Resize on reattach failed", zap.Error(err))
		}
	}

	logger.Info("Terminal connected",
		zap.String("session_id", session.ID().String()),
		zap.Bool("reattached", reattached))
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	terminal.NewBridge(conn, h.registry, session, reattached, h.bridge, logger, h.metrics).Run(h.ctx)
	logger.Info("Terminal disconnected", zap.String("session_id", session.ID().String()))
}

// reject sends an error frame and closes with code.
func (h *Handler) reject(conn *Conn, logger *zap.Logger, message string, code int) {
	payload, err := terminal.EncodeError(message)
	if err == nil {
		err = conn.Send(payload)
	}
	if err != nil {
		logger.Debug("Failed to deliver error frame", zap.Error(err))
	}
	h.metrics.RecordWSMessage("out", terminal.TypeError)
	conn.Close(code, message)
}

// classify maps a GetOrCreate failure to what the client is told.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, terminal.ErrCapacity):
		return terminal.MsgCapacity, terminal.CloseTryAgainLater
	case errors.Is(err, terminal.ErrShellNotFound):
		return terminal.MsgShellMissing, terminal.CloseInternalError
	case errors.Is(err, terminal.ErrShuttingDown):
		return terminal.MsgShutdown, terminal.CloseGoingAway
	default:
		return terminal.MsgSpawnFailed, terminal.CloseInternalError
	}
}

// geometry reads the initial terminal size from the cols and rows query
// parameters. sized is false when either is missing or out of range.
func geometry(q url.Values) (cols, rows uint16, sized bool) {
	c, errC := strconv.ParseUint(q.Get("cols"), 10, 16)
	r, errR := strconv.ParseUint(q.Get("rows"), 10, 16)
	if errC != nil || errR != nil || c == 0 || r == 0 {
		return 0, 0, false
	}
	return uint16(c), uint16(r), true
}

// checkOrigin validates the Origin header against allowed origins
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Browsers always send Origin on a WebSocket handshake
		return false
	}

	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}

	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		// Wildcard port, e.g. "http://localhost:*"
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if port, ok := strings.CutPrefix(origin, prefix); ok && isNumeric(port) {
				return true
			}
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
