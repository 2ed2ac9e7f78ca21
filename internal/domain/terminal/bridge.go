package terminal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultReceiveTimeout = time.Second
	defaultOutboxSize     = 64
)

// Conn is the duplex message transport a Bridge relays over.
type Conn interface {
	// Receive waits up to timeout for the next message. It returns
	// ErrReceiveTimeout when nothing arrived and ErrPeerClosed once the peer
	// is gone.
	Receive(timeout time.Duration) ([]byte, error)
	// Send writes one message. The Bridge never calls it concurrently.
	Send(payload []byte) error
	// Close ends the connection with a close code and reason.
	Close(code int, reason string) error
}

// BridgeConfig tunes a Bridge.
type BridgeConfig struct {
	// PollInterval bounds each PTY read, and so how quickly the reader
	// notices idleness, supersession and stop requests.
	PollInterval time.Duration
	// ReceiveTimeout bounds each Conn.Receive.
	ReceiveTimeout time.Duration
	// IdleTimeout closes the connection and reclaims the session after this
	// long without activity. Zero disables it.
	IdleTimeout time.Duration
	// Scrollback is advertised to the client in the ready frame.
	Scrollback int
	// OutboxSize is the depth of the outbound frame queue.
	OutboxSize int
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaultReceiveTimeout
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}
	return c
}

// frame is one outbound message. A final frame is the last thing the
// connection carries: the sender closes the connection after writing it.
type frame struct {
	kind    string
	payload []byte
	final   bool
	code    int
	reason  string
}

// Bridge relays one connection to one Session.
//
// The reader goroutine pumps PTY output, the caller's goroutine runs the
// receive loop, and a single sender goroutine owns Conn.Send. Everything
// outbound goes through the sender's queue, so frames never interleave and
// the exit frame is always the last output the client sees.
type Bridge struct {
	conn       Conn
	registry   *Registry
	session    *Session
	lease      uint64
	reattached bool
	cfg        BridgeConfig
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	outbox     chan frame
	senderDone chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	finalSent  atomic.Bool
	teardown   sync.Once

	// decoder is used by the reader goroutine only.
	decoder textDecoder
}

// NewBridge attaches conn to session. Attaching supersedes any bridge
// already attached to the same session.
func NewBridge(conn Conn, registry *Registry, session *Session, reattached bool, cfg BridgeConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Bridge{
		conn:       conn,
		registry:   registry,
		session:    session,
		lease:      session.Attach(),
		reattached: reattached,
		cfg:        cfg,
		logger:     logger.With(zap.String("session_id", session.ID().String()), zap.Int("pid", session.Pid())),
		metrics:    metrics,
		outbox:     make(chan frame, cfg.OutboxSize),
		senderDone: make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// Run relays until the shell exits, the session idles out, the peer goes
// away, a newer connection takes over, or ctx is cancelled. On return the
// connection is closed and, unless superseded, the session is reaped and
// removed from the registry.
func (b *Bridge) Run(ctx context.Context) {
	go b.sendLoop()

	cols, rows := b.session.Size()
	if payload, err := EncodeReady(ReadyMessage{
		SessionID:  b.session.ID().String(),
		Cols:       cols,
		Rows:       rows,
		Scrollback: b.cfg.Scrollback,
		Reattached: b.reattached,
	}); err == nil {
		b.enqueue(frame{kind: TypeReady, payload: payload})
	}

	var g errgroup.Group
	g.Go(func() error {
		b.readLoop()
		return nil
	})

	reason := b.receiveLoop(ctx)

	b.requestStop()
	_ = g.Wait()
	b.finish(reason)
	<-b.senderDone
}

// receiveLoop runs on the caller's goroutine. It returns the cleanup reason
// to record if teardown ends up reclaiming the session.
func (b *Bridge) receiveLoop(ctx context.Context) string {
	for {
		select {
		case <-b.stop:
			return monitoring.ReasonDisconnect
		case <-ctx.Done():
			b.sendError(MsgShutdown, CloseGoingAway)
			return monitoring.ReasonShutdown
		default:
		}

		payload, err := b.conn.Receive(b.cfg.ReceiveTimeout)
		switch {
		case err == nil:
			b.dispatch(payload)
		case errors.Is(err, ErrReceiveTimeout):
		case errors.Is(err, ErrPeerClosed):
			b.logger.Debug("Peer closed connection")
			return monitoring.ReasonDisconnect
		default:
			b.logger.Debug("Receive failed", zap.Error(err))
			return monitoring.ReasonDisconnect
		}
	}
}

func (b *Bridge) dispatch(payload []byte) {
	msg, raw := DecodeClientMessage(payload)
	if raw {
		b.logger.Debug("Treating undecodable frame as input", zap.Int("bytes", len(payload)))
	}
	b.metrics.RecordWSMessage("in", msg.Type)

	switch msg.Type {
	case TypeInput:
		if err := b.session.Write([]byte(msg.Data)); err != nil {
			// Non-fatal: a dead shell surfaces as EOF on the reader side.
			b.logger.Debug("Input not delivered", zap.Error(err))
			return
		}
		b.metrics.AddBytes("in", len(msg.Data))

	case TypeResize:
		if msg.Cols < 1 || msg.Rows < 1 || msg.Cols > 0xFFFF || msg.Rows > 0xFFFF {
			b.logger.Debug("Ignoring invalid resize", zap.Int("cols", msg.Cols), zap.Int("rows", msg.Rows))
			return
		}
		if err := b.session.Resize(uint16(msg.Cols), uint16(msg.Rows)); err != nil {
			b.logger.Debug("Resize failed", zap.Error(err))
			return
		}
		b.session.Touch()

	case TypePing:
		b.session.Touch()
		if payload, err := EncodePong(); err == nil {
			b.enqueue(frame{kind: TypePong, payload: payload})
		}

	default:
		b.logger.Debug("Ignoring unknown message type", zap.String("type", msg.Type))
	}
}

func (b *Bridge) readLoop() {
	// A previous attachment may still be inside a Read; wait until it
	// hands the PTY over.
	if !b.session.AcquireReader(b.stop) {
		return
	}
	defer b.session.ReleaseReader()

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if !b.session.Attached(b.lease) {
			b.superseded(nil)
			return
		}

		if b.session.IsIdle(b.cfg.IdleTimeout) {
			b.logger.Info("Session idle, disconnecting", zap.Duration("idle_timeout", b.cfg.IdleTimeout))
			b.sendError(MsgIdleTimeout, CloseIdleTimeout)
			if b.session.Cleanup() {
				b.metrics.RecordCleanup(monitoring.ReasonIdle)
			}
			b.requestStop()
			return
		}

		data, err := b.session.Read(b.cfg.PollInterval)
		if !b.session.Attached(b.lease) {
			b.superseded(data)
			return
		}
		switch {
		case err == nil:
			b.metrics.AddBytes("out", len(data))
			if text := b.decoder.Decode(data); text != "" && !b.emitOutput(text) {
				return
			}
		case errors.Is(err, ErrNoData):
		default:
			b.exit()
			return
		}
	}
}

// superseded ends this attachment after a newer one took over. Output read
// but not yet sent, including a held-back partial rune, goes back to the
// session for the new reader.
func (b *Bridge) superseded(data []byte) {
	b.session.Unread(append(b.decoder.pending, data...))
	b.decoder.pending = nil
	b.logger.Info("Connection superseded by a newer attachment")
	b.sendError(MsgSuperseded, CloseSuperseded)
	b.requestStop()
}

// exit reports the shell's end to the client once it has been reaped.
func (b *Bridge) exit() {
	if b.session.Cleanup() {
		b.metrics.RecordCleanup(monitoring.ReasonExit)
	}
	<-b.session.Done()

	if rest := b.decoder.Flush(); rest != "" {
		b.emitOutput(rest)
	}
	code := b.session.ExitCode()
	b.logger.Info("Shell exited", zap.Int("exit_code", code))
	payload, err := EncodeExit(code)
	if err != nil {
		b.logger.Error("Encoding exit frame failed", zap.Error(err))
	}
	b.sendFinal(frame{kind: TypeExit, payload: payload, code: CloseNormal, reason: "shell exited"})
	b.requestStop()
}

func (b *Bridge) emitOutput(text string) bool {
	payload, err := EncodeOutput(text)
	if err != nil {
		b.logger.Error("Encoding output failed", zap.Error(err))
		return true
	}
	return b.enqueue(frame{kind: TypeOutput, payload: payload})
}

// sendError queues an error frame as the connection's last.
func (b *Bridge) sendError(message string, code int) {
	payload, err := EncodeError(message)
	if err != nil {
		b.logger.Error("Encoding error frame failed", zap.Error(err))
	}
	b.sendFinal(frame{kind: TypeError, payload: payload, code: code, reason: message})
}

// sendFinal queues the connection's last frame. Only the first call wins.
func (b *Bridge) sendFinal(f frame) {
	if !b.finalSent.CompareAndSwap(false, true) {
		return
	}
	f.final = true
	b.enqueue(f)
}

// enqueue hands f to the sender. It reports false once the connection is
// finished and f was dropped.
func (b *Bridge) enqueue(f frame) bool {
	select {
	case b.outbox <- f:
		return true
	case <-b.senderDone:
		return false
	case <-b.stop:
		// Still deliver final frames queued during shutdown if there is room.
		if f.final {
			select {
			case b.outbox <- f:
				return true
			default:
			}
		}
		return false
	}
}

// sendLoop is the only caller of Conn.Send and Conn.Close.
func (b *Bridge) sendLoop() {
	defer close(b.senderDone)

	for {
		select {
		case f := <-b.outbox:
			if !b.deliver(f) {
				return
			}
		case <-b.stop:
			// Flush what is already queued, then close.
			for {
				select {
				case f := <-b.outbox:
					if !b.deliver(f) {
						return
					}
				default:
					b.conn.Close(CloseNormal, "")
					return
				}
			}
		}
	}
}

// deliver writes one frame and reports whether the sender should continue.
func (b *Bridge) deliver(f frame) bool {
	if f.payload != nil {
		if err := b.conn.Send(f.payload); err != nil {
			b.logger.Debug("Send failed", zap.String("type", f.kind), zap.Error(err))
			b.requestStop()
			b.conn.Close(CloseNormal, "")
			return false
		}
		b.metrics.RecordWSMessage("out", f.kind)
	}
	if f.final {
		b.conn.Close(f.code, f.reason)
		return false
	}
	return true
}

func (b *Bridge) requestStop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// finish reclaims the session unless a newer connection holds it. Runs once,
// after the reader has stopped.
func (b *Bridge) finish(reason string) {
	b.teardown.Do(func() {
		if !b.session.Attached(b.lease) {
			return
		}
		if b.session.Cleanup() {
			b.metrics.RecordCleanup(reason)
			b.logger.Info("Session reclaimed", zap.String("reason", reason))
		}
		b.registry.Remove(b.session.Owner(), b.session)
	})
}
