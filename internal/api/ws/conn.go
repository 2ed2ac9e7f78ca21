package ws

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/webshell/internal/domain/terminal"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Conn adapts a gorilla connection to terminal.Conn.
//
// gorilla treats an expired read deadline as fatal for the connection, so
// reads happen on a pump goroutine and Receive waits on its channel
// instead.
type Conn struct {
	ws       *websocket.Conn
	incoming chan []byte

	// pumpDone closes when the read pump exits, after pumpErr is set.
	pumpDone chan struct{}
	pumpErr  error

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	writeMu sync.Mutex
}

// NewConn starts the read pump for ws.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		incoming: make(chan []byte),
		pumpDone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	go c.readPump()
	return c
}

func (c *Conn) readPump() {
	defer close(c.pumpDone)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.pumpErr = err
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case c.incoming <- data:
		case <-c.closed:
			return
		}
	}
}

// Receive waits up to timeout for the next text or binary message.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.pumpDone:
		return nil, c.peerError()
	case <-c.closed:
		return nil, terminal.ErrPeerClosed
	case <-timer.C:
		return nil, terminal.ErrReceiveTimeout
	}
}

func (c *Conn) peerError() error {
	if c.pumpErr == nil || websocket.IsCloseError(c.pumpErr,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return terminal.ErrPeerClosed
	}
	// Abnormal closures and network failures mean the peer is gone too.
	return errors.Join(terminal.ErrPeerClosed, c.pumpErr)
}

// Send writes payload as a single text message.
func (c *Conn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return terminal.ErrPeerClosed
	default:
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame with code and reason, then drops the
// connection. Only the first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, truncateReason(reason))
		err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}

		close(c.closed)
		if err := c.ws.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// truncateReason keeps a close reason within the 123 bytes a control frame
// allows.
func truncateReason(reason string) string {
	const max = 123
	if len(reason) <= max {
		return reason
	}
	reason = reason[:max]
	for !utf8.ValidString(reason) {
		reason = reason[:len(reason)-1]
	}
	return reason
}
