package terminal

import (
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Message types
const (
	// Client to server
	TypeInput  = "input"
	TypeResize = "resize"
	TypePing   = "ping"

	// Server to client
	TypeOutput = "output"
	TypeExit   = "exit"
	TypeError  = "error"
	TypePong   = "pong"
	TypeReady  = "ready"
)

// WebSocket close codes used to end a terminal connection.
const (
	CloseNormal        = 1000 // shell exited
	CloseGoingAway     = 1001 // server shutting down
	CloseInternalError = 1011 // shell could not be started
	CloseTryAgainLater = 1013 // session limit reached
	CloseIdleTimeout   = 4000
	CloseAuthFailed    = 4001
	CloseSuperseded    = 4009 // a newer connection took over the session
)

// User-facing error messages.
const (
	MsgAuthFailed   = "authentication failed"
	MsgCapacity     = "terminal session limit reached, try again later"
	MsgShellMissing = "shell binary not found on server"
	MsgSpawnFailed  = "failed to start shell"
	MsgIdleTimeout  = "session closed after idle timeout"
	MsgSuperseded   = "session opened in another window"
	MsgShutdown     = "server shutting down"
)

var codec = sonic.ConfigStd

// ClientMessage is a decoded client frame.
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type outputMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type exitMessage struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type string `json:"type"`
}

// ReadyMessage is sent once when a connection attaches to a session.
type ReadyMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Cols       uint16 `json:"cols"`
	Rows       uint16 `json:"rows"`
	Scrollback int    `json:"scrollback"`
	Reattached bool   `json:"reattached"`
}

// DecodeClientMessage parses a client frame. Anything that is not a JSON
// object with a non-empty type is treated as literal terminal input, and
// raw reports that fallback.
func DecodeClientMessage(payload []byte) (msg ClientMessage, raw bool) {
	if err := codec.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
		return ClientMessage{Type: TypeInput, Data: string(payload)}, true
	}
	return msg, false
}

// EncodeOutput encodes an output frame.
func EncodeOutput(data string) ([]byte, error) {
	return codec.Marshal(outputMessage{Type: TypeOutput, Data: data})
}

// EncodeExit encodes an exit frame.
func EncodeExit(code int) ([]byte, error) {
	return codec.Marshal(exitMessage{Type: TypeExit, Code: code})
}

// EncodeError encodes an error frame.
func EncodeError(message string) ([]byte, error) {
	return codec.Marshal(errorMessage{Type: TypeError, Message: message})
}

// EncodePong encodes a pong frame.
func EncodePong() ([]byte, error) {
	return codec.Marshal(pongMessage{Type: TypePong})
}

// EncodeReady encodes a ready frame.
func EncodeReady(msg ReadyMessage) ([]byte, error) {
	msg.Type = TypeReady
	return codec.Marshal(msg)
}

// textDecoder turns PTY output chunks into UTF-8 text. A multi-byte
// sequence split across chunks is held back until it completes; invalid
// bytes become U+FFFD.
type textDecoder struct {
	pending []byte
}

func (d *textDecoder) Decode(chunk []byte) string {
	buf := append(d.pending, chunk...)

	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && len(buf)-i < utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}

	text := strings.ToValidUTF8(string(buf[:cut]), string(utf8.RuneError))
	d.pending = append(d.pending[:0], buf[cut:]...)
	return text
}

// Flush returns whatever is held back, replacing it with U+FFFD.
func (d *textDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = d.pending[:0]
	return text
}
