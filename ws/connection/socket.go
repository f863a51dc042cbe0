package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/gorilla/websocket"
)

// maxCloseReason is the longest reason that fits in a close control frame
const maxCloseReason = 123

// Socket is the message oriented duplex channel a connection runs over
type Socket interface {
	// ReadMessage blocks until the next message arrives. It returns a
	// *CloseError when the peer closed the socket.
	ReadMessage() ([]byte, error)

	// WriteMessage sends a single text message
	WriteMessage(data []byte) error

	// Close sends a close frame with the code and reason and releases the socket
	Close(code protocol.CloseCode, reason string) error

	// Subprotocol returns the negotiated subprotocol
	Subprotocol() string
}

// CloseError is returned by ReadMessage when the peer closed the socket
type CloseError struct {
	Code   protocol.CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return "socket closed: " + e.Reason
}

// wsSocket adapts a gorilla websocket
type wsSocket struct {
	ws        *websocket.Conn
	writeMx   sync.Mutex
	closeOnce sync.Once
}

// NewSocket wraps a gorilla websocket connection
func NewSocket(ws *websocket.Conn) Socket {
	ws.SetReadLimit(protocol.ReadLimit)
	return &wsSocket{ws: ws}
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &CloseError{
				Code:   protocol.CloseCode(closeErr.Code),
				Reason: closeErr.Text,
			}
		}
		return nil, err
	}

	return data, nil
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.writeMx.Lock()
	defer s.writeMx.Unlock()

	// a write that times out leaves the websocket corrupt, the caller
	// closes the connection on error
	if err := s.ws.SetWriteDeadline(time.Now().Add(protocol.WriteTimeout)); err != nil {
		return err
	}

	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close(code protocol.CloseCode, reason string) error {
	var err error

	s.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}

		// the peer may already be gone, the close frame is best-effort
		_ = s.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(int(code), reason),
			time.Now().Add(protocol.WriteTimeout),
		)

		err = s.ws.Close()
	})

	return err
}

func (s *wsSocket) Subprotocol() string {
	return s.ws.Subprotocol()
}
