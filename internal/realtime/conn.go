package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes used when the server ends a connection.
const (
	CloseNormal        = websocket.CloseNormalClosure
	CloseGoingAway     = websocket.CloseGoingAway
	ClosePolicy        = websocket.ClosePolicyViolation
	CloseInternalError = websocket.CloseInternalServerErr
	CloseTryAgainLater = websocket.CloseTryAgainLater
)

// Conn is one client transport. Implementations must tolerate Send, Ping and
// Close being called from different goroutines.
type Conn interface {
	Send(ev Event) error
	Ping() error
	Close(code int, reason string) error
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// WSConn adapts a gorilla websocket to Conn.
type WSConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewWSConn wraps an upgraded websocket.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

// Send writes ev as a JSON text frame.
func (c *WSConn) Send(ev Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(ev)
}

// Ping writes a ping control frame.
func (c *WSConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame carrying code and reason, then closes the socket.
func (c *WSConn) Close(code int, reason string) error {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	return c.ws.Close()
}

type clientMessage struct {
	Type string `json:"type"`
}

// ReadLoop consumes client frames until the socket fails or is closed. Pongs
// and {"type":"heartbeat"} messages both invoke onHeartbeat; other messages
// are ignored.
func (c *WSConn) ReadLoop(onHeartbeat func()) error {
	c.ws.SetReadLimit(maxMessageSize)
	// Liveness is enforced by the broadcaster's heartbeat, not by the
	// http.Server read timeout that still sits on the hijacked socket.
	_ = c.ws.SetReadDeadline(time.Time{})
	c.ws.SetPongHandler(func(string) error {
		onHeartbeat()
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "heartbeat" {
			onHeartbeat()
		}
	}
}
