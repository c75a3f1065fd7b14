package websocket

import "golang.org/x/net/websocket"

// Conn exchanges binary messages over a websocket.
type Conn websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *Conn {
	return (*Conn)(conn)
}

// ReadMessage receives one message.
func (c *Conn) ReadMessage() (msg []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(c), &msg)
	return
}

// WriteMessage sends one binary message.
func (c *Conn) WriteMessage(msg []byte) error {
	return websocket.Message.Send((*websocket.Conn)(c), msg)
}

// Close closes the websocket.
func (c *Conn) Close() error {
	return (*websocket.Conn)(c).Close()
}
