package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

const (
	writeDeadline  = 10 * time.Second
	readDeadline   = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 1024
)

// MessageSessionClosed tells the client its session is gone and it must
// reconnect for a new one.
const MessageSessionClosed = "Session closed, reconnect to start a new session."

var (
	errClientClosed = errors.New("client connection closed")
	errSlowClient   = errors.New("client send buffer full")
)

// client is the session.Conn for one WebSocket. Writes go through send so
// only writePump touches the socket for writing.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newClient(conn *websocket.Conn, log zerolog.Logger) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send queues an event frame. It never blocks: a client that lets its buffer
// fill up is disconnected rather than holding up the program's delivery.
func (c *client) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn().Int("buffer", sendBuffer).Msg("client not reading, disconnecting")
		c.close()
		return errSlowClient
	}
}

// Close tells the client its session has been torn down and closes the socket.
func (c *client) Close() error {
	c.sendJSON(protocol.ErrorFrame(MessageSessionClosed))
	c.close()
	return nil
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump delivers every inbound frame to handle until the socket fails.
func (c *client) readPump(handle func([]byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		handle(message)
	}
}

// writePump owns writes to the socket and closes it when the client is done.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !c.flush() {
				return
			}
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames still queued when the client was closed.
func (c *client) flush() bool {
	for {
		select {
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return false
			}
		default:
			return true
		}
	}
}
