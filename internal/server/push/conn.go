package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/server/transfer"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxMessageSize = 4096
	sendBuffer     = 64
	// terminalReserve is queue space only uploadDone and uploadFailed may use.
	terminalReserve = 8
)

var (
	ErrClosed = errors.New("push channel closed")
	// ErrSlowConsumer drops one frame; the connection stays bound.
	ErrSlowConsumer = fmt.Errorf("push channel send buffer full: %w", transfer.ErrFrameDropped)
)

// envelope is the frame format in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is one client websocket. It satisfies transfer.Channel.
type Conn struct {
	id        string
	principal string
	ws        *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id, principal string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:        id,
		principal: principal,
		ws:        ws,
		send:      make(chan []byte, sendBuffer+terminalReserve),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) Principal() string { return c.principal }

// Send queues a frame without blocking. Once sendBuffer frames are queued,
// further progress frames are dropped with ErrSlowConsumer while terminal
// events still fit into the reserve.
func (c *Conn) Send(event string, payload any) error {
	b, err := json.Marshal(outgoing{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !isTerminal(event) && len(c.send) >= sendBuffer {
		return ErrSlowConsumer
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

func isTerminal(event string) bool {
	return event == transfer.EventDone || event == transfer.EventFailed
}

// Close asks the writer to send a close frame and drop the socket, which
// also ends the reader. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()
	defer c.Close()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// read returns the next frame from the client.
func (c *Conn) read() (envelope, error) {
	var env envelope
	_, b, err := c.ws.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return env, errMalformed
	}
	return env, nil
}

var errMalformed = errors.New("malformed frame")
