// Package socket wraps a gorilla/websocket connection with the relay's
// delivery rules.
//
// CONCURRENCY MODEL:
// gorilla/websocket allows one concurrent reader and one concurrent writer.
// The read side belongs to whoever calls ReadFrame (the handler's read loop).
// The write side belongs to a single write-pump goroutine started by New; all
// other goroutines hand it frames through a bounded queue via Send.
//
// Send never blocks. When the queue is full the frame is dropped and
// ErrSendBufferFull is returned, so one slow client cannot stall event
// processing for everyone else.
package socket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sakif/chat-relay/internal/protocol"
)

var (
	ErrClosed         = errors.New("socket: connection closed")
	ErrSendBufferFull = errors.New("socket: send buffer full")
)

// Options tunes a connection's buffering and keepalive.
type Options struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

// DefaultOptions returns settings suitable for browser clients.
func DefaultOptions() Options {
	return Options{
		SendBuffer:      64,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// pingPeriod must be shorter than PongWait so the peer's pong lands before
// the read deadline expires.
func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Conn is one client connection.
type Conn struct {
	id     string
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// New wraps ws and starts its write pump. The caller must eventually call
// Close.
func New(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	c := newConn(ws, opts, logger)

	ws.SetReadLimit(opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.writePump()
	return c
}

func newConn(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	id := uuid.NewString()
	return &Conn{
		id:       id,
		ws:       ws,
		opts:     opts,
		logger:   logger.With(slog.String("conn", id)),
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// ID returns the connection handle. It is unique for the life of the process.
func (c *Conn) ID() string { return c.id }

// Send encodes ev and queues it for the write pump.
func (c *Conn) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("socket: encoding %s: %w", ev.Type, err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.logger.Warn("send buffer full, dropping event", slog.String("type", ev.Type))
		return ErrSendBufferFull
	}
}

// ReadFrame blocks until the next text or binary frame arrives. Control
// frames are handled internally. Any error means the connection is finished.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close stops the write pump, which flushes what is queued and then closes
// the socket. Safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	c.shutdown()
	<-c.pumpDone
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.shutdown()
		_ = c.ws.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}

		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before shutdown, best effort.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}

// IsUnexpectedClose reports whether err from ReadFrame is worth logging.
// Normal closes and going-away from a browser tab are expected.
func IsUnexpectedClose(err error) bool {
	if errors.Is(err, ErrClosed) {
		return false
	}
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
