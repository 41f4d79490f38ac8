package websocket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/pkg/streaming"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection is the dial/reconnect half of the backend. All writes go
// through sendCh into a single writer goroutine; acks come back on ackCh.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL  string
	secret string

	// replayMsg is the latest formation_saved frame. A fresh hub
	// connection gets it first so the hub knows the active state.
	replayMsg []byte

	dropped atomic.Uint64

	logger zerolog.Logger
}

func newConnection(logger zerolog.Logger) *connection {
	return &connection{
		sendCh: make(chan []byte, sendChSize),
		ackCh:  make(chan streaming.AckMessage, ackChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// dial connects to the hub and starts the read and write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	return nil
}

// dialOnce performs one dial attempt, authenticating with the secret
// query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeFrame writes one text frame under the write deadline.
func writeFrame(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop drains sendCh into the socket. It exits on shutdown or on
// the first write error, handing off to reconnect; the replacement
// connection starts a fresh loop.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				continue
			}

			if err := writeFrame(conn, data); err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket write error")
				go c.reconnect()
				return
			}
		}
	}
}

// readLoop routes hub acks to ackCh and exits like writeLoop does.
func (c *connection) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn().Err(err).Msg("WebSocket read error")
			go c.reconnect()
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil {
			c.logger.Debug().Str("raw", string(message)).Msg("Non-ack message received")
			continue
		}

		if ack.Type == "ack" {
			select {
			case c.ackCh <- ack:
			default:
				c.logger.Debug().Str("for", ack.For).Msg("Ack channel full, dropping")
			}
		}
	}
}

// setReplay records the frame to replay after a reconnect.
func (c *connection) setReplay(data []byte) {
	c.mu.Lock()
	c.replayMsg = data
	c.mu.Unlock()
}

// reconnect re-establishes the connection with exponential backoff. On
// success it replays the latest formation save, then restarts the loops.
func (c *connection) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("Reconnecting to WebSocket")
		time.Sleep(backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn().Int("attempt", attempt).Err(err).Msg("Reconnect dial failed")
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		cached := c.replayMsg
		c.mu.Unlock()

		if cached != nil {
			if err := writeFrame(conn, cached); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to replay formation save after reconnect")
				_ = conn.Close()
				continue
			}
		}

		c.logger.Info().Int("attempt", attempt).Msg("WebSocket reconnected")
		go c.writeLoop()
		go c.readLoop()
		return
	}

	c.logger.Error().Int("maxAttempts", maxReconnect).Msg("WebSocket reconnect failed after max attempts")
}

// send queues data for the writer without blocking. Overflow is dropped
// and counted, same policy as the feed fan-out.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.dropped.Add(1)
		c.logger.Warn().Msg("WebSocket send channel full, dropping message")
	}
}

// sendAndWait queues data and blocks until the hub acks it or the
// timeout expires. Acks for other frames are skipped, not consumed as
// matches.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and shuts down the loops.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
