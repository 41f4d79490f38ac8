// internal/server/websocket.go
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/dispatcher"
	"github.com/courtkit/rotation/internal/handlers"
	"github.com/courtkit/rotation/internal/session"
	"github.com/courtkit/rotation/pkg/streaming"
)

const (
	feedWriteWait   = 10 * time.Second
	feedReadLimit   = 64 * 1024
	feedReplyBuffer = 16
	maxFeeds        = 256
	maxFeedsPerIP   = 8
)

// Feeds serves the per-session WebSocket endpoint. Each connection
// subscribes to the session's event feed and may send commands, which are
// routed through the dispatcher. Command replies are ack or error frames;
// the resulting state changes arrive through the feed like they do for
// every other subscriber.
type Feeds struct {
	svc      *handlers.Service
	disp     *dispatcher.Dispatcher
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	perIP    *connLimiter
	active   atomic.Int32
}

// NewFeeds builds the feed handler. A nil dispatcher disables client
// commands: connections are then watch-only.
func NewFeeds(svc *handlers.Service, disp *dispatcher.Dispatcher, origins []string, logger zerolog.Logger) *Feeds {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	f := &Feeds{
		svc:    svc,
		disp:   disp,
		logger: logger,
		perIP:  newConnLimiter(maxFeedsPerIP),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if originAllowed(r.Header.Get("Origin"), origins) {
				return true
			}
			recordRejected("origin")
			return false
		},
	}
	return f
}

// clientCommand is an inbound frame: a command name and its payload.
type clientCommand struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// Handle upgrades GET /ws/session/{id}. The subscription is taken before
// the upgrade so an unknown session is answered with a plain 404 instead
// of a doomed WebSocket handshake.
func (f *Feeds) Handle(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ip := ClientIP(r)

	if int(f.active.Load()) >= maxFeeds {
		recordRejected("feed_limit")
		writeError(w, "feed limit reached", http.StatusServiceUnavailable)
		return
	}
	if !f.perIP.Acquire(ip) {
		recordRejected("feed_ip_limit")
		writeError(w, "too many feeds from this address", http.StatusTooManyRequests)
		return
	}
	defer f.perIP.Release(ip)

	feedID, feed, err := f.svc.Subscribe(sessionID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusNotFound))
		return
	}
	defer f.svc.Unsubscribe(sessionID, feedID)

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug().Err(err).Str("session", sessionID).Msg("feed upgrade failed")
		return
	}
	defer conn.Close()

	feedsActive.Set(float64(f.active.Add(1)))
	defer func() { feedsActive.Set(float64(f.active.Add(-1))) }()
	f.logger.Debug().Str("session", sessionID).Str("ip", ip).Msg("feed opened")

	if err := f.sendSessionStart(conn, sessionID); err != nil {
		return
	}

	// The write pump is the only goroutine touching the connection's write
	// side. The reader hands replies over a buffered channel and drops
	// them rather than block when the writer is saturated.
	replies := make(chan []byte, feedReplyBuffer)
	readerDone := make(chan struct{})
	go f.readPump(conn, sessionID, replies, readerDone)
	f.writePump(conn, feed, replies, readerDone)
}

func (f *Feeds) sendSessionStart(conn *websocket.Conn, sessionID string) error {
	formation, err := f.svc.SessionFormation(sessionID)
	if err != nil {
		return err
	}
	data, err := marshalEnvelope(streaming.TypeSessionStart, streaming.SessionStartPayload{
		SessionID: sessionID,
		Formation: &formation,
	})
	if err != nil {
		return err
	}
	return writeFrame(conn, data)
}

func (f *Feeds) readPump(conn *websocket.Conn, sessionID string, replies chan<- []byte, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(feedReadLimit)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			queueReply(replies, errorFrame("", "malformed command frame"))
			continue
		}
		if f.disp == nil || !f.disp.HasHandler(cmd.Command) {
			queueReply(replies, errorFrame(cmd.Command, "unknown command"))
			continue
		}
		if _, err := f.disp.Dispatch(dispatcher.Event{
			Command:   cmd.Command,
			SessionID: sessionID,
			Payload:   cmd.Payload,
			Timestamp: time.Now(),
		}); err != nil {
			queueReply(replies, errorFrame(cmd.Command, err.Error()))
			continue
		}
		if ack, err := json.Marshal(streaming.AckMessage{Type: "ack", For: cmd.Command}); err == nil {
			queueReply(replies, ack)
		}
	}
}

func (f *Feeds) writePump(conn *websocket.Conn, feed session.Feed, replies <-chan []byte, readerDone <-chan struct{}) {
	for {
		select {
		case env, ok := <-feed.Receive():
			if !ok {
				// Session closed underneath us.
				deadline := time.Now().Add(feedWriteWait)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := writeFrame(conn, data); err != nil {
				return
			}
			feedMessagesTotal.Inc()
		case data := <-replies:
			if err := writeFrame(conn, data); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
}

func errorFrame(command, msg string) []byte {
	data, err := marshalEnvelope(streaming.TypeError, streaming.ErrorPayload{Command: command, Error: msg})
	if err != nil {
		return []byte(`{"type":"error"}`)
	}
	return data
}

func queueReply(replies chan<- []byte, data []byte) {
	select {
	case replies <- data:
	default:
	}
}

// originAllowed reports whether origin matches the allow list. Browsers
// always send an Origin header on WebSocket requests; an empty one means
// a non-browser client and is accepted. A single "*" inside an entry
// matches any run of characters, so "http://*.example.com" and
// "http://localhost:*" both work.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, pattern := range allowed {
		if pattern == "*" || pattern == origin {
			return true
		}
		if i := strings.Index(pattern, "*"); i >= 0 && strings.Count(pattern, "*") == 1 {
			prefix, suffix := pattern[:i], pattern[i+1:]
			if len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) &&
				strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
