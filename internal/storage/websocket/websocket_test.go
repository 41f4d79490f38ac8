package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtkit/rotation/pkg/core"
	"github.com/courtkit/rotation/pkg/streaming"
)

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and acks formation_saved.
func testServer(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeFormationSaved {
				ack := streaming.AckMessage{Type: "ack", For: env.Type}
				data, _ := json.Marshal(ack)
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSaveFormation_AckedByHub(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "test"}, zerolog.Nop())
	require.NoError(t, b.Init())
	defer b.Close()

	f := &core.Formation{
		Name:   "base defense",
		System: "5-1",
		Players: []core.FormationPlayer{
			{PlayerID: "p1", Slot: 1, X: 7, Y: 7},
		},
	}
	require.NoError(t, b.SaveFormation(f))

	msgs := ml.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, streaming.TypeFormationSaved, msgs[0].Type)

	var sent core.Formation
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &sent))
	assert.Equal(t, "base defense", sent.Name)
}

func TestFireAndForgetMessages(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, zerolog.Nop())
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.WriteSnapshot(&core.Snapshot{SessionID: "sess-1", Seq: 1}))
	require.NoError(t, b.WriteSnapshot(&core.Snapshot{SessionID: "sess-1", Seq: 2}))
	require.NoError(t, b.WriteValidationEvent(&core.ValidationEvent{SessionID: "sess-1", IsLegal: true}))
	require.NoError(t, b.WritePerfSample(&core.PerfSample{Goroutines: 8}))

	// Give a moment for all messages to arrive at the server.
	time.Sleep(50 * time.Millisecond)

	types := make(map[string]int)
	for _, m := range ml.all() {
		types[m.Type]++
	}

	assert.Equal(t, 2, types[streaming.TypeSnapshot])
	assert.Equal(t, 1, types[streaming.TypeValidationLog])
	assert.Equal(t, 1, types[streaming.TypePerfSample])
}

func TestReadOperationsUnsupported(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, zerolog.Nop())
	require.NoError(t, b.Init())
	defer b.Close()

	_, err := b.LoadFormation("anything")
	assert.True(t, errors.Is(err, ErrStreamingOnly))

	_, err = b.ListFormations()
	assert.True(t, errors.Is(err, ErrStreamingOnly))

	err = b.DeleteFormation("anything")
	assert.True(t, errors.Is(err, ErrStreamingOnly))
}

func TestMarshalEnvelope(t *testing.T) {
	data, err := marshalEnvelope(streaming.TypeSnapshot, &core.Snapshot{SessionID: "s1", Seq: 9})
	require.NoError(t, err)

	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, streaming.TypeSnapshot, env.Type)

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, uint64(9), snap.Seq)
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1", Secret: "s"}, zerolog.Nop())
	require.Error(t, b.Init())
}
