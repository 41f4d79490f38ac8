// Package websocket implements a write-only storage.Backend that streams
// formation saves and session telemetry to a remote hub.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/pkg/core"
	"github.com/courtkit/rotation/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// ErrStreamingOnly is returned by read operations. The hub consumes the
// stream but offers no query interface back to the client.
var ErrStreamingOnly = errors.New("websocket backend is write-only")

// Backend streams formation and snapshot data over WebSocket to a hub.
// It implements storage.Backend but not storage.Exporter.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger zerolog.Logger) *Backend {
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket hub.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket hub.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped reports how many messages were discarded because the send buffer
// was full.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// SaveFormation streams the formation and waits for the hub ack. The
// message is cached so a reconnect can replay the latest saved state.
func (b *Backend) SaveFormation(f *core.Formation) error {
	data, err := marshalEnvelope(streaming.TypeFormationSaved, f)
	if err != nil {
		return err
	}
	b.conn.setReplay(data)

	return b.conn.sendAndWait(data, streaming.TypeFormationSaved, ackTimeout)
}

// LoadFormation is unsupported on a streaming hub.
func (b *Backend) LoadFormation(name string) (*core.Formation, error) {
	return nil, ErrStreamingOnly
}

// ListFormations is unsupported on a streaming hub.
func (b *Backend) ListFormations() ([]core.Formation, error) {
	return nil, ErrStreamingOnly
}

// DeleteFormation is unsupported on a streaming hub.
func (b *Backend) DeleteFormation(name string) error {
	return ErrStreamingOnly
}

func (b *Backend) WriteSnapshot(s *core.Snapshot) error {
	return b.sendEnvelope(streaming.TypeSnapshot, s)
}

func (b *Backend) WriteValidationEvent(e *core.ValidationEvent) error {
	return b.sendEnvelope(streaming.TypeValidationLog, e)
}

func (b *Backend) WritePerfSample(p *core.PerfSample) error {
	return b.sendEnvelope(streaming.TypePerfSample, p)
}
