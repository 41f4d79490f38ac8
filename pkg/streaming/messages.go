package streaming

import (
	"encoding/json"

	"github.com/courtkit/rotation/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeSessionStart   = "session_start"
	TypeSessionEnd     = "session_end"
	TypeMoveApplied    = "move_applied"
	TypeUndoApplied    = "undo_applied"
	TypeRedoApplied    = "redo_applied"
	TypeValidation     = "validation"
	TypeRotation       = "rotation"
	TypeServiceChange  = "service_change"
	TypeFormationSaved = "formation_saved"
	TypeSnapshot       = "snapshot"
	TypeValidationLog  = "validation_event"
	TypeEngineMetrics  = "engine_metrics"
	TypePerfSample     = "perf_sample"
	TypeError          = "error"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SessionStartPayload announces a new drag session and its formation.
type SessionStartPayload struct {
	SessionID string          `json:"sessionId"`
	Formation *core.Formation `json:"formation,omitempty"`
}

// MovePayload carries one applied position edit and the feedback the
// engine produced for it. Snapped is only present when the placement is
// illegal and a correction exists.
type MovePayload struct {
	SessionID string                 `json:"sessionId"`
	Slot      core.Slot              `json:"slot"`
	Position  core.CourtPosition     `json:"position"`
	Result    *core.ValidationResult `json:"result,omitempty"`
	Bounds    *core.PositionBounds   `json:"bounds,omitempty"`
	Snapped   *core.CourtPosition    `json:"snapped,omitempty"`
}

// ValidationPayload carries a full-lineup check outcome.
type ValidationPayload struct {
	SessionID string                `json:"sessionId"`
	Result    core.ValidationResult `json:"result"`
}

// RotationPayload carries the slot assignment after a rotation.
type RotationPayload struct {
	SessionID  string           `json:"sessionId"`
	Rotation   core.RotationMap `json:"rotation"`
	ServerSlot core.Slot        `json:"serverSlot"`
}

// ServiceChangePayload announces a new serving slot.
type ServiceChangePayload struct {
	SessionID  string    `json:"sessionId"`
	ServerSlot core.Slot `json:"serverSlot"`
}

// ErrorPayload reports a rejected client command.
type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}
