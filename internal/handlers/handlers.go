// Package handlers is the transport-independent operation surface of the
// service. REST, the WebSocket feed and any embedded caller all route
// through Service; nothing here knows about HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/courtkit/rotation/internal/api"
	"github.com/courtkit/rotation/internal/cache"
	"github.com/courtkit/rotation/internal/dispatcher"
	"github.com/courtkit/rotation/internal/influx"
	"github.com/courtkit/rotation/internal/lineup"
	"github.com/courtkit/rotation/internal/logging"
	"github.com/courtkit/rotation/internal/session"
	"github.com/courtkit/rotation/internal/share"
	"github.com/courtkit/rotation/internal/storage"
	"github.com/courtkit/rotation/internal/util"
	"github.com/courtkit/rotation/internal/worker"
	"github.com/courtkit/rotation/pkg/core"
)

// ErrSessionNotFound marks lookups of unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Sessions   *session.Manager
	Backend    storage.Backend
	Pipeline   *worker.Pool
	Hub        *api.Client
	Influx     *influx.Manager
	Converter  *lineup.Converter
	LogManager *logging.SlogManager
}

// Service provides the operation surface over sessions, formations and
// share codes.
type Service struct {
	deps         Dependencies
	writeLogFunc func(operation, data, level string)

	opMu     sync.Mutex
	opCounts map[string]*cache.SafeCounter
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Converter == nil {
		deps.Converter = lineup.NewConverter(nil)
	}
	s := &Service{
		deps:     deps,
		opCounts: make(map[string]*cache.SafeCounter),
	}
	// Default writeLog function uses the logging manager
	s.writeLogFunc = func(operation, data, level string) {
		if deps.LogManager != nil {
			deps.LogManager.WriteLog(operation, data, level)
		}
	}
	return s
}

func (s *Service) writeLog(operation, data, level string) {
	s.writeLogFunc(operation, data, level)
}

func (s *Service) count(op string) {
	s.opMu.Lock()
	c, ok := s.opCounts[op]
	if !ok {
		c = &cache.SafeCounter{}
		s.opCounts[op] = c
	}
	s.opMu.Unlock()
	c.Inc()
}

// Counters returns a copy of the per-operation call counts.
func (s *Service) Counters() map[string]int {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	out := make(map[string]int, len(s.opCounts))
	for op, c := range s.opCounts {
		out[op] = c.Value()
	}
	return out
}

func (s *Service) getSession(id string) (*session.Session, error) {
	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

// CreateSessionRequest names the formation a new session edits. Exactly
// one source must be set: an inline formation, a stored formation name,
// or raw screen positions with their rotation map.
type CreateSessionRequest struct {
	SessionID string          `json:"sessionId,omitempty"`
	Formation *core.Formation `json:"formation,omitempty"`
	Name      string          `json:"name,omitempty"`

	ScreenPositions map[string]core.ScreenPosition `json:"screenPositions,omitempty"`
	Rotation        core.RotationMap               `json:"rotation,omitempty"`
	ServerSlot      core.Slot                      `json:"serverSlot,omitempty"`
}

// CreateSessionResponse carries the opened session and its starting
// verdict.
type CreateSessionResponse struct {
	SessionID string                `json:"sessionId"`
	Formation core.Formation        `json:"formation"`
	States    []core.PlayerState    `json:"states"`
	Result    core.ValidationResult `json:"result"`
}

// CreateSession opens an editing session over a formation.
func (s *Service) CreateSession(req CreateSessionRequest) (CreateSessionResponse, error) {
	operation := "createSession"
	s.count(operation)

	f, err := s.resolveFormation(req)
	if err != nil {
		s.writeLog(operation, fmt.Sprintf("cannot resolve formation: %v", err), "error")
		return CreateSessionResponse{}, err
	}

	sess, err := s.deps.Sessions.Create(req.SessionID, f)
	if err != nil {
		s.writeLog(operation, fmt.Sprintf("create failed: %v", err), "error")
		return CreateSessionResponse{}, err
	}

	res, _ := sess.Validate()
	s.writeLog(operation, fmt.Sprintf("session %s opened, legal=%t", sess.ID, res.IsLegal), "info")
	return CreateSessionResponse{
		SessionID: sess.ID,
		Formation: sess.Formation(),
		States:    sess.States(),
		Result:    res,
	}, nil
}

func (s *Service) resolveFormation(req CreateSessionRequest) (core.Formation, error) {
	switch {
	case req.Formation != nil:
		return *req.Formation, nil

	case req.Name != "" && len(req.ScreenPositions) == 0:
		if s.deps.Backend == nil {
			return core.Formation{}, fmt.Errorf("no storage backend to load %q from", req.Name)
		}
		f, err := s.deps.Backend.LoadFormation(req.Name)
		if err != nil {
			return core.Formation{}, err
		}
		return *f, nil

	case len(req.ScreenPositions) > 0:
		if len(req.Rotation) == 0 {
			return core.Formation{}, fmt.Errorf("screen positions need a rotation map")
		}
		name := req.Name
		if name == "" {
			name = "untitled"
		}
		f := core.Formation{Name: name, ServerSlot: req.ServerSlot}
		for slot, playerID := range req.Rotation {
			sp, ok := req.ScreenPositions[playerID]
			if !ok {
				continue
			}
			pos := s.deps.Converter.ToCourt(sp)
			f.Players = append(f.Players, core.FormationPlayer{
				PlayerID:   playerID,
				Slot:       slot,
				X:          pos.X,
				Y:          pos.Y,
				Customized: sp.Customized,
			})
		}
		return f, nil

	default:
		return core.Formation{}, fmt.Errorf("request names no formation")
	}
}

// CloseSession ends a session and its live feeds.
func (s *Service) CloseSession(sessionID string) error {
	operation := "closeSession"
	s.count(operation)

	if err := s.deps.Sessions.Close(sessionID); err != nil {
		return fmt.Errorf("%q: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// SessionFormation returns the session's live state as a formation.
func (s *Service) SessionFormation(sessionID string) (core.Formation, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return core.Formation{}, err
	}
	return sess.Formation(), nil
}

// SessionStates returns the current lineup of a session.
func (s *Service) SessionStates(sessionID string) ([]core.PlayerState, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.States(), nil
}

// Subscribe attaches a live event feed to a session.
func (s *Service) Subscribe(sessionID string) (uint64, session.Feed, error) {
	sess, err := s.getSession(sessionID)
	if err != nil {
		return 0, nil, err
	}
	id, feed := sess.Subscribe()
	return id, feed, nil
}

// Unsubscribe releases a live event feed.
func (s *Service) Unsubscribe(sessionID string, feedID uint64) {
	if sess, ok := s.deps.Sessions.Get(sessionID); ok {
		sess.Unsubscribe(feedID)
	}
}

// ApplyMove places a player and returns the full drag feedback. The
// resulting snapshot is enqueued for persistence, never awaited.
func (s *Service) ApplyMove(sessionID string, slot core.Slot, pos core.CourtPosition) (session.MoveFeedback, error) {
	operation := "applyMove"
	s.count(operation)

	sess, err := s.getSession(sessionID)
	if err != nil {
		return session.MoveFeedback{}, err
	}
	fb, err := sess.ApplyMove(slot, pos)
	if err != nil {
		s.writeLog(operation, fmt.Sprintf("session %s slot %d: %v", sessionID, slot, err), "warn")
		return session.MoveFeedback{}, err
	}

	s.recordSnapshot(sess)
	return fb, nil
}

// ValidateLineup checks the whole lineup and enqueues the outcome as a
// validation event.
func (s *Service) ValidateLineup(sessionID string) (core.ValidationResult, error) {
	operation := "validateLineup"
	s.count(operation)

	sess, err := s.getSession(sessionID)
	if err != nil {
		return core.ValidationResult{}, err
	}
	res, ev := sess.Validate()
	if s.deps.Pipeline != nil {
		s.deps.Pipeline.EnqueueValidationEvent(ev)
	}
	if !res.IsLegal {
		s.writeLog(operation, fmt.Sprintf("session %s illegal, %d violations", sessionID, len(res.Violations)), "info")
	}
	return res, nil
}

// PlayerBounds returns the legal rectangle for one slot.
func (s *Service) PlayerBounds(sessionID string, slot core.Slot) (core.PositionBounds, error) {
	s.count("playerBounds")

	sess, err := s.getSession(sessionID)
	if err != nil {
		return core.PositionBounds{}, err
	}
	return sess.Bounds(slot)
}

// SnapPosition returns the nearest legal position for a candidate point.
func (s *Service) SnapPosition(sessionID string, slot core.Slot, pos core.CourtPosition) (core.CourtPosition, error) {
	s.count("snapPosition")

	sess, err := s.getSession(sessionID)
	if err != nil {
		return core.CourtPosition{}, err
	}
	return sess.Snap(slot, pos)
}

// RotateResult carries the slot assignment after a rotation.
type RotateResult struct {
	Rotation core.RotationMap   `json:"rotation"`
	States   []core.PlayerState `json:"states"`
}

// Rotate advances the session one clockwise rotation.
func (s *Service) Rotate(sessionID string) (RotateResult, error) {
	operation := "rotate"
	s.count(operation)

	sess, err := s.getSession(sessionID)
	if err != nil {
		return RotateResult{}, err
	}
	rm := sess.Rotate()
	s.recordSnapshot(sess)
	s.writeLog(operation, fmt.Sprintf("session %s rotated", sessionID), "info")
	return RotateResult{Rotation: rm, States: sess.States()}, nil
}

// SetServer marks the serving slot for a session.
func (s *Service) SetServer(sessionID string, slot core.Slot) error {
	operation := "setServer"
	s.count(operation)

	sess, err := s.getSession(sessionID)
	if err != nil {
		return err
	}
	if err := sess.SetServer(slot); err != nil {
		return err
	}
	s.recordSnapshot(sess)
	return nil
}

// HistoryResult reports an undo/redo outcome. Applied is false when the
// history in that direction was empty.
type HistoryResult struct {
	Applied  bool                 `json:"applied"`
	Feedback session.MoveFeedback `json:"feedback"`
}

// Undo reverts the session's most recent edit.
func (s *Service) Undo(sessionID string) (HistoryResult, error) {
	s.count("undo")

	sess, err := s.getSession(sessionID)
	if err != nil {
		return HistoryResult{}, err
	}
	fb, ok := sess.Undo()
	if ok {
		s.recordSnapshot(sess)
	}
	return HistoryResult{Applied: ok, Feedback: fb}, nil
}

// Redo reapplies the session's most recently undone edit.
func (s *Service) Redo(sessionID string) (HistoryResult, error) {
	s.count("redo")

	sess, err := s.getSession(sessionID)
	if err != nil {
		return HistoryResult{}, err
	}
	fb, ok := sess.Redo()
	if ok {
		s.recordSnapshot(sess)
	}
	return HistoryResult{Applied: ok, Feedback: fb}, nil
}

func (s *Service) recordSnapshot(sess *session.Session) {
	if s.deps.Pipeline == nil {
		return
	}
	s.deps.Pipeline.EnqueueSnapshot(sess.Snapshot())
}

// SaveFormationRequest saves either an inline formation or a session's
// live state, optionally under a new name.
type SaveFormationRequest struct {
	SessionID string          `json:"sessionId,omitempty"`
	Formation *core.Formation `json:"formation,omitempty"`
	Name      string          `json:"name,omitempty"`
}

// SaveFormation persists a formation and returns it with its stored id.
func (s *Service) SaveFormation(req SaveFormationRequest) (core.Formation, error) {
	operation := "saveFormation"
	s.count(operation)

	if s.deps.Backend == nil {
		return core.Formation{}, fmt.Errorf("no storage backend configured")
	}

	var f core.Formation
	switch {
	case req.SessionID != "":
		sess, err := s.getSession(req.SessionID)
		if err != nil {
			return core.Formation{}, err
		}
		f = sess.Formation()
	case req.Formation != nil:
		f = *req.Formation
	default:
		return core.Formation{}, fmt.Errorf("request names no formation")
	}
	if req.Name != "" {
		f.Name = req.Name
	}

	// The operation log is flushed first so the exported stream covers
	// everything that led up to this save.
	if s.deps.LogManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.deps.LogManager.Flush(ctx); err != nil {
			s.writeLog(operation, fmt.Sprintf("log flush: %v", err), "warn")
		}
		cancel()
	}

	if err := s.deps.Backend.SaveFormation(&f); err != nil {
		s.writeLog(operation, fmt.Sprintf("saving %q: %v", f.Name, err), "error")
		return core.Formation{}, err
	}
	s.writeLog(operation, fmt.Sprintf("formation %q saved as #%d", f.Name, f.ID), "info")
	return f, nil
}

// LoadFormation fetches a stored formation by name.
func (s *Service) LoadFormation(name string) (core.Formation, error) {
	s.count("loadFormation")

	if s.deps.Backend == nil {
		return core.Formation{}, fmt.Errorf("no storage backend configured")
	}
	f, err := s.deps.Backend.LoadFormation(name)
	if err != nil {
		return core.Formation{}, err
	}
	return *f, nil
}

// ListFormations returns all stored formations sorted by name.
func (s *Service) ListFormations() ([]core.Formation, error) {
	s.count("listFormations")

	if s.deps.Backend == nil {
		return nil, fmt.Errorf("no storage backend configured")
	}
	return s.deps.Backend.ListFormations()
}

// DeleteFormation removes a stored formation by name.
func (s *Service) DeleteFormation(name string) error {
	operation := "deleteFormation"
	s.count(operation)

	if s.deps.Backend == nil {
		return fmt.Errorf("no storage backend configured")
	}
	if err := s.deps.Backend.DeleteFormation(name); err != nil {
		return err
	}
	s.writeLog(operation, fmt.Sprintf("formation %q deleted", name), "info")
	return nil
}

// ExportRequest names the formation to encode: a live session or a stored
// name. Publish additionally pushes the code to the configured hub.
type ExportRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name,omitempty"`
	Publish   bool   `json:"publish,omitempty"`
}

// ExportResponse carries the share code. Published reports whether the
// hub accepted it; a hub failure is logged, not fatal.
type ExportResponse struct {
	Code      string `json:"code"`
	Published bool   `json:"published,omitempty"`
}

// ExportShareCode encodes a formation as a share code.
func (s *Service) ExportShareCode(req ExportRequest) (ExportResponse, error) {
	operation := "exportShareCode"
	s.count(operation)

	var f core.Formation
	switch {
	case req.SessionID != "":
		sess, err := s.getSession(req.SessionID)
		if err != nil {
			return ExportResponse{}, err
		}
		f = sess.Formation()
	case req.Name != "":
		loaded, err := s.LoadFormation(req.Name)
		if err != nil {
			return ExportResponse{}, err
		}
		f = loaded
	default:
		return ExportResponse{}, fmt.Errorf("request names no formation")
	}

	code, err := share.Encode(f)
	if err != nil {
		s.writeLog(operation, fmt.Sprintf("encoding %q: %v", f.Name, err), "error")
		return ExportResponse{}, err
	}

	resp := ExportResponse{Code: code}
	if req.Publish {
		if s.deps.Hub == nil {
			s.writeLog(operation, "publish requested but no hub configured", "warn")
		} else if err := s.deps.Hub.PublishCode(code, f); err != nil {
			s.writeLog(operation, fmt.Sprintf("publishing %q: %v", f.Name, err), "error")
		} else {
			resp.Published = true
		}
	}
	s.writeLog(operation, fmt.Sprintf("formation %q encoded as %s", f.Name, util.Truncate(code, 24)), "info")
	return resp, nil
}

// ImportRequest decodes a share code, optionally saving the formation
// and/or opening a session on it.
type ImportRequest struct {
	Code          string `json:"code"`
	Save          bool   `json:"save,omitempty"`
	CreateSession bool   `json:"createSession,omitempty"`
}

// ImportResponse carries the decoded formation and, when requested, the
// opened session id.
type ImportResponse struct {
	Formation core.Formation `json:"formation"`
	SessionID string         `json:"sessionId,omitempty"`
}

// ImportShareCode decodes and validates a share code.
func (s *Service) ImportShareCode(req ImportRequest) (ImportResponse, error) {
	operation := "importShareCode"
	s.count(operation)

	f, err := share.Decode(req.Code)
	if err != nil {
		s.writeLog(operation, fmt.Sprintf("decode %s: %v", util.Truncate(req.Code, 24), err), "warn")
		return ImportResponse{}, err
	}

	if req.Save {
		if s.deps.Backend == nil {
			return ImportResponse{}, fmt.Errorf("no storage backend configured")
		}
		if err := s.deps.Backend.SaveFormation(&f); err != nil {
			return ImportResponse{}, err
		}
	}

	resp := ImportResponse{Formation: f}
	if req.CreateSession {
		created, err := s.CreateSession(CreateSessionRequest{Formation: &f})
		if err != nil {
			return ImportResponse{}, err
		}
		resp.SessionID = created.SessionID
	}
	return resp, nil
}

// MetricsReport aggregates calculator counters across all live sessions.
type MetricsReport struct {
	Sessions   int                           `json:"sessions"`
	Aggregate  core.EngineMetrics            `json:"aggregate"`
	HitRate    float64                       `json:"hitRate"`
	PerSession map[string]core.EngineMetrics `json:"perSession,omitempty"`
	Operations map[string]int                `json:"operations,omitempty"`
}

// EngineMetrics reports engine counters for every live session plus the
// aggregate. The aggregate is also forwarded to Influx when configured.
func (s *Service) EngineMetrics() MetricsReport {
	s.count("engineMetrics")

	sessions := s.deps.Sessions.All()
	report := MetricsReport{
		Sessions:   len(sessions),
		PerSession: make(map[string]core.EngineMetrics, len(sessions)),
		Operations: s.Counters(),
	}

	var computed uint64
	var weighted int64
	for _, sess := range sessions {
		m := sess.Metrics()
		report.PerSession[sess.ID] = m
		report.Aggregate.TotalCalculations += m.TotalCalculations
		report.Aggregate.CacheHits += m.CacheHits
		report.Aggregate.IncrementalUpdates += m.IncrementalUpdates
		report.Aggregate.FullRecalculations += m.FullRecalculations

		c := m.IncrementalUpdates + m.FullRecalculations
		computed += c
		weighted += int64(c) * m.AverageCalculation.Nanoseconds()
	}
	if computed > 0 {
		report.Aggregate.AverageCalculation = time.Duration(weighted / int64(computed))
	}
	report.HitRate = report.Aggregate.HitRate()

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WriteEngineMetrics(context.Background(), "aggregate", report.Aggregate); err != nil {
			s.writeLog("engineMetrics", fmt.Sprintf("influx write: %v", err), "warn")
		}
	}
	return report
}

// RegisterCommands wires the session operations into a dispatcher under
// the command names the WebSocket feed uses.
func (s *Service) RegisterCommands(d *dispatcher.Dispatcher) {
	d.Register("move", s.cmdMove, dispatcher.Logged())
	d.Register("validate", s.cmdValidate)
	d.Register("bounds", s.cmdBounds)
	d.Register("snap", s.cmdSnap)
	d.Register("rotate", s.cmdRotate)
	d.Register("undo", s.cmdUndo)
	d.Register("redo", s.cmdRedo)
	d.Register("set_server", s.cmdSetServer)
}

type movePayload struct {
	Slot     core.Slot          `json:"slot"`
	Position core.CourtPosition `json:"position"`
}

func (s *Service) cmdMove(e dispatcher.Event) (any, error) {
	var p movePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("bad move payload: %w", err)
	}
	return s.ApplyMove(e.SessionID, p.Slot, p.Position)
}

func (s *Service) cmdValidate(e dispatcher.Event) (any, error) {
	return s.ValidateLineup(e.SessionID)
}

func (s *Service) cmdBounds(e dispatcher.Event) (any, error) {
	var p struct {
		Slot core.Slot `json:"slot"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("bad bounds payload: %w", err)
	}
	return s.PlayerBounds(e.SessionID, p.Slot)
}

func (s *Service) cmdSnap(e dispatcher.Event) (any, error) {
	var p movePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("bad snap payload: %w", err)
	}
	return s.SnapPosition(e.SessionID, p.Slot, p.Position)
}

func (s *Service) cmdRotate(e dispatcher.Event) (any, error) {
	return s.Rotate(e.SessionID)
}

func (s *Service) cmdUndo(e dispatcher.Event) (any, error) {
	return s.Undo(e.SessionID)
}

func (s *Service) cmdRedo(e dispatcher.Event) (any, error) {
	return s.Redo(e.SessionID)
}

func (s *Service) cmdSetServer(e dispatcher.Event) (any, error) {
	var p struct {
		Slot core.Slot `json:"slot"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("bad set_server payload: %w", err)
	}
	if err := s.SetServer(e.SessionID, p.Slot); err != nil {
		return nil, err
	}
	return "ok", nil
}
