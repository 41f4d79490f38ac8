// internal/session/session.go
// Package session owns live lineup-editing sessions. Each session binds a
// formation to one rules engine and one constraint calculator and
// serializes every engine call behind its mutex, so the engines themselves
// stay free of locking.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/courtkit/rotation/internal/channel"
	"github.com/courtkit/rotation/internal/constraint"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/pkg/core"
	"github.com/courtkit/rotation/pkg/streaming"
)

// feedBuffer is the per-subscriber event buffer. A subscriber that falls
// further behind than this loses events instead of stalling the session.
const feedBuffer = 64

// Feed is the read side of a session's event stream.
type Feed = channel.Receiver[streaming.Envelope]

// moveRecord is one position edit on the undo/redo stacks.
type moveRecord struct {
	Slot core.Slot
	From core.CourtPosition
	To   core.CourtPosition
}

// MoveFeedback is everything the client needs after one position edit:
// the lineup verdict, the legal rectangle for the moved player, and a
// proposed correction when the player stands somewhere illegal.
type MoveFeedback struct {
	Result  core.ValidationResult `json:"result"`
	Bounds  *core.PositionBounds  `json:"bounds,omitempty"`
	Snapped *core.CourtPosition   `json:"snapped,omitempty"`
}

// Session is one live editing session over a formation.
type Session struct {
	ID string

	mu         sync.Mutex
	formation  core.Formation
	rotation   core.RotationMap
	serverSlot core.Slot
	positions  map[core.Slot]core.CourtPosition

	engine *rules.Engine
	calc   *constraint.Calculator

	undo         []moveRecord
	redo         []moveRecord
	historyDepth int

	seq uint64

	subs    map[uint64]channel.Channel[streaming.Envelope]
	nextSub uint64
	closed  bool

	createdAt time.Time
}

func newSession(id string, f core.Formation, cfg rules.Config, historyDepth int) (*Session, error) {
	if len(f.Players) == 0 {
		return nil, fmt.Errorf("formation %q has no players", f.Name)
	}
	calc, err := constraint.New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:           id,
		formation:    f,
		rotation:     f.RotationMap(),
		serverSlot:   f.ServerSlot,
		positions:    make(map[core.Slot]core.CourtPosition, core.NumSlots),
		engine:       rules.New(cfg),
		calc:         calc,
		historyDepth: historyDepth,
		subs:         make(map[uint64]channel.Channel[streaming.Envelope]),
		createdAt:    time.Now(),
	}
	if s.serverSlot < 1 || s.serverSlot > core.NumSlots {
		s.serverSlot = core.SlotRightBack
	}
	for _, p := range f.Players {
		if p.Slot < 1 || p.Slot > core.NumSlots {
			return nil, fmt.Errorf("formation %q: player %q has invalid slot %d", f.Name, p.PlayerID, p.Slot)
		}
		if _, taken := s.positions[p.Slot]; taken {
			return nil, fmt.Errorf("formation %q: slot %d assigned twice", f.Name, p.Slot)
		}
		s.positions[p.Slot] = core.CourtPosition{X: p.X, Y: p.Y}
	}
	return s, nil
}

// CreatedAt reports when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// States returns the current lineup in slot order. The serving slot is
// flagged on its entry.
func (s *Session) States() []core.PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statesLocked()
}

func (s *Session) statesLocked() []core.PlayerState {
	states := make([]core.PlayerState, 0, core.NumSlots)
	for slot := core.Slot(1); slot <= core.NumSlots; slot++ {
		pos, ok := s.positions[slot]
		if !ok {
			continue
		}
		states = append(states, core.PlayerState{
			ID:       s.rotation[slot],
			Slot:     slot,
			X:        pos.X,
			Y:        pos.Y,
			IsServer: slot == s.serverSlot,
		})
	}
	return states
}

// ApplyMove places the player in the given slot at pos and returns the
// resulting drag feedback. Illegal placements are still applied so the
// client can show the breach instead of fighting the pointer; the snapped
// field carries the proposed correction. The edit lands on the undo stack
// and clears the redo stack.
func (s *Session) ApplyMove(slot core.Slot, pos core.CourtPosition) (MoveFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.positions[slot]
	if !ok {
		return MoveFeedback{}, fmt.Errorf("slot %d is unoccupied", slot)
	}

	s.positions[slot] = pos
	s.pushUndoLocked(moveRecord{Slot: slot, From: prev, To: pos})
	s.redo = s.redo[:0]

	fb := s.feedbackLocked(slot)
	s.publishLocked(streaming.TypeMoveApplied, streaming.MovePayload{
		SessionID: s.ID,
		Slot:      slot,
		Position:  pos,
		Result:    &fb.Result,
		Bounds:    fb.Bounds,
		Snapped:   fb.Snapped,
	})
	return fb, nil
}

// feedbackLocked computes the feedback bundle for the slot's current
// position, honoring the engine feature toggles.
func (s *Session) feedbackLocked(slot core.Slot) MoveFeedback {
	states := s.statesLocked()
	fb := MoveFeedback{Result: s.engine.ValidateLineup(states)}

	subject, others := splitStates(states, slot)
	cfg := s.engine.Config()
	if cfg.BoundsEnabled {
		b := s.calc.Bounds(subject, others)
		fb.Bounds = &b
	}
	if cfg.SnapEnabled && !s.engine.IsValidPosition(subject, others) {
		p := s.engine.SnapToValid(subject, others)
		fb.Snapped = &p
	}
	return fb
}

// Validate checks the whole current lineup and returns both the verdict
// and a telemetry event describing the check.
func (s *Session) Validate() (core.ValidationResult, core.ValidationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := s.engine.ValidateLineup(s.statesLocked())
	ev := core.ValidationEvent{
		SessionID:      s.ID,
		Time:           time.Now(),
		IsLegal:        res.IsLegal,
		ViolationCount: len(res.Violations),
		Violations:     res.Violations,
		Duration:       time.Since(start),
	}
	s.publishLocked(streaming.TypeValidation, streaming.ValidationPayload{
		SessionID: s.ID,
		Result:    res,
	})
	return res, ev
}

// Bounds returns the legal rectangle for the player in the given slot at
// the current lineup.
func (s *Session) Bounds(slot core.Slot) (core.PositionBounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := s.statesLocked()
	subject, others := splitStates(states, slot)
	if subject.Slot != slot {
		return core.PositionBounds{}, fmt.Errorf("slot %d is unoccupied", slot)
	}
	return s.calc.Bounds(subject, others), nil
}

// Snap returns the nearest legal position for a candidate point without
// applying it.
func (s *Session) Snap(slot core.Slot, pos core.CourtPosition) (core.CourtPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := s.statesLocked()
	subject, others := splitStates(states, slot)
	if subject.Slot != slot {
		return core.CourtPosition{}, fmt.Errorf("slot %d is unoccupied", slot)
	}
	subject.X, subject.Y = pos.X, pos.Y
	return s.engine.SnapToValid(subject, others), nil
}

// Rotate advances the roster one clockwise rotation: every player moves to
// the next lower slot and the old server drops to slot 6. Slot positions
// stay anchored; only the assignment cycles. Cached rectangles and the
// edit history refer to the outgoing arrangement, so both are cleared.
func (s *Session) Rotate() core.RotationMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotation = s.rotation.Rotated()
	s.calc.ClearCache()
	s.undo = s.undo[:0]
	s.redo = s.redo[:0]

	out := make(core.RotationMap, len(s.rotation))
	for slot, id := range s.rotation {
		out[slot] = id
	}
	s.publishLocked(streaming.TypeRotation, streaming.RotationPayload{
		SessionID:  s.ID,
		Rotation:   out,
		ServerSlot: s.serverSlot,
	})
	return out
}

// SetServer marks the serving slot. The service exemption changes which
// constraints bind, so cached rectangles are invalidated.
func (s *Session) SetServer(slot core.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 1 || slot > core.NumSlots {
		return fmt.Errorf("invalid slot %d", slot)
	}
	s.serverSlot = slot
	s.calc.ClearCache()
	s.publishLocked(streaming.TypeServiceChange, streaming.ServiceChangePayload{
		SessionID:  s.ID,
		ServerSlot: slot,
	})
	return nil
}

// Undo reverts the most recent edit. Reports false when the history is
// empty.
func (s *Session) Undo() (MoveFeedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.undo)
	if n == 0 {
		return MoveFeedback{}, false
	}
	rec := s.undo[n-1]
	s.undo = s.undo[:n-1]
	s.positions[rec.Slot] = rec.From
	s.redo = append(s.redo, rec)

	fb := s.feedbackLocked(rec.Slot)
	s.publishLocked(streaming.TypeUndoApplied, streaming.MovePayload{
		SessionID: s.ID,
		Slot:      rec.Slot,
		Position:  rec.From,
		Result:    &fb.Result,
		Bounds:    fb.Bounds,
		Snapped:   fb.Snapped,
	})
	return fb, true
}

// Redo reapplies the most recently undone edit. Reports false when there
// is nothing to redo.
func (s *Session) Redo() (MoveFeedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.redo)
	if n == 0 {
		return MoveFeedback{}, false
	}
	rec := s.redo[n-1]
	s.redo = s.redo[:n-1]
	s.positions[rec.Slot] = rec.To
	s.undo = append(s.undo, rec)

	fb := s.feedbackLocked(rec.Slot)
	s.publishLocked(streaming.TypeRedoApplied, streaming.MovePayload{
		SessionID: s.ID,
		Slot:      rec.Slot,
		Position:  rec.To,
		Result:    &fb.Result,
		Bounds:    fb.Bounds,
		Snapped:   fb.Snapped,
	})
	return fb, true
}

func (s *Session) pushUndoLocked(rec moveRecord) {
	s.undo = append(s.undo, rec)
	if s.historyDepth > 0 && len(s.undo) > s.historyDepth {
		s.undo = s.undo[1:]
	}
}

// Snapshot captures the current lineup for persistence. The sequence
// number increases by one per capture.
func (s *Session) Snapshot() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	states := s.statesLocked()
	res := s.engine.ValidateLineup(states)
	return core.Snapshot{
		SessionID:  s.ID,
		Seq:        s.seq,
		Time:       time.Now(),
		States:     states,
		IsLegal:    res.IsLegal,
		Violations: res.Violations,
	}
}

// Formation returns the session state as a savable formation: the live
// slot assignment and positions layered over the original roster entries.
func (s *Session) Formation() core.Formation {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.formation
	f.ServerSlot = s.serverSlot
	players := make([]core.FormationPlayer, 0, core.NumSlots)
	for slot := core.Slot(1); slot <= core.NumSlots; slot++ {
		id, ok := s.rotation[slot]
		if !ok {
			continue
		}
		entry := core.FormationPlayer{PlayerID: id, Slot: slot}
		for _, p := range s.formation.Players {
			if p.PlayerID == id {
				entry.Name = p.Name
				entry.Role = p.Role
				entry.Customized = p.Customized
				break
			}
		}
		if pos, ok := s.positions[slot]; ok {
			entry.X = pos.X
			entry.Y = pos.Y
		}
		players = append(players, entry)
	}
	f.Players = players
	return f
}

// Metrics reports the constraint calculator's counters.
func (s *Session) Metrics() core.EngineMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Metrics()
}

// Subscribe attaches a live event feed and returns its id for release.
// Feeds on a closed session are returned already closed.
func (s *Session) Subscribe() (uint64, Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := channel.New[streaming.Envelope](feedBuffer)
	if s.closed {
		ch.Close()
		return 0, ch
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe detaches and closes one feed.
func (s *Session) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		ch.Close()
	}
}

// publishLocked fans an event out to every subscriber. A subscriber with
// a full buffer loses the event rather than stalling the session.
func (s *Session) publishLocked(msgType string, payload any) {
	if len(s.subs) == 0 {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	for _, ch := range s.subs {
		ch.TrySend(env)
	}
}

// Close ends the session's feed. Subscribers see their channel close;
// later calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		ch.Close()
	}
}

// splitStates separates the subject slot from the rest of the lineup.
func splitStates(states []core.PlayerState, slot core.Slot) (core.PlayerState, []core.PlayerState) {
	var subject core.PlayerState
	others := make([]core.PlayerState, 0, len(states))
	for _, st := range states {
		if st.Slot == slot {
			subject = st
			continue
		}
		others = append(others, st)
	}
	return subject, others
}
