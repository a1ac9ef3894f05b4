package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/events"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/metrics"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reasons carried by call:ended
const (
	EndReasonDefault      = "ended"
	EndReasonDisconnected = "disconnected"
)

// RelayKind names the three pass-through signaling events
type RelayKind string

const (
	RelayOffer  RelayKind = "call:offer"
	RelayAnswer RelayKind = "call:answer"
	RelayICE    RelayKind = "call:ice"
)

// InitiateCallRequest is the call:initiate payload
type InitiateCallRequest struct {
	ExchangeID   string `json:"exchangeId" validate:"required"`
	TargetUserID string `json:"targetUserId" validate:"required"`
}

// CallRequest is the call:accept and call:decline payload
type CallRequest struct {
	CallID string `json:"callId" validate:"required"`
}

// EndCallRequest is the call:end payload
type EndCallRequest struct {
	CallID string `json:"callId" validate:"required"`
	Reason string `json:"reason"`
}

// RelayRequest is the call:offer, call:answer and call:ice payload
type RelayRequest struct {
	CallID       string          `json:"callId" validate:"required"`
	TargetUserID string          `json:"targetUserId" validate:"required"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// IncomingCall is pushed to the callee
type IncomingCall struct {
	CallID     string             `json:"callId"`
	ExchangeID string             `json:"exchangeId"`
	Caller     models.UserSummary `json:"caller"`
}

// CallPeer identifies the party that answered or declined
type CallPeer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CallAnswered is the call:accepted payload
type CallAnswered struct {
	CallID string   `json:"callId"`
	Callee CallPeer `json:"callee"`
}

// CallDeclined is the call:declined payload. Peer is whoever turned the call
// down, which is the caller when a ringing call is cancelled.
type CallDeclined struct {
	CallID string   `json:"callId"`
	Peer   CallPeer `json:"peer"`
}

// CallEnded is the call:ended payload
type CallEnded struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// SDPRelay is forwarded for offers and answers; sdp is the sender's bytes untouched
type SDPRelay struct {
	CallID     string          `json:"callId"`
	SDP        json.RawMessage `json:"sdp"`
	FromUserID string          `json:"fromUserId"`
}

// ICERelay is forwarded for trickled candidates
type ICERelay struct {
	CallID     string          `json:"callId"`
	Candidate  json.RawMessage `json:"candidate"`
	FromUserID string          `json:"fromUserId"`
}

// CallStatusEvent is published on every persisted transition
type CallStatusEvent struct {
	CallID      string            `json:"callId"`
	ExchangeID  string            `json:"exchangeId"`
	CallerID    string            `json:"callerId"`
	CalleeID    string            `json:"calleeId"`
	Status      models.CallStatus `json:"status"`
	DurationSec int64             `json:"durationSec,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// CallService runs the signaling state machine:
//
//	initiated -> in_progress -> ended
//	initiated -> failed
//
// Every transition is persisted before anything is emitted.
type CallService struct {
	exchanges repository.ExchangeRepository
	calls     repository.CallRepository
	emitter   Emitter
	publisher events.Publisher
	locks     *KeyedMutex
	now       func() time.Time
	log       *logger.Logger
	durations metric.Int64Histogram
}

// NewCallService creates the signaling service
func NewCallService(
	exchanges repository.ExchangeRepository,
	calls repository.CallRepository,
	emitter Emitter,
	publisher events.Publisher,
	log *logger.Logger,
) *CallService {
	durations, err := otel.Meter("talenttrade/backend/internal/service").Int64Histogram(
		"call.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of ended calls"),
	)
	if err != nil {
		log.LogError(err, "call duration histogram unavailable")
	}
	return &CallService{
		exchanges: exchanges,
		calls:     calls,
		emitter:   emitter,
		publisher: publisher,
		locks:     NewKeyedMutex(),
		now:       time.Now,
		log:       log,
		durations: durations,
	}
}

// Get returns a session visible to userID
func (s *CallService) Get(ctx context.Context, userID, callID string) (*models.CallSession, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParty(userID) {
		return nil, apperrors.AccessDenied("Access denied")
	}
	return call, nil
}

// Initiate creates a session in initiated and rings the callee.
// The caller is acknowledged by the transport with the returned session id.
func (s *CallService) Initiate(ctx context.Context, caller *models.User, req InitiateCallRequest) (*models.CallSession, error) {
	ctx, span := tracer.Start(ctx, "call.initiate")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}

	exchange, err := s.exchanges.GetByID(ctx, req.ExchangeID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Persistence("Failed to initiate call", err)
	}
	if err != nil || !exchange.IsActive() {
		return nil, apperrors.StateConflict("Invalid exchange")
	}
	if !exchange.HasParty(caller.ID) {
		return nil, apperrors.AccessDenied("Access denied")
	}
	if other, _ := exchange.OtherParty(caller.ID); other != req.TargetUserID || other == caller.ID {
		return nil, apperrors.AccessDenied("Target is not part of this exchange")
	}

	call := &models.CallSession{
		ExchangeID: exchange.ID,
		CallerID:   caller.ID,
		CalleeID:   req.TargetUserID,
		StartedAt:  s.now(),
		Status:     models.CallInitiated,
	}
	if err := s.calls.Create(ctx, call); err != nil {
		return nil, apperrors.Persistence("Failed to initiate call", err)
	}
	span.SetAttributes(attribute.String("call.id", call.ID))
	s.transitioned(ctx, call, "")

	s.emitter.EmitToRoom(UserRoom(call.CalleeID), "call:incoming", IncomingCall{
		CallID:     call.ID,
		ExchangeID: exchange.ID,
		Caller:     caller.Summary(),
	}, "")

	return call, nil
}

// Accept moves an initiated session to in_progress and tells the caller
func (s *CallService) Accept(ctx context.Context, callee *models.User, req CallRequest) error {
	ctx, span := tracer.Start(ctx, "call.accept")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return err
	}

	unlock := s.locks.Lock(req.CallID)
	defer unlock()

	call, err := s.load(ctx, req.CallID)
	if err != nil {
		return err
	}
	if call.CalleeID != callee.ID {
		return apperrors.AccessDenied("Access denied")
	}

	applied, err := s.calls.Transition(ctx, call.ID,
		[]models.CallStatus{models.CallInitiated},
		models.CallUpdate{Status: models.CallInProgress})
	if err != nil {
		return s.transitionErr("Failed to accept call", err)
	}
	if !applied {
		return apperrors.StateConflict("Call is no longer ringing")
	}
	call.Status = models.CallInProgress
	s.transitioned(ctx, call, "")

	s.emitter.EmitToRoom(UserRoom(call.CallerID), "call:accepted", CallAnswered{
		CallID: call.ID,
		Callee: CallPeer{ID: callee.ID, Name: callee.Name},
	}, "")
	return nil
}

// Decline marks the session failed and tells the other party.
// The write is unconditional: declining an ended session overwrites it with failed.
func (s *CallService) Decline(ctx context.Context, user *models.User, req CallRequest) error {
	ctx, span := tracer.Start(ctx, "call.decline")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return err
	}

	unlock := s.locks.Lock(req.CallID)
	defer unlock()

	call, err := s.load(ctx, req.CallID)
	if err != nil {
		return err
	}
	if !call.HasParty(user.ID) {
		return apperrors.AccessDenied("Access denied")
	}

	endedAt := s.now()
	if _, err := s.calls.Transition(ctx, call.ID, nil, models.CallUpdate{
		Status:  models.CallFailed,
		EndedAt: &endedAt,
	}); err != nil {
		return s.transitionErr("Failed to decline call", err)
	}
	call.Status = models.CallFailed
	call.EndedAt = &endedAt
	s.transitioned(ctx, call, "declined")

	s.emitter.EmitToRoom(UserRoom(call.OtherParty(user.ID)), "call:declined", CallDeclined{
		CallID: call.ID,
		Peer:   CallPeer{ID: user.ID, Name: user.Name},
	}, "")
	return nil
}

// End hangs up an in-progress session. Unknown sessions and sessions in any
// other state are dropped silently.
func (s *CallService) End(ctx context.Context, user *models.User, req EndCallRequest) error {
	ctx, span := tracer.Start(ctx, "call.end")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return err
	}
	reason := req.Reason
	if reason == "" {
		reason = EndReasonDefault
	}

	unlock := s.locks.Lock(req.CallID)
	defer unlock()

	call, err := s.calls.GetByID(ctx, req.CallID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Persistence("Failed to end call", err)
	}
	if !call.HasParty(user.ID) {
		return apperrors.AccessDenied("Access denied")
	}
	if call.Status != models.CallInProgress {
		return nil
	}

	_, err = s.finish(ctx, call, user.ID, models.CallEnded, reason)
	return err
}

// EndForDisconnect settles every active session of userID after its connection is gone:
// in_progress sessions end, ringing ones fail. The other party gets call:ended either way.
func (s *CallService) EndForDisconnect(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "call.end_for_disconnect")
	defer span.End()

	calls, err := s.calls.ListActiveByParty(ctx, userID)
	if err != nil {
		return apperrors.Persistence("Failed to load active calls", err)
	}

	var errs []error
	for i := range calls {
		if err := s.settle(ctx, &calls[i], userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *CallService) settle(ctx context.Context, call *models.CallSession, userID string) error {
	unlock := s.locks.Lock(call.ID)
	defer unlock()

	// the listed status may be stale by the time the lock is held
	current, err := s.calls.GetByID(ctx, call.ID)
	if err != nil {
		return s.transitionErr("Failed to end call", err)
	}
	if !current.Status.Active() {
		return nil
	}
	call = current

	to := models.CallEnded
	if call.Status == models.CallInitiated {
		to = models.CallFailed
	}
	_, err = s.finish(ctx, call, userID, to, EndReasonDisconnected)
	return err
}

// finish compare-and-sets call from its current status to a terminal one. Caller holds the call lock.
func (s *CallService) finish(ctx context.Context, call *models.CallSession, byUser string, to models.CallStatus, reason string) (bool, error) {
	endedAt := s.now()
	update := models.CallUpdate{Status: to, EndedAt: &endedAt}
	var duration int64
	if to == models.CallEnded {
		duration = call.DurationUntil(endedAt)
		update.DurationSec = &duration
	}

	applied, err := s.calls.Transition(ctx, call.ID, []models.CallStatus{call.Status}, update)
	if err != nil {
		return false, s.transitionErr("Failed to end call", err)
	}
	if !applied {
		return false, nil
	}

	call.Status = to
	call.EndedAt = &endedAt
	call.DurationSec = duration
	s.transitioned(ctx, call, reason)
	if to == models.CallEnded && s.durations != nil {
		s.durations.Record(ctx, duration)
	}

	s.emitter.EmitToRoom(UserRoom(call.OtherParty(byUser)), "call:ended", CallEnded{
		CallID: call.ID,
		Reason: reason,
	}, "")
	return true, nil
}

// Relay forwards offer, answer or ICE payloads to the target's personal room.
// Payloads are shape-checked and then forwarded byte-for-byte; no session state is consulted.
func (s *CallService) Relay(ctx context.Context, from *models.User, kind RelayKind, req RelayRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	var payload any
	switch kind {
	case RelayOffer, RelayAnswer:
		want := webrtc.SDPTypeOffer
		if kind == RelayAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if err := checkSessionDescription(req.SDP, want); err != nil {
			return err
		}
		payload = SDPRelay{CallID: req.CallID, SDP: req.SDP, FromUserID: from.ID}
	case RelayICE:
		if err := checkCandidate(req.Candidate); err != nil {
			return err
		}
		payload = ICERelay{CallID: req.CallID, Candidate: req.Candidate, FromUserID: from.ID}
	default:
		return apperrors.Validation("Unknown signaling event")
	}

	s.emitter.EmitToRoom(UserRoom(req.TargetUserID), string(kind), payload, "")
	return nil
}

func checkSessionDescription(raw json.RawMessage, want webrtc.SDPType) error {
	if len(raw) == 0 {
		return apperrors.Validation("sdp is required")
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return apperrors.Validation("sdp is not a session description")
	}
	if desc.Type != want {
		return apperrors.Validation("sdp type must be " + want.String())
	}
	if _, err := desc.Unmarshal(); err != nil {
		return apperrors.Validation("sdp body does not parse")
	}
	return nil
}

func checkCandidate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return apperrors.Validation("candidate is required")
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return apperrors.Validation("candidate is not an ICE candidate")
	}
	// an empty candidate string marks end-of-candidates
	if init.Candidate != "" && !strings.HasPrefix(init.Candidate, "candidate:") {
		return apperrors.Validation("candidate is not an ICE candidate")
	}
	return nil
}

func (s *CallService) load(ctx context.Context, callID string) (*models.CallSession, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Call not found")
		}
		return nil, apperrors.Persistence("Failed to load call", err)
	}
	return call, nil
}

func (s *CallService) transitionErr(msg string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("Call not found")
	}
	return apperrors.Persistence(msg, err)
}

func (s *CallService) transitioned(ctx context.Context, call *models.CallSession, reason string) {
	metrics.CallTransitions.WithLabelValues(string(call.Status)).Inc()
	s.log.Debug("call transition", "call_id", call.ID, "status", string(call.Status), "reason", reason)
	publish(ctx, s.publisher, s.log, events.SubjectCallPrefix+string(call.Status), CallStatusEvent{
		CallID:      call.ID,
		ExchangeID:  call.ExchangeID,
		CallerID:    call.CallerID,
		CalleeID:    call.CalleeID,
		Status:      call.Status,
		DurationSec: call.DurationSec,
		Reason:      reason,
	})
}
