// Package service coordinates call signaling: it owns the per-user call
// sessions, dispatches typed events arriving over each connection's wire,
// relays media negotiation payloads and cleans up after disconnects.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/adwski/call-signaling/backend/call"
	"github.com/adwski/call-signaling/backend/fallback"
	"github.com/adwski/call-signaling/backend/metrics"
	"github.com/adwski/call-signaling/backend/model"
	"github.com/adwski/call-signaling/backend/presence"
	"github.com/adwski/call-signaling/backend/router"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownRoom    = errors.New("no call attempt tracked for room")
	ErrNotParticipant = errors.New("user is not a participant of this room")
)

type Service struct {
	logger   zerolog.Logger
	presence *presence.Registry
	router   *router.Router
	fallback *fallback.Dispatcher
	metrics  *metrics.Metrics

	mx *sync.Mutex
	// sessions holds only non-idle attempts, keyed by user id.
	// An absent entry means the user is idle, which is also the
	// busy-signal check.
	sessions map[string]*call.Session
	rooms    map[string]*mediaState
}

type Config struct {
	Logger   *zerolog.Logger
	Presence *presence.Registry
	Router   *router.Router
	Fallback *fallback.Dispatcher
	Metrics  *metrics.Metrics
}

func New(cfg Config) *Service {
	svc := &Service{
		logger:   cfg.Logger.With().Str("component", "service").Logger(),
		presence: cfg.Presence,
		router:   cfg.Router,
		fallback: cfg.Fallback,
		metrics:  cfg.Metrics,
		mx:       &sync.Mutex{},
		sessions: make(map[string]*call.Session),
		rooms:    make(map[string]*mediaState),
	}
	svc.fallback.SetExpiryHandler(svc.handleExpiredAttempt)
	return svc
}

// Connect registers the connection (last-connected-wins) and starts the
// worker draining its inbound wire sequentially, which preserves the
// per-connection ordering guarantee.
func (s *Service) Connect(ctx context.Context, userID string, connID uuid.UUID, wire model.Wire) {
	s.presence.Register(userID, connID, wire)
	go s.serve(ctx, userID, wire.RX)
	s.logger.Debug().
		Str("userID", userID).
		Str("connID", connID.String()).
		Msg("signaling session connected")
}

func (s *Service) serve(ctx context.Context, userID string, rx <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rx:
			if !ok {
				return
			}
			s.HandleEvent(ctx, userID, ev)
		}
	}
}

// Disconnect deregisters the connection and, if the registry entry was
// still ours, drives any outstanding call attempt for this user to its
// terminal state, notifying the peer when reachable.
func (s *Service) Disconnect(ctx context.Context, userID string, connID uuid.UUID) {
	if !s.presence.Unregister(userID, connID) {
		// stale disconnect, a newer connection owns the registration
		return
	}

	s.mx.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		s.mx.Unlock()
		return
	}
	delete(s.sessions, userID)
	delete(s.rooms, sess.Room)

	notice := model.Event{SRC: userID, DST: sess.Peer, Room: sess.Room}
	switch sess.State() {
	case call.StateOutgoingRinging:
		notice.Type = model.EventCancel
	case call.StateIncomingRinging:
		// ringing callee vanished, tell the caller the peer went offline
		notice.Type = model.EventOfflineNotice
		notice.Reason = model.ReasonOffline
	default:
		notice.Type = model.EventEnd
	}

	if peerSess, found := s.sessions[sess.Peer]; found && peerSess.Room == sess.Room {
		switch notice.Type {
		case model.EventCancel:
			peerSess.Fire(call.EvPeerCancelled)
		case model.EventOfflineNotice:
			peerSess.Fire(call.EvPeerOffline)
		default:
			peerSess.Fire(call.EvPeerEnded)
		}
		if peerSess.Idle() {
			delete(s.sessions, sess.Peer)
		}
	}
	s.mx.Unlock()

	// a caller dropping while an offline attempt is pending takes
	// the attempt with it
	s.fallback.Consume(sess.Room)

	s.logger.Debug().
		Str("userID", userID).
		Str("roomID", sess.Room).
		Str("state", sess.State()).
		Msg("call attempt cleaned up after disconnect")

	s.router.Route(ctx, notice)
}

// handleExpiredAttempt runs when the offline ring timeout fires: the
// caller gets exactly one offline notice and returns to idle.
func (s *Service) handleExpiredAttempt(att fallback.Attempt) {
	s.mx.Lock()
	if callerSess, ok := s.sessions[att.Caller]; ok && callerSess.Room == att.Room {
		callerSess.Fire(call.EvPeerOffline)
		if callerSess.Idle() {
			delete(s.sessions, att.Caller)
		}
	}
	s.mx.Unlock()

	s.metrics.Calls.WithLabelValues(metrics.OutcomeTimedOut).Inc()
	s.router.Route(context.Background(), model.Event{
		Type:   model.EventOfflineNotice,
		Room:   att.Room,
		DST:    att.Caller,
		Reason: model.ReasonOffline,
	})
}

// RejectViaREST routes a reject as if the callee had sent it over its
// signaling connection. Used by backgrounded clients reacting to a push
// action. The returned error reflects delivery only, not the call.
func (s *Service) RejectViaREST(ctx context.Context, roomID, callerID string) error {
	calleeID, ok := model.RoomPeer(roomID, callerID)
	if !ok {
		return ErrNotParticipant
	}
	if !s.reject(ctx, calleeID, model.Event{
		Type:   model.EventReject,
		Room:   roomID,
		DST:    callerID,
		Reason: model.ReasonRejected,
	}) {
		return ErrUnknownRoom
	}
	return nil
}

// SessionState exposes the tracked attempt state for a user,
// StateIdle when none is tracked.
func (s *Service) SessionState(userID string) string {
	s.mx.Lock()
	defer s.mx.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return call.StateIdle
	}
	return sess.State()
}
