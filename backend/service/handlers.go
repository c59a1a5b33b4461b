package service

import (
	"context"

	"github.com/adwski/call-signaling/backend/call"
	"github.com/adwski/call-signaling/backend/metrics"
	"github.com/adwski/call-signaling/backend/model"
	"github.com/adwski/call-signaling/backend/router"
)

// HandleEvent is the single typed-event dispatch point for one inbound
// message. SRC is re-assigned from the authenticated session before any
// handler sees the event.
func (s *Service) HandleEvent(ctx context.Context, userID string, ev model.Event) {
	ev.SRC = userID

	switch ev.Type {
	case model.EventInvite:
		s.invite(ctx, userID, ev)
	case model.EventAccept:
		s.accept(ctx, userID, ev)
	case model.EventReject:
		s.reject(ctx, userID, ev)
	case model.EventCancel:
		s.cancel(ctx, userID, ev)
	case model.EventEnd:
		s.end(ctx, userID, ev)
	case model.EventOffer, model.EventAnswer, model.EventICECandidate:
		s.relayMedia(ctx, userID, ev)
	default:
		s.logger.Debug().
			Str("type", ev.Type).
			Str("userID", userID).
			Msg("unknown event type dropped")
	}
}

func (s *Service) invite(ctx context.Context, userID string, ev model.Event) {
	calleeID := ev.DST
	if calleeID == "" || calleeID == userID {
		s.logger.Debug().Str("userID", userID).Msg("invite with unusable dst dropped")
		return
	}
	if ev.Mode != model.ModeVideo {
		ev.Mode = model.ModeAudio
	}
	ev.Room = model.RoomID(userID, calleeID)

	s.mx.Lock()
	if _, busy := s.sessions[userID]; busy {
		// caller already has an attempt in flight, duplicate invite
		s.mx.Unlock()
		s.logger.Debug().Str("userID", userID).Msg("invite from non-idle caller ignored")
		return
	}

	callerSess := call.NewCaller(userID, calleeID, ev.Room, ev.Mode)
	callerSess.Fire(call.EvInvite)

	if calleeSess, tracked := s.sessions[calleeID]; tracked && !calleeSess.Idle() {
		// busy-signal rule: callee state untouched, caller gets one
		// immediate reject and never leaves idle tracking
		callerSess.Fire(call.EvPeerBusy)
		s.mx.Unlock()
		s.metrics.Calls.WithLabelValues(metrics.OutcomeBusy).Inc()
		s.router.Route(ctx, model.Event{
			Type:   model.EventReject,
			Room:   ev.Room,
			SRC:    calleeID,
			DST:    userID,
			Reason: model.ReasonBusy,
		})
		return
	}

	s.sessions[userID] = callerSess

	// the callee side is tracked before delivery so an accept racing
	// straight back cannot arrive ahead of its own session
	var calleeSess *call.Session
	if _, online := s.presence.Lookup(calleeID); online {
		calleeSess = call.NewCallee(calleeID, userID, ev.Room, ev.Mode)
		calleeSess.Fire(call.EvInviteReceived)
		s.sessions[calleeID] = calleeSess
	}
	s.mx.Unlock()
	s.metrics.Calls.WithLabelValues(metrics.OutcomeInvited).Inc()

	switch s.router.Route(ctx, ev) {
	case router.Delivered:
		// both sides ringing
	case router.FallbackArmed:
		// the callee vanished between lookup and delivery, or was
		// never there; the caller keeps ringing against the armed
		// timeout
		s.dropCalleeSession(calleeID, calleeSess)
	case router.Dropped:
		// the callee connection died mid-delivery; resolve the
		// attempt right away instead of hanging the caller
		s.dropCalleeSession(calleeID, calleeSess)
		s.mx.Lock()
		callerSess.Fire(call.EvPeerOffline)
		delete(s.sessions, userID)
		s.mx.Unlock()
		s.metrics.Calls.WithLabelValues(metrics.OutcomeTimedOut).Inc()
		s.router.Route(ctx, model.Event{
			Type:   model.EventOfflineNotice,
			Room:   ev.Room,
			DST:    userID,
			Reason: model.ReasonOffline,
		})
	}
}

func (s *Service) dropCalleeSession(calleeID string, calleeSess *call.Session) {
	if calleeSess == nil {
		return
	}
	s.mx.Lock()
	if cur, found := s.sessions[calleeID]; found && cur == calleeSess {
		delete(s.sessions, calleeID)
	}
	s.mx.Unlock()
}

func (s *Service) accept(ctx context.Context, userID string, ev model.Event) {
	s.mx.Lock()
	sess, tracked := s.sessions[userID]
	if tracked && sess.Room != ev.Room {
		// accepting one room while engaged in another is stale traffic
		s.mx.Unlock()
		s.logger.Debug().Str("userID", userID).Str("roomID", ev.Room).Msg("stale accept dropped")
		return
	}

	if tracked && sess.Fire(call.EvLocalAccept) {
		callerID := sess.Peer
		if callerSess, found := s.sessions[callerID]; found && callerSess.Room == ev.Room {
			callerSess.Fire(call.EvPeerAccepted)
		}
		s.ensureMediaLocked(ev.Room)
		s.mx.Unlock()
		s.metrics.Calls.WithLabelValues(metrics.OutcomeAccepted).Inc()
		s.router.Route(ctx, model.Event{
			Type: model.EventAccept,
			Room: ev.Room,
			SRC:  userID,
			DST:  callerID,
		})
		return
	}
	s.mx.Unlock()

	// no ringing session: the callee may have come online through the
	// push action while the offline timeout was still armed; consuming
	// the attempt and the timeout firing are mutually exclusive
	att, pending := s.fallback.Consume(ev.Room)
	if !pending || att.Callee != userID {
		s.logger.Debug().Str("userID", userID).Str("roomID", ev.Room).Msg("accept without attempt dropped")
		return
	}

	s.mx.Lock()
	calleeSess := call.NewCallee(userID, att.Caller, att.Room, att.Mode)
	calleeSess.Fire(call.EvInviteReceived)
	calleeSess.Fire(call.EvLocalAccept)
	s.sessions[userID] = calleeSess
	if callerSess, found := s.sessions[att.Caller]; found && callerSess.Room == att.Room {
		callerSess.Fire(call.EvPeerAccepted)
	}
	s.ensureMediaLocked(att.Room)
	s.mx.Unlock()

	s.metrics.Calls.WithLabelValues(metrics.OutcomeAccepted).Inc()
	s.router.Route(ctx, model.Event{
		Type: model.EventAccept,
		Room: att.Room,
		SRC:  userID,
		DST:  att.Caller,
	})
}

func (s *Service) reject(ctx context.Context, userID string, ev model.Event) bool {
	if ev.Reason == "" {
		ev.Reason = model.ReasonRejected
	}

	var callerID string

	s.mx.Lock()
	sess, tracked := s.sessions[userID]
	if tracked && sess.Room == ev.Room && sess.Fire(call.EvLocalReject) {
		callerID = sess.Peer
		delete(s.sessions, userID)
		if callerSess, found := s.sessions[callerID]; found && callerSess.Room == ev.Room {
			callerSess.Fire(call.EvPeerRejected)
			if callerSess.Idle() {
				delete(s.sessions, callerID)
			}
		}
		delete(s.rooms, ev.Room)
		s.mx.Unlock()
	} else {
		s.mx.Unlock()
		att, pending := s.fallback.Consume(ev.Room)
		if !pending || att.Callee != userID {
			s.logger.Debug().Str("userID", userID).Str("roomID", ev.Room).Msg("reject without attempt dropped")
			return false
		}
		callerID = att.Caller
		s.mx.Lock()
		if callerSess, found := s.sessions[callerID]; found && callerSess.Room == ev.Room {
			callerSess.Fire(call.EvPeerRejected)
			if callerSess.Idle() {
				delete(s.sessions, callerID)
			}
		}
		s.mx.Unlock()
	}

	s.metrics.Calls.WithLabelValues(metrics.OutcomeRejected).Inc()
	s.router.Route(ctx, model.Event{
		Type:   model.EventReject,
		Room:   ev.Room,
		SRC:    userID,
		DST:    callerID,
		Reason: ev.Reason,
	})
	return true
}

func (s *Service) cancel(ctx context.Context, userID string, ev model.Event) {
	s.mx.Lock()
	sess, tracked := s.sessions[userID]
	if !tracked || sess.Room != ev.Room || !sess.Fire(call.EvLocalCancel) {
		s.mx.Unlock()
		s.logger.Debug().Str("userID", userID).Str("roomID", ev.Room).Msg("stale cancel dropped")
		return
	}
	calleeID := sess.Peer
	delete(s.sessions, userID)
	if calleeSess, found := s.sessions[calleeID]; found && calleeSess.Room == ev.Room {
		calleeSess.Fire(call.EvPeerCancelled)
		if calleeSess.Idle() {
			delete(s.sessions, calleeID)
		}
	}
	delete(s.rooms, ev.Room)
	s.mx.Unlock()

	// cancelling an offline invite also disarms its timeout
	s.fallback.Consume(ev.Room)

	s.metrics.Calls.WithLabelValues(metrics.OutcomeCancelled).Inc()
	s.router.Route(ctx, model.Event{
		Type: model.EventCancel,
		Room: ev.Room,
		SRC:  userID,
		DST:  calleeID,
	})
}

func (s *Service) end(ctx context.Context, userID string, ev model.Event) {
	s.mx.Lock()
	sess, tracked := s.sessions[userID]
	if !tracked || sess.Room != ev.Room || !sess.Fire(call.EvLocalEnd) {
		s.mx.Unlock()
		s.logger.Debug().Str("userID", userID).Str("roomID", ev.Room).Msg("stale end dropped")
		return
	}
	peerID := sess.Peer
	delete(s.sessions, userID)
	if peerSess, found := s.sessions[peerID]; found && peerSess.Room == ev.Room {
		peerSess.Fire(call.EvPeerEnded)
		if peerSess.Idle() {
			delete(s.sessions, peerID)
		}
	}
	delete(s.rooms, ev.Room)
	s.mx.Unlock()

	s.metrics.Calls.WithLabelValues(metrics.OutcomeEnded).Inc()
	s.router.Route(ctx, model.Event{
		Type: model.EventEnd,
		Room: ev.Room,
		SRC:  userID,
		DST:  peerID,
	})
}
