package service

import (
	"context"

	"github.com/adwski/call-signaling/backend/call"
	"github.com/adwski/call-signaling/backend/model"
)

// mediaState tracks, per room, whose session description has already
// passed through and which candidates are parked waiting for it.
// Payloads are never inspected: either media substrate (raw peer-to-peer
// or a managed routing service) works against this relay unchanged.
type mediaState struct {
	descSent map[string]bool
	queued   map[string][]model.Event
}

func (s *Service) ensureMediaLocked(roomID string) *mediaState {
	ms, ok := s.rooms[roomID]
	if !ok {
		ms = &mediaState{
			descSent: make(map[string]bool),
			queued:   make(map[string][]model.Event),
		}
		s.rooms[roomID] = ms
	}
	return ms
}

// relayMedia forwards offers, answers and connectivity candidates
// between the two participants of a connecting or in-call room.
// Candidates that arrive before their sender's description are queued
// and flushed right after it, never dropped.
func (s *Service) relayMedia(ctx context.Context, userID string, ev model.Event) {
	s.mx.Lock()
	sess, tracked := s.sessions[userID]
	if !tracked || sess.Room != ev.Room {
		s.mx.Unlock()
		s.logger.Debug().
			Str("userID", userID).
			Str("roomID", ev.Room).
			Str("type", ev.Type).
			Msg("media event for untracked room dropped")
		return
	}
	if st := sess.State(); st != call.StateConnecting && st != call.StateInCall {
		s.mx.Unlock()
		s.logger.Debug().
			Str("userID", userID).
			Str("state", st).
			Msg("media event outside negotiation dropped")
		return
	}

	ev.DST = sess.Peer
	ms := s.ensureMediaLocked(ev.Room)

	var flush []model.Event
	switch ev.Type {
	case model.EventOffer, model.EventAnswer:
		ms.descSent[userID] = true
		flush = ms.queued[userID]
		delete(ms.queued, userID)
		if ev.Type == model.EventAnswer {
			// both ends hold a description now, negotiation is done
			sess.Fire(call.EvNegotiationComplete)
			if peerSess, found := s.sessions[sess.Peer]; found && peerSess.Room == ev.Room {
				peerSess.Fire(call.EvNegotiationComplete)
			}
		}
	case model.EventICECandidate:
		if !ms.descSent[userID] {
			ms.queued[userID] = append(ms.queued[userID], ev)
			s.mx.Unlock()
			return
		}
	}
	s.mx.Unlock()

	s.router.Route(ctx, ev)
	for _, cand := range flush {
		s.router.Route(ctx, cand)
	}
}
