// Package router delivers signaling events between live connections.
//
// Delivery is best-effort by design: once a call is ringing or connected,
// a transient delivery failure is never surfaced to the sender. An invite
// that cannot be delivered goes to the offline fallback dispatcher; every
// other undeliverable event is dropped silently because the other side
// reaches a terminal state on its own.
package router

import (
	"context"
	"time"

	"github.com/adwski/call-signaling/backend/model"
	"github.com/adwski/call-signaling/backend/presence"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

const defaultFwdTimeout = time.Second

// Outcome of one Route call.
type Outcome int

const (
	Dropped Outcome = iota
	Delivered
	FallbackArmed
)

// OfflineDispatcher handles invites whose target has no live connection.
type OfflineDispatcher interface {
	Dispatch(ctx context.Context, ev model.Event)
}

type Router struct {
	logger   zerolog.Logger
	presence *presence.Registry
	offline  OfflineDispatcher
}

func New(logger *zerolog.Logger, reg *presence.Registry, offline OfflineDispatcher) *Router {
	return &Router{
		logger:   logger.With().Str("component", "router").Logger(),
		presence: reg,
		offline:  offline,
	}
}

// Route resolves the destination connection and forwards the event.
func (r *Router) Route(ctx context.Context, ev model.Event) Outcome {
	logger := r.logger.With().
		Str("type", ev.Type).
		Str("src", ev.SRC).
		Str("dst", ev.DST).Logger()

	if logger.GetLevel() <= zerolog.TraceLevel {
		logger.Trace().Str("event", spew.Sdump(ev)).Msg("routing")
	}

	entry, ok := r.presence.Lookup(ev.DST)
	if ok {
		if send(ctx, ev, entry.Wire.TX, &logger) {
			return Delivered
		}
		logger.Debug().Msg("delivery to live connection failed")
		return Dropped
	}

	if ev.Type == model.EventInvite && r.offline != nil {
		r.offline.Dispatch(ctx, ev)
		return FallbackArmed
	}

	logger.Debug().Msg("cannot forward, dst not found")
	return Dropped
}

func send(ctx context.Context, ev model.Event, tx chan<- model.Event, logger *zerolog.Logger) bool {
	var sent bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
	case <-tCh.C:
		logger.Error().Msg("dead endpoint")
	case tx <- ev:
		logger.Debug().Msg("event forwarded")
		sent = true
	}
	tCh.Stop()
	return sent
}
