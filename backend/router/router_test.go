package router

import (
	"context"
	"testing"

	"github.com/adwski/call-signaling/backend/model"
	"github.com/adwski/call-signaling/backend/presence"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOffline struct {
	dispatched []model.Event
}

func (f *fakeOffline) Dispatch(_ context.Context, ev model.Event) {
	f.dispatched = append(f.dispatched, ev)
}

func newRouter() (*Router, *presence.Registry, *fakeOffline) {
	logger := zerolog.Nop()
	reg := presence.NewRegistry(&logger)
	offline := &fakeOffline{}
	return New(&logger, reg, offline), reg, offline
}

func TestRoute_Delivered(t *testing.T) {
	r, reg, _ := newRouter()
	wire := model.NewWire()
	reg.Register("bob", uuid.New(), wire)

	got := make(chan model.Event, 1)
	go func() {
		got <- <-wire.TX
	}()

	ev := model.Event{Type: model.EventAccept, SRC: "bob", DST: "bob", Room: "alice:bob"}
	outcome := r.Route(context.Background(), ev)
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, ev, <-got)
}

func TestRoute_InviteFallsBack(t *testing.T) {
	r, _, offline := newRouter()

	ev := model.Event{Type: model.EventInvite, SRC: "alice", DST: "bob", Room: "alice:bob"}
	outcome := r.Route(context.Background(), ev)
	assert.Equal(t, FallbackArmed, outcome)
	require.Len(t, offline.dispatched, 1)
	assert.Equal(t, ev, offline.dispatched[0])
}

func TestRoute_NonInviteDroppedSilently(t *testing.T) {
	r, _, offline := newRouter()

	for _, typ := range []string{
		model.EventAccept,
		model.EventReject,
		model.EventCancel,
		model.EventEnd,
		model.EventOffer,
		model.EventICECandidate,
	} {
		outcome := r.Route(context.Background(), model.Event{Type: typ, DST: "bob"})
		assert.Equal(t, Dropped, outcome, "event %s", typ)
	}
	assert.Empty(t, offline.dispatched)
}
