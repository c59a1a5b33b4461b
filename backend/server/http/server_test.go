package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adwski/call-signaling/backend/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCallService struct {
	roomID   string
	callerID string
	err      error
}

func (s *stubCallService) RejectViaREST(_ context.Context, roomID, callerID string) error {
	s.roomID = roomID
	s.callerID = callerID
	return s.err
}

func newTestServer(svc CallService) *Server {
	logger := zerolog.Nop()
	return NewServer(Config{
		Logger:      &logger,
		CallService: svc,
		ListenAddr:  ":0",
	})
}

func TestRejectCall_OK(t *testing.T) {
	stub := &stubCallService{}
	srv := newTestServer(stub)

	req := httptest.NewRequest(http.MethodPost, "/calls/reject",
		strings.NewReader(`{"room_id":"alice:bob","caller_id":"alice"}`))
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice:bob", stub.roomID)
	assert.Equal(t, "alice", stub.callerID)
	assert.JSONEq(t, `{"message":"OK"}`, w.Body.String())
}

func TestRejectCall_UnknownRoom(t *testing.T) {
	srv := newTestServer(&stubCallService{err: service.ErrUnknownRoom})

	req := httptest.NewRequest(http.MethodPost, "/calls/reject",
		strings.NewReader(`{"room_id":"alice:bob","caller_id":"alice"}`))
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectCall_NotParticipant(t *testing.T) {
	srv := newTestServer(&stubCallService{err: service.ErrNotParticipant})

	req := httptest.NewRequest(http.MethodPost, "/calls/reject",
		strings.NewReader(`{"room_id":"alice:bob","caller_id":"mallory"}`))
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectCall_BadRequest(t *testing.T) {
	srv := newTestServer(&stubCallService{})

	for _, body := range []string{`not json`, `{}`, `{"room_id":"alice:bob"}`} {
		req := httptest.NewRequest(http.MethodPost, "/calls/reject", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubCallService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
