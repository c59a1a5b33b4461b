package fallback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adwski/call-signaling/backend/metrics"
	"github.com/adwski/call-signaling/backend/model"
	"github.com/adwski/call-signaling/backend/push"
	"github.com/adwski/call-signaling/backend/scheduler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSender struct {
	mx   sync.Mutex
	sent []model.PushPayload
}

func (c *capturingSender) Send(_ context.Context, _ string, p model.PushPayload) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.sent = append(c.sent, p)
	return nil
}

func (c *capturingSender) payloads() []model.PushPayload {
	c.mx.Lock()
	defer c.mx.Unlock()
	out := make([]model.PushPayload, len(c.sent))
	copy(out, c.sent)
	return out
}

func newDispatcher(t *testing.T, timeout time.Duration) (*Dispatcher, *capturingSender, *push.MemoryBook) {
	t.Helper()
	logger := zerolog.Nop()
	sender := &capturingSender{}
	book := push.NewMemoryBook()
	d := New(Config{
		Logger:      &logger,
		Scheduler:   scheduler.New(&logger),
		Sender:      sender,
		AddressBook: book,
		Metrics:     metrics.New(),
		RingTimeout: timeout,
	})
	return d, sender, book
}

func invite(caller, callee string) model.Event {
	return model.Event{
		Type:       model.EventInvite,
		SRC:        caller,
		DST:        callee,
		Room:       model.RoomID(caller, callee),
		Mode:       model.ModeVideo,
		CallerName: "Alice",
	}
}

func TestDispatch_PushAndExpiry(t *testing.T) {
	d, sender, book := newDispatcher(t, 20*time.Millisecond)
	require.NoError(t, book.Put(context.Background(), "bob", "device-addr"))

	expired := make(chan Attempt, 1)
	d.SetExpiryHandler(func(att Attempt) {
		expired <- att
	})

	d.Dispatch(context.Background(), invite("alice", "bob"))
	require.True(t, d.Pending("alice:bob"))

	var att Attempt
	select {
	case att = <-expired:
	case <-time.After(time.Second):
		t.Fatal("attempt did not expire")
	}
	assert.Equal(t, "alice", att.Caller)
	assert.Equal(t, "bob", att.Callee)
	assert.False(t, d.Pending("alice:bob"))

	sent := sender.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, model.PushTypeCall, sent[0].Type)
	assert.Equal(t, "alice:bob", sent[0].Room)
	assert.Equal(t, model.ModeVideo, sent[0].Mode)
	assert.Equal(t, "alice", sent[0].CallerID)
	assert.Equal(t, "Alice", sent[0].CallerName)
	assert.Equal(t, model.PushTypeMissedCall, sent[1].Type)
}

func TestDispatch_NoAddressStillArms(t *testing.T) {
	d, sender, _ := newDispatcher(t, 20*time.Millisecond)

	expired := make(chan Attempt, 1)
	d.SetExpiryHandler(func(att Attempt) {
		expired <- att
	})

	// callee has no push address, the bounded wait still applies
	d.Dispatch(context.Background(), invite("alice", "bob"))
	require.True(t, d.Pending("alice:bob"))

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("attempt did not expire")
	}
	assert.Empty(t, sender.payloads())
}

type failingBook struct{}

func (failingBook) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingBook) Put(context.Context, string, string) error {
	return errors.New("connection refused")
}

func (failingBook) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestDispatch_BookErrorCountedSeparately(t *testing.T) {
	logger := zerolog.Nop()
	sender := &capturingSender{}
	mtr := metrics.New()
	d := New(Config{
		Logger:      &logger,
		Scheduler:   scheduler.New(&logger),
		Sender:      sender,
		AddressBook: failingBook{},
		Metrics:     mtr,
		RingTimeout: time.Hour,
	})

	d.Dispatch(context.Background(), invite("alice", "bob"))

	// the broken book skips the push but never skips the bounded wait
	require.True(t, d.Pending("alice:bob"))
	assert.Empty(t, sender.payloads())
	assert.Equal(t, float64(1),
		testutil.ToFloat64(mtr.Pushes.WithLabelValues(model.PushTypeCall, "lookup_error")))
	assert.Equal(t, float64(0),
		testutil.ToFloat64(mtr.Pushes.WithLabelValues(model.PushTypeCall, "no_address")))
}

func TestConsume_CancelsTimeout(t *testing.T) {
	d, sender, book := newDispatcher(t, 20*time.Millisecond)
	require.NoError(t, book.Put(context.Background(), "bob", "device-addr"))

	var expirations atomic.Int32
	d.SetExpiryHandler(func(Attempt) {
		expirations.Add(1)
	})

	d.Dispatch(context.Background(), invite("alice", "bob"))

	att, ok := d.Consume("alice:bob")
	require.True(t, ok)
	assert.Equal(t, "bob", att.Callee)
	assert.Equal(t, model.ModeVideo, att.Mode)
	assert.False(t, d.Pending("alice:bob"))

	_, ok = d.Consume("alice:bob")
	assert.False(t, ok)

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, expirations.Load(), "consumed attempt must never expire")
	require.Len(t, sender.payloads(), 1, "no missed-call push after consume")
}

func TestDispatch_DuplicateInviteIgnored(t *testing.T) {
	d, sender, book := newDispatcher(t, time.Hour)
	require.NoError(t, book.Put(context.Background(), "bob", "device-addr"))

	d.Dispatch(context.Background(), invite("alice", "bob"))
	d.Dispatch(context.Background(), invite("alice", "bob"))

	assert.Len(t, sender.payloads(), 1)
}

func TestConsumeVsExpiry_ExactlyOne(t *testing.T) {
	for i := 0; i < 100; i++ {
		d, _, _ := newDispatcher(t, time.Millisecond)

		var expirations atomic.Int32
		done := make(chan struct{})
		d.SetExpiryHandler(func(Attempt) {
			expirations.Add(1)
			close(done)
		})

		d.Dispatch(context.Background(), invite("alice", "bob"))

		time.Sleep(time.Millisecond)
		_, consumed := d.Consume("alice:bob")
		if consumed {
			time.Sleep(5 * time.Millisecond)
			require.EqualValues(t, 0, expirations.Load(),
				"round %d: attempt both consumed and expired", i)
		} else {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatalf("round %d: attempt neither consumed nor expired", i)
			}
		}
	}
}
