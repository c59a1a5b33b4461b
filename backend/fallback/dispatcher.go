// Package fallback substitutes a push notification plus a bounded wait
// when an invite cannot be delivered to a live connection.
package fallback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/call-signaling/backend/metrics"
	"github.com/adwski/call-signaling/backend/model"
	"github.com/adwski/call-signaling/backend/push"
	"github.com/adwski/call-signaling/backend/scheduler"
	"github.com/rs/zerolog"
)

const (
	// DefaultRingTimeout gives the push notification time to be seen
	// and acted upon before the caller is told the call failed.
	DefaultRingTimeout = 30 * time.Second

	expirePushTimeout = 5 * time.Second
)

// Attempt captures everything needed to resolve an offline invite later:
// either an accept consumes it and the call proceeds, or the timeout
// expires it. Exactly one of the two happens.
type Attempt struct {
	Room       string
	Caller     string
	Callee     string
	CallerName string
	Mode       string
	CreatedAt  time.Time
}

type Dispatcher struct {
	logger  zerolog.Logger
	sched   *scheduler.Scheduler
	sender  push.Sender
	book    push.AddressBook
	metrics *metrics.Metrics
	timeout time.Duration

	mx       *sync.Mutex
	pending  map[string]Attempt
	onExpire func(Attempt)
}

type Config struct {
	Logger      *zerolog.Logger
	Scheduler   *scheduler.Scheduler
	Sender      push.Sender
	AddressBook push.AddressBook
	Metrics     *metrics.Metrics
	RingTimeout time.Duration
}

func New(cfg Config) *Dispatcher {
	timeout := cfg.RingTimeout
	if timeout == 0 {
		timeout = DefaultRingTimeout
	}
	return &Dispatcher{
		logger:  cfg.Logger.With().Str("component", "offline-fallback").Logger(),
		sched:   cfg.Scheduler,
		sender:  cfg.Sender,
		book:    cfg.AddressBook,
		metrics: cfg.Metrics,
		timeout: timeout,
		mx:      &sync.Mutex{},
		pending: make(map[string]Attempt),
	}
}

// SetExpiryHandler installs the callback invoked when a pending attempt
// times out. Must be set before the dispatcher receives traffic.
func (d *Dispatcher) SetExpiryHandler(fn func(Attempt)) {
	d.onExpire = fn
}

// Dispatch handles an invite whose callee has no live connection:
// best-effort push, then an armed timeout keyed by room id.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.Event) {
	att := Attempt{
		Room:       ev.Room,
		Caller:     ev.SRC,
		Callee:     ev.DST,
		CallerName: ev.CallerName,
		Mode:       ev.Mode,
		CreatedAt:  time.Now(),
	}

	d.mx.Lock()
	if _, exists := d.pending[att.Room]; exists {
		d.mx.Unlock()
		d.logger.Debug().Str("roomID", att.Room).Msg("attempt already pending, invite ignored")
		return
	}
	d.pending[att.Room] = att
	d.mx.Unlock()

	d.sendPush(ctx, att, model.PushTypeCall)
	d.sched.Schedule(att.Room, d.timeout, func() {
		d.expire(att.Room)
	})
	d.logger.Debug().
		Str("roomID", att.Room).
		Str("callee", att.Callee).
		Dur("timeout", d.timeout).
		Msg("offline fallback armed")
}

// Consume cancels the pending attempt for a room and hands it back,
// typically because an accept or reject arrived before the timeout.
// Consuming and expiring are mutually exclusive.
func (d *Dispatcher) Consume(roomID string) (Attempt, bool) {
	d.mx.Lock()
	att, ok := d.pending[roomID]
	if ok {
		delete(d.pending, roomID)
	}
	d.mx.Unlock()

	if !ok {
		return Attempt{}, false
	}
	d.sched.CancelKey(roomID)
	d.logger.Debug().Str("roomID", roomID).Msg("pending attempt consumed")
	return att, true
}

// Pending reports whether a room still has an unresolved attempt.
func (d *Dispatcher) Pending(roomID string) bool {
	d.mx.Lock()
	defer d.mx.Unlock()

	_, ok := d.pending[roomID]
	return ok
}

func (d *Dispatcher) expire(roomID string) {
	d.mx.Lock()
	att, ok := d.pending[roomID]
	if ok {
		delete(d.pending, roomID)
	}
	d.mx.Unlock()

	if !ok {
		// consumed in the same instant, the accept won
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), expirePushTimeout)
	defer cancel()
	d.sendPush(ctx, att, model.PushTypeMissedCall)

	d.logger.Debug().Str("roomID", roomID).Msg("pending attempt expired")
	if d.onExpire != nil {
		d.onExpire(att)
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, att Attempt, pushType string) {
	addr, err := d.book.Get(ctx, att.Callee)
	if err != nil {
		if errors.Is(err, push.ErrNoAddress) {
			d.metrics.Pushes.WithLabelValues(pushType, "no_address").Inc()
			return
		}
		// a failing address book is an operational problem, not a user
		// without a registered device
		d.logger.Warn().Err(err).Str("callee", att.Callee).Msg("address book lookup failed")
		d.metrics.Pushes.WithLabelValues(pushType, "lookup_error").Inc()
		return
	}

	payload := model.PushPayload{
		Type:       pushType,
		Room:       att.Room,
		Mode:       att.Mode,
		CallerID:   att.Caller,
		CallerName: att.CallerName,
	}
	if err = d.sender.Send(ctx, addr, payload); err != nil {
		// push failure never aborts the flow
		d.logger.Warn().Err(err).
			Str("roomID", att.Room).
			Str("callee", att.Callee).
			Msg("push delivery failed")
		d.metrics.Pushes.WithLabelValues(pushType, "error").Inc()
		return
	}
	d.metrics.Pushes.WithLabelValues(pushType, "ok").Inc()
}
