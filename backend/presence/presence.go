package presence

import (
	"sync"
	"time"

	"github.com/adwski/call-signaling/backend/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry relates a user to its single live signaling connection.
type Entry struct {
	User      string
	ConnID    uuid.UUID
	Wire      model.Wire
	CreatedAt time.Time
}

// Registry maps a user id to zero-or-one live connection,
// last-connected-wins.
type Registry struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	db     map[string]Entry
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "presence").Logger(),
		mx:     &sync.RWMutex{},
		db:     make(map[string]Entry),
	}
}

// Register stores the connection for a user, overwriting any prior mapping.
// It never fails.
func (r *Registry) Register(userID string, connID uuid.UUID, wire model.Wire) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if old, ok := r.db[userID]; ok {
		r.logger.Debug().
			Str("userID", userID).
			Str("oldConnID", old.ConnID.String()).
			Str("connID", connID.String()).
			Msg("replacing existing registration")
	}
	r.db[userID] = Entry{
		User:      userID,
		ConnID:    connID,
		Wire:      wire,
		CreatedAt: time.Now(),
	}
}

// Unregister removes the mapping only if the stored connection id still
// matches. A stale disconnect racing a fresh reconnect is a no-op.
func (r *Registry) Unregister(userID string, connID uuid.UUID) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	entry, ok := r.db[userID]
	if !ok || entry.ConnID != connID {
		return false
	}
	delete(r.db, userID)
	r.logger.Debug().
		Str("userID", userID).
		Str("connID", connID.String()).
		Msg("connection unregistered")
	return true
}

// Lookup returns the live connection entry for a user.
func (r *Registry) Lookup(userID string) (Entry, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	entry, ok := r.db[userID]
	return entry, ok
}
