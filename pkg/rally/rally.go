// Package rally sets the map's rally point after checking that the target
// system is still on the map.
package rally

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// Store validates and persists rally points.
type Store interface {
	// CountActiveSystem returns the number of active map rows for a system.
	CountActiveSystem(ctx context.Context, systemID int32) (int, error)
	// WriteRallyPoint persists the rally point and commits.
	WriteRallyPoint(ctx context.Context, systemID int32, at time.Time) error
}

// Invalidator drops caches that may hold the previous rally point.
type Invalidator interface {
	FlushAll(ctx context.Context) error
}

// State initiates validated rally point writes. It never reads the rally
// point back.
type State struct {
	store       Store
	invalidator Invalidator
	log         *logrus.Entry
	now         func() time.Time
}

// New creates a State. invalidator may be nil when no downstream cache is
// configured.
func New(store Store, invalidator Invalidator, log *logrus.Logger) *State {
	return &State{
		store:       store,
		invalidator: invalidator,
		log:         log.WithField("component", "rally"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Set makes systemID the rally point. It returns models.ErrSystemNotActive,
// without writing anything, when the system is no longer on the map.
func (s *State) Set(ctx context.Context, systemID int32) (models.RallyPoint, error) {
	n, err := s.store.CountActiveSystem(ctx, systemID)
	if err != nil {
		return models.RallyPoint{}, fmt.Errorf("validate system %d: %w", systemID, err)
	}
	if n == 0 {
		return models.RallyPoint{}, fmt.Errorf("rally point %d: %w", systemID, models.ErrSystemNotActive)
	}

	rp := models.RallyPoint{SystemID: systemID, SetAt: s.now()}
	if err := s.store.WriteRallyPoint(ctx, systemID, rp.SetAt); err != nil {
		return models.RallyPoint{}, fmt.Errorf("write rally point %d: %w", systemID, err)
	}

	if s.invalidator != nil {
		// The write is committed; a stale cache only delays its visibility.
		if err := s.invalidator.FlushAll(ctx); err != nil {
			s.log.WithError(err).Warn("Cache invalidation failed")
		}
	}

	s.log.WithField("system_id", systemID).Info("Rally point set")
	return rp, nil
}
