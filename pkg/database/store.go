// Package database reads the monitored map from a Pathfinder-style
// PostgreSQL schema and writes rally points back to it.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

const (
	defaultQueryTimeout = 10 * time.Second
	maxOpenConns        = 5
	maxIdleConns        = 2
)

// TopologyStore reads systems and connections of a single map.
type TopologyStore struct {
	db           *sql.DB
	mapID        int32
	queryTimeout time.Duration
	log          *logrus.Entry
}

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string, mapID int32, log *logrus.Logger) (*TopologyStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := NewTopologyStore(db, mapID, log)
	s.log.WithField("map_id", mapID).Info("Connected to PostgreSQL")
	return s, nil
}

// NewTopologyStore wraps an open database handle.
func NewTopologyStore(db *sql.DB, mapID int32, log *logrus.Logger) *TopologyStore {
	return &TopologyStore{
		db:           db,
		mapID:        mapID,
		queryTimeout: defaultQueryTimeout,
		log:          log.WithField("component", "topology-store"),
	}
}

// Close closes the underlying pool.
func (s *TopologyStore) Close() error {
	return s.db.Close()
}

// MapID returns the monitored map.
func (s *TopologyStore) MapID() int32 {
	return s.mapID
}

// Topology reads active systems and connections in one read-only
// transaction so both halves describe the same state of the map.
func (s *TopologyStore) Topology(ctx context.Context) (models.TopologySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return models.TopologySnapshot{}, models.Transient("begin topology read", err)
	}
	defer tx.Rollback()

	systems, err := s.activeSystems(ctx, tx)
	if err != nil {
		return models.TopologySnapshot{}, err
	}
	conns, err := s.connections(ctx, tx)
	if err != nil {
		return models.TopologySnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.TopologySnapshot{}, models.Transient("commit topology read", err)
	}

	s.log.WithFields(logrus.Fields{
		"systems":     len(systems),
		"connections": len(conns),
		"took":        time.Since(start),
	}).Debug("Loaded topology")
	return models.TopologySnapshot{Systems: systems, Connections: conns}, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *TopologyStore) activeSystems(ctx context.Context, q querier) ([]models.ActiveSystem, error) {
	rows, err := q.QueryContext(ctx, queryActiveSystems, s.mapID)
	if err != nil {
		return nil, models.Transient("query active systems", err)
	}
	defer rows.Close()

	var systems []models.ActiveSystem
	for rows.Next() {
		var sys models.ActiveSystem
		var alias sql.NullString
		if err := rows.Scan(&sys.ID, &alias); err != nil {
			return nil, models.Transient("scan active system", err)
		}
		sys.Alias = alias.String
		systems = append(systems, sys)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transient("iterate active systems", err)
	}
	return systems, nil
}

func (s *TopologyStore) connections(ctx context.Context, q querier) ([]models.Connection, error) {
	rows, err := q.QueryContext(ctx, queryConnections, s.mapID)
	if err != nil {
		return nil, models.Transient("query connections", err)
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.A, &c.B); err != nil {
			return nil, models.Transient("scan connection", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transient("iterate connections", err)
	}
	return conns, nil
}

// CountActiveSystem returns how many active rows the map has for a system.
func (s *TopologyStore) CountActiveSystem(ctx context.Context, systemID int32) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, queryCountActive, s.mapID, systemID).Scan(&n); err != nil {
		return 0, models.Transient("count active system", err)
	}
	return n, nil
}

// WriteRallyPoint marks systemID as the rally point and commits.
func (s *TopologyStore) WriteRallyPoint(ctx context.Context, systemID int32, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transient("begin rally write", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, updateRallyPoint, at, s.mapID, systemID)
	if err != nil {
		return models.Transient("update rally point", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// The system left the map between validation and update.
		return fmt.Errorf("rally point %d: %w", systemID, models.ErrSystemNotActive)
	}

	if err := tx.Commit(); err != nil {
		return models.Transient("commit rally point", err)
	}
	return nil
}

// EnsureSchema creates the map tables if they do not exist. Only meant for
// development databases; production maps are owned by Pathfinder.
func (s *TopologyStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
