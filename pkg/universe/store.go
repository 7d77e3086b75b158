// Package universe stores static solar system data (name, security class,
// security status) in a local SQLite database.
package universe

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// Store is a SQLite backed system table. It also serves as the persistent
// cache for system lookups made against ESI.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open universe db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping universe db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate universe db: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS systems (
				system_id       INTEGER PRIMARY KEY,
				name            TEXT NOT NULL DEFAULT '',
				security        TEXT NOT NULL DEFAULT '',
				security_status REAL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}
	return nil
}

// SecurityClass returns the security class of a system. Systems without a
// known class (e.g. wormholes cached from ESI) report ErrNotFound.
func (s *Store) SecurityClass(ctx context.Context, systemID int32) (string, error) {
	info, found, _, err := s.lookup(ctx, systemID)
	if err != nil {
		return "", err
	}
	if !found || info.SecurityClass == "" {
		return "", fmt.Errorf("system %d: %w", systemID, models.ErrNotFound)
	}
	return info.SecurityClass, nil
}

// System returns the stored attributes of a system. ok is false unless the
// row carries a security status; rows imported without one still need an
// ESI lookup.
func (s *Store) System(ctx context.Context, systemID int32) (models.SystemInfo, bool, error) {
	info, found, statusKnown, err := s.lookup(ctx, systemID)
	if err != nil || !found || !statusKnown {
		return models.SystemInfo{}, false, err
	}
	return info, true, nil
}

func (s *Store) lookup(ctx context.Context, systemID int32) (models.SystemInfo, bool, bool, error) {
	var (
		info   = models.SystemInfo{ID: systemID}
		status sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, security, security_status FROM systems WHERE system_id = ?`, systemID,
	).Scan(&info.Name, &info.SecurityClass, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SystemInfo{}, false, false, nil
	}
	if err != nil {
		return models.SystemInfo{}, false, false, models.Transient("query universe system", err)
	}

	info.SecurityStatus = status.Float64
	if info.SecurityClass == "" && status.Valid && !IsWormhole(systemID, info.Name) {
		info.SecurityClass = ClassFromStatus(status.Float64)
	}
	return info, true, status.Valid, nil
}

// PutSystem stores name and security status of a system. An imported
// security class is kept.
func (s *Store) PutSystem(ctx context.Context, info models.SystemInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO systems (system_id, name, security, security_status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(system_id) DO UPDATE SET
			name = excluded.name,
			security_status = excluded.security_status,
			security = CASE WHEN systems.security = '' THEN excluded.security ELSE systems.security END
	`, info.ID, info.Name, info.SecurityClass, info.SecurityStatus)
	if err != nil {
		return models.Transient("store universe system", err)
	}
	return nil
}

// Count returns the number of stored systems.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM systems`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ImportFile loads a CSV file, see ImportCSV.
func (s *Store) ImportFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return s.ImportCSV(ctx, bufio.NewReader(file))
}

// ImportCSV loads rows of system_id,name,security[,security_status]. A header
// row is detected by its non-numeric first column. Malformed rows are
// skipped. Returns the number of imported rows.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO systems (system_id, name, security, security_status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(system_id) DO UPDATE SET
			name = excluded.name,
			security = excluded.security,
			security_status = COALESCE(excluded.security_status, systems.security_status)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	imported := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(record) < 3 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 32)
		if err != nil {
			continue // header or garbage
		}

		var status sql.NullFloat64
		if len(record) >= 4 {
			if f, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64); err == nil {
				status = sql.NullFloat64{Float64: f, Valid: true}
			}
		}

		if _, err := stmt.ExecContext(ctx, id, strings.TrimSpace(record[1]), strings.TrimSpace(record[2]), status); err != nil {
			return 0, fmt.Errorf("import system %d: %w", id, err)
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return imported, nil
}

// ClassFromStatus derives the known-space security class from a raw
// security status, rounding the way the game client displays it. It does
// not apply to wormhole systems, see IsWormhole.
func ClassFromStatus(status float64) string {
	if status <= 0 {
		return "0.0"
	}
	if math.Round(status*10)/10 >= 0.5 {
		return "H"
	}
	return "L"
}

const (
	wormholeIDMin = 31000000
	wormholeIDMax = 31999999
)

var wormholeName = regexp.MustCompile(`^J\d{6}$`)

// IsWormhole reports whether a system lies in wormhole space. Their class
// (C1..C18) cannot be derived from the security status.
func IsWormhole(systemID int32, name string) bool {
	if systemID >= wormholeIDMin && systemID <= wormholeIDMax {
		return true
	}
	return wormholeName.MatchString(name)
}
