// Package rxlog keeps a SQLite log of received radio frames.
package rxlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mbalug7/tiny-lora/internal/monitoring"
	"github.com/mbalug7/tiny-lora/radio"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store appends frames under one session id per Open.
type Store struct {
	db      *sql.DB
	session string
}

// Entry is one stored frame.
type Entry struct {
	ID         int64
	Session    string
	ReceivedAt time.Time
	Source     uint16
	RSSI       int
	SNR        int
	Payload    []byte
}

// Open creates or upgrades the database at path and starts a new session.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, session: uuid.NewString()}
	monitoring.Logf("frame log %s, session %s", path, s.session)
	return s, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Session is the id frames recorded through this Store are tagged with.
func (s *Store) Session() string {
	return s.session
}

// Record appends f. A zero ReceivedAt is stored as now.
func (s *Store) Record(f radio.Frame) error {
	at := f.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	payload := f.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO frames (session_id, received_at, source, rssi, snr, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		s.session, at.UnixNano(), int(f.Source), f.RSSI, f.SNR, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// Frames returns up to limit entries of session, oldest first. An empty
// session means all sessions; limit <= 0 means no limit.
func (s *Store) Frames(session string, limit int) ([]Entry, error) {
	query := `SELECT id, session_id, received_at, source, rssi, snr, payload FROM frames`
	var args []interface{}
	if session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var src int
		if err := rows.Scan(&e.ID, &e.Session, &at, &src, &e.RSSI, &e.SNR, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		e.ReceivedAt = time.Unix(0, at)
		e.Source = uint16(src)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
