// Package db persists tag state in a single sqlite file: key material,
// run sessions, identity switches, provisioning audit events and
// watch-mode sightings.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Foreign keys are disabled by default in SQLite; enable per-connection.
	_, _ = db.Exec(`PRAGMA foreign_keys = ON;`)
	// SQLite is effectively single-writer; keep one connection to avoid
	// SQLITE_BUSY when concurrent goroutines do writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT
);
`)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS run_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL,
	started_at TEXT NOT NULL,
	mode TEXT,
	adapter TEXT,
	device_name TEXT,
	default_protocol TEXT
);
`)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS identity_switches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER,
	timestamp TEXT NOT NULL,
	protocol TEXT NOT NULL,
	address TEXT NOT NULL,
	ok INTEGER NOT NULL,
	detail TEXT,
	FOREIGN KEY(session_id) REFERENCES run_sessions(id) ON DELETE CASCADE
);
`)
	if err != nil {
		return err
	}
	_ = execIgnore(s.db, ctx, `CREATE INDEX IF NOT EXISTS idx_identity_switches_session ON identity_switches(session_id)`)

	_, err = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS provisioning_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER,
	timestamp TEXT NOT NULL,
	event TEXT NOT NULL,
	detail TEXT,
	FOREIGN KEY(session_id) REFERENCES run_sessions(id) ON DELETE CASCADE
);
`)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS sightings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER,
	mac TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	rssi INTEGER,
	network TEXT NOT NULL,
	own INTEGER NOT NULL,
	FOREIGN KEY(session_id) REFERENCES run_sessions(id) ON DELETE CASCADE
);
`)
	if err != nil {
		return err
	}
	_ = execIgnore(s.db, ctx, `CREATE INDEX IF NOT EXISTS idx_sightings_session ON sightings(session_id)`)
	_ = execIgnore(s.db, ctx, `CREATE INDEX IF NOT EXISTS idx_sightings_mac ON sightings(mac)`)

	// Schema updates for old DBs.
	_ = execIgnore(s.db, ctx, `ALTER TABLE sightings ADD COLUMN addr_type TEXT`)
	_ = execIgnore(s.db, ctx, `ALTER TABLE sightings ADD COLUMN name TEXT`)
	_ = execIgnore(s.db, ctx, `ALTER TABLE sightings ADD COLUMN lat REAL`)
	_ = execIgnore(s.db, ctx, `ALTER TABLE sightings ADD COLUMN lon REAL`)
	_ = execIgnore(s.db, ctx, `ALTER TABLE sightings ADD COLUMN frame_hex TEXT`)
	_ = execIgnore(s.db, ctx, `ALTER TABLE run_sessions ADD COLUMN mode TEXT`)

	return nil
}

func execIgnore(db *sql.DB, ctx context.Context, q string) error {
	_, err := db.ExecContext(ctx, q)
	return err
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

// GetSetting returns the stored value for key. found is false when the
// key has never been written.
func (s *Store) GetSetting(ctx context.Context, key string) (value []byte, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, nowTimestamp())
	return err
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}

// CreateSession records a new run and returns its row id and UUID.
func (s *Store) CreateSession(ctx context.Context, mode, adapter, deviceName, defaultProtocol string) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionUUID := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO run_sessions (uuid, started_at, mode, adapter, device_name, default_protocol)
VALUES (?, ?, ?, ?, ?, ?)
`, sessionUUID, nowTimestamp(), mode, adapter, deviceName, defaultProtocol)
	if err != nil {
		return 0, "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", err
	}
	return id, sessionUUID, nil
}

type SwitchParams struct {
	SessionID int64
	Protocol  string
	Address   string
	OK        bool
	Detail    string
}

func (s *Store) RecordSwitch(ctx context.Context, p SwitchParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO identity_switches (session_id, timestamp, protocol, address, ok, detail)
VALUES (?, ?, ?, ?, ?, ?)
`, p.SessionID, nowTimestamp(), p.Protocol, p.Address, boolToInt(p.OK), optEmpty(p.Detail))
	return err
}

func (s *Store) RecordProvisioningEvent(ctx context.Context, sessionID int64, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO provisioning_events (session_id, timestamp, event, detail)
VALUES (?, ?, ?, ?)
`, sessionID, nowTimestamp(), event, optEmpty(detail))
	return err
}

type Sighting struct {
	SessionID int64
	MAC       string
	AddrType  string
	Timestamp string
	RSSI      int
	Network   string
	Own       bool
	Name      string
	FrameHex  string
	Lat       *float64
	Lon       *float64
}

func (s *Store) InsertSighting(ctx context.Context, sg Sighting) error {
	sg.MAC = normalizeMAC(sg.MAC)
	if sg.MAC == "" {
		return errors.New("empty MAC")
	}
	if sg.Timestamp == "" {
		sg.Timestamp = nowTimestamp()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sightings (session_id, mac, addr_type, timestamp, rssi, network, own, name, frame_hex, lat, lon)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, sg.SessionID, sg.MAC, optEmpty(sg.AddrType), sg.Timestamp, sg.RSSI, sg.Network, boolToInt(sg.Own), optEmpty(sg.Name), optEmpty(sg.FrameHex), optFloat64(sg.Lat), optFloat64(sg.Lon))
	return err
}

// SightingStats returns the sighting counters for a session.
func (s *Store) SightingStats(ctx context.Context, sessionID int64) (total, own int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sightings WHERE session_id = ?`, sessionID).Scan(&total)
	if err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sightings WHERE session_id = ? AND own = 1`, sessionID).Scan(&own)
	if err != nil {
		return 0, 0, err
	}
	return total, own, nil
}

// SwitchStats returns the switch counters for a session.
func (s *Store) SwitchStats(ctx context.Context, sessionID int64) (total, failed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identity_switches WHERE session_id = ?`, sessionID).Scan(&total)
	if err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identity_switches WHERE session_id = ? AND ok = 0`, sessionID).Scan(&failed)
	if err != nil {
		return 0, 0, err
	}
	return total, failed, nil
}

func nowTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func optEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func optFloat64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
