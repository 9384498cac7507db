// Package profilestore persists profile metadata in SQLite.
package profilestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/types"
)

// ErrNotFound is returned when no profile has the requested id.
var ErrNotFound = errors.New("profilestore: profile not found")

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	os_type    TEXT NOT NULL DEFAULT 'windows',
	proxy      TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'stopped',
	notes      TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	last_used  TEXT
);
CREATE INDEX IF NOT EXISTS idx_profiles_name ON profiles(name);
`

const selectColumns = `id, name, os_type, proxy, status, notes, tags, created_at, last_used`

// Store is a SQLite-backed profile repository.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger *logging.Logger
}

// Open opens (creating if needed) the database at path. A nil clock uses
// the real clock.
func Open(path string, clock clockwork.Clock, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts p, assigning an id, creation time and stopped status when
// they are unset.
func (s *Store) Add(ctx context.Context, p *types.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock.Now().UTC()
	}
	if p.Status == "" {
		p.Status = types.StatusStopped
	}
	p.OSType = p.OSType.OrDefault()

	proxy, tags, err := encodeFields(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.OSType), proxy, string(p.Status), p.Notes, tags,
		formatTime(p.CreatedAt), formatTimePtr(p.LastUsed))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	s.logger.Debugf("Added profile %s (%s)", p.ID, p.Name)
	return nil
}

// Get returns the profile with id.
func (s *Store) Get(ctx context.Context, id string) (*types.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, err
}

// List returns every profile ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*types.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM profiles ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*types.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// Update overwrites every stored field of p except created_at.
func (s *Store) Update(ctx context.Context, p *types.Profile) error {
	proxy, tags, err := encodeFields(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET name = ?, os_type = ?, proxy = ?, status = ?, notes = ?, tags = ?, last_used = ? WHERE id = ?`,
		p.Name, string(p.OSType.OrDefault()), proxy, string(p.Status), p.Notes, tags, formatTimePtr(p.LastUsed), p.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireRow(res, p.ID)
}

// Delete removes the profile with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return requireRow(res, id)
}

// SetStatus records the profile's session status.
func (s *Store) SetStatus(ctx context.Context, id string, status types.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return requireRow(res, id)
}

// SetDetectedGeo copies the location detected for the profile's egress
// onto its proxy display fields. Connection settings are left as they are.
func (s *Store) SetDetectedGeo(ctx context.Context, id string, geo *types.GeoIPInfo) error {
	if geo == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET proxy = json_set(proxy,
			'$.country_code', ?, '$.country_name', ?, '$.city', ?, '$.timezone', ?)
		WHERE id = ?`,
		geo.CountryCode, geo.Country, geo.City, geo.Timezone, id)
	if err != nil {
		return fmt.Errorf("set detected geo: %w", err)
	}
	return requireRow(res, id)
}

// Touch sets last_used to now.
func (s *Store) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_used = ? WHERE id = ?`, formatTime(s.clock.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	return requireRow(res, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*types.Profile, error) {
	var (
		p                    types.Profile
		osType, status       string
		proxy, tags, created string
		lastUsed             sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &osType, &proxy, &status, &p.Notes, &tags, &created, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	p.OSType = types.OSType(osType)
	// A process that died mid-transition leaves starting/stopping behind.
	p.Status = types.Status(status).Normalize()
	if err := json.Unmarshal([]byte(proxy), &p.Proxy); err != nil {
		return nil, fmt.Errorf("decode proxy for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", p.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", p.ID, err)
	}
	p.CreatedAt = t
	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastUsed.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_used for %s: %w", p.ID, err)
		}
		p.LastUsed = &t
	}
	return &p, nil
}

func encodeFields(p *types.Profile) (proxy, tags string, err error) {
	pb, err := json.Marshal(p.Proxy)
	if err != nil {
		return "", "", fmt.Errorf("encode proxy: %w", err)
	}
	t := p.Tags
	if t == nil {
		t = []string{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	return string(pb), string(tb), nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
