// Package catalog stores star catalogs in SQLite, split into sky tiles so
// the stars module can load them progressively, brightest tiles first.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/signalsfoundry/sky-engine/internal/catalog/migrations"
)

const migrationTable = "schema_migrations"

// Tile grid: declination bands by right ascension slices.
const (
	DecBands  = 8
	RASlices  = 16
	TileCount = DecBands * RASlices
)

// ErrDuplicate is returned when inserting a star whose oid already exists.
var ErrDuplicate = errors.New("star already in catalog")

// Star is one catalog entry. Angles are in radians.
type Star struct {
	OID  uint64
	HIP  int
	Name string
	RA   float64
	Dec  float64
	Vmag float64
}

// Tile summarises one sky tile.
type Tile struct {
	ID      int
	Count   int
	MinVmag float64
}

// Store is a SQLite backed star catalog.
type Store struct {
	sqlDB *sql.DB
}

// Open opens or creates the catalog at path. ":memory:" opens a private in
// memory catalog.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is a different database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// TileFor returns the tile containing the given equatorial position.
func TileFor(ra, dec float64) int {
	ra = math.Mod(ra, 2*math.Pi)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	band := int((dec + math.Pi/2) / math.Pi * DecBands)
	band = min(max(band, 0), DecBands-1)
	slice := int(ra / (2 * math.Pi) * RASlices)
	slice = min(max(slice, 0), RASlices-1)
	return band*RASlices + slice
}

// StarOID returns the oid of a Hipparcos star.
func StarOID(hip int) uint64 {
	return uint64('H')<<56 | uint64(hip)
}

// InsertStars adds stars in a single transaction. Stars without an oid get
// one derived from their HIP number.
func (s *Store) InsertStars(ctx context.Context, stars []Star) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("catalog is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stars (oid, hip, name, ra, dec, vmag, tile) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stars {
		oid := st.OID
		if oid == 0 {
			if st.HIP <= 0 {
				_ = tx.Rollback()
				return fmt.Errorf("star %q has neither oid nor hip", st.Name)
			}
			oid = StarOID(st.HIP)
		}
		if _, err := stmt.ExecContext(ctx, int64(oid), st.HIP, strings.TrimSpace(st.Name),
			st.RA, st.Dec, st.Vmag, TileFor(st.RA, st.Dec)); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return fmt.Errorf("insert %q: %w", st.Name, ErrDuplicate)
			}
			return fmt.Errorf("insert %q: %w", st.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// Tiles returns the non empty tiles, brightest first.
func (s *Store) Tiles(ctx context.Context) ([]Tile, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT tile, COUNT(*), MIN(vmag) FROM stars GROUP BY tile`)
	if err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}
	defer rows.Close()

	var tiles []Tile
	for rows.Next() {
		var t Tile
		if err := rows.Scan(&t.ID, &t.Count, &t.MinVmag); err != nil {
			return nil, fmt.Errorf("scan tile: %w", err)
		}
		tiles = append(tiles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].MinVmag != tiles[j].MinVmag {
			return tiles[i].MinVmag < tiles[j].MinVmag
		}
		return tiles[i].ID < tiles[j].ID
	})
	return tiles, nil
}

// LoadTile returns the stars of a tile not fainter than maxMag, brightest
// first.
func (s *Store) LoadTile(ctx context.Context, tile int, maxMag float64) ([]Star, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT oid, hip, name, ra, dec, vmag FROM stars WHERE tile = ? AND vmag <= ? ORDER BY vmag, oid`,
		tile, maxMag)
	if err != nil {
		return nil, fmt.Errorf("load tile %d: %w", tile, err)
	}
	defer rows.Close()
	return scanStars(rows)
}

// StarByHIP looks a star up by Hipparcos number.
func (s *Store) StarByHIP(ctx context.Context, hip int) (Star, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT oid, hip, name, ra, dec, vmag FROM stars WHERE hip = ? LIMIT 1`, hip)
	if err != nil {
		return Star{}, fmt.Errorf("star hip %d: %w", hip, err)
	}
	defer rows.Close()
	stars, err := scanStars(rows)
	if err != nil {
		return Star{}, err
	}
	if len(stars) == 0 {
		return Star{}, fmt.Errorf("star hip %d: %w", hip, sql.ErrNoRows)
	}
	return stars[0], nil
}

func scanStars(rows *sql.Rows) ([]Star, error) {
	var out []Star
	for rows.Next() {
		var st Star
		var oid int64
		if err := rows.Scan(&oid, &st.HIP, &st.Name, &st.RA, &st.Dec, &st.Vmag); err != nil {
			return nil, fmt.Errorf("scan star: %w", err)
		}
		st.OID = uint64(oid)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan stars: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// applyMigrations runs each embedded .sql file at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}
