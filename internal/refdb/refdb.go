// Package refdb is a SQLite-backed store of known reference positions keyed
// by icao24 (for example parked aircraft with known stands), queryable
// directly by the status dashboard. The solver does not read it.
package refdb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openmlat/mlat-core/internal/geo"
)

const schema = `
CREATE TABLE IF NOT EXISTS reference_positions (
	icao24 INTEGER PRIMARY KEY,
	label TEXT NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	alt REAL NOT NULL
);
`

// DB wraps a SQLite connection holding known-good reference positions.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the reference database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("refdb: open %s: %w", path, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("refdb: migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Put records (or overwrites) a known-good reference position for icao24.
func (d *DB) Put(icao24 uint32, label string, pos geo.LLH) error {
	_, err := d.conn.Exec(
		`INSERT INTO reference_positions (icao24, label, lat, lon, alt) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(icao24) DO UPDATE SET label=excluded.label, lat=excluded.lat, lon=excluded.lon, alt=excluded.alt`,
		icao24, label, pos.Lat, pos.Lon, pos.Alt,
	)
	return err
}

// Get returns the known reference position for icao24, if any.
func (d *DB) Get(icao24 uint32) (label string, pos geo.LLH, ok bool) {
	row := d.conn.QueryRow(`SELECT label, lat, lon, alt FROM reference_positions WHERE icao24 = ?`, icao24)
	if err := row.Scan(&label, &pos.Lat, &pos.Lon, &pos.Alt); err != nil {
		return "", geo.LLH{}, false
	}
	return label, pos, true
}

// All returns every stored reference position, for the status dashboard's
// /reference.json endpoint.
func (d *DB) All() (map[uint32]geo.LLH, error) {
	rows, err := d.conn.Query(`SELECT icao24, lat, lon, alt FROM reference_positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint32]geo.LLH)
	for rows.Next() {
		var icao24 uint32
		var llh geo.LLH
		if err := rows.Scan(&icao24, &llh.Lat, &llh.Lon, &llh.Alt); err != nil {
			return nil, err
		}
		out[icao24] = llh
	}
	return out, rows.Err()
}
