package registry

import (
	"database/sql"
	"time"
)

// Source records where an installed module came from: the archive path or
// image reference it was installed from and the content digest of that
// artifact. The storage sweep keeps retained archives and cached images
// whose digest is still referenced here.
type Source struct {
	Module      string    `json:"module"`
	Source      string    `json:"source"`
	Digest      string    `json:"digest,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// SetSource records a module's install source, replacing any previous
// record for the same module.
func (d *DB) SetSource(moduleID, source, digest string) error {
	_, err := d.db.Exec(`
		INSERT INTO sources (module, source, digest, installed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module) DO UPDATE SET
			source = excluded.source,
			digest = excluded.digest,
			installed_at = excluded.installed_at
	`, moduleID, source, digest, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetSource returns a module's source record, or nil when none exists.
func (d *DB) GetSource(moduleID string) (*Source, error) {
	row := d.db.QueryRow(`
		SELECT module, source, digest, installed_at
		FROM sources WHERE module = ?
	`, moduleID)
	var s Source
	var installedStr string
	err := row.Scan(&s.Module, &s.Source, &s.Digest, &installedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.InstalledAt, _ = time.Parse(time.RFC3339, installedStr)
	return &s, nil
}

// DeleteSource removes a module's source record. Deleting an absent
// module is not an error.
func (d *DB) DeleteSource(moduleID string) error {
	_, err := d.db.Exec(`DELETE FROM sources WHERE module = ?`, moduleID)
	return err
}

// ListSources returns all source records.
func (d *DB) ListSources() ([]Source, error) {
	rows, err := d.db.Query(`
		SELECT module, source, digest, installed_at
		FROM sources ORDER BY module
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		var installedStr string
		if err := rows.Scan(&s.Module, &s.Source, &s.Digest, &installedStr); err != nil {
			return nil, err
		}
		s.InstalledAt, _ = time.Parse(time.RFC3339, installedStr)
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
