package registry

import (
	"database/sql"
	"time"
)

// Well-known setting keys.
const (
	// SettingTrustedCert pins the hex SHA-256 fingerprint module archives
	// must be signed with. Empty means archives are accepted unsigned.
	SettingTrustedCert = "trusted_cert"
)

// SetSetting inserts or replaces a setting.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetSetting returns a setting's value, or "" when it is not set.
func (d *DB) GetSetting(key string) (string, error) {
	row := d.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// DeleteSetting removes a setting. Deleting an absent key is not an error.
func (d *DB) DeleteSetting(key string) error {
	_, err := d.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}
