package db

import "database/sql"

// ArchiveFolderKey is the settings row that points at the archive root.
// Imports are refused until it is configured.
const ArchiveFolderKey = "archive_folder"

func GetSetting(database *sql.DB, key string) (string, error) {
	var value string
	err := database.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetSetting(database *sql.DB, key, value string) error {
	_, err := database.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}
