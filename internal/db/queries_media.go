package db

import (
	"database/sql"

	"github.com/mkaverti/fieldvault/internal/model"
)

const mediaColumns = `id, locid, subid, media_type, original_name, archive_path,
	  hash, size_bytes, width, height, duration_secs, phash, thumb_path, proxy_path,
	  hidden, created_at, updated_at`

func CreateMediaFile(database *sql.DB, m *model.MediaFile) error {
	_, err := database.Exec(
		`INSERT INTO media_files (id, locid, subid, media_type, original_name,
		  archive_path, hash, size_bytes, width, height, duration_secs, hidden)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LocID, m.SubID, string(m.MediaType), m.OriginalName,
		m.ArchivePath, m.Hash, m.SizeBytes, m.Width, m.Height, m.DurationSecs,
		boolToInt(m.Hidden),
	)
	return err
}

func scanMediaFile(scan func(dest ...interface{}) error) (*model.MediaFile, error) {
	m := &model.MediaFile{}
	var mediaType string
	var hidden int
	var createdAt, updatedAt SQLiteTime
	err := scan(&m.ID, &m.LocID, &m.SubID, &mediaType, &m.OriginalName,
		&m.ArchivePath, &m.Hash, &m.SizeBytes, &m.Width, &m.Height,
		&m.DurationSecs, &m.PHash, &m.ThumbPath, &m.ProxyPath,
		&hidden, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.MediaType = model.MediaType(mediaType)
	m.Hidden = hidden != 0
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	return m, nil
}

func GetMediaFile(database *sql.DB, id string) (*model.MediaFile, error) {
	row := database.QueryRow(`SELECT `+mediaColumns+` FROM media_files WHERE id = ?`, id)
	m, err := scanMediaFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindMediaByHash looks up an existing media row for the location by
// full content hash. This is the dedup check: identity is content, not
// name or path.
func FindMediaByHash(database *sql.DB, locid, hash string) (*model.MediaFile, error) {
	row := database.QueryRow(
		`SELECT `+mediaColumns+` FROM media_files WHERE locid = ? AND hash = ?`,
		locid, hash,
	)
	m, err := scanMediaFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListLiveMedia returns the non-hidden media for a location, ordered by
// archive path so manifest generation is deterministic.
func ListLiveMedia(database *sql.DB, locid string) ([]model.MediaFile, error) {
	rows, err := database.Query(
		`SELECT `+mediaColumns+` FROM media_files
		 WHERE locid = ? AND hidden = 0 ORDER BY archive_path ASC`, locid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.MediaFile
	for rows.Next() {
		m, err := scanMediaFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, *m)
	}
	return files, rows.Err()
}

func SetMediaDimensions(database *sql.DB, id string, width, height *int64, durationSecs *float64) error {
	_, err := database.Exec(
		`UPDATE media_files SET width = ?, height = ?, duration_secs = ?,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE id = ?`,
		width, height, durationSecs, id,
	)
	return err
}

func SetMediaPHash(database *sql.DB, id, phash string) error {
	_, err := database.Exec(
		`UPDATE media_files SET phash = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, phash, id,
	)
	return err
}

func SetMediaThumbPath(database *sql.DB, id, thumbPath string) error {
	_, err := database.Exec(
		`UPDATE media_files SET thumb_path = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, thumbPath, id,
	)
	return err
}

func SetMediaProxyPath(database *sql.DB, id, proxyPath string) error {
	_, err := database.Exec(
		`UPDATE media_files SET proxy_path = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, proxyPath, id,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
