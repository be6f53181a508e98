package db

import (
	"database/sql"
	"time"

	"github.com/mkaverti/fieldvault/internal/model"
)

func CreateLocation(database *sql.DB, l *model.Location) error {
	_, err := database.Exec(
		`INSERT INTO locations (locid, name, category, address) VALUES (?, ?, ?, ?)`,
		l.ID, l.Name, l.Category, l.Address,
	)
	return err
}

func GetLocation(database *sql.DB, locid string) (*model.Location, error) {
	l := &model.Location{}
	var createdAt, updatedAt SQLiteTime
	var verified, lastErr sql.NullString
	err := database.QueryRow(
		`SELECT locid, name, category, address, media_count, media_bytes,
		  bag_status, bag_last_verified, bag_last_error, created_at, updated_at
		 FROM locations WHERE locid = ?`, locid,
	).Scan(&l.ID, &l.Name, &l.Category, &l.Address, &l.MediaCount, &l.MediaBytes,
		&l.BagStatus, &verified, &lastErr, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt = createdAt.Time
	l.UpdatedAt = updatedAt.Time
	if verified.Valid {
		var vt SQLiteTime
		if err := vt.Scan(verified.String); err == nil {
			l.BagLastVerified = &vt.Time
		}
	}
	if lastErr.Valid {
		l.BagLastError = lastErr.String
	}
	return l, nil
}

func ListLocations(database *sql.DB) ([]model.Location, error) {
	rows, err := database.Query(
		`SELECT locid, name, category, address, media_count, media_bytes,
		  bag_status, bag_last_verified, bag_last_error, created_at, updated_at
		 FROM locations ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var l model.Location
		var createdAt, updatedAt SQLiteTime
		var verified, lastErr sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &l.Category, &l.Address, &l.MediaCount,
			&l.MediaBytes, &l.BagStatus, &verified, &lastErr, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.CreatedAt = createdAt.Time
		l.UpdatedAt = updatedAt.Time
		if verified.Valid {
			var vt SQLiteTime
			if err := vt.Scan(verified.String); err == nil {
				l.BagLastVerified = &vt.Time
			}
		}
		if lastErr.Valid {
			l.BagLastError = lastErr.String
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// SetBagStatus records the outcome of an integrity run so collaborators
// can read verification state without re-validating.
func SetBagStatus(database *sql.DB, locid string, status model.BagStatus, verifiedAt time.Time, lastError string) error {
	var errVal interface{}
	if lastError != "" {
		errVal = lastError
	}
	_, err := database.Exec(
		`UPDATE locations SET bag_status = ?, bag_last_verified = ?, bag_last_error = ?,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE locid = ?`,
		string(status), verifiedAt.UTC().Format(time.RFC3339), errVal, locid,
	)
	return err
}

// OldestBagVerification returns the oldest bag_last_verified across all
// locations holding media. Locations never verified count as zero time.
func OldestBagVerification(database *sql.DB) (time.Time, error) {
	rows, err := database.Query(`SELECT bag_last_verified FROM locations WHERE media_count > 0`)
	if err != nil {
		return time.Time{}, err
	}
	defer rows.Close()

	oldest := time.Now()
	any := false
	for rows.Next() {
		var verified sql.NullString
		if err := rows.Scan(&verified); err != nil {
			return time.Time{}, err
		}
		any = true
		if !verified.Valid {
			return time.Time{}, rows.Err()
		}
		var vt SQLiteTime
		if err := vt.Scan(verified.String); err != nil {
			return time.Time{}, nil
		}
		if vt.Time.Before(oldest) {
			oldest = vt.Time
		}
	}
	if !any {
		return time.Now(), rows.Err()
	}
	return oldest, rows.Err()
}

func UpdateLocationCounters(database *sql.DB, locid string) error {
	_, err := database.Exec(
		`UPDATE locations SET
		  media_count = (SELECT COUNT(*) FROM media_files WHERE locid = ? AND hidden = 0),
		  media_bytes = (SELECT COALESCE(SUM(size_bytes), 0) FROM media_files WHERE locid = ? AND hidden = 0),
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE locid = ?`,
		locid, locid, locid,
	)
	return err
}
