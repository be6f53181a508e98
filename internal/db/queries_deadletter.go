package db

import (
	"database/sql"

	"github.com/mkaverti/fieldvault/internal/model"
)

func scanDeadLetter(scan func(dest ...interface{}) error) (*model.DeadLetterEntry, error) {
	e := &model.DeadLetterEntry{}
	var acknowledged, retried int
	var createdAt SQLiteTime
	err := scan(&e.ID, &e.OriginalJobID, &e.Queue, &e.Payload, &e.Reason,
		&e.Attempts, &acknowledged, &retried, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Acknowledged = acknowledged != 0
	e.Retried = retried != 0
	e.CreatedAt = createdAt.Time
	return e, nil
}

// ListDeadLetters returns unacknowledged dead-letter entries, optionally
// filtered to one queue, newest first.
func ListDeadLetters(database *sql.DB, queue string) ([]model.DeadLetterEntry, error) {
	query := `SELECT id, original_job_id, queue, payload, reason, attempts,
	   acknowledged, retried, created_at
	  FROM dead_letter WHERE acknowledged = 0`
	args := []interface{}{}
	if queue != "" {
		query += ` AND queue = ?`
		args = append(args, queue)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func GetDeadLetter(database *sql.DB, id string) (*model.DeadLetterEntry, error) {
	row := database.QueryRow(
		`SELECT id, original_job_id, queue, payload, reason, attempts,
		   acknowledged, retried, created_at
		 FROM dead_letter WHERE id = ?`, id,
	)
	e, err := scanDeadLetter(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func MarkDeadLetterRetried(database *sql.DB, id string) error {
	_, err := database.Exec(`UPDATE dead_letter SET retried = 1 WHERE id = ?`, id)
	return err
}

func AcknowledgeDeadLetters(database *sql.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE dead_letter SET acknowledged = 1 WHERE id IN (`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += `)`
	_, err := database.Exec(query, args...)
	return err
}
