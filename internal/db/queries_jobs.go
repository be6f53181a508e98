package db

import (
	"database/sql"
	"time"

	"github.com/mkaverti/fieldvault/internal/model"
)

// EnqueueJobIfNotExists inserts a pending job unless a pending or
// processing job with the same queue and payload key already exists.
// Returns true when an equivalent job was already queued (no row
// inserted).
func EnqueueJobIfNotExists(database *sql.DB, j *model.Job) (alreadyExists bool, err error) {
	res, err := database.Exec(
		`INSERT INTO jobs (job_id, queue, payload, payload_key, priority, status, max_attempts, available_at)
		 SELECT ?, ?, ?, ?, ?, 'pending', ?, ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM jobs WHERE queue = ? AND payload_key = ? AND status IN ('pending', 'processing')
		 )`,
		j.ID, j.Queue, j.Payload, j.PayloadKey, j.Priority, j.MaxAttempts,
		j.AvailableAt.UTC().Format(time.RFC3339),
		j.Queue, j.PayloadKey,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 0, nil
}

// ClaimNextJob atomically transitions the best eligible pending job on
// the queue to processing and returns it. Eligibility: available_at has
// passed. Order: priority descending, then FIFO.
func ClaimNextJob(database *sql.DB, queue string, now time.Time) (*model.Job, error) {
	row := database.QueryRow(
		`UPDATE jobs
		 SET status = 'processing', attempts = attempts + 1,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE job_id = (
		   SELECT job_id FROM jobs
		   WHERE queue = ? AND status = 'pending' AND available_at <= ?
		   ORDER BY priority DESC, created_at ASC LIMIT 1
		 )
		 RETURNING job_id, queue, payload, payload_key, priority, status,
		           attempts, max_attempts, available_at, COALESCE(last_error, ''),
		           created_at, updated_at`,
		queue, now.UTC().Format(time.RFC3339),
	)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func scanJob(scan func(dest ...interface{}) error) (*model.Job, error) {
	j := &model.Job{}
	var availableAt, createdAt, updatedAt SQLiteTime
	err := scan(&j.ID, &j.Queue, &j.Payload, &j.PayloadKey, &j.Priority, &j.Status,
		&j.Attempts, &j.MaxAttempts, &availableAt, &j.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.AvailableAt = availableAt.Time
	j.CreatedAt = createdAt.Time
	j.UpdatedAt = updatedAt.Time
	return j, nil
}

func GetJob(database *sql.DB, id string) (*model.Job, error) {
	row := database.QueryRow(
		`SELECT job_id, queue, payload, payload_key, priority, status,
		   attempts, max_attempts, available_at, COALESCE(last_error, ''),
		   created_at, updated_at
		 FROM jobs WHERE job_id = ?`, id,
	)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func CompleteJob(database *sql.DB, id string) error {
	_, err := database.Exec(
		`UPDATE jobs SET status = 'completed', last_error = NULL,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE job_id = ?`, id,
	)
	return err
}

// RescheduleJob returns a failed attempt to pending with a new
// availability time for backoff.
func RescheduleJob(database *sql.DB, id string, availableAt time.Time, lastError string) error {
	_, err := database.Exec(
		`UPDATE jobs SET status = 'pending', available_at = ?, last_error = ?,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE job_id = ?`,
		availableAt.UTC().Format(time.RFC3339), lastError, id,
	)
	return err
}

// MoveJobToDeadLetter marks the job dead and records a dead-letter
// entry in one transaction, so an exhausted job is never lost between
// the two writes.
func MoveJobToDeadLetter(database *sql.DB, j *model.Job, entryID, reason string) error {
	tx, err := database.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE jobs SET status = 'dead', last_error = ?,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE job_id = ?`, reason, j.ID,
	); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO dead_letter (id, original_job_id, queue, payload, reason, attempts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entryID, j.ID, j.Queue, j.Payload, reason, j.Attempts,
	); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ClearCompletedJobs deletes completed jobs older than the cutoff and
// returns the number removed.
func ClearCompletedJobs(database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.Exec(
		`DELETE FROM jobs WHERE status = 'completed' AND updated_at < ?`,
		cutoff.UTC().Format("2006-01-02T15:04:05.000Z"),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func CountJobsByStatus(database *sql.DB, queue string) (map[string]int, error) {
	rows, err := database.Query(
		`SELECT status, COUNT(*) FROM jobs WHERE queue = ? GROUP BY status`, queue,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
