package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mkaverti/fieldvault/internal/model"
)

func CreateImportSession(database *sql.DB, s *model.ImportSession) error {
	paths, err := json.Marshal(s.Paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}
	outcomes, err := json.Marshal(s.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	_, err = database.Exec(
		`INSERT INTO import_sessions (session_id, locid, subid, status, stage, paths, outcomes, aborted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.LocID, s.SubID, s.Status, string(s.Stage), string(paths), string(outcomes),
		boolToInt(s.Aborted),
	)
	return err
}

func scanImportSession(scan func(dest ...interface{}) error) (*model.ImportSession, error) {
	s := &model.ImportSession{}
	var stage, pathsJSON, outcomesJSON string
	var aborted int
	var createdAt, updatedAt SQLiteTime
	err := scan(&s.ID, &s.LocID, &s.SubID, &s.Status, &stage,
		&pathsJSON, &outcomesJSON, &aborted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Stage = model.Stage(stage)
	s.Aborted = aborted != 0
	s.CreatedAt = createdAt.Time
	s.UpdatedAt = updatedAt.Time
	if err := json.Unmarshal([]byte(pathsJSON), &s.Paths); err != nil {
		return nil, fmt.Errorf("unmarshal paths: %w", err)
	}
	if err := json.Unmarshal([]byte(outcomesJSON), &s.Outcomes); err != nil {
		return nil, fmt.Errorf("unmarshal outcomes: %w", err)
	}
	return s, nil
}

func GetImportSession(database *sql.DB, id string) (*model.ImportSession, error) {
	row := database.QueryRow(
		`SELECT session_id, locid, subid, status, stage, paths, outcomes, aborted, created_at, updated_at
		 FROM import_sessions WHERE session_id = ?`, id,
	)
	s, err := scanImportSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// SaveImportSessionProgress persists the stage and per-file outcomes in
// one statement so a crash leaves either the old or new consistent row.
func SaveImportSessionProgress(database *sql.DB, s *model.ImportSession) error {
	outcomes, err := json.Marshal(s.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	paths, err := json.Marshal(s.Paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}
	_, err = database.Exec(
		`UPDATE import_sessions SET status = ?, stage = ?, paths = ?, outcomes = ?, aborted = ?,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE session_id = ?`,
		s.Status, string(s.Stage), string(paths), string(outcomes), boolToInt(s.Aborted), s.ID,
	)
	return err
}

func MarkImportSessionAborted(database *sql.DB, id string) error {
	_, err := database.Exec(
		`UPDATE import_sessions SET aborted = 1,
		  updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE session_id = ?`, id,
	)
	return err
}

// ListResumableSessions returns sessions that have not run finalize to
// completion, newest first.
func ListResumableSessions(database *sql.DB) ([]model.ImportSession, error) {
	rows, err := database.Query(
		`SELECT session_id, locid, subid, status, stage, paths, outcomes, aborted, created_at, updated_at
		 FROM import_sessions WHERE status != ? ORDER BY created_at DESC`,
		model.SessionCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ImportSession
	for rows.Next() {
		s, err := scanImportSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
