package model

import "errors"

// Precondition errors abort an operation before any side effect and are
// surfaced verbatim to the caller.
var (
	ErrArchiveNotConfigured = errors.New("archive folder not configured")
	ErrLocationNotFound     = errors.New("location not found")
	ErrSessionNotFound      = errors.New("import session not found")
)
