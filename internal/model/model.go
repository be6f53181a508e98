package model

import "time"

// BagStatus is the persisted integrity state of a location's bag.
type BagStatus string

const (
	BagNone    BagStatus = "none"
	BagValid   BagStatus = "valid"
	BagInvalid BagStatus = "invalid"
	BagMissing BagStatus = "missing"
)

type Location struct {
	ID              string
	Name            string
	Category        string
	Address         string
	MediaCount      int
	MediaBytes      int64
	BagStatus       BagStatus
	BagLastVerified *time.Time
	BagLastError    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MediaType classifies a stored file for placement and follow-on jobs.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaMap      MediaType = "map"
)

type MediaFile struct {
	ID           string
	LocID        string
	SubID        string
	MediaType    MediaType
	OriginalName string
	// ArchivePath is relative to the location's bag directory,
	// always starting with "data/".
	ArchivePath  string
	Hash         string
	SizeBytes    int64
	Width        *int64
	Height       *int64
	DurationSecs *float64
	PHash        *string
	ThumbPath    *string
	ProxyPath    *string
	Hidden       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stage is an import pipeline stage. Stages only advance forward within
// a session; resume re-enters at the last incomplete stage.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageHash     Stage = "hash"
	StagePlace    Stage = "place"
	StageExtract  Stage = "extract"
	StageFinalize Stage = "finalize"
)

// Next returns the stage after s, or "" when s is the last stage.
func (s Stage) Next() Stage {
	switch s {
	case StageDiscover:
		return StageHash
	case StageHash:
		return StagePlace
	case StagePlace:
		return StageExtract
	case StageExtract:
		return StageFinalize
	}
	return ""
}

const (
	SessionRunning   = "running"
	SessionCancelled = "cancelled"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// FileOutcome records what happened to one candidate file. The session's
// outcome list is the source of truth consulted on resume so that no
// completed side effect is repeated.
type FileOutcome struct {
	Path      string `json:"path"`
	Status    string `json:"status"` // pending|hashed|copied|stored|duplicate|error
	Hash      string `json:"hash,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Error     string `json:"error,omitempty"`
	MediaID   string `json:"mediaId,omitempty"`

	// Structural metadata gathered by the extract stage, persisted so
	// that resume can finalize without re-reading the file.
	SizeBytes    int64    `json:"sizeBytes,omitempty"`
	Width        *int64   `json:"width,omitempty"`
	Height       *int64   `json:"height,omitempty"`
	DurationSecs *float64 `json:"durationSecs,omitempty"`
}

const (
	OutcomePending   = "pending"
	OutcomeHashed    = "hashed"
	OutcomeCopied    = "copied"
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

type ImportSession struct {
	ID        string
	LocID     string
	SubID     string
	Status    string
	Stage     Stage
	Paths     []string
	Outcomes  []FileOutcome
	Aborted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobDead       = "dead"
)

// Job priorities; higher dequeues first.
const (
	PriorityLow    = 0
	PriorityNormal = 25
	PriorityHigh   = 50
)

type Job struct {
	ID          string
	Queue       string
	Payload     string
	PayloadKey  string
	Priority    int
	Status      string
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DeadLetterEntry struct {
	ID            string
	OriginalJobID string
	Queue         string
	Payload       string
	Reason        string
	Attempts      int
	Acknowledged  bool
	Retried       bool
	CreatedAt     time.Time
}
