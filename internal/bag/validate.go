package bag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkaverti/fieldvault/internal/content"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/model"
)

// EntryError describes one failed manifest entry. Missing files and
// checksum mismatches are reported distinctly.
type EntryError struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"` // "missing" | "mismatch" | "extra"
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Report is the outcome of validating one location's bag.
type Report struct {
	LocID   string          `json:"locid"`
	Status  model.BagStatus `json:"status"`
	Checked int             `json:"checked"`
	Errors  []EntryError    `json:"errors,omitempty"`
}

// Valid reports whether every manifest entry verified.
func (r *Report) Valid() bool {
	return r.Status == model.BagValid
}

// Summary aggregates a validate-all run.
type Summary struct {
	Locations int `json:"locations"`
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Missing   int `json:"missing"`
}

// Validator re-verifies bags against live files. Hashing is throttled
// through the limiter (files per second) so scheduled background runs
// do not starve foreground imports.
type Validator struct {
	DB      *sql.DB
	Sync    *Synchronizer
	Limiter *rate.Limiter

	// ValidateEvery is how stale the oldest verification may get
	// before IsValidationDue reports true.
	ValidateEvery time.Duration
}

// ValidateOne recomputes checksums for every manifest entry of the
// location and compares them against recorded values. The outcome is
// persisted on the location row; a mismatch is only ever reported,
// never repaired.
func (v *Validator) ValidateOne(ctx context.Context, locid string) (*Report, error) {
	loc, err := db.GetLocation(v.DB, locid)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, fmt.Errorf("location %s: %w", locid, model.ErrLocationNotFound)
	}

	report := v.verify(ctx, locid)

	verifyErr := ""
	if len(report.Errors) > 0 {
		verifyErr = summarizeErrors(report.Errors)
	}
	if err := db.SetBagStatus(v.DB, locid, report.Status, time.Now(), verifyErr); err != nil {
		return nil, fmt.Errorf("persist bag status for %s: %w", locid, err)
	}
	return report, nil
}

func (v *Validator) verify(ctx context.Context, locid string) *Report {
	report := &Report{LocID: locid, Status: model.BagValid}
	dir := v.Sync.BagDir(locid)

	entries, err := ReadManifest(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			report.Status = model.BagMissing
			report.Errors = append(report.Errors, EntryError{Path: manifestName, Kind: "missing"})
			return report
		}
		report.Status = model.BagInvalid
		report.Errors = append(report.Errors, EntryError{Path: manifestName, Kind: "mismatch", Actual: err.Error()})
		return report
	}

	manifested := make(map[string]bool, len(entries))
	for _, e := range entries {
		manifested[e.Path] = true

		if v.Limiter != nil {
			if err := v.Limiter.Wait(ctx); err != nil {
				report.Status = model.BagInvalid
				return report
			}
		}

		full := filepath.Join(dir, filepath.FromSlash(e.Path))
		if _, err := os.Stat(full); os.IsNotExist(err) {
			report.Errors = append(report.Errors, EntryError{Path: e.Path, Kind: "missing", Expected: e.Hash})
			continue
		}
		actual, err := content.Identify(full)
		if err != nil {
			report.Errors = append(report.Errors, EntryError{Path: e.Path, Kind: "mismatch", Expected: e.Hash, Actual: "unreadable: " + err.Error()})
			continue
		}
		report.Checked++
		if actual != e.Hash {
			report.Errors = append(report.Errors, EntryError{Path: e.Path, Kind: "mismatch", Expected: e.Hash, Actual: actual})
		}
	}

	// Payload files on disk that the manifest does not cover make the
	// bag incomplete in the other direction.
	root := filepath.Join(dir, "data")
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !manifested[rel] {
			report.Errors = append(report.Errors, EntryError{Path: rel, Kind: "extra"})
		}
		return nil
	})

	if len(report.Errors) > 0 {
		report.Status = model.BagInvalid
	}
	return report
}

// ValidateAll batch-runs ValidateOne across all locations holding
// media, reporting progress through the callback.
func (v *Validator) ValidateAll(ctx context.Context, progress func(done, total int, locid string)) (*Summary, error) {
	locations, err := db.ListLocations(v.DB)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	total := len(locations)
	for i, loc := range locations {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if loc.MediaCount == 0 && loc.BagStatus == model.BagNone {
			continue
		}
		summary.Locations++

		report, err := v.ValidateOne(ctx, loc.ID)
		if err != nil {
			slog.Error("validate bag", "locid", loc.ID, "error", err)
			summary.Invalid++
		} else {
			switch report.Status {
			case model.BagValid:
				summary.Valid++
			case model.BagMissing:
				summary.Missing++
			default:
				summary.Invalid++
			}
		}
		if progress != nil {
			progress(i+1, total, loc.ID)
		}
	}
	slog.Info("bag validation finished", "locations", summary.Locations,
		"valid", summary.Valid, "invalid", summary.Invalid, "missing", summary.Missing)
	return summary, nil
}

// IsValidationDue reports whether the oldest verification is older than
// the configured window.
func (v *Validator) IsValidationDue() (bool, error) {
	every := v.ValidateEvery
	if every == 0 {
		every = 7 * 24 * time.Hour
	}
	oldest, err := db.OldestBagVerification(v.DB)
	if err != nil {
		return false, err
	}
	return time.Since(oldest) >= every, nil
}

// ScheduleValidationIfDue kicks off a background full validation when
// one is due. Returns true when a run was started.
func (v *Validator) ScheduleValidationIfDue(ctx context.Context) (bool, error) {
	due, err := v.IsValidationDue()
	if err != nil || !due {
		return false, err
	}
	go func() {
		if _, err := v.ValidateAll(ctx, nil); err != nil && ctx.Err() == nil {
			slog.Error("scheduled bag validation", "error", err)
		}
	}()
	slog.Info("scheduled bag validation started")
	return true, nil
}

func summarizeErrors(errs []EntryError) string {
	var parts []string
	for i, e := range errs {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(errs)-3))
			break
		}
		parts = append(parts, e.Kind+": "+e.Path)
	}
	return strings.Join(parts, "; ")
}
