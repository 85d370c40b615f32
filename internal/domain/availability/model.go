// Package availability keeps the reachability log of assets and locations
// and runs the sweeps that feed it.
package availability

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAsset    Kind = "asset"
	KindLocation Kind = "location"
)

type Status string

const (
	StatusOperational      Status = "OPERATIONAL"
	StatusDown             Status = "DOWN"
	StatusUnderMaintenance Status = "UNDER_MAINTENANCE"
)

// StatusFromWord maps a middleware status word. Anything unrecognised is
// treated as DOWN.
func StatusFromWord(w string) Status {
	switch w {
	case "up":
		return StatusOperational
	case "maintenance":
		return StatusUnderMaintenance
	default:
		return StatusDown
	}
}

// Record is one state change of a subject. Records are never updated.
type Record struct {
	ID          int64     `json:"id"`
	SubjectKind Kind      `json:"subject_kind"`
	SubjectID   uuid.UUID `json:"subject_id"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// ShouldAppend reports whether an observation becomes a new record given
// the latest one: always when there is none, else only when it is strictly
// later and differs in status.
func ShouldAppend(latest *Record, status Status, at time.Time) bool {
	if latest == nil {
		return true
	}
	return at.After(latest.Timestamp) && status != latest.Status
}
