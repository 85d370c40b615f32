package availability

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only availability log.
type Repository interface {
	// Latest returns the most recent record of the subject, or nil.
	Latest(ctx context.Context, kind Kind, subjectID uuid.UUID) (*Record, error)
	Append(ctx context.Context, r *Record) error
	// List returns records newest first.
	List(ctx context.Context, kind Kind, subjectID uuid.UUID, limit, offset int) ([]*Record, int, error)
}
