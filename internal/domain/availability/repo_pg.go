package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ohcnetwork/care-sub000/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const recordCols = `id, subject_kind, subject_id, status, timestamp`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var kind, status string
	if err := row.Scan(&r.ID, &kind, &r.SubjectID, &status, &r.Timestamp); err != nil {
		return nil, err
	}
	r.SubjectKind = Kind(kind)
	r.Status = Status(status)
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

func (p *repoPG) Latest(ctx context.Context, kind Kind, subjectID uuid.UUID) (*Record, error) {
	r, err := scanRecord(db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT `+recordCols+`
		FROM availability_record
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY timestamp DESC, id DESC LIMIT 1`, string(kind), subjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest availability: %w", err)
	}
	return r, nil
}

func (p *repoPG) Append(ctx context.Context, r *Record) error {
	err := db.Conn(ctx, p.pool).QueryRow(ctx, `
		INSERT INTO availability_record (subject_kind, subject_id, status, timestamp)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		string(r.SubjectKind), r.SubjectID, string(r.Status), r.Timestamp,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("append availability: %w", err)
	}
	return nil
}

func (p *repoPG) List(ctx context.Context, kind Kind, subjectID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	conn := db.Conn(ctx, p.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM availability_record
		WHERE subject_kind = $1 AND subject_id = $2`, string(kind), subjectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count availability: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT `+recordCols+`
		FROM availability_record
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY timestamp DESC, id DESC LIMIT $3 OFFSET $4`,
		string(kind), subjectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()
	items := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}
