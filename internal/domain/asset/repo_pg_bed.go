package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/db"
)

// -- Bed --

type bedRepoPG struct{ pool *pgxpool.Pool }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository {
	return &bedRepoPG{pool: pool}
}

const bedCols = `b.id, b.facility_id, b.location_id, b.name, b.description, b.created_at, b.modified_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.FacilityID, &b.LocationID, &b.Name, &b.Description,
		&b.CreatedAt, &b.ModifiedAt)
	return &b, err
}

func (r *bedRepoPG) CreateBed(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bed (id, facility_id, location_id, name, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, modified_at`,
		b.ID, b.FacilityID, b.LocationID, b.Name, b.Description,
	).Scan(&b.CreatedAt, &b.ModifiedAt)
	if err != nil {
		return writeErr("insert bed", err)
	}
	return nil
}

func (r *bedRepoPG) UpdateBed(ctx context.Context, b *Bed) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE bed SET name = $2, description = $3, location_id = $4, modified_at = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING modified_at`,
		b.ID, b.Name, b.Description, b.LocationID,
	).Scan(&b.ModifiedAt)
	return notFound(err)
}

func (r *bedRepoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+bedCols+` FROM bed b WHERE b.id = $1 AND NOT b.deleted`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *bedRepoPG) LockBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+bedCols+` FROM bed b WHERE b.id = $1 AND NOT b.deleted FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *bedRepoPG) ListBeds(ctx context.Context, f BedFilter) ([]*Bed, int, error) {
	scope, args := f.Caller.FacilityFilter("f", 1)
	clauses := []string{"NOT b.deleted", scope}
	if f.FacilityID != nil {
		args = append(args, *f.FacilityID)
		clauses = append(clauses, fmt.Sprintf("b.facility_id = $%d", len(args)))
	}
	if f.LocationID != nil {
		args = append(args, *f.LocationID)
		clauses = append(clauses, fmt.Sprintf("b.location_id = $%d", len(args)))
	}
	from := ` FROM bed b JOIN facility f ON f.id = b.facility_id WHERE ` + strings.Join(clauses, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count beds: %w", err)
	}
	n := len(args)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+bedCols+from+fmt.Sprintf(` ORDER BY b.name LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list beds: %w", err)
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *bedRepoPG) DeleteBed(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE bed SET deleted = TRUE, modified_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bedRepoPG) BedNameTaken(ctx context.Context, locationID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bed
			WHERE location_id = $1 AND LOWER(name) = LOWER($2) AND id <> $3 AND NOT deleted)`,
		locationID, name, exclude).Scan(&ok)
	return ok, err
}

// -- AssetBed --

type assetBedRepoPG struct{ pool *pgxpool.Pool }

func NewAssetBedRepoPG(pool *pgxpool.Pool) AssetBedRepository {
	return &assetBedRepoPG{pool: pool}
}

const assetBedSelect = `SELECT ab.id, ab.asset_id, ab.bed_id, ab.meta, ab.created_at, ab.modified_at,
	a.asset_class, b.facility_id
	FROM asset_bed ab
	JOIN asset a ON a.id = ab.asset_id
	JOIN bed b ON b.id = ab.bed_id`

func scanAssetBed(row pgx.Row) (*AssetBed, error) {
	var ab AssetBed
	var class *string
	err := row.Scan(&ab.ID, &ab.AssetID, &ab.BedID, &ab.Meta, &ab.CreatedAt, &ab.ModifiedAt,
		&class, &ab.FacilityID)
	if class != nil {
		c := devices.Class(*class)
		ab.AssetClass = &c
	}
	if ab.Meta == nil {
		ab.Meta = map[string]interface{}{}
	}
	return &ab, err
}

func (r *assetBedRepoPG) CreateAssetBed(ctx context.Context, ab *AssetBed) error {
	ab.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO asset_bed (id, asset_id, bed_id, meta)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, modified_at`,
		ab.ID, ab.AssetID, ab.BedID, metaArg(ab.Meta),
	).Scan(&ab.CreatedAt, &ab.ModifiedAt)
	if err != nil {
		return writeErr("insert asset bed", err)
	}
	return nil
}

func (r *assetBedRepoPG) UpdateAssetBed(ctx context.Context, ab *AssetBed) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE asset_bed SET meta = $2, modified_at = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING modified_at`, ab.ID, metaArg(ab.Meta)).Scan(&ab.ModifiedAt)
	return notFound(err)
}

func (r *assetBedRepoPG) GetAssetBed(ctx context.Context, id uuid.UUID) (*AssetBed, error) {
	ab, err := scanAssetBed(db.Conn(ctx, r.pool).QueryRow(ctx,
		assetBedSelect+` WHERE ab.id = $1 AND NOT ab.deleted`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return ab, nil
}

func (r *assetBedRepoPG) ListAssetBeds(ctx context.Context, f AssetBedFilter) ([]*AssetBed, int, error) {
	scope, args := f.Caller.FacilityFilter("f", 1)
	clauses := []string{"NOT ab.deleted", scope}
	if f.AssetID != nil {
		args = append(args, *f.AssetID)
		clauses = append(clauses, fmt.Sprintf("ab.asset_id = $%d", len(args)))
	}
	if f.BedID != nil {
		args = append(args, *f.BedID)
		clauses = append(clauses, fmt.Sprintf("ab.bed_id = $%d", len(args)))
	}
	join := ` JOIN facility f ON f.id = b.facility_id WHERE ` + strings.Join(clauses, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM asset_bed ab
		JOIN bed b ON b.id = ab.bed_id`+join, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count asset beds: %w", err)
	}
	n := len(args)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		assetBedSelect+join+fmt.Sprintf(` ORDER BY ab.created_at LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list asset beds: %w", err)
	}
	defer rows.Close()
	var items []*AssetBed
	for rows.Next() {
		ab, err := scanAssetBed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ab)
	}
	return items, total, rows.Err()
}

func (r *assetBedRepoPG) tombstone(ctx context.Context, where string, arg uuid.UUID) (int64, error) {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		UPDATE camera_preset SET deleted = TRUE, modified_at = NOW()
		WHERE NOT deleted AND asset_bed_id IN (
			SELECT id FROM asset_bed WHERE NOT deleted AND `+where+`)`, arg); err != nil {
		return 0, fmt.Errorf("tombstone camera presets: %w", err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE asset_bed SET deleted = TRUE, modified_at = NOW()
		WHERE NOT deleted AND `+where, arg)
	if err != nil {
		return 0, fmt.Errorf("tombstone asset beds: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *assetBedRepoPG) DeleteAssetBed(ctx context.Context, id uuid.UUID) error {
	n, err := r.tombstone(ctx, "id = $1", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assetBedRepoPG) DeleteAssetBedsForAsset(ctx context.Context, assetID uuid.UUID) error {
	_, err := r.tombstone(ctx, "asset_id = $1", assetID)
	return err
}

func (r *assetBedRepoPG) DeleteAssetBedsForBed(ctx context.Context, bedID uuid.UUID) error {
	_, err := r.tombstone(ctx, "bed_id = $1", bedID)
	return err
}

func (r *assetBedRepoPG) AssetBedExists(ctx context.Context, assetID, bedID uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM asset_bed
			WHERE asset_id = $1 AND bed_id = $2 AND NOT deleted)`, assetID, bedID).Scan(&ok)
	return ok, err
}

func (r *assetBedRepoPG) CountMonitorLinks(ctx context.Context, bedID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM asset_bed ab JOIN asset a ON a.id = ab.asset_id
		WHERE ab.bed_id = $1 AND NOT ab.deleted AND NOT a.deleted AND a.asset_class = $2`,
		bedID, string(devices.VitalsMonitor)).Scan(&n)
	return n, err
}

// -- CameraPreset --

type presetRepoPG struct{ pool *pgxpool.Pool }

func NewPresetRepoPG(pool *pgxpool.Pool) PresetRepository {
	return &presetRepoPG{pool: pool}
}

const presetCols = `id, asset_bed_id, name, position, boundary, created_by, created_at, modified_at`

func scanPreset(row pgx.Row) (*CameraPreset, error) {
	var p CameraPreset
	var position, boundary []byte
	if err := row.Scan(&p.ID, &p.AssetBedID, &p.Name, &position, &boundary,
		&p.CreatedBy, &p.CreatedAt, &p.ModifiedAt); err != nil {
		return nil, err
	}
	if position != nil {
		p.Position = &Position{}
		if err := json.Unmarshal(position, p.Position); err != nil {
			return nil, fmt.Errorf("decode preset position: %w", err)
		}
	}
	if boundary != nil {
		p.Boundary = &Boundary{}
		if err := json.Unmarshal(boundary, p.Boundary); err != nil {
			return nil, fmt.Errorf("decode preset boundary: %w", err)
		}
	}
	return &p, nil
}

func jsonArg(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *Position:
		if t == nil {
			return nil, nil
		}
	case *Boundary:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func (r *presetRepoPG) CreatePreset(ctx context.Context, p *CameraPreset) error {
	p.ID = uuid.New()
	position, err := jsonArg(p.Position)
	if err != nil {
		return err
	}
	boundary, err := jsonArg(p.Boundary)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO camera_preset (id, asset_bed_id, name, position, boundary, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
		RETURNING created_at, modified_at`,
		p.ID, p.AssetBedID, p.Name, position, boundary, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.ModifiedAt)
	if err != nil {
		return writeErr("insert camera preset", err)
	}
	return nil
}

func (r *presetRepoPG) GetPreset(ctx context.Context, id uuid.UUID) (*CameraPreset, error) {
	p, err := scanPreset(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+presetCols+` FROM camera_preset WHERE id = $1 AND NOT deleted`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *presetRepoPG) ListPresets(ctx context.Context, assetBedID uuid.UUID) ([]*CameraPreset, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+presetCols+` FROM camera_preset
		WHERE asset_bed_id = $1 AND NOT deleted ORDER BY created_at`, assetBedID)
	if err != nil {
		return nil, fmt.Errorf("list camera presets: %w", err)
	}
	defer rows.Close()
	items := []*CameraPreset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *presetRepoPG) DeletePreset(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE camera_preset SET deleted = TRUE, modified_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *presetRepoPG) BoundaryExists(ctx context.Context, assetBedID uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM camera_preset
			WHERE asset_bed_id = $1 AND boundary IS NOT NULL AND NOT deleted)`, assetBedID).Scan(&ok)
	return ok, err
}

func (r *presetRepoPG) PresetNameTaken(ctx context.Context, bedID uuid.UUID, name string) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM camera_preset p JOIN asset_bed ab ON ab.id = p.asset_bed_id
			WHERE ab.bed_id = $1 AND p.name = $2 AND NOT p.deleted AND NOT ab.deleted)`,
		bedID, name).Scan(&ok)
	return ok, err
}

func (r *presetRepoPG) ListBoundaries(ctx context.Context, assetID uuid.UUID) (map[uuid.UUID]Boundary, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT p.asset_bed_id, p.boundary FROM camera_preset p
		JOIN asset_bed ab ON ab.id = p.asset_bed_id
		WHERE ab.asset_id = $1 AND p.boundary IS NOT NULL AND NOT p.deleted AND NOT ab.deleted`,
		assetID)
	if err != nil {
		return nil, fmt.Errorf("list boundaries: %w", err)
	}
	defer rows.Close()
	out := map[uuid.UUID]Boundary{}
	for rows.Next() {
		var id uuid.UUID
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var b Boundary
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode boundary: %w", err)
		}
		out[id] = b
	}
	return out, rows.Err()
}
