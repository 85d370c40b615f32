package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/db"
)

// bumpModifiedSQL stamps a write with a modification time strictly later
// than the row's previous one, taken after the row lock is acquired.
const bumpModifiedSQL = `modified_at = GREATEST(clock_timestamp(), modified_at + INTERVAL '1 microsecond')`

// resolvedHostSQL mirrors ResolveHostname. The asset-meta term matches the
// idx_asset_meta_hostname expression index.
const resolvedHostSQL = `COALESCE(NULLIF(a.meta->>'middleware_hostname', ''),
	NULLIF(l.middleware_hostname, ''), NULLIF(f.middleware_hostname, ''), '')`

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%v: %w", err, ErrDuplicate)
	}
	return err
}

func writeErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -- Facility --

type facilityRepoPG struct{ pool *pgxpool.Pool }

func NewFacilityRepoPG(pool *pgxpool.Pool) FacilityRepository {
	return &facilityRepoPG{pool: pool}
}

func (r *facilityRepoPG) GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error) {
	var f Facility
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, state_id, district_id, middleware_hostname
		FROM facility WHERE id = $1 AND NOT deleted`, id).
		Scan(&f.ID, &f.Name, &f.StateID, &f.DistrictID, &f.MiddlewareHostname)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (r *facilityRepoPG) FacilityExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM facility WHERE id = $1 AND NOT deleted)`, id).Scan(&ok)
	return ok, err
}

func (r *facilityRepoPG) FacilityUsesHost(ctx context.Context, id uuid.UUID, host string) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM facility f
			WHERE f.id = $1 AND NOT f.deleted AND (
				LOWER(f.middleware_hostname) = $2
				OR EXISTS (
					SELECT 1 FROM asset_location l
					WHERE l.facility_id = f.id AND NOT l.deleted
					AND LOWER(l.middleware_hostname) = $2)
				OR EXISTS (
					SELECT 1 FROM asset a
					JOIN asset_location l ON l.id = a.current_location_id
					WHERE l.facility_id = f.id AND NOT a.deleted
					AND LOWER(a.meta->>'middleware_hostname') = $2)))`,
		id, strings.ToLower(host)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("facility uses host: %w", err)
	}
	return ok, nil
}

// -- AssetLocation --

type locationRepoPG struct{ pool *pgxpool.Pool }

func NewLocationRepoPG(pool *pgxpool.Pool) LocationRepository {
	return &locationRepoPG{pool: pool}
}

const locationSelect = `SELECT l.id, l.facility_id, l.name, l.description, l.location_type,
	l.middleware_hostname, l.created_at, l.modified_at,
	COALESCE(NULLIF(l.middleware_hostname, ''), NULLIF(f.middleware_hostname, ''), '')
	FROM asset_location l JOIN facility f ON f.id = l.facility_id`

func scanLocation(row pgx.Row) (*AssetLocation, error) {
	var l AssetLocation
	var lt string
	err := row.Scan(&l.ID, &l.FacilityID, &l.Name, &l.Description, &lt,
		&l.MiddlewareHostname, &l.CreatedAt, &l.ModifiedAt, &l.ResolvedMiddlewareHostname)
	l.LocationType = LocationType(lt)
	return &l, err
}

func (r *locationRepoPG) CreateLocation(ctx context.Context, l *AssetLocation) error {
	l.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO asset_location (id, facility_id, name, description, location_type, middleware_hostname)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, modified_at`,
		l.ID, l.FacilityID, l.Name, l.Description, string(l.LocationType), l.MiddlewareHostname,
	).Scan(&l.CreatedAt, &l.ModifiedAt)
	if err != nil {
		return writeErr("insert asset location", err)
	}
	return nil
}

func (r *locationRepoPG) UpdateLocation(ctx context.Context, l *AssetLocation) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE asset_location SET name = $2, description = $3, location_type = $4,
			middleware_hostname = $5, modified_at = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING modified_at`,
		l.ID, l.Name, l.Description, string(l.LocationType), l.MiddlewareHostname,
	).Scan(&l.ModifiedAt)
	return notFound(err)
}

func (r *locationRepoPG) GetLocation(ctx context.Context, id uuid.UUID) (*AssetLocation, error) {
	l, err := scanLocation(db.Conn(ctx, r.pool).QueryRow(ctx,
		locationSelect+` WHERE l.id = $1 AND NOT l.deleted`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

func (r *locationRepoPG) ListLocations(ctx context.Context, f LocationFilter) ([]*AssetLocation, int, error) {
	scope, args := f.Caller.FacilityFilter("f", 2)
	where := ` WHERE NOT l.deleted AND l.facility_id = $1 AND ` + scope
	args = append([]interface{}{f.FacilityID}, args...)

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM asset_location l JOIN facility f ON f.id = l.facility_id`+where,
		args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count asset locations: %w", err)
	}

	n := len(args)
	query := locationSelect + where + fmt.Sprintf(` ORDER BY l.name LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list asset locations: %w", err)
	}
	defer rows.Close()
	var items []*AssetLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *locationRepoPG) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE asset_location SET deleted = TRUE, modified_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *locationRepoPG) LocationNameTaken(ctx context.Context, facilityID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM asset_location
			WHERE facility_id = $1 AND name = $2 AND id <> $3 AND NOT deleted)`,
		facilityID, name, exclude).Scan(&ok)
	return ok, err
}

func (r *locationRepoPG) LocationInUse(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bed WHERE location_id = $1 AND NOT deleted)
			OR EXISTS (SELECT 1 FROM asset WHERE current_location_id = $1 AND NOT deleted)`,
		id).Scan(&ok)
	return ok, err
}

func (r *locationRepoPG) ListLocationsWithHost(ctx context.Context) ([]*AssetLocation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, locationSelect+`
		WHERE NOT l.deleted AND NOT f.deleted
		AND COALESCE(NULLIF(l.middleware_hostname, ''), NULLIF(f.middleware_hostname, '')) IS NOT NULL
		ORDER BY l.id`)
	if err != nil {
		return nil, fmt.Errorf("list locations with middleware: %w", err)
	}
	defer rows.Close()
	var items []*AssetLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

// -- Asset --

type assetRepoPG struct{ pool *pgxpool.Pool }

func NewAssetRepoPG(pool *pgxpool.Pool) AssetRepository {
	return &assetRepoPG{pool: pool}
}

const assetSelect = `SELECT a.id, a.name, a.description, a.asset_type, a.asset_class, a.status,
	a.is_working, a.not_working_reason, a.serial_number, a.manufacturer, a.vendor_name,
	a.support_name, a.support_phone, a.support_email, a.qr_code_id,
	a.warranty_amc_end_of_validity, a.last_serviced_on, a.notes, a.meta,
	a.current_location_id, a.created_at, a.modified_at,
	l.facility_id, ` + resolvedHostSQL + `
	FROM asset a
	JOIN asset_location l ON l.id = a.current_location_id
	JOIN facility f ON f.id = l.facility_id`

func scanAsset(row pgx.Row) (*Asset, error) {
	var a Asset
	var assetType, status string
	var class *string
	var warranty, serviced *time.Time
	err := row.Scan(&a.ID, &a.Name, &a.Description, &assetType, &class, &status,
		&a.IsWorking, &a.NotWorkingReason, &a.SerialNumber, &a.Manufacturer, &a.VendorName,
		&a.SupportName, &a.SupportPhone, &a.SupportEmail, &a.QRCodeID,
		&warranty, &serviced, &a.Notes, &a.Meta,
		&a.CurrentLocationID, &a.CreatedAt, &a.ModifiedAt,
		&a.FacilityID, &a.ResolvedMiddlewareHostname)
	if err != nil {
		return nil, err
	}
	a.AssetType = Type(assetType)
	a.Status = Status(status)
	if class != nil {
		c := devices.Class(*class)
		a.AssetClass = &c
	}
	if warranty != nil {
		d := DateOf(*warranty)
		a.WarrantyAMCEndOfValidity = &d
	}
	if serviced != nil {
		d := DateOf(*serviced)
		a.LastServicedOn = &d
	}
	if a.Meta == nil {
		a.Meta = map[string]interface{}{}
	}
	return &a, nil
}

func classArg(c *devices.Class) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func dateArg(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func metaArg(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func (r *assetRepoPG) CreateAsset(ctx context.Context, a *Asset) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO asset (id, name, description, asset_type, asset_class, status,
			is_working, not_working_reason, serial_number, manufacturer, vendor_name,
			support_name, support_phone, support_email, qr_code_id,
			warranty_amc_end_of_validity, last_serviced_on, notes, meta, current_location_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, modified_at`,
		a.ID, a.Name, a.Description, string(a.AssetType), classArg(a.AssetClass), string(a.Status),
		a.IsWorking, a.NotWorkingReason, a.SerialNumber, a.Manufacturer, a.VendorName,
		a.SupportName, a.SupportPhone, a.SupportEmail, a.QRCodeID,
		dateArg(a.WarrantyAMCEndOfValidity), dateArg(a.LastServicedOn), a.Notes, metaArg(a.Meta),
		a.CurrentLocationID,
	).Scan(&a.CreatedAt, &a.ModifiedAt)
	if err != nil {
		return writeErr("insert asset", err)
	}
	return nil
}

func (r *assetRepoPG) UpdateAsset(ctx context.Context, a *Asset) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE asset SET name = $2, description = $3, asset_type = $4, asset_class = $5,
			status = $6, is_working = $7, not_working_reason = $8, serial_number = $9,
			manufacturer = $10, vendor_name = $11, support_name = $12, support_phone = $13,
			support_email = $14, qr_code_id = $15, warranty_amc_end_of_validity = $16,
			last_serviced_on = $17, notes = $18, meta = $19, current_location_id = $20,
			`+bumpModifiedSQL+`
		WHERE id = $1 AND NOT deleted
		RETURNING modified_at`,
		a.ID, a.Name, a.Description, string(a.AssetType), classArg(a.AssetClass),
		string(a.Status), a.IsWorking, a.NotWorkingReason, a.SerialNumber,
		a.Manufacturer, a.VendorName, a.SupportName, a.SupportPhone,
		a.SupportEmail, a.QRCodeID, dateArg(a.WarrantyAMCEndOfValidity),
		dateArg(a.LastServicedOn), a.Notes, metaArg(a.Meta), a.CurrentLocationID,
	).Scan(&a.ModifiedAt)
	return notFound(err)
}

func (r *assetRepoPG) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	a, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx,
		assetSelect+` WHERE a.id = $1 AND NOT a.deleted`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *assetRepoPG) LockAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	a, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx,
		assetSelect+` WHERE a.id = $1 AND NOT a.deleted FOR UPDATE OF a`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *assetRepoPG) GetAssetByQR(ctx context.Context, qr string) (*Asset, error) {
	a, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx,
		assetSelect+` WHERE a.qr_code_id = $1 AND NOT a.deleted`, qr))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *assetRepoPG) ListAssets(ctx context.Context, f AssetFilter) ([]*Asset, int, error) {
	scope, args := f.Caller.FacilityFilter("f", 1)
	clauses := []string{"NOT a.deleted", scope}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.FacilityID != nil {
		add("l.facility_id = $%d", *f.FacilityID)
	}
	if f.LocationID != nil {
		add("a.current_location_id = $%d", *f.LocationID)
	}
	if f.AssetClass != nil {
		add("a.asset_class = $%d", string(*f.AssetClass))
	}
	if f.Status != nil {
		add("a.status = $%d", string(*f.Status))
	}
	if f.IsWorking != nil {
		add("a.is_working = $%d", *f.IsWorking)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("(a.name ILIKE $%[1]d OR a.serial_number ILIKE $%[1]d OR a.qr_code_id ILIKE $%[1]d)", "%"+s+"%")
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM asset a
		JOIN asset_location l ON l.id = a.current_location_id
		JOIN facility f ON f.id = l.facility_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	n := len(args)
	query := assetSelect + where + fmt.Sprintf(` ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	var items []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *assetRepoPG) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE asset SET deleted = TRUE, `+bumpModifiedSQL+` WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assetRepoPG) QRCodeTaken(ctx context.Context, qr string, exclude uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM asset WHERE qr_code_id = $1 AND id <> $2 AND NOT deleted)`,
		qr, exclude).Scan(&ok)
	return ok, err
}

func (r *assetRepoPG) ListManagedAssets(ctx context.Context) ([]*Asset, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, assetSelect+`
		WHERE NOT a.deleted AND NOT l.deleted AND a.asset_class IS NOT NULL
		AND COALESCE(a.meta->>'local_ip_address', '') <> ''
		AND `+resolvedHostSQL+` <> ''
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("list managed assets: %w", err)
	}
	defer rows.Close()
	var items []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *assetRepoPG) ListAssetConfig(ctx context.Context, facilityID uuid.UUID, host string) ([]*ConfigEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, a.name, a.description, a.asset_class, a.meta
		FROM asset a
		JOIN asset_location l ON l.id = a.current_location_id
		JOIN facility f ON f.id = l.facility_id
		WHERE NOT a.deleted
		AND a.asset_class = ANY($2)
		AND COALESCE(a.meta->>'local_ip_address', '') <> ''
		AND l.facility_id = $3
		AND `+resolvedHostSQL+` = $1
		ORDER BY a.created_at`,
		host, []string{string(devices.Camera), string(devices.VitalsMonitor)}, facilityID)
	if err != nil {
		return nil, fmt.Errorf("list asset config: %w", err)
	}
	defer rows.Close()
	items := []*ConfigEntry{}
	for rows.Next() {
		var e ConfigEntry
		var class string
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &class, &e.Meta); err != nil {
			return nil, err
		}
		e.AssetClass = devices.Class(class)
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *assetRepoPG) CountByClass(ctx context.Context) (map[string]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT COALESCE(asset_class, 'NONE'), COUNT(*) FROM asset
		WHERE NOT deleted GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("count assets by class: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		out[class] = n
	}
	return out, rows.Err()
}

func (r *assetRepoPG) CreateTransaction(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO asset_transaction (id, asset_id, from_location_id, to_location_id, performed_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		t.ID, t.AssetID, t.FromLocationID, t.ToLocationID, t.PerformedBy,
	).Scan(&t.CreatedAt)
	if err != nil {
		return writeErr("insert asset transaction", err)
	}
	return nil
}

func (r *assetRepoPG) ListTransactions(ctx context.Context, assetID uuid.UUID, limit, offset int) ([]*Transaction, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM asset_transaction WHERE asset_id = $1`, assetID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count asset transactions: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, asset_id, from_location_id, to_location_id, performed_by, created_at
		FROM asset_transaction WHERE asset_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, assetID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list asset transactions: %w", err)
	}
	defer rows.Close()
	var items []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AssetID, &t.FromLocationID, &t.ToLocationID,
			&t.PerformedBy, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}
