package asset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
	"github.com/ohcnetwork/care-sub000/internal/platform/db"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

// SyncNotifier receives committed asset writes. Implementations must not
// block the caller.
type SyncNotifier interface {
	AssetWritten(pre, post *Asset)
	AssetDeleted(a *Asset)
}

type noopNotifier struct{}

func (noopNotifier) AssetWritten(pre, post *Asset) {}
func (noopNotifier) AssetDeleted(a *Asset)         {}

type Service struct {
	facilities FacilityRepository
	locations  LocationRepository
	assets     AssetRepository
	beds       BedRepository
	links      AssetBedRepository
	presets    PresetRepository
	tx         db.Transactor
	sync       SyncNotifier
	now        func() time.Time
}

func NewService(facilities FacilityRepository, locations LocationRepository, assets AssetRepository,
	beds BedRepository, links AssetBedRepository, presets PresetRepository,
	tx db.Transactor, sync SyncNotifier) *Service {
	if sync == nil {
		sync = noopNotifier{}
	}
	return &Service{
		facilities: facilities,
		locations:  locations,
		assets:     assets,
		beds:       beds,
		links:      links,
		presets:    presets,
		tx:         tx,
		sync:       sync,
		now:        time.Now,
	}
}

func lookup(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound(what)
	}
	return err
}

func duplicate(err error, field, message string) error {
	if errors.Is(err, ErrDuplicate) {
		return apperr.Invalid(field, "unique", message)
	}
	return err
}

// authorize loads the facility and checks the caller's scope over it.
func (s *Service) authorize(ctx context.Context, caller auth.Caller, facilityID uuid.UUID) (*Facility, error) {
	f, err := s.facilities.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, lookup(err, "facility")
	}
	if !caller.CanAccess(f.Ref()) {
		return nil, apperr.Forbidden("you do not have access to this facility")
	}
	return f, nil
}

func validHostname(fields apperr.Fields, field, h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h != "" && !gateway.ValidHostname(h) {
		fields.Add(field, "invalid", "must be a bare DNS hostname without scheme, port or path")
	}
	return h
}

// -- AssetLocation --

type LocationInput struct {
	Name               *string       `json:"name"`
	Description        *string       `json:"description"`
	LocationType       *LocationType `json:"location_type"`
	MiddlewareHostname *string       `json:"middleware_hostname"`
}

func (s *Service) applyLocation(l *AssetLocation, in LocationInput) error {
	fields := apperr.Fields{}
	if in.Name != nil {
		l.Name = strings.TrimSpace(*in.Name)
	}
	if l.Name == "" {
		fields.Add("name", "required", "name is required")
	}
	if in.Description != nil {
		l.Description = *in.Description
	}
	if in.LocationType != nil {
		l.LocationType = *in.LocationType
	}
	if l.LocationType == "" {
		l.LocationType = LocationOther
	}
	if !l.LocationType.Valid() {
		fields.Add("location_type", "invalid", fmt.Sprintf("%q is not a location type", l.LocationType))
	}
	if in.MiddlewareHostname != nil {
		l.MiddlewareHostname = validHostname(fields, "middleware_hostname", *in.MiddlewareHostname)
	}
	return fields.Err()
}

func (s *Service) CreateLocation(ctx context.Context, caller auth.Caller, facilityID uuid.UUID, in LocationInput) (*AssetLocation, error) {
	if _, err := s.authorize(ctx, caller, facilityID); err != nil {
		return nil, err
	}
	l := &AssetLocation{FacilityID: facilityID}
	if err := s.applyLocation(l, in); err != nil {
		return nil, err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		taken, err := s.locations.LocationNameTaken(ctx, facilityID, l.Name, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Invalid("name", "unique", "a location with this name already exists in the facility")
		}
		return duplicate(s.locations.CreateLocation(ctx, l), "name",
			"a location with this name already exists in the facility")
	})
	if err != nil {
		return nil, err
	}
	return s.locations.GetLocation(ctx, l.ID)
}

func (s *Service) GetLocation(ctx context.Context, caller auth.Caller, id uuid.UUID) (*AssetLocation, error) {
	l, err := s.locations.GetLocation(ctx, id)
	if err != nil {
		return nil, lookup(err, "asset location")
	}
	if _, err := s.authorize(ctx, caller, l.FacilityID); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) UpdateLocation(ctx context.Context, caller auth.Caller, id uuid.UUID, in LocationInput) (*AssetLocation, error) {
	l, err := s.GetLocation(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyLocation(l, in); err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		taken, err := s.locations.LocationNameTaken(ctx, l.FacilityID, l.Name, l.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Invalid("name", "unique", "a location with this name already exists in the facility")
		}
		return duplicate(s.locations.UpdateLocation(ctx, l), "name",
			"a location with this name already exists in the facility")
	})
	if err != nil {
		return nil, lookup(err, "asset location")
	}
	return s.locations.GetLocation(ctx, l.ID)
}

func (s *Service) ListLocations(ctx context.Context, caller auth.Caller, facilityID uuid.UUID, limit, offset int) ([]*AssetLocation, int, error) {
	if _, err := s.authorize(ctx, caller, facilityID); err != nil {
		return nil, 0, err
	}
	return s.locations.ListLocations(ctx, LocationFilter{
		Caller: caller, FacilityID: facilityID, Limit: limit, Offset: offset,
	})
}

func (s *Service) DeleteLocation(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	l, err := s.GetLocation(ctx, caller, id)
	if err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inUse, err := s.locations.LocationInUse(ctx, l.ID)
		if err != nil {
			return err
		}
		if inUse {
			return apperr.Invalid("location", "protected", "location still has beds or assets")
		}
		return lookup(s.locations.DeleteLocation(ctx, l.ID), "asset location")
	})
}

// -- Asset --

// AssetInput carries a create or partial update. Nil fields are left
// unchanged. An empty qr_code_id clears it.
type AssetInput struct {
	Name                     *string                `json:"name"`
	Description              *string                `json:"description"`
	AssetType                *Type                  `json:"asset_type"`
	AssetClass               *devices.Class         `json:"asset_class"`
	Status                   *Status                `json:"status"`
	IsWorking                *bool                  `json:"is_working"`
	NotWorkingReason         *string                `json:"not_working_reason"`
	SerialNumber             *string                `json:"serial_number"`
	Manufacturer             *string                `json:"manufacturer"`
	VendorName               *string                `json:"vendor_name"`
	SupportName              *string                `json:"support_name"`
	SupportPhone             *string                `json:"support_phone"`
	SupportEmail             *string                `json:"support_email"`
	QRCodeID                 *string                `json:"qr_code_id"`
	WarrantyAMCEndOfValidity *Date                  `json:"warranty_amc_end_of_validity"`
	LastServicedOn           *Date                  `json:"last_serviced_on"`
	Notes                    *string                `json:"notes"`
	Meta                     map[string]interface{} `json:"meta"`
	Location                 *uuid.UUID             `json:"location"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// applyAsset copies in onto a and validates the result. pre is nil on create.
func (s *Service) applyAsset(pre, a *Asset, in AssetInput) error {
	fields := apperr.Fields{}
	today := DateOf(s.now())

	setString(&a.Name, in.Name)
	if a.Name == "" {
		fields.Add("name", "required", "name is required")
	}
	if in.Description != nil {
		a.Description = *in.Description
	}
	if in.AssetType != nil {
		a.AssetType = *in.AssetType
	}
	if a.AssetType == "" {
		a.AssetType = TypeInternal
	}
	if !a.AssetType.Valid() {
		fields.Add("asset_type", "invalid", fmt.Sprintf("%q is not an asset type", a.AssetType))
	}

	if in.AssetClass != nil {
		class, err := devices.ParseClass(string(*in.AssetClass))
		switch {
		case err != nil:
			fields.Add("asset_class", "invalid", err.Error())
		case pre != nil && pre.AssetClass != nil && *pre.AssetClass != class:
			fields.Add("asset_class", "immutable", "asset class cannot be changed once set")
		default:
			a.AssetClass = &class
		}
	}

	if in.Status != nil {
		a.Status = *in.Status
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if !a.Status.Valid() {
		fields.Add("status", "invalid", fmt.Sprintf("%q is not an asset status", a.Status))
	}

	if in.IsWorking != nil {
		v := *in.IsWorking
		a.IsWorking = &v
	}
	if in.NotWorkingReason != nil {
		a.NotWorkingReason = *in.NotWorkingReason
	}
	setString(&a.SerialNumber, in.SerialNumber)
	setString(&a.Manufacturer, in.Manufacturer)
	setString(&a.VendorName, in.VendorName)
	setString(&a.SupportName, in.SupportName)
	setString(&a.SupportPhone, in.SupportPhone)
	setString(&a.SupportEmail, in.SupportEmail)
	if a.SupportEmail != "" && !strings.Contains(a.SupportEmail, "@") {
		fields.Add("support_email", "invalid", "enter a valid email address")
	}
	if in.Notes != nil {
		a.Notes = *in.Notes
	}

	if in.QRCodeID != nil {
		if qr := strings.TrimSpace(*in.QRCodeID); qr == "" {
			a.QRCodeID = nil
		} else {
			a.QRCodeID = &qr
		}
	}

	if in.WarrantyAMCEndOfValidity != nil {
		if in.WarrantyAMCEndOfValidity.Before(today.Time) {
			fields.Add("warranty_amc_end_of_validity", "past", "warranty/AMC end of validity cannot be in the past")
		}
		d := DateOf(in.WarrantyAMCEndOfValidity.Time)
		a.WarrantyAMCEndOfValidity = &d
	}
	if in.LastServicedOn != nil {
		if in.LastServicedOn.After(today.Time) {
			fields.Add("last_serviced_on", "future", "last serviced on cannot be in the future")
		}
		d := DateOf(in.LastServicedOn.Time)
		a.LastServicedOn = &d
	}

	if in.Meta != nil {
		a.Meta = cloneMeta(in.Meta)
	}
	if a.Meta == nil {
		a.Meta = map[string]interface{}{}
	}
	if raw, ok := a.Meta[devices.MetaMiddlewareHostname]; ok && raw != nil {
		h, isString := raw.(string)
		if !isString {
			fields.Add("meta", "invalid", "middleware_hostname must be a string")
		} else {
			a.Meta[devices.MetaMiddlewareHostname] = validHostname(fields, "meta", h)
		}
	}
	if raw, ok := a.Meta[devices.MetaLocalIP]; ok && raw != nil {
		if _, isString := raw.(string); !isString {
			fields.Add("meta", "invalid", "local_ip_address must be a string")
		}
	}
	return fields.Err()
}

func (s *Service) checkQR(ctx context.Context, a *Asset) error {
	if a.QRCodeID == nil {
		return nil
	}
	taken, err := s.assets.QRCodeTaken(ctx, *a.QRCodeID, a.ID)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Invalid("qr_code_id", "unique", "qr code is already assigned to another asset")
	}
	return nil
}

func (s *Service) CreateAsset(ctx context.Context, caller auth.Caller, in AssetInput) (*Asset, error) {
	if in.Location == nil {
		return nil, apperr.Invalid("location", "required", "location is required")
	}
	loc, err := s.locations.GetLocation(ctx, *in.Location)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Invalid("location", "does_not_exist", "location does not exist")
		}
		return nil, err
	}
	if _, err := s.authorize(ctx, caller, loc.FacilityID); err != nil {
		return nil, err
	}

	a := &Asset{CurrentLocationID: loc.ID}
	if err := s.applyAsset(nil, a, in); err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkQR(ctx, a); err != nil {
			return err
		}
		return duplicate(s.assets.CreateAsset(ctx, a), "qr_code_id", "qr code is already assigned to another asset")
	})
	if err != nil {
		return nil, err
	}

	post, err := s.assets.GetAsset(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.sync.AssetWritten(nil, post.Clone())
	return post, nil
}

func (s *Service) GetAsset(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Asset, error) {
	a, err := s.assets.GetAsset(ctx, id)
	if err != nil {
		return nil, lookup(err, "asset")
	}
	if _, err := s.authorize(ctx, caller, a.FacilityID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAssetByQR(ctx context.Context, caller auth.Caller, qr string) (*Asset, error) {
	a, err := s.assets.GetAssetByQR(ctx, strings.TrimSpace(qr))
	if err != nil {
		return nil, lookup(err, "asset")
	}
	if _, err := s.authorize(ctx, caller, a.FacilityID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) ListAssets(ctx context.Context, caller auth.Caller, f AssetFilter) ([]*Asset, int, error) {
	f.Caller = caller
	return s.assets.ListAssets(ctx, f)
}

func (s *Service) UpdateAsset(ctx context.Context, caller auth.Caller, id uuid.UUID, in AssetInput) (*Asset, error) {
	if _, err := s.GetAsset(ctx, caller, id); err != nil {
		return nil, err
	}

	// Changes are applied to the row as locked inside the transaction, so
	// concurrent updates serialise instead of overwriting each other.
	var pre, post *Asset
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.assets.LockAsset(ctx, id)
		if err != nil {
			return lookup(err, "asset")
		}
		pre = a.Clone()

		move, err := s.relocation(ctx, caller, a, in)
		if err != nil {
			return err
		}
		if err := s.applyAsset(pre, a, in); err != nil {
			return err
		}
		if err := s.checkQR(ctx, a); err != nil {
			return err
		}
		if err := s.assets.UpdateAsset(ctx, a); err != nil {
			return duplicate(lookup(err, "asset"), "qr_code_id", "qr code is already assigned to another asset")
		}
		if move != nil {
			if err := s.assets.CreateTransaction(ctx, move); err != nil {
				return err
			}
		}
		post, err = s.assets.GetAsset(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sync.AssetWritten(pre, post.Clone())
	return post, nil
}

// relocation moves a to the requested location and returns the transaction
// recording it, or nil when the location is unchanged.
func (s *Service) relocation(ctx context.Context, caller auth.Caller, a *Asset, in AssetInput) (*Transaction, error) {
	if in.Location == nil || *in.Location == a.CurrentLocationID {
		return nil, nil
	}
	loc, err := s.locations.GetLocation(ctx, *in.Location)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Invalid("location", "does_not_exist", "location does not exist")
		}
		return nil, err
	}
	if loc.FacilityID != a.FacilityID {
		return nil, apperr.Invalid("location", "interfacility", "interfacility transfer is not allowed here")
	}
	move := &Transaction{
		AssetID:        a.ID,
		FromLocationID: a.CurrentLocationID,
		ToLocationID:   loc.ID,
	}
	if caller.UserID != uuid.Nil {
		by := caller.UserID
		move.PerformedBy = &by
	}
	a.CurrentLocationID = loc.ID
	return move, nil
}

func (s *Service) DeleteAsset(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	if _, err := s.GetAsset(ctx, caller, id); err != nil {
		return err
	}
	var gone *Asset
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.assets.LockAsset(ctx, id)
		if err != nil {
			return lookup(err, "asset")
		}
		if err := s.links.DeleteAssetBedsForAsset(ctx, a.ID); err != nil {
			return err
		}
		if err := s.assets.DeleteAsset(ctx, a.ID); err != nil {
			return lookup(err, "asset")
		}
		gone = a
		return nil
	})
	if err != nil {
		return err
	}
	s.sync.AssetDeleted(gone.Clone())
	return nil
}

func (s *Service) ListTransactions(ctx context.Context, caller auth.Caller, assetID uuid.UUID, limit, offset int) ([]*Transaction, int, error) {
	if _, err := s.GetAsset(ctx, caller, assetID); err != nil {
		return nil, 0, err
	}
	return s.assets.ListTransactions(ctx, assetID, limit, offset)
}

// Boundaries returns the live boundary rectangles of the asset's bed links.
func (s *Service) Boundaries(ctx context.Context, assetID uuid.UUID) (map[uuid.UUID]Boundary, error) {
	return s.presets.ListBoundaries(ctx, assetID)
}

// AssetConfig lists what the middleware at host should manage for the
// facility. host must already be normalised.
func (s *Service) AssetConfig(ctx context.Context, facilityID uuid.UUID, host string) ([]*ConfigEntry, error) {
	return s.assets.ListAssetConfig(ctx, facilityID, host)
}

// -- Bed --

type BedInput struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Location    *uuid.UUID `json:"location"`
}

func (s *Service) CreateBed(ctx context.Context, caller auth.Caller, in BedInput) (*Bed, error) {
	if in.Location == nil {
		return nil, apperr.Invalid("location", "required", "location is required")
	}
	loc, err := s.locations.GetLocation(ctx, *in.Location)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Invalid("location", "does_not_exist", "location does not exist")
		}
		return nil, err
	}
	if _, err := s.authorize(ctx, caller, loc.FacilityID); err != nil {
		return nil, err
	}
	b := &Bed{FacilityID: loc.FacilityID, LocationID: loc.ID}
	setString(&b.Name, in.Name)
	if b.Name == "" {
		return nil, apperr.Invalid("name", "required", "name is required")
	}
	if in.Description != nil {
		b.Description = *in.Description
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		taken, err := s.beds.BedNameTaken(ctx, b.LocationID, b.Name, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Invalid("name", "unique", "a bed with this name already exists in the location")
		}
		return duplicate(s.beds.CreateBed(ctx, b), "name", "a bed with this name already exists in the location")
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBed(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Bed, error) {
	b, err := s.beds.GetBed(ctx, id)
	if err != nil {
		return nil, lookup(err, "bed")
	}
	if _, err := s.authorize(ctx, caller, b.FacilityID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) UpdateBed(ctx context.Context, caller auth.Caller, id uuid.UUID, in BedInput) (*Bed, error) {
	b, err := s.GetBed(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if in.Location != nil && *in.Location != b.LocationID {
		loc, err := s.locations.GetLocation(ctx, *in.Location)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, apperr.Invalid("location", "does_not_exist", "location does not exist")
			}
			return nil, err
		}
		if loc.FacilityID != b.FacilityID {
			return nil, apperr.Invalid("location", "interfacility", "bed cannot move to another facility")
		}
		b.LocationID = loc.ID
	}
	setString(&b.Name, in.Name)
	if b.Name == "" {
		return nil, apperr.Invalid("name", "required", "name is required")
	}
	if in.Description != nil {
		b.Description = *in.Description
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		taken, err := s.beds.BedNameTaken(ctx, b.LocationID, b.Name, b.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Invalid("name", "unique", "a bed with this name already exists in the location")
		}
		return duplicate(lookup(s.beds.UpdateBed(ctx, b), "bed"), "name",
			"a bed with this name already exists in the location")
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListBeds(ctx context.Context, caller auth.Caller, f BedFilter) ([]*Bed, int, error) {
	f.Caller = caller
	return s.beds.ListBeds(ctx, f)
}

func (s *Service) DeleteBed(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	b, err := s.GetBed(ctx, caller, id)
	if err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.links.DeleteAssetBedsForBed(ctx, b.ID); err != nil {
			return err
		}
		return lookup(s.beds.DeleteBed(ctx, b.ID), "bed")
	})
}

// -- AssetBed --

type AssetBedInput struct {
	Asset *uuid.UUID             `json:"asset"`
	Bed   *uuid.UUID             `json:"bed"`
	Meta  map[string]interface{} `json:"meta"`
}

// LinkAssetToBed attaches a camera or vitals monitor to a bed of the same
// facility. A bed holds at most one vitals monitor.
func (s *Service) LinkAssetToBed(ctx context.Context, caller auth.Caller, in AssetBedInput) (*AssetBed, error) {
	fields := apperr.Fields{}
	if in.Asset == nil {
		fields.Add("asset", "required", "asset is required")
	}
	if in.Bed == nil {
		fields.Add("bed", "required", "bed is required")
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	a, err := s.GetAsset(ctx, caller, *in.Asset)
	if err != nil {
		return nil, err
	}
	class := a.Class()
	if !class.Linkable() {
		return nil, apperr.Invalid("asset", "invalid_class", "only cameras and vitals monitors can be linked to a bed")
	}

	ab := &AssetBed{AssetID: a.ID, BedID: *in.Bed, Meta: cloneMeta(in.Meta)}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bed, err := s.beds.LockBed(ctx, *in.Bed)
		if err != nil {
			return lookup(err, "bed")
		}
		if bed.FacilityID != a.FacilityID {
			return apperr.Invalid("bed", "facility_mismatch", "asset and bed must belong to the same facility")
		}
		exists, err := s.links.AssetBedExists(ctx, a.ID, bed.ID)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Invalid("asset", "unique", "asset is already linked to this bed")
		}
		if class == devices.VitalsMonitor {
			n, err := s.links.CountMonitorLinks(ctx, bed.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.Invalid("bed", "monitor_limit", "bed already has a vitals monitor")
			}
		}
		return duplicate(s.links.CreateAssetBed(ctx, ab), "asset", "asset is already linked to this bed")
	})
	if err != nil {
		return nil, err
	}
	return s.links.GetAssetBed(ctx, ab.ID)
}

func (s *Service) GetAssetBed(ctx context.Context, caller auth.Caller, id uuid.UUID) (*AssetBed, error) {
	ab, err := s.links.GetAssetBed(ctx, id)
	if err != nil {
		return nil, lookup(err, "asset bed")
	}
	if _, err := s.authorize(ctx, caller, ab.FacilityID); err != nil {
		return nil, err
	}
	return ab, nil
}

func (s *Service) UpdateAssetBedMeta(ctx context.Context, caller auth.Caller, id uuid.UUID, meta map[string]interface{}) (*AssetBed, error) {
	ab, err := s.GetAssetBed(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	ab.Meta = cloneMeta(meta)
	if err := s.links.UpdateAssetBed(ctx, ab); err != nil {
		return nil, lookup(err, "asset bed")
	}
	return ab, nil
}

func (s *Service) ListAssetBeds(ctx context.Context, caller auth.Caller, f AssetBedFilter) ([]*AssetBed, int, error) {
	f.Caller = caller
	return s.links.ListAssetBeds(ctx, f)
}

func (s *Service) UnlinkAssetBed(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	ab, err := s.GetAssetBed(ctx, caller, id)
	if err != nil {
		return err
	}
	return lookup(s.links.DeleteAssetBed(ctx, ab.ID), "asset bed")
}

// -- CameraPreset --

type PresetInput struct {
	Name     string    `json:"name"`
	Position *Position `json:"position"`
	Boundary *Boundary `json:"boundary"`
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func validatePreset(in PresetInput) error {
	fields := apperr.Fields{}
	if strings.TrimSpace(in.Name) == "" {
		fields.Add("name", "required", "name is required")
	}
	switch {
	case in.Position == nil && in.Boundary == nil:
		fields.Add("position", "required", "one of position or boundary is required")
	case in.Position != nil && in.Boundary != nil:
		fields.Add("position", "invalid", "only one of position or boundary may be set")
	case in.Position != nil:
		p := in.Position
		if !finite(p.X, p.Y, p.Zoom) {
			fields.Add("position", "invalid", "position values must be finite numbers")
		}
	default:
		b := in.Boundary
		if !finite(b.MinX, b.MaxX, b.MinY, b.MaxY) {
			fields.Add("boundary", "invalid", "boundary values must be finite numbers")
		} else if b.MinX > b.MaxX || b.MinY > b.MaxY {
			fields.Add("boundary", "invalid", "boundary minimum must not exceed maximum")
		}
	}
	return fields.Err()
}

func (s *Service) CreatePreset(ctx context.Context, caller auth.Caller, assetBedID uuid.UUID, in PresetInput) (*CameraPreset, error) {
	ab, err := s.GetAssetBed(ctx, caller, assetBedID)
	if err != nil {
		return nil, err
	}
	if ab.AssetClass == nil || *ab.AssetClass != devices.Camera {
		return nil, apperr.Invalid("asset_bed", "invalid_class", "presets can only be added to camera links")
	}
	if err := validatePreset(in); err != nil {
		return nil, err
	}

	p := &CameraPreset{
		AssetBedID: ab.ID,
		Name:       strings.TrimSpace(in.Name),
		Position:   in.Position,
		Boundary:   in.Boundary,
	}
	if caller.UserID != uuid.Nil {
		by := caller.UserID
		p.CreatedBy = &by
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.beds.LockBed(ctx, ab.BedID); err != nil {
			return lookup(err, "bed")
		}
		if p.Boundary != nil {
			exists, err := s.presets.BoundaryExists(ctx, ab.ID)
			if err != nil {
				return err
			}
			if exists {
				return apperr.Invalid("boundary", "unique", "this link already has a boundary")
			}
		}
		taken, err := s.presets.PresetNameTaken(ctx, ab.BedID, p.Name)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Invalid("name", "unique", "a preset with this name already exists on the bed")
		}
		return duplicate(s.presets.CreatePreset(ctx, p), "boundary", "this link already has a boundary")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPresets(ctx context.Context, caller auth.Caller, assetBedID uuid.UUID) ([]*CameraPreset, error) {
	if _, err := s.GetAssetBed(ctx, caller, assetBedID); err != nil {
		return nil, err
	}
	return s.presets.ListPresets(ctx, assetBedID)
}

func (s *Service) GetPreset(ctx context.Context, caller auth.Caller, assetBedID, id uuid.UUID) (*CameraPreset, error) {
	if _, err := s.GetAssetBed(ctx, caller, assetBedID); err != nil {
		return nil, err
	}
	p, err := s.presets.GetPreset(ctx, id)
	if err != nil {
		return nil, lookup(err, "camera preset")
	}
	if p.AssetBedID != assetBedID {
		return nil, apperr.NotFound("camera preset")
	}
	return p, nil
}

func (s *Service) DeletePreset(ctx context.Context, caller auth.Caller, assetBedID, id uuid.UUID) error {
	p, err := s.GetPreset(ctx, caller, assetBedID, id)
	if err != nil {
		return err
	}
	return lookup(s.presets.DeletePreset(ctx, p.ID), "camera preset")
}
