package asset

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
)

var (
	// ErrNotFound is returned by repositories when no live row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write hits a partial unique index.
	ErrDuplicate = errors.New("duplicate")
)

type FacilityRepository interface {
	GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error)
	FacilityExists(ctx context.Context, id uuid.UUID) (bool, error)
	// FacilityUsesHost reports whether host is configured on the facility,
	// one of its live locations, or one of its live assets.
	FacilityUsesHost(ctx context.Context, id uuid.UUID, host string) (bool, error)
}

type LocationFilter struct {
	Caller     auth.Caller
	FacilityID uuid.UUID
	Limit      int
	Offset     int
}

type LocationRepository interface {
	CreateLocation(ctx context.Context, l *AssetLocation) error
	UpdateLocation(ctx context.Context, l *AssetLocation) error
	GetLocation(ctx context.Context, id uuid.UUID) (*AssetLocation, error)
	ListLocations(ctx context.Context, f LocationFilter) ([]*AssetLocation, int, error)
	DeleteLocation(ctx context.Context, id uuid.UUID) error
	LocationNameTaken(ctx context.Context, facilityID uuid.UUID, name string, exclude uuid.UUID) (bool, error)
	// LocationInUse reports whether a live bed or asset references the location.
	LocationInUse(ctx context.Context, id uuid.UUID) (bool, error)
	// ListLocationsWithHost returns live locations whose resolved middleware
	// hostname is non-empty.
	ListLocationsWithHost(ctx context.Context) ([]*AssetLocation, error)
}

type AssetFilter struct {
	Caller     auth.Caller
	FacilityID *uuid.UUID
	LocationID *uuid.UUID
	AssetClass *devices.Class
	Status     *Status
	IsWorking  *bool
	Search     string
	Limit      int
	Offset     int
}

type AssetRepository interface {
	CreateAsset(ctx context.Context, a *Asset) error
	UpdateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	// LockAsset reads the asset with a row lock held until the transaction ends.
	LockAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetAssetByQR(ctx context.Context, qr string) (*Asset, error)
	ListAssets(ctx context.Context, f AssetFilter) ([]*Asset, int, error)
	DeleteAsset(ctx context.Context, id uuid.UUID) error
	QRCodeTaken(ctx context.Context, qr string, exclude uuid.UUID) (bool, error)
	// ListManagedAssets returns live assets with a class, a local IP and a
	// resolved middleware hostname.
	ListManagedAssets(ctx context.Context) ([]*Asset, error)
	// ListAssetConfig returns the linkable assets of the facility whose
	// resolved middleware hostname equals host and whose local IP is set.
	ListAssetConfig(ctx context.Context, facilityID uuid.UUID, host string) ([]*ConfigEntry, error)
	CountByClass(ctx context.Context) (map[string]int, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, assetID uuid.UUID, limit, offset int) ([]*Transaction, int, error)
}

type BedFilter struct {
	Caller     auth.Caller
	FacilityID *uuid.UUID
	LocationID *uuid.UUID
	Limit      int
	Offset     int
}

type BedRepository interface {
	CreateBed(ctx context.Context, b *Bed) error
	UpdateBed(ctx context.Context, b *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	// LockBed reads the bed with a row lock held until the transaction ends.
	LockBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	ListBeds(ctx context.Context, f BedFilter) ([]*Bed, int, error)
	DeleteBed(ctx context.Context, id uuid.UUID) error
	BedNameTaken(ctx context.Context, locationID uuid.UUID, name string, exclude uuid.UUID) (bool, error)
}

type AssetBedFilter struct {
	Caller  auth.Caller
	AssetID *uuid.UUID
	BedID   *uuid.UUID
	Limit   int
	Offset  int
}

type AssetBedRepository interface {
	CreateAssetBed(ctx context.Context, ab *AssetBed) error
	UpdateAssetBed(ctx context.Context, ab *AssetBed) error
	GetAssetBed(ctx context.Context, id uuid.UUID) (*AssetBed, error)
	ListAssetBeds(ctx context.Context, f AssetBedFilter) ([]*AssetBed, int, error)
	// DeleteAssetBed tombstones the link and its presets.
	DeleteAssetBed(ctx context.Context, id uuid.UUID) error
	DeleteAssetBedsForAsset(ctx context.Context, assetID uuid.UUID) error
	DeleteAssetBedsForBed(ctx context.Context, bedID uuid.UUID) error
	AssetBedExists(ctx context.Context, assetID, bedID uuid.UUID) (bool, error)
	// CountMonitorLinks counts live links of VITALS_MONITOR assets to the bed.
	CountMonitorLinks(ctx context.Context, bedID uuid.UUID) (int, error)
}

type PresetRepository interface {
	CreatePreset(ctx context.Context, p *CameraPreset) error
	GetPreset(ctx context.Context, id uuid.UUID) (*CameraPreset, error)
	ListPresets(ctx context.Context, assetBedID uuid.UUID) ([]*CameraPreset, error)
	DeletePreset(ctx context.Context, id uuid.UUID) error
	BoundaryExists(ctx context.Context, assetBedID uuid.UUID) (bool, error)
	// PresetNameTaken checks live presets of every link to bedID.
	PresetNameTaken(ctx context.Context, bedID uuid.UUID, name string) (bool, error)
	// ListBoundaries returns the boundary of each live link of the asset that
	// has one, keyed by asset-bed id.
	ListBoundaries(ctx context.Context, assetID uuid.UUID) (map[uuid.UUID]Boundary, error)
}
