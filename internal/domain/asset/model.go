package asset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
)

// Facility is the part of a facility record the asset subsystem reads.
type Facility struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	StateID            *uuid.UUID `json:"state_id,omitempty"`
	DistrictID         *uuid.UUID `json:"district_id,omitempty"`
	MiddlewareHostname string     `json:"middleware_hostname"`
}

func (f *Facility) Ref() auth.FacilityRef {
	return auth.FacilityRef{ID: f.ID, StateID: f.StateID, DistrictID: f.DistrictID}
}

type LocationType string

const (
	LocationOther LocationType = "OTHER"
	LocationWard  LocationType = "WARD"
	LocationICU   LocationType = "ICU"
)

func (t LocationType) Valid() bool {
	return t == LocationOther || t == LocationWard || t == LocationICU
}

// AssetLocation is a room or area of a facility holding assets and beds.
type AssetLocation struct {
	ID                 uuid.UUID    `json:"id"`
	FacilityID         uuid.UUID    `json:"facility_id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	LocationType       LocationType `json:"location_type"`
	MiddlewareHostname string       `json:"middleware_hostname"`
	CreatedAt          time.Time    `json:"created_at"`
	ModifiedAt         time.Time    `json:"modified_at"`

	// ResolvedMiddlewareHostname is the location's own hostname, else the
	// facility's. Read-only.
	ResolvedMiddlewareHostname string `json:"resolved_middleware_hostname,omitempty"`
}

type Status string

const (
	StatusActive             Status = "ACTIVE"
	StatusTransferInProgress Status = "TRANSFER_IN_PROGRESS"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusTransferInProgress
}

type Type string

const (
	TypeInternal Type = "INTERNAL"
	TypeExternal Type = "EXTERNAL"
)

func (t Type) Valid() bool { return t == TypeInternal || t == TypeExternal }

// Date is a calendar date serialised as YYYY-MM-DD.
type Date struct{ time.Time }

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%q is not a YYYY-MM-DD date", s)
	}
	return Date{t}, nil
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Asset is a piece of facility equipment. Device assets carry a class and
// the meta keys their middleware needs.
type Asset struct {
	ID                       uuid.UUID              `json:"id"`
	Name                     string                 `json:"name"`
	Description              string                 `json:"description"`
	AssetType                Type                   `json:"asset_type"`
	AssetClass               *devices.Class         `json:"asset_class"`
	Status                   Status                 `json:"status"`
	IsWorking                *bool                  `json:"is_working"`
	NotWorkingReason         string                 `json:"not_working_reason"`
	SerialNumber             string                 `json:"serial_number"`
	Manufacturer             string                 `json:"manufacturer"`
	VendorName               string                 `json:"vendor_name"`
	SupportName              string                 `json:"support_name"`
	SupportPhone             string                 `json:"support_phone"`
	SupportEmail             string                 `json:"support_email"`
	QRCodeID                 *string                `json:"qr_code_id"`
	WarrantyAMCEndOfValidity *Date                  `json:"warranty_amc_end_of_validity"`
	LastServicedOn           *Date                  `json:"last_serviced_on"`
	Notes                    string                 `json:"notes"`
	Meta                     map[string]interface{} `json:"meta"`
	CurrentLocationID        uuid.UUID              `json:"location"`
	CreatedAt                time.Time              `json:"created_at"`
	ModifiedAt               time.Time              `json:"modified_at"`

	// Joined, read-only.
	FacilityID                 uuid.UUID `json:"facility_id"`
	ResolvedMiddlewareHostname string    `json:"resolved_middleware_hostname,omitempty"`
}

// Clone returns a deep copy so pre-images survive later mutation.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	if a.AssetClass != nil {
		v := *a.AssetClass
		c.AssetClass = &v
	}
	if a.IsWorking != nil {
		v := *a.IsWorking
		c.IsWorking = &v
	}
	if a.QRCodeID != nil {
		v := *a.QRCodeID
		c.QRCodeID = &v
	}
	if a.WarrantyAMCEndOfValidity != nil {
		v := *a.WarrantyAMCEndOfValidity
		c.WarrantyAMCEndOfValidity = &v
	}
	if a.LastServicedOn != nil {
		v := *a.LastServicedOn
		c.LastServicedOn = &v
	}
	c.Meta = cloneMeta(a.Meta)
	return &c
}

// Class returns the asset class, "" when unset.
func (a *Asset) Class() devices.Class {
	if a.AssetClass == nil {
		return ""
	}
	return *a.AssetClass
}

// LocalIP returns meta.local_ip_address.
func (a *Asset) LocalIP() string {
	return devices.MetaString(a.Meta, devices.MetaLocalIP)
}

// DeviceConfig builds the device input: meta with middleware_hostname set
// to the resolved host.
func (a *Asset) DeviceConfig() devices.Config {
	meta := cloneMeta(a.Meta)
	meta[devices.MetaMiddlewareHostname] = a.ResolvedMiddlewareHostname
	return devices.Config{AssetID: a.ID, Meta: meta}
}

// ResolveHostname applies the middleware precedence: asset meta, then
// location, then facility. Empty values fall through. The SQL in repo_pg.go
// computes the same thing.
func ResolveHostname(metaHost, locationHost, facilityHost string) string {
	for _, h := range []string{metaHost, locationHost, facilityHost} {
		if h = strings.TrimSpace(h); h != "" {
			return h
		}
	}
	return ""
}

func cloneMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// Bed is a patient bed in a location.
type Bed struct {
	ID          uuid.UUID `json:"id"`
	FacilityID  uuid.UUID `json:"facility_id"`
	LocationID  uuid.UUID `json:"location"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// AssetBed links a device asset to a bed.
type AssetBed struct {
	ID         uuid.UUID              `json:"id"`
	AssetID    uuid.UUID              `json:"asset"`
	BedID      uuid.UUID              `json:"bed"`
	Meta       map[string]interface{} `json:"meta"`
	CreatedAt  time.Time              `json:"created_at"`
	ModifiedAt time.Time              `json:"modified_at"`

	// Joined, read-only.
	AssetClass *devices.Class `json:"asset_class,omitempty"`
	FacilityID uuid.UUID      `json:"facility_id"`
}

// Position is a camera PTZ position.
type Position struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Boundary is the rectangle a camera linked to a bed may look at.
type Boundary struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Contains reports whether (x, y) lies inside the rectangle, edges included.
func (b Boundary) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// CameraPreset is a named position or the boundary of an asset-bed link.
type CameraPreset struct {
	ID         uuid.UUID  `json:"id"`
	AssetBedID uuid.UUID  `json:"asset_bed"`
	Name       string     `json:"name"`
	Position   *Position  `json:"position,omitempty"`
	Boundary   *Boundary  `json:"boundary,omitempty"`
	CreatedBy  *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// Transaction records a move of an asset between locations.
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	AssetID        uuid.UUID  `json:"asset"`
	FromLocationID uuid.UUID  `json:"from_location"`
	ToLocationID   uuid.UUID  `json:"to_location"`
	PerformedBy    *uuid.UUID `json:"performed_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConfigEntry is one asset listed to a middleware at boot.
type ConfigEntry struct {
	ID          uuid.UUID              `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	AssetClass  devices.Class          `json:"asset_class"`
	Meta        map[string]interface{} `json:"meta"`
}
