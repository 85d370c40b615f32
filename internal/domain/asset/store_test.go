package asset

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
)

// memStore implements every repository interface of the package in memory.
type memStore struct {
	mu           sync.Mutex
	facilities   map[uuid.UUID]*Facility
	locations    map[uuid.UUID]*AssetLocation
	assets       map[uuid.UUID]*Asset
	beds         map[uuid.UUID]*Bed
	links        map[uuid.UUID]*AssetBed
	presets      map[uuid.UUID]*CameraPreset
	transactions []*Transaction
	deleted      map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		facilities: map[uuid.UUID]*Facility{},
		locations:  map[uuid.UUID]*AssetLocation{},
		assets:     map[uuid.UUID]*Asset{},
		beds:       map[uuid.UUID]*Bed{},
		links:      map[uuid.UUID]*AssetBed{},
		presets:    map[uuid.UUID]*CameraPreset{},
		deleted:    map[uuid.UUID]bool{},
	}
}

func (m *memStore) addFacility(host string) *Facility {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &Facility{ID: uuid.New(), Name: "F-" + host, MiddlewareHostname: host}
	m.facilities[f.ID] = f
	return f
}

// -- Facility --

func (m *memStore) GetFacility(_ context.Context, id uuid.UUID) (*Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facilities[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	c := *f
	return &c, nil
}

func (m *memStore) FacilityExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := m.GetFacility(ctx, id)
	return err == nil, nil
}

func (m *memStore) FacilityUsesHost(_ context.Context, id uuid.UUID, host string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facilities[id]
	if !ok || m.deleted[id] {
		return false, nil
	}
	if strings.EqualFold(f.MiddlewareHostname, host) {
		return true, nil
	}
	for lid, l := range m.locations {
		if l.FacilityID == id && !m.deleted[lid] && strings.EqualFold(l.MiddlewareHostname, host) {
			return true, nil
		}
	}
	for aid, a := range m.assets {
		l, ok := m.locations[a.CurrentLocationID]
		if !ok || l.FacilityID != id || m.deleted[aid] {
			continue
		}
		if strings.EqualFold(devices.MetaString(a.Meta, devices.MetaMiddlewareHostname), host) {
			return true, nil
		}
	}
	return false, nil
}

// -- AssetLocation --

func (m *memStore) hydrateLocation(l *AssetLocation) *AssetLocation {
	c := *l
	if f, ok := m.facilities[l.FacilityID]; ok {
		c.ResolvedMiddlewareHostname = ResolveHostname("", l.MiddlewareHostname, f.MiddlewareHostname)
	}
	return &c
}

func (m *memStore) CreateLocation(_ context.Context, l *AssetLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	l.ModifiedAt = l.CreatedAt
	c := *l
	m.locations[l.ID] = &c
	return nil
}

func (m *memStore) UpdateLocation(_ context.Context, l *AssetLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[l.ID]; !ok || m.deleted[l.ID] {
		return ErrNotFound
	}
	c := *l
	m.locations[l.ID] = &c
	return nil
}

func (m *memStore) GetLocation(_ context.Context, id uuid.UUID) (*AssetLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	return m.hydrateLocation(l), nil
}

func (m *memStore) ListLocations(_ context.Context, f LocationFilter) ([]*AssetLocation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AssetLocation
	for id, l := range m.locations {
		fac := m.facilities[l.FacilityID]
		if m.deleted[id] || l.FacilityID != f.FacilityID || !f.Caller.CanAccess(fac.Ref()) {
			continue
		}
		out = append(out, m.hydrateLocation(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (m *memStore) DeleteLocation(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[id]; !ok || m.deleted[id] {
		return ErrNotFound
	}
	m.deleted[id] = true
	return nil
}

func (m *memStore) LocationNameTaken(_ context.Context, facilityID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, l := range m.locations {
		if !m.deleted[id] && id != exclude && l.FacilityID == facilityID && l.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LocationInUse(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for bid, b := range m.beds {
		if !m.deleted[bid] && b.LocationID == id {
			return true, nil
		}
	}
	for aid, a := range m.assets {
		if !m.deleted[aid] && a.CurrentLocationID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListLocationsWithHost(_ context.Context) ([]*AssetLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AssetLocation
	for id, l := range m.locations {
		if m.deleted[id] {
			continue
		}
		if h := m.hydrateLocation(l); h.ResolvedMiddlewareHostname != "" {
			out = append(out, h)
		}
	}
	return out, nil
}

// -- Asset --

func (m *memStore) hydrateAsset(a *Asset) *Asset {
	c := a.Clone()
	if l, ok := m.locations[a.CurrentLocationID]; ok {
		c.FacilityID = l.FacilityID
		fh := ""
		if f, ok := m.facilities[l.FacilityID]; ok {
			fh = f.MiddlewareHostname
		}
		c.ResolvedMiddlewareHostname = ResolveHostname(
			devices.MetaString(a.Meta, devices.MetaMiddlewareHostname), l.MiddlewareHostname, fh)
	}
	return c
}

func (m *memStore) CreateAsset(_ context.Context, a *Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.ModifiedAt = a.CreatedAt
	m.assets[a.ID] = a.Clone()
	return nil
}

func (m *memStore) UpdateAsset(_ context.Context, a *Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assets[a.ID]
	if !ok || m.deleted[a.ID] {
		return ErrNotFound
	}
	now := time.Now()
	if !now.After(cur.ModifiedAt) {
		now = cur.ModifiedAt.Add(time.Microsecond)
	}
	a.ModifiedAt = now
	m.assets[a.ID] = a.Clone()
	return nil
}

func (m *memStore) LockAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	return m.GetAsset(ctx, id)
}

func (m *memStore) GetAsset(_ context.Context, id uuid.UUID) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	return m.hydrateAsset(a), nil
}

func (m *memStore) GetAssetByQR(_ context.Context, qr string) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.assets {
		if !m.deleted[id] && a.QRCodeID != nil && *a.QRCodeID == qr {
			return m.hydrateAsset(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListAssets(_ context.Context, f AssetFilter) ([]*Asset, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Asset
	for id, raw := range m.assets {
		if m.deleted[id] {
			continue
		}
		a := m.hydrateAsset(raw)
		fac := m.facilities[a.FacilityID]
		switch {
		case fac == nil || !f.Caller.CanAccess(fac.Ref()):
			continue
		case f.FacilityID != nil && a.FacilityID != *f.FacilityID:
			continue
		case f.LocationID != nil && a.CurrentLocationID != *f.LocationID:
			continue
		case f.AssetClass != nil && a.Class() != *f.AssetClass:
			continue
		case f.Status != nil && a.Status != *f.Status:
			continue
		case f.IsWorking != nil && (a.IsWorking == nil || *a.IsWorking != *f.IsWorking):
			continue
		case f.Search != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(f.Search)):
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (m *memStore) DeleteAsset(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok || m.deleted[id] {
		return ErrNotFound
	}
	m.deleted[id] = true
	return nil
}

func (m *memStore) QRCodeTaken(_ context.Context, qr string, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.assets {
		if !m.deleted[id] && id != exclude && a.QRCodeID != nil && *a.QRCodeID == qr {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListManagedAssets(_ context.Context) ([]*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Asset
	for id, raw := range m.assets {
		if m.deleted[id] {
			continue
		}
		a := m.hydrateAsset(raw)
		if a.AssetClass != nil && a.LocalIP() != "" && a.ResolvedMiddlewareHostname != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListAssetConfig(_ context.Context, facilityID uuid.UUID, host string) ([]*ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*ConfigEntry{}
	for id, raw := range m.assets {
		if m.deleted[id] {
			continue
		}
		a := m.hydrateAsset(raw)
		if a.FacilityID != facilityID || !a.Class().Linkable() || a.LocalIP() == "" || a.ResolvedMiddlewareHostname != host {
			continue
		}
		out = append(out, &ConfigEntry{
			ID: a.ID, Name: a.Name, Description: a.Description, AssetClass: a.Class(), Meta: a.Meta,
		})
	}
	return out, nil
}

func (m *memStore) CountByClass(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for id, a := range m.assets {
		if m.deleted[id] {
			continue
		}
		class := string(a.Class())
		if class == "" {
			class = "NONE"
		}
		out[class]++
	}
	return out, nil
}

func (m *memStore) CreateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	c := *t
	m.transactions = append(m.transactions, &c)
	return nil
}

func (m *memStore) ListTransactions(_ context.Context, assetID uuid.UUID, limit, offset int) ([]*Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, t := range m.transactions {
		if t.AssetID == assetID {
			c := *t
			out = append(out, &c)
		}
	}
	return page(out, limit, offset), len(out), nil
}

// -- Bed --

func (m *memStore) CreateBed(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	c := *b
	m.beds[b.ID] = &c
	return nil
}

func (m *memStore) UpdateBed(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.beds[b.ID]; !ok || m.deleted[b.ID] {
		return ErrNotFound
	}
	c := *b
	m.beds[b.ID] = &c
	return nil
}

func (m *memStore) GetBed(_ context.Context, id uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *memStore) LockBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return m.GetBed(ctx, id)
}

func (m *memStore) ListBeds(_ context.Context, f BedFilter) ([]*Bed, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bed
	for id, b := range m.beds {
		fac := m.facilities[b.FacilityID]
		switch {
		case m.deleted[id] || fac == nil || !f.Caller.CanAccess(fac.Ref()):
			continue
		case f.FacilityID != nil && b.FacilityID != *f.FacilityID:
			continue
		case f.LocationID != nil && b.LocationID != *f.LocationID:
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (m *memStore) DeleteBed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.beds[id]; !ok || m.deleted[id] {
		return ErrNotFound
	}
	m.deleted[id] = true
	return nil
}

func (m *memStore) BedNameTaken(_ context.Context, locationID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.beds {
		if !m.deleted[id] && id != exclude && b.LocationID == locationID && strings.EqualFold(b.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// -- AssetBed --

func (m *memStore) hydrateLink(ab *AssetBed) *AssetBed {
	c := *ab
	c.Meta = cloneMeta(ab.Meta)
	if a, ok := m.assets[ab.AssetID]; ok && a.AssetClass != nil {
		class := *a.AssetClass
		c.AssetClass = &class
	}
	if b, ok := m.beds[ab.BedID]; ok {
		c.FacilityID = b.FacilityID
	}
	return &c
}

func (m *memStore) CreateAssetBed(_ context.Context, ab *AssetBed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ab.ID = uuid.New()
	ab.CreatedAt = time.Now()
	c := *ab
	m.links[ab.ID] = &c
	return nil
}

func (m *memStore) UpdateAssetBed(_ context.Context, ab *AssetBed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.links[ab.ID]
	if !ok || m.deleted[ab.ID] {
		return ErrNotFound
	}
	cur.Meta = cloneMeta(ab.Meta)
	return nil
}

func (m *memStore) GetAssetBed(_ context.Context, id uuid.UUID) (*AssetBed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ab, ok := m.links[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	return m.hydrateLink(ab), nil
}

func (m *memStore) ListAssetBeds(_ context.Context, f AssetBedFilter) ([]*AssetBed, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AssetBed
	for id, raw := range m.links {
		if m.deleted[id] {
			continue
		}
		ab := m.hydrateLink(raw)
		fac := m.facilities[ab.FacilityID]
		switch {
		case fac == nil || !f.Caller.CanAccess(fac.Ref()):
			continue
		case f.AssetID != nil && ab.AssetID != *f.AssetID:
			continue
		case f.BedID != nil && ab.BedID != *f.BedID:
			continue
		}
		out = append(out, ab)
	}
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (m *memStore) tombstoneLinks(match func(*AssetBed) bool) int {
	n := 0
	for id, ab := range m.links {
		if m.deleted[id] || !match(ab) {
			continue
		}
		m.deleted[id] = true
		n++
		for pid, p := range m.presets {
			if p.AssetBedID == id {
				m.deleted[pid] = true
			}
		}
	}
	return n
}

func (m *memStore) DeleteAssetBed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tombstoneLinks(func(ab *AssetBed) bool { return ab.ID == id }) == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *memStore) DeleteAssetBedsForAsset(_ context.Context, assetID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tombstoneLinks(func(ab *AssetBed) bool { return ab.AssetID == assetID })
	return nil
}

func (m *memStore) DeleteAssetBedsForBed(_ context.Context, bedID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tombstoneLinks(func(ab *AssetBed) bool { return ab.BedID == bedID })
	return nil
}

func (m *memStore) AssetBedExists(_ context.Context, assetID, bedID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ab := range m.links {
		if !m.deleted[id] && ab.AssetID == assetID && ab.BedID == bedID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CountMonitorLinks(_ context.Context, bedID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, ab := range m.links {
		if m.deleted[id] || ab.BedID != bedID || m.deleted[ab.AssetID] {
			continue
		}
		if a := m.assets[ab.AssetID]; a != nil && a.Class() == devices.VitalsMonitor {
			n++
		}
	}
	return n, nil
}

// -- CameraPreset --

func (m *memStore) CreatePreset(_ context.Context, p *CameraPreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	c := *p
	m.presets[p.ID] = &c
	return nil
}

func (m *memStore) GetPreset(_ context.Context, id uuid.UUID) (*CameraPreset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memStore) ListPresets(_ context.Context, assetBedID uuid.UUID) ([]*CameraPreset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*CameraPreset{}
	for id, p := range m.presets {
		if !m.deleted[id] && p.AssetBedID == assetBedID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) DeletePreset(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[id]; !ok || m.deleted[id] {
		return ErrNotFound
	}
	m.deleted[id] = true
	return nil
}

func (m *memStore) BoundaryExists(_ context.Context, assetBedID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.presets {
		if !m.deleted[id] && p.AssetBedID == assetBedID && p.Boundary != nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PresetNameTaken(_ context.Context, bedID uuid.UUID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.presets {
		if m.deleted[id] || p.Name != name {
			continue
		}
		if ab := m.links[p.AssetBedID]; ab != nil && !m.deleted[ab.ID] && ab.BedID == bedID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListBoundaries(_ context.Context, assetID uuid.UUID) (map[uuid.UUID]Boundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]Boundary{}
	for id, p := range m.presets {
		if m.deleted[id] || p.Boundary == nil {
			continue
		}
		if ab := m.links[p.AssetBedID]; ab != nil && !m.deleted[ab.ID] && ab.AssetID == assetID {
			out[ab.ID] = *p.Boundary
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
