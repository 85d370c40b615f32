package availability

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ohcnetwork/care-sub000/internal/domain/asset"
	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
	"github.com/ohcnetwork/care-sub000/internal/platform/metrics"
)

// AssetSource lists assets a sweep should probe.
type AssetSource interface {
	ListManagedAssets(ctx context.Context) ([]*asset.Asset, error)
}

// LocationSource lists locations that resolve to a middleware.
type LocationSource interface {
	ListLocationsWithHost(ctx context.Context) ([]*asset.AssetLocation, error)
}

// Summary describes one finished sweep.
type Summary struct {
	Kind     Kind          `json:"kind"`
	Subjects int           `json:"subjects"`
	Hosts    int           `json:"hosts"`
	Appended int           `json:"appended"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Monitor runs the asset and location sweeps.
type Monitor struct {
	records     Repository
	assets      AssetSource
	locations   LocationSource
	caller      gateway.Caller
	logger      zerolog.Logger
	concurrency int
	now         func() time.Time
}

func NewMonitor(records Repository, assets AssetSource, locations LocationSource,
	caller gateway.Caller, logger zerolog.Logger, concurrency int) *Monitor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Monitor{
		records:     records,
		assets:      assets,
		locations:   locations,
		caller:      caller,
		logger:      logger.With().Str("component", "availability").Logger(),
		concurrency: concurrency,
		now:         time.Now,
	}
}

type counters struct {
	appended atomic.Int64
	failed   atomic.Int64
}

// observe appends (kind, id, status, at) when it is a state change.
func (m *Monitor) observe(ctx context.Context, kind Kind, id uuid.UUID, status Status, at time.Time) (bool, error) {
	latest, err := m.records.Latest(ctx, kind, id)
	if err != nil {
		return false, err
	}
	if !ShouldAppend(latest, status, at) {
		return false, nil
	}
	if err := m.records.Append(ctx, &Record{SubjectKind: kind, SubjectID: id, Status: status, Timestamp: at}); err != nil {
		return false, err
	}
	metrics.IncAvailabilityAppended(string(kind), string(status))
	return true, nil
}

type hostGroup struct {
	assets  []*asset.Asset
	devices map[uuid.UUID]devices.Device
}

// AssetSweep probes every managed asset. Assets sharing a middleware are
// answered from a single probe of that host. One failing asset or host is
// logged and does not stop the sweep.
func (m *Monitor) AssetSweep(ctx context.Context) (Summary, error) {
	start := m.now()
	list, err := m.assets.ListManagedAssets(ctx)
	if err != nil {
		return Summary{Kind: KindAsset}, fmt.Errorf("list managed assets: %w", err)
	}

	var c counters
	groups := map[string]*hostGroup{}
	for _, a := range list {
		d, err := devices.New(a.Class(), a.DeviceConfig(), m.caller)
		if err != nil {
			c.failed.Add(1)
			m.logger.Warn().Err(err).Str("asset", a.ID.String()).Msg("cannot build device, asset skipped")
			continue
		}
		host := a.ResolvedMiddlewareHostname
		g, ok := groups[host]
		if !ok {
			g = &hostGroup{devices: map[uuid.UUID]devices.Device{}}
			groups[host] = g
		}
		g.assets = append(g.assets, a)
		g.devices[a.ID] = d
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.concurrency)
	for host, g := range groups {
		host, g := host, g
		eg.Go(func() error {
			m.sweepHost(egCtx, host, g, &c)
			return nil
		})
	}
	_ = eg.Wait()

	s := Summary{
		Kind:     KindAsset,
		Subjects: len(list),
		Hosts:    len(groups),
		Appended: int(c.appended.Load()),
		Failed:   int(c.failed.Load()),
		Duration: m.now().Sub(start),
	}
	metrics.ObserveSweep(string(KindAsset), s.Duration)
	m.logger.Info().Int("assets", s.Subjects).Int("hosts", s.Hosts).Int("appended", s.Appended).
		Int("failed", s.Failed).Dur("duration", s.Duration).Msg("asset sweep finished")
	return s, nil
}

func (m *Monitor) sweepHost(ctx context.Context, host string, g *hostGroup, c *counters) {
	var cameras []devices.Device
	for _, a := range g.assets {
		if d := g.devices[a.ID]; d.Class() == devices.Camera {
			cameras = append(cameras, d)
		}
	}

	samples, err := devices.ParseSamples(devices.ProbeHost(ctx, m.caller, host, cameras))
	if err != nil {
		m.logger.Warn().Err(err).Str("host", host).Msg("middleware status unavailable, assets marked down")
		samples = nil
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })

	for _, a := range g.assets {
		if ctx.Err() != nil {
			return
		}
		n, err := m.observeAsset(ctx, a.ID, g.devices[a.ID].Host(), samples)
		c.appended.Add(int64(n))
		if err != nil {
			c.failed.Add(1)
			m.logger.Error().Err(err).Str("asset", a.ID.String()).Str("host", host).Msg("availability update failed")
		}
	}
}

// observeAsset feeds the samples naming the device's IP into the log, oldest
// first. When no sample names it the asset is DOWN now.
func (m *Monitor) observeAsset(ctx context.Context, id uuid.UUID, ip string, samples []devices.Sample) (int, error) {
	seen := false
	appended := 0
	for _, s := range samples {
		word, ok := s.Status[ip]
		if !ok {
			continue
		}
		seen = true
		at := s.Time
		if at.IsZero() {
			at = m.now().UTC()
		}
		added, err := m.observe(ctx, KindAsset, id, StatusFromWord(word), at)
		if err != nil {
			return appended, err
		}
		if added {
			appended++
		}
	}
	if seen {
		return appended, nil
	}
	added, err := m.observe(ctx, KindAsset, id, StatusDown, m.now().UTC())
	if added {
		appended++
	}
	return appended, err
}

// LocationSweep probes the middleware of every location. A location is
// OPERATIONAL when its host answers GET devices/status without error.
func (m *Monitor) LocationSweep(ctx context.Context) (Summary, error) {
	start := m.now()
	list, err := m.locations.ListLocationsWithHost(ctx)
	if err != nil {
		return Summary{Kind: KindLocation}, fmt.Errorf("list locations: %w", err)
	}

	byHost := map[string][]*asset.AssetLocation{}
	for _, l := range list {
		byHost[l.ResolvedMiddlewareHostname] = append(byHost[l.ResolvedMiddlewareHostname], l)
	}

	var c counters
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.concurrency)
	for host, locs := range byHost {
		host, locs := host, locs
		eg.Go(func() error {
			status := StatusOperational
			if resp := devices.ProbeHost(egCtx, m.caller, host, nil); !resp.OK() {
				status = StatusDown
				m.logger.Warn().Str("host", host).Int("status", resp.StatusCode).Str("error", resp.Error).
					Msg("middleware probe failed")
			}
			at := m.now().UTC()
			for _, l := range locs {
				ok, err := m.observe(egCtx, KindLocation, l.ID, status, at)
				if err != nil {
					c.failed.Add(1)
					m.logger.Error().Err(err).Str("location", l.ID.String()).Str("host", host).
						Msg("availability update failed")
					continue
				}
				if ok {
					c.appended.Add(1)
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	s := Summary{
		Kind:     KindLocation,
		Subjects: len(list),
		Hosts:    len(byHost),
		Appended: int(c.appended.Load()),
		Failed:   int(c.failed.Load()),
		Duration: m.now().Sub(start),
	}
	metrics.ObserveSweep(string(KindLocation), s.Duration)
	m.logger.Info().Int("locations", s.Subjects).Int("hosts", s.Hosts).Int("appended", s.Appended).
		Int("failed", s.Failed).Dur("duration", s.Duration).Msg("location sweep finished")
	return s, nil
}
