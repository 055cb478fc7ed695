// Package satellites is the artificial satellite module: element sets are
// loaded from TLE data sources and propagated with SGP4 for the observer's
// time and location.
package satellites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/loader"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
)

// SourceType is the data source type accepted by the module.
const SourceType = "tle"

// ClassSatellite tags satellite entities.
const ClassSatellite kb.Class = "satellite"

// RenderOrder draws satellites above the stars.
const RenderOrder = 30

// DefaultStdMag is the standard magnitude (at 1000 km, full phase) used
// when a source does not give one.
const DefaultStdMag = 5.0

// WGS84 ellipsoid, kilometres.
const (
	earthRadiusKm = 6378.137
	flattening    = 1 / 298.257223563
)

// SatelliteOID returns the oid of a satellite by catalog number.
func SatelliteOID(norad int) uint64 {
	return uint64('S')<<56 | uint64(norad)
}

// Satellite is one propagated element set.
type Satellite struct {
	Element
	StdMag float64

	sat satellite.Satellite
}

// Class implements kb.Object.
func (s *Satellite) Class() kb.Class { return ClassSatellite }

// Look returns the altitude, azimuth (east of north) and range in kilometres
// of the satellite for obs.
func (s *Satellite) Look(obs *model.Observer) (alt, az, rangeKm float64, ok bool) {
	t := obs.Time().UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	eci, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	ecef := satellite.ECIToECEF(eci, satellite.ThetaG_JD(jd))
	pos := geom.Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
	if r := pos.Norm(); math.IsNaN(r) || r < earthRadiusKm*0.9 {
		return 0, 0, 0, false
	}

	d := pos.Sub(observerECEF(obs))
	rangeKm = d.Norm()
	alt, az = model.AltAz(topocentric(obs, d))
	return alt, az, rangeKm, true
}

// Observe implements kb.Observable.
func (s *Satellite) Observe(obs *model.Observer) (kb.Observation, bool) {
	alt, az, rng, ok := s.Look(obs)
	if !ok {
		return kb.Observation{}, false
	}
	return kb.Observation{
		Dir:  model.FromAltAz(alt, az),
		Vmag: s.StdMag + 5*math.Log10(rng/1000),
	}, true
}

// observerECEF is the geodetic observer position on the WGS84 ellipsoid.
func observerECEF(obs *model.Observer) geom.Vec3 {
	e2 := flattening * (2 - flattening)
	sinLat, cosLat := math.Sincos(obs.Latitude)
	sinLon, cosLon := math.Sincos(obs.Longitude)
	h := obs.Elevation / 1000
	n := earthRadiusKm / math.Sqrt(1-e2*sinLat*sinLat)
	return geom.Vec3{
		X: (n + h) * cosLat * cosLon,
		Y: (n + h) * cosLat * sinLon,
		Z: (n*(1-e2) + h) * sinLat,
	}
}

// topocentric rotates an ECEF offset into the observed frame (x north,
// y west, z zenith).
func topocentric(obs *model.Observer, d geom.Vec3) geom.Vec3 {
	sinLat, cosLat := math.Sincos(obs.Latitude)
	sinLon, cosLon := math.Sincos(obs.Longitude)
	east := -sinLon*d.X + cosLon*d.Y
	north := -sinLat*cosLon*d.X - sinLat*sinLon*d.Y + cosLat*d.Z
	up := cosLat*cosLon*d.X + cosLat*sinLon*d.Y + sinLat*d.Z
	return geom.Vec3{X: north, Y: -east, Z: up}.Normalize()
}

type sourceArgs struct {
	TLE    string   `json:"tle"`
	StdMag *float64 `json:"std_mag"`
}

type parsed struct {
	elements []Element
	stdMag   float64
}

// Module is the satellites module.
type Module struct {
	kb.BaseModule
	log  logging.Logger
	pool *loader.Pool

	reg  *kb.Registry
	self kb.Handle

	visible bool
	loads   []*loader.Future[parsed]
	byNORAD map[int]kb.Handle
	errs    int
}

// New returns an empty satellites module.
func New(log logging.Logger) *Module {
	return &Module{
		BaseModule: kb.BaseModule{Order: RenderOrder},
		log:        logging.ForComponent(log, "satellites"),
		pool:       loader.NewPool(1),
		visible:    true,
		byNORAD:    make(map[int]kb.Handle),
	}
}

// Class implements kb.Object.
func (m *Module) Class() kb.Class { return kb.ClassModule }

// Bind implements kb.Binder.
func (m *Module) Bind(r *kb.Registry, self kb.Handle) {
	m.reg = r
	m.self = self
}

// AddDataSource implements kb.DataSourceAcceptor. Inline element sets in
// args are validated immediately; files are read and parsed in the
// background.
func (m *Module) AddDataSource(url, typ string, args json.RawMessage) error {
	if typ != SourceType {
		return kb.ErrRejected
	}
	var a sourceArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("%w: args: %v", kb.ErrInvalidSource, err)
		}
	}
	stdMag := DefaultStdMag
	if a.StdMag != nil {
		stdMag = *a.StdMag
	}
	if a.TLE != "" {
		els, err := ParseTLE(a.TLE)
		if err != nil {
			return fmt.Errorf("%w: %v", kb.ErrInvalidSource, err)
		}
		m.addElements(els, stdMag)
		return nil
	}
	path := strings.TrimPrefix(url, "file://")
	if path == "" {
		return fmt.Errorf("%w: no url or inline tle", kb.ErrInvalidSource)
	}
	m.loads = append(m.loads, loader.Go(context.Background(), m.pool, func(context.Context) (parsed, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return parsed{}, err
		}
		els, err := ParseTLE(string(data))
		if err != nil {
			return parsed{}, err
		}
		return parsed{elements: els, stdMag: stdMag}, nil
	}))
	return nil
}

func (m *Module) poll() {
	pending := m.loads[:0]
	for _, f := range m.loads {
		p, done, err := f.Poll()
		switch {
		case !done:
			pending = append(pending, f)
		case err != nil:
			m.errs++
			m.log.Warn(context.Background(), "tle source failed", logging.Err(err))
		default:
			m.addElements(p.elements, p.stdMag)
		}
	}
	m.loads = pending
}

func (m *Module) addElements(els []Element, stdMag float64) {
	added := 0
	for _, el := range els {
		if h, ok := m.byNORAD[el.NORAD]; ok && m.reg.Alive(h) {
			// Newer element sets replace older ones.
			m.reg.Destroy(h)
		}
		meta := kb.Meta{
			ID:           "norad" + strconv.Itoa(el.NORAD),
			OID:          SatelliteOID(el.NORAD),
			Designations: []string{"NORAD " + strconv.Itoa(el.NORAD)},
		}
		if el.IntlID != "" {
			meta.Designations = append(meta.Designations, el.IntlID)
		}
		if el.Name != "" {
			meta.Names = []string{el.Name}
		}
		obj := &Satellite{
			Element: el,
			StdMag:  stdMag,
			sat:     satellite.TLEToSat(el.Line1, el.Line2, satellite.GravityWGS72),
		}
		h, err := m.reg.AddNew(m.self, meta, obj)
		if err != nil {
			m.log.Warn(context.Background(), "satellite not added", logging.Int("norad", el.NORAD), logging.Err(err))
			continue
		}
		m.byNORAD[el.NORAD] = h
		added++
	}
	m.log.Info(context.Background(), "element sets loaded", logging.Int("count", added))
}

// Loading reports whether file sources are still being read.
func (m *Module) Loading() bool { return len(m.loads) > 0 }

// List implements kb.Lister.
func (m *Module) List(obs *model.Observer, maxMag float64, hint kb.Class, visit func(kb.Handle) bool) error {
	m.poll()
	if hint != "" && hint != ClassSatellite {
		return nil
	}
	for h := range m.reg.Children(m.self, ClassSatellite) {
		if obs != nil {
			obj, _ := m.reg.Get(h)
			ob, ok := obj.(*Satellite).Observe(obs)
			if !ok || ob.Vmag >= maxMag {
				continue
			}
		}
		if !visit(h) {
			return nil
		}
	}
	if m.Loading() {
		return kb.ErrAgain
	}
	return nil
}

// Query implements kb.Querier for "NORAD <n>" identifiers.
func (m *Module) Query(id string) (kb.Handle, bool) {
	s := strings.TrimSpace(id)
	if len(s) < 6 || !strings.EqualFold(s[:5], "NORAD") {
		return kb.Handle{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[5:]))
	if err != nil {
		return kb.Handle{}, false
	}
	h, ok := m.byNORAD[n]
	if !ok || !m.reg.Alive(h) {
		return kb.Handle{}, false
	}
	return h, true
}

// Update implements core.Updater.
func (m *Module) Update(c *core.Core, _ float64) error {
	m.poll()
	if !m.visible {
		return nil
	}
	if err := c.ReportVisible(m.self); err != nil && !errors.Is(err, kb.ErrAgain) {
		return err
	}
	return nil
}

// Attr implements kb.Attributer.
func (m *Module) Attr(name string) (any, bool) {
	switch name {
	case "visible":
		return m.visible, true
	case "count":
		n := 0
		for range m.reg.Children(m.self, ClassSatellite) {
			n++
		}
		return n, true
	case "failed_sources":
		return m.errs, true
	}
	return nil, false
}

// SetAttr implements kb.Attributer.
func (m *Module) SetAttr(name string, value any) error {
	if name != "visible" {
		return fmt.Errorf("attribute %q: %w", name, kb.ErrNotFound)
	}
	v, ok := value.(bool)
	if !ok {
		return fmt.Errorf("visible: expected bool, got %T", value)
	}
	m.visible = v
	return nil
}

// AttrNames implements kb.Attributer.
func (m *Module) AttrNames() []string {
	return []string{"count", "failed_sources", "visible"}
}
