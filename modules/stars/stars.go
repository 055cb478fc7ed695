// Package stars is the star catalog module. Stars are loaded tile by tile
// from a catalog source in the background and appear in listings as their
// tiles arrive; until then listings report kb.ErrAgain.
package stars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/catalog"
	"github.com/signalsfoundry/sky-engine/internal/loader"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
)

// SourceType is the data source type accepted by the module.
const SourceType = "stars"

// ClassStar tags star entities.
const ClassStar kb.Class = "star"

// RenderOrder places stars above the background and below constellations.
const RenderOrder = 20

// maxInflight bounds the tile loads started per frame.
const maxInflight = 4

// Source provides catalog tiles. *catalog.Store implements it.
type Source interface {
	Tiles(ctx context.Context) ([]catalog.Tile, error)
	LoadTile(ctx context.Context, tile int, maxMag float64) ([]catalog.Star, error)
}

// Opener opens a Source from a data source url.
type Opener func(url string) (Source, error)

// OpenCatalog opens a SQLite catalog, seeding it with the bright stars when
// empty.
func OpenCatalog(url string) (Source, error) {
	st, err := catalog.Open(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, err
	}
	if err := st.SeedBright(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Star is a catalog star.
type Star struct {
	HIP  int
	RA   float64
	Dec  float64
	Vmag float64

	pos geom.Vec3
}

// Class implements kb.Object.
func (s *Star) Class() kb.Class { return ClassStar }

// Observe implements kb.Observable.
func (s *Star) Observe(obs *model.Observer) (kb.Observation, bool) {
	return kb.Observation{Dir: obs.EquatorialToObserved(s.pos), Vmag: s.Vmag}, true
}

type sourceArgs struct {
	MaxVmag *float64 `json:"max_vmag"`
}

// Module is the star catalog module.
type Module struct {
	kb.BaseModule
	log  logging.Logger
	open Opener
	pool *loader.Pool

	reg  *kb.Registry
	self kb.Handle

	visible bool
	maxVmag float64

	src        Source
	tilesF     *loader.Future[[]catalog.Tile]
	pending    []catalog.Tile
	inflight   map[int]*loader.Future[[]catalog.Star]
	loaded     int
	tileCount  int
	byHIP      map[int]kb.Handle
	loadFailed error
}

// New returns a star module that opens its sources with open.
func New(log logging.Logger, open Opener) *Module {
	if open == nil {
		open = OpenCatalog
	}
	return &Module{
		BaseModule: kb.BaseModule{Order: RenderOrder},
		log:        logging.ForComponent(log, "stars"),
		open:       open,
		pool:       loader.NewPool(2),
		visible:    true,
		maxVmag:    99,
		inflight:   make(map[int]*loader.Future[[]catalog.Star]),
		byHIP:      make(map[int]kb.Handle),
	}
}

// Class implements kb.Object.
func (m *Module) Class() kb.Class { return kb.ClassModule }

// Bind implements kb.Binder.
func (m *Module) Bind(r *kb.Registry, self kb.Handle) {
	m.reg = r
	m.self = self
}

// AddDataSource implements kb.DataSourceAcceptor.
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
	src, err := m.open(url)
	if err != nil {
		return fmt.Errorf("%w: %v", kb.ErrInvalidSource, err)
	}
	if a.MaxVmag != nil {
		m.maxVmag = *a.MaxVmag
	}
	m.SetSource(src)
	m.log.Info(context.Background(), "star catalog attached", logging.String("url", url))
	return nil
}

// SetSource attaches src and starts loading its tile index.
func (m *Module) SetSource(src Source) {
	for _, f := range m.inflight {
		f.Cancel()
	}
	m.src = src
	m.pending = nil
	m.inflight = make(map[int]*loader.Future[[]catalog.Star])
	m.loadFailed = nil
	m.tilesF = loader.Go(context.Background(), m.pool, src.Tiles)
}

// Close cancels pending loads and closes the source when it is closable.
func (m *Module) Close() error {
	for _, f := range m.inflight {
		f.Cancel()
	}
	if m.tilesF != nil {
		m.tilesF.Cancel()
	}
	if c, ok := m.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Loading reports whether tiles are still being loaded.
func (m *Module) Loading() bool {
	return m.tilesF != nil || len(m.pending) > 0 || len(m.inflight) > 0
}

// poll collects finished loads and starts new ones. It never blocks.
func (m *Module) poll() {
	if m.tilesF != nil {
		tiles, done, err := m.tilesF.Poll()
		if !done {
			return
		}
		m.tilesF = nil
		if err != nil {
			m.fail(err)
			return
		}
		m.pending = tiles
		m.tileCount = len(tiles)
	}
	for id, f := range m.inflight {
		stars, done, err := f.Poll()
		if !done {
			continue
		}
		delete(m.inflight, id)
		if err != nil {
			m.fail(fmt.Errorf("tile %d: %w", id, err))
			continue
		}
		m.addStars(stars)
		m.loaded++
	}
	for len(m.inflight) < maxInflight && len(m.pending) > 0 {
		tile := m.pending[0]
		m.pending = m.pending[1:]
		if tile.MinVmag > m.maxVmag {
			m.loaded++
			continue
		}
		src, maxVmag := m.src, m.maxVmag
		m.inflight[tile.ID] = loader.Go(context.Background(), m.pool, func(ctx context.Context) ([]catalog.Star, error) {
			return src.LoadTile(ctx, tile.ID, maxVmag)
		})
	}
}

func (m *Module) fail(err error) {
	m.loadFailed = err
	m.log.Warn(context.Background(), "star tile load failed", logging.Err(err))
}

func (m *Module) addStars(stars []catalog.Star) {
	for _, st := range stars {
		if _, ok := m.byHIP[st.HIP]; ok && st.HIP != 0 {
			continue
		}
		meta := kb.Meta{
			ID:  "hip" + strconv.Itoa(st.HIP),
			OID: st.OID,
		}
		if st.HIP != 0 {
			meta.Designations = []string{"HIP " + strconv.Itoa(st.HIP)}
		}
		if st.Name != "" {
			meta.Names = []string{st.Name}
		}
		obj := &Star{HIP: st.HIP, RA: st.RA, Dec: st.Dec, Vmag: st.Vmag, pos: geom.FromSpherical(st.RA, st.Dec)}
		h, err := m.reg.AddNew(m.self, meta, obj)
		if err != nil {
			if errors.Is(err, kb.ErrDuplicateOID) {
				continue
			}
			m.log.Warn(context.Background(), "star not added", logging.Int("hip", st.HIP), logging.Err(err))
			continue
		}
		if st.HIP != 0 {
			m.byHIP[st.HIP] = h
		}
	}
}

// List implements kb.Lister. Stars from loaded tiles are visited; the
// result is kb.ErrAgain while tiles are still loading.
func (m *Module) List(obs *model.Observer, maxMag float64, hint kb.Class, visit func(kb.Handle) bool) error {
	m.poll()
	if hint != "" && hint != ClassStar {
		return nil
	}
	for h := range m.reg.Children(m.self, ClassStar) {
		obj, _ := m.reg.Get(h)
		if obj.(*Star).Vmag >= maxMag {
			continue
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

// Query implements kb.Querier for "HIP <n>" identifiers.
func (m *Module) Query(id string) (kb.Handle, bool) {
	s := strings.TrimSpace(id)
	if len(s) < 4 || !strings.EqualFold(s[:3], "HIP") {
		return kb.Handle{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[3:]))
	if err != nil {
		return kb.Handle{}, false
	}
	h, ok := m.byHIP[n]
	if !ok || !m.reg.Alive(h) {
		return kb.Handle{}, false
	}
	return h, true
}

// Update implements core.Updater: it advances loading and reports the
// visible stars to the eye adaptation.
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
	case "max_vmag":
		return m.maxVmag, true
	case "loaded_tiles":
		return m.loaded, true
	case "tiles":
		return m.tileCount, true
	case "error":
		if m.loadFailed == nil {
			return "", true
		}
		return m.loadFailed.Error(), true
	}
	return nil, false
}

// SetAttr implements kb.Attributer.
func (m *Module) SetAttr(name string, value any) error {
	switch name {
	case "visible":
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("visible: expected bool, got %T", value)
		}
		m.visible = v
		return nil
	case "max_vmag":
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("max_vmag: expected number, got %T", value)
		}
		m.maxVmag = v
		return nil
	}
	return fmt.Errorf("attribute %q: %w", name, kb.ErrNotFound)
}

// AttrNames implements kb.Attributer.
func (m *Module) AttrNames() []string {
	return []string{"error", "loaded_tiles", "max_vmag", "tiles", "visible"}
}
