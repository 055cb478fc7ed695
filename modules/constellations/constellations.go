// Package constellations is the constellation module. Constellations are
// figures made of line segments between catalog stars; they have no
// position of their own until their stars are loaded, so listing them is
// only possible with an explicit class hint.
package constellations

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/catalog"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
)

// SourceType is the data source type accepted by the module.
const SourceType = "constellations"

// BuiltinURL selects the embedded western figures.
const BuiltinURL = "builtin:western"

// ClassConstellation tags constellation entities.
const ClassConstellation kb.Class = "constellation"

// RenderOrder draws constellations above stars and satellites.
const RenderOrder = 40

const (
	defaultLinesAlpha = 0.5
	selectedAlpha     = 1.0
)

//go:embed western.json
var westernJSON []byte

// Figure is the data source representation of one constellation.
type Figure struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Lines [][2]int `json:"lines"`
}

type document struct {
	Culture        string   `json:"culture"`
	Constellations []Figure `json:"constellations"`
}

// ConstellationOID packs a constellation abbreviation into an oid.
func ConstellationOID(id string) uint64 {
	oid := uint64('C') << 56
	for i := 0; i < len(id) && i < 6; i++ {
		oid |= uint64(id[i]) << (8 * (5 - i))
	}
	return oid
}

// Constellation is one figure.
type Constellation struct {
	Figure
	Culture string

	reg   *kb.Registry
	stars map[int]kb.Handle
}

// Class implements kb.Object.
func (c *Constellation) Class() kb.Class { return ClassConstellation }

// resolveStars refreshes the star handles and reports whether every star of
// the figure is loaded.
func (c *Constellation) resolveStars() bool {
	complete := true
	for _, l := range c.Lines {
		for _, hip := range l {
			if h, ok := c.stars[hip]; ok && c.reg.Alive(h) {
				continue
			}
			h, err := c.reg.ResolveByOID(kb.Handle{}, catalog.StarOID(hip), "")
			if err != nil {
				delete(c.stars, hip)
				complete = false
				continue
			}
			c.stars[hip] = h
		}
	}
	return complete
}

func (c *Constellation) observeStar(obs *model.Observer, h kb.Handle) (kb.Observation, bool) {
	obj, ok := c.reg.Get(h)
	if !ok {
		return kb.Observation{}, false
	}
	o, ok := obj.(kb.Observable)
	if !ok {
		return kb.Observation{}, false
	}
	ob, ok := o.Observe(obs)
	if !ok {
		return kb.Observation{}, false
	}
	ob.Dir = ob.Dir.Normalize()
	return ob, true
}

func (c *Constellation) starDir(obs *model.Observer, hip int) (geom.Vec3, bool) {
	h, ok := c.stars[hip]
	if !ok {
		return geom.Vec3{}, false
	}
	ob, ok := c.observeStar(obs, h)
	return ob.Dir, ok
}

// Observe implements kb.Observable. The direction is the mean of the loaded
// stars, the radius the largest separation from it and the magnitude that
// of the brightest star.
func (c *Constellation) Observe(obs *model.Observer) (kb.Observation, bool) {
	c.resolveStars()
	var (
		sum  geom.Vec3
		dirs []geom.Vec3
		vmag = math.Inf(1)
	)
	seen := make(map[int]bool, len(c.stars))
	for _, l := range c.Lines {
		for _, hip := range l {
			h, ok := c.stars[hip]
			if !ok || seen[hip] {
				continue
			}
			seen[hip] = true
			ob, ok := c.observeStar(obs, h)
			if !ok {
				continue
			}
			sum = sum.Add(ob.Dir)
			dirs = append(dirs, ob.Dir)
			vmag = math.Min(vmag, ob.Vmag)
		}
	}
	if len(dirs) == 0 || sum.Norm() == 0 {
		return kb.Observation{}, false
	}
	center := sum.Normalize()
	radius := 0.0
	for _, d := range dirs {
		radius = math.Max(radius, geom.Separation(center, d))
	}
	return kb.Observation{Dir: center, Vmag: vmag, Radius: radius}, true
}

// Module is the constellations module.
type Module struct {
	kb.BaseModule
	log logging.Logger

	reg    *kb.Registry
	self   kb.Handle
	lines  kb.Handle
	images kb.Handle

	visible bool
	labels  bool
	byID    map[string]kb.Handle
}

// New returns an empty constellations module.
func New(log logging.Logger) *Module {
	return &Module{
		BaseModule: kb.BaseModule{Order: RenderOrder},
		log:        logging.ForComponent(log, "constellations"),
		visible:    true,
		labels:     true,
		byID:       make(map[string]kb.Handle),
	}
}

// Class implements kb.Object.
func (m *Module) Class() kb.Class { return kb.ClassModule }

// Bind implements kb.Binder. It creates the "lines" and "images" sub
// modules.
func (m *Module) Bind(r *kb.Registry, self kb.Handle) {
	m.reg = r
	m.self = self
	lines, err := r.AddSub(self, "lines")
	if err != nil {
		m.log.Error(context.Background(), "lines sub module not created", logging.Err(err))
	} else {
		m.lines = lines
		_ = r.SetAttr(lines, "visible", true)
		_ = r.SetAttr(lines, "alpha", defaultLinesAlpha)
	}
	images, err := r.AddSub(self, "images")
	if err != nil {
		m.log.Error(context.Background(), "images sub module not created", logging.Err(err))
	} else {
		m.images = images
		_ = r.SetAttr(images, "visible", false)
	}
}

// Lines returns the "lines" sub module.
func (m *Module) Lines() kb.Handle { return m.lines }

// Images returns the "images" sub module. Artwork is not drawn; the sub
// module only carries its attributes.
func (m *Module) Images() kb.Handle { return m.images }

// AddDataSource implements kb.DataSourceAcceptor. url is a JSON file path or
// BuiltinURL; args may carry the document inline.
func (m *Module) AddDataSource(url, typ string, args json.RawMessage) error {
	if typ != SourceType {
		return kb.ErrRejected
	}
	var data []byte
	switch {
	case len(args) > 0 && string(args) != "null":
		data = args
	case url == BuiltinURL || url == "":
		data = westernJSON
	default:
		b, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return fmt.Errorf("%w: %v", kb.ErrInvalidSource, err)
		}
		data = b
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", kb.ErrInvalidSource, err)
	}
	if len(doc.Constellations) == 0 {
		return fmt.Errorf("%w: no constellations", kb.ErrInvalidSource)
	}
	for _, f := range doc.Constellations {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("%w: constellation without id", kb.ErrInvalidSource)
		}
	}
	if doc.Culture == "" {
		doc.Culture = "western"
	}
	for _, f := range doc.Constellations {
		m.add(doc.Culture, f)
	}
	m.log.Info(context.Background(), "constellations loaded",
		logging.String("culture", doc.Culture),
		logging.Int("count", len(doc.Constellations)),
	)
	return nil
}

func (m *Module) add(culture string, f Figure) {
	key := strings.ToLower(f.ID)
	if h, ok := m.byID[key]; ok && m.reg.Alive(h) {
		m.reg.Destroy(h)
	}
	meta := kb.Meta{
		ID:           key,
		OID:          ConstellationOID(f.ID),
		Designations: []string{"CON " + culture + " " + f.ID},
	}
	if f.Name != "" {
		meta.Names = []string{f.Name}
	}
	obj := &Constellation{Figure: f, Culture: culture, reg: m.reg, stars: make(map[int]kb.Handle)}
	h, err := m.reg.AddNew(m.self, meta, obj)
	if err != nil {
		m.log.Warn(context.Background(), "constellation not added", logging.String("id", f.ID), logging.Err(err))
		return
	}
	m.byID[key] = h
}

// List implements kb.Lister. Constellations are only listed for an explicit
// ClassConstellation hint. The listing reports kb.ErrAgain while some of
// their stars are missing and a module is still loading; once loading is over
// missing stars are treated as absent.
func (m *Module) List(obs *model.Observer, maxMag float64, hint kb.Class, visit func(kb.Handle) bool) error {
	switch hint {
	case "":
		return kb.ErrUnsupported
	case ClassConstellation:
	default:
		return nil
	}
	complete := true
	for h := range m.reg.Children(m.self, ClassConstellation) {
		obj, _ := m.reg.Get(h)
		if !obj.(*Constellation).resolveStars() {
			complete = false
		}
		if !visit(h) {
			return nil
		}
	}
	if !complete && m.reg.Loading(kb.Handle{}) {
		return kb.ErrAgain
	}
	return nil
}

// Paint implements core.Painter: constellation lines and labels.
func (m *Module) Paint(c *core.Core, r core.Renderer) error {
	sub, _ := m.reg.Get(m.lines)
	lines, _ := sub.(*kb.SubModule)
	if lines == nil || !lines.Bool("visible", true) {
		return nil
	}
	alpha := defaultLinesAlpha
	if v, ok := lines.Attr("alpha"); ok {
		if f, ok := v.(float64); ok {
			alpha = geom.Clamp(f, 0, 1)
		}
	}
	obs := c.Observer()
	proj := c.Projection()
	project := func(d geom.Vec3) (float64, float64, bool) {
		return proj.Project(obs.ObservedToView(d))
	}
	sel := c.Selection()
	for h := range m.reg.Children(m.self, ClassConstellation) {
		obj, _ := m.reg.Get(h)
		con := obj.(*Constellation)
		con.resolveStars()
		a := alpha
		if h == sel {
			a = selectedAlpha
		}
		for _, l := range con.Lines {
			d0, ok0 := con.starDir(obs, l[0])
			d1, ok1 := con.starDir(obs, l[1])
			if !ok0 || !ok1 {
				continue
			}
			x0, y0, ok0 := project(d0)
			x1, y1, ok1 := project(d1)
			if !ok0 || !ok1 {
				continue
			}
			r.DrawLine(x0, y0, x1, y1, a)
		}
		if !m.labels || con.Name == "" {
			continue
		}
		if ob, ok := con.Observe(obs); ok {
			if x, y, ok := project(ob.Dir); ok {
				r.DrawText(x, y, con.Name, a)
			}
		}
	}
	return nil
}

// Query implements kb.Querier for bare abbreviations such as "Ori".
func (m *Module) Query(id string) (kb.Handle, bool) {
	h, ok := m.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok || !m.reg.Alive(h) {
		return kb.Handle{}, false
	}
	return h, true
}

// Attr implements kb.Attributer.
func (m *Module) Attr(name string) (any, bool) {
	switch name {
	case "visible":
		return m.visible, true
	case "labels":
		return m.labels, true
	}
	return nil, false
}

// SetAttr implements kb.Attributer.
func (m *Module) SetAttr(name string, value any) error {
	v, ok := value.(bool)
	switch name {
	case "visible", "labels":
		if !ok {
			return fmt.Errorf("%s: expected bool, got %T", name, value)
		}
	default:
		return fmt.Errorf("attribute %q: %w", name, kb.ErrNotFound)
	}
	if name == "visible" {
		m.visible = v
	} else {
		m.labels = v
	}
	return nil
}

// AttrNames implements kb.Attributer.
func (m *Module) AttrNames() []string { return []string{"labels", "visible"} }
