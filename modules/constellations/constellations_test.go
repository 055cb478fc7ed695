package constellations

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/catalog"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
	"github.com/signalsfoundry/sky-engine/modules/stars"
)

type fakeStar struct {
	pos  geom.Vec3
	vmag float64
}

func (s *fakeStar) Class() kb.Class { return "star" }

func (s *fakeStar) Observe(obs *model.Observer) (kb.Observation, bool) {
	return kb.Observation{Dir: obs.EquatorialToObserved(s.pos), Vmag: s.vmag}, true
}

type recorder struct {
	lines []float64
	texts []string
}

func (r *recorder) BeginFrame(core.FrameInfo) error {
	r.lines, r.texts = nil, nil
	return nil
}
func (r *recorder) DrawPoint(core.Point)                       {}
func (r *recorder) DrawLine(_, _, _, _, alpha float64)         { r.lines = append(r.lines, alpha) }
func (r *recorder) DrawText(_, _ float64, s string, _ float64) { r.texts = append(r.texts, s) }
func (r *recorder) EndFrame() error                            { return nil }

const orionOnly = `{"culture": "western", "constellations": [{"id": "Ori", "name": "Orion", "lines": [
	[27989, 25336], [27989, 26727], [25336, 25930], [25930, 26311],
	[26311, 26727], [26727, 27366], [25930, 24436]]}]}`

// starSource stands in for a star module whose catalog may still be loading.
type starSource struct {
	*kb.SubModule
	loading bool
}

func (s *starSource) Loading() bool { return s.loading }

type fixture struct {
	c      *core.Core
	r      *recorder
	m      *Module
	h      kb.Handle
	stars  kb.Handle
	source *starSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	c, err := core.Init(800, 600, 1,
		core.WithObserver(model.NewObserver(0.8, 0.1, 0, 60000.5)),
		core.WithRenderer(rec),
	)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(c.Release)
	source := &starSource{SubModule: kb.NewSubModule(20)}
	stars, err := c.AddModule("stars", source)
	if err != nil {
		t.Fatalf("add stars: %v", err)
	}
	m := New(nil)
	h, err := c.AddModule("constellations", m)
	if err != nil {
		t.Fatalf("add constellations: %v", err)
	}
	return &fixture{c: c, r: rec, m: m, h: h, stars: stars, source: source}
}

// addStars registers the bright stars, skipping the given HIP numbers.
func (f *fixture) addStars(t *testing.T, skip ...int) {
	t.Helper()
	skipped := map[int]bool{}
	for _, hip := range skip {
		skipped[hip] = true
	}
	for _, st := range catalog.BrightStars() {
		if skipped[st.HIP] {
			continue
		}
		meta := kb.Meta{ID: st.Name, OID: st.OID, Names: []string{st.Name}}
		obj := &fakeStar{pos: geom.FromSpherical(st.RA, st.Dec), vmag: st.Vmag}
		if _, err := f.c.Registry().AddNew(f.stars, meta, obj); err != nil {
			t.Fatalf("add star %d: %v", st.HIP, err)
		}
	}
}

func (f *fixture) count(t *testing.T, hint kb.Class) (int, error) {
	t.Helper()
	n := 0
	err := f.c.Registry().List(f.h, f.c.Observer(), 99, hint, func(kb.Handle) bool {
		n++
		return true
	})
	return n, err
}

func TestListingNeedsHint(t *testing.T) {
	f := newFixture(t)
	f.addStars(t)
	if err := f.c.AddDataSource(f.h, BuiltinURL, SourceType, nil); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	if _, err := f.count(t, ""); !errors.Is(err, kb.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported without hint, got %v", err)
	}
	n, err := f.count(t, ClassConstellation)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 constellations, got %d, %v", n, err)
	}
	if n, err := f.count(t, "star"); err != nil || n != 0 {
		t.Fatalf("foreign hint listed %d, %v", n, err)
	}
}

func TestListingAgainUntilStarsLoaded(t *testing.T) {
	f := newFixture(t)
	f.source.loading = true
	f.addStars(t, 24436)
	if err := f.c.AddDataSource(f.h, "", SourceType, json.RawMessage(orionOnly)); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	if _, err := f.count(t, ClassConstellation); !errors.Is(err, kb.ErrAgain) {
		t.Fatalf("expected ErrAgain with Rigel missing, got %v", err)
	}

	rigel := catalog.BrightStars()[5]
	obj := &fakeStar{pos: geom.FromSpherical(rigel.RA, rigel.Dec), vmag: rigel.Vmag}
	if _, err := f.c.Registry().AddNew(f.stars, kb.Meta{ID: "rigel", OID: rigel.OID}, obj); err != nil {
		t.Fatalf("add rigel: %v", err)
	}
	if _, err := f.count(t, ClassConstellation); err != nil {
		t.Fatalf("expected complete listing, got %v", err)
	}
}

func TestListingCompleteOnceLoadingEnds(t *testing.T) {
	f := newFixture(t)
	f.source.loading = true
	f.addStars(t, 24436)
	if err := f.c.AddDataSource(f.h, "", SourceType, json.RawMessage(orionOnly)); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	if _, err := f.count(t, ClassConstellation); !errors.Is(err, kb.ErrAgain) {
		t.Fatalf("expected ErrAgain while loading, got %v", err)
	}
	f.source.loading = false
	n, err := f.count(t, ClassConstellation)
	if err != nil || n != 1 {
		t.Fatalf("expected Orion listed without Rigel, got %d, %v", n, err)
	}
}

func TestListingWithCatalogStarsMissingAStar(t *testing.T) {
	c, err := core.Init(800, 600, 1, core.WithObserver(model.NewObserver(0.8, 0.1, 0, 60000.5)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(c.Release)
	sm := stars.New(nil, stars.OpenCatalog)
	sh, err := c.AddModule("stars", sm)
	if err != nil {
		t.Fatalf("add stars: %v", err)
	}
	t.Cleanup(func() { _ = sm.Close() })
	m := New(nil)
	h, err := c.AddModule("constellations", m)
	if err != nil {
		t.Fatalf("add constellations: %v", err)
	}
	if err := c.AddDataSource(sh, ":memory:", stars.SourceType, nil); err != nil {
		t.Fatalf("add star catalog: %v", err)
	}
	figure := `{"culture": "western", "constellations": [{"id": "Ori", "name": "Orion",
		"lines": [[27989, 25336], [25336, 999999]]}]}`
	if err := c.AddDataSource(h, "", SourceType, json.RawMessage(figure)); err != nil {
		t.Fatalf("add figures: %v", err)
	}

	list := func(mod kb.Handle, hint kb.Class) (int, error) {
		n := 0
		err := c.Registry().List(mod, c.Observer(), 99, hint, func(kb.Handle) bool {
			n++
			return true
		})
		return n, err
	}
	if _, err := list(h, ClassConstellation); !errors.Is(err, kb.ErrAgain) {
		t.Fatalf("expected ErrAgain while the catalog loads, got %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sm.Loading() {
		if _, err := list(sh, ""); err != nil && !errors.Is(err, kb.ErrAgain) {
			t.Fatalf("list stars: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("star catalog still loading after deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	n, err := list(h, ClassConstellation)
	if err != nil || n != 1 {
		t.Fatalf("expected one constellation once loaded, got %d, %v", n, err)
	}
}

func TestResolveFiguresAndSubModules(t *testing.T) {
	f := newFixture(t)
	if err := f.c.AddDataSource(kb.Handle{}, BuiltinURL, SourceType, nil); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	cases := []struct {
		query string
		want  kb.Handle
		flags int
	}{
		{"constellations.lines", f.m.Lines(), kb.ResolveModulesOnly},
		{"core.constellations.images", f.m.Images(), kb.ResolveModulesOnly},
		{"CON western Ori", f.m.byID["ori"], 0},
		{"Orion", f.m.byID["ori"], 0},
		{"Gem", f.m.byID["gem"], 0},
		{"ursa major", f.m.byID["uma"], 0},
	}
	for _, tc := range cases {
		if tc.want.IsZero() {
			t.Fatalf("%s: fixture handle missing", tc.query)
		}
		if got := f.c.Resolve(kb.Handle{}, tc.query, tc.flags); got != tc.want {
			t.Fatalf("resolve %q = %v, want %v", tc.query, got, tc.want)
		}
	}
	if v, err := f.c.Registry().Attr(f.m.Images(), "visible"); err != nil || v != false {
		t.Fatalf("images visible = %v, %v", v, err)
	}
}

func TestPaintLinesAndLabels(t *testing.T) {
	f := newFixture(t)
	f.addStars(t)
	if err := f.c.AddDataSource(f.h, "", SourceType, json.RawMessage(orionOnly)); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	orion := f.c.Resolve(kb.Handle{}, "Orion", 0)
	if err := f.c.PointAndLock(orion, 0); err != nil {
		t.Fatalf("point: %v", err)
	}
	f.c.ZoomTo(1, 0)
	if err := f.c.Update(0.01); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.c.Render(800, 600, 1); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(f.r.lines) != 7 {
		t.Fatalf("expected 7 lines, got %d", len(f.r.lines))
	}
	if len(f.r.texts) != 1 || f.r.texts[0] != "Orion" {
		t.Fatalf("unexpected labels %v", f.r.texts)
	}
	for _, a := range f.r.lines {
		if a != defaultLinesAlpha {
			t.Fatalf("unexpected alpha %g", a)
		}
	}

	f.c.Select(orion)
	if err := f.c.Render(800, 600, 1); err != nil {
		t.Fatalf("render: %v", err)
	}
	if f.r.lines[0] != selectedAlpha {
		t.Fatalf("selected figure drawn with alpha %g", f.r.lines[0])
	}

	if err := f.c.Registry().SetAttr(f.m.Lines(), "visible", false); err != nil {
		t.Fatalf("hide lines: %v", err)
	}
	if err := f.c.Render(800, 600, 1); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(f.r.lines) != 0 || len(f.r.texts) != 0 {
		t.Fatalf("hidden lines still drawn: %d lines %d labels", len(f.r.lines), len(f.r.texts))
	}
}

func TestObserveCenterAndRadius(t *testing.T) {
	f := newFixture(t)
	f.addStars(t)
	if err := f.c.AddDataSource(f.h, "", SourceType, json.RawMessage(orionOnly)); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	obj, _ := f.c.Registry().Get(f.m.byID["ori"])
	ob, ok := obj.(*Constellation).Observe(f.c.Observer())
	if !ok {
		t.Fatalf("observe failed")
	}
	if ob.Radius <= 0 || ob.Radius > 0.3 {
		t.Fatalf("unexpected radius %g", ob.Radius)
	}
	if ob.Vmag != 0.13 {
		t.Fatalf("expected brightest member magnitude 0.13 (Rigel), got %g", ob.Vmag)
	}
}

func TestObserveIsRepeatable(t *testing.T) {
	f := newFixture(t)
	f.addStars(t)
	if err := f.c.AddDataSource(f.h, "", SourceType, json.RawMessage(orionOnly)); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	obj, _ := f.c.Registry().Get(f.m.byID["ori"])
	con := obj.(*Constellation)
	first, ok := con.Observe(f.c.Observer())
	if !ok {
		t.Fatalf("observe failed")
	}
	for i := 0; i < 50; i++ {
		ob, _ := con.Observe(f.c.Observer())
		if ob != first {
			t.Fatalf("observation %d differs: %+v vs %+v", i, ob, first)
		}
	}
}

func TestDataSourceErrors(t *testing.T) {
	f := newFixture(t)
	if err := f.c.AddDataSource(f.h, "", "tle", nil); !errors.Is(err, kb.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	cases := map[string]json.RawMessage{
		"bad json":   json.RawMessage(`{"constellations": [`),
		"empty":      json.RawMessage(`{"constellations": []}`),
		"missing id": json.RawMessage(`{"constellations": [{"name": "Nameless"}]}`),
	}
	for name, args := range cases {
		if err := f.m.AddDataSource("", SourceType, args); !errors.Is(err, kb.ErrInvalidSource) {
			t.Fatalf("%s: expected ErrInvalidSource, got %v", name, err)
		}
	}
	if err := f.m.AddDataSource(filepath.Join(t.TempDir(), "none.json"), SourceType, nil); !errors.Is(err, kb.ErrInvalidSource) {
		t.Fatalf("missing file: expected ErrInvalidSource, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "orion.json")
	if err := os.WriteFile(path, []byte(orionOnly), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.m.AddDataSource("file://"+path, SourceType, nil); err != nil {
		t.Fatalf("file source: %v", err)
	}
	if err := f.m.AddDataSource(path, SourceType, nil); err != nil {
		t.Fatalf("reload: %v", err)
	}
	n := 0
	for range f.c.Registry().Children(f.h, ClassConstellation) {
		n++
	}
	if n != 1 {
		t.Fatalf("reload duplicated figures: %d", n)
	}
}
