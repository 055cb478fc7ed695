package control

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/observability"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
)

type testStar struct {
	pos  geom.Vec3
	vmag float64
}

func (s *testStar) Class() kb.Class { return "star" }

func (s *testStar) Observe(obs *model.Observer) (kb.Observation, bool) {
	return kb.Observation{Dir: obs.EquatorialToObserved(s.pos), Vmag: s.vmag}, true
}

// sourceModule accepts "test" data sources and records their args.
type sourceModule struct {
	kb.BaseModule
	args chan json.RawMessage
}

func (m *sourceModule) Class() kb.Class { return kb.ClassModule }

func (m *sourceModule) AddDataSource(url, typ string, args json.RawMessage) error {
	if typ != "test" {
		return kb.ErrRejected
	}
	if url == "bad" {
		return kb.ErrInvalidSource
	}
	m.args <- args
	return nil
}

type harness struct {
	client    *Client
	collector *observability.ControlCollector
	sources   *sourceModule
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := core.Init(800, 600, 1, core.WithObserver(model.NewObserver(0.8, 0.1, 0, 60000.5)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	objs, err := c.AddModule("objects", kb.NewSubModule(10))
	if err != nil {
		t.Fatalf("add module: %v", err)
	}
	vega := &testStar{pos: geom.FromSpherical(279.235*math.Pi/180, 38.784*math.Pi/180), vmag: 0.03}
	meta := kb.Meta{ID: "vega", OID: 91262, Designations: []string{"HIP 91262"}, Names: []string{"Vega"}}
	if _, err := c.Registry().AddNew(objs, meta, vega); err != nil {
		t.Fatalf("add vega: %v", err)
	}
	sources := &sourceModule{BaseModule: kb.BaseModule{Order: 5}, args: make(chan json.RawMessage, 1)}
	if _, err := c.AddModule("sources", sources); err != nil {
		t.Fatalf("add sources: %v", err)
	}

	mb := NewMailbox(8)
	mb.Install(c)

	collector, err := observability.NewControlCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	srv := NewGRPCServer(NewServer(mb, nil), nil, collector)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = c.Update(0.01)
			}
		}
	}()

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
		cancel()
		<-done
		mb.Close()
		c.Release()
	})
	return &harness{client: client, collector: collector, sources: sources}
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if status.Code(err) != code {
		t.Fatalf("expected %v, got %v", code, err)
	}
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := callCtx(t)
	if err := h.client.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	first, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if first["tasks"].(float64) < 1 {
		t.Fatalf("mailbox task missing: %v", first)
	}
	time.Sleep(20 * time.Millisecond)
	second, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if second["frame"].(float64) <= first["frame"].(float64) {
		t.Fatalf("frames not advancing: %v then %v", first["frame"], second["frame"])
	}
	if got := testutil.ToFloat64(h.collector.RPCRequests.WithLabelValues("Control", "Status", "OK")); got != 2 {
		t.Fatalf("control_requests_total{Status,OK} = %v, want 2", got)
	}
}

func TestResolveAndSelect(t *testing.T) {
	h := newHarness(t)
	ctx := callCtx(t)

	res, err := h.client.Resolve(ctx, "hip 91262")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res["found"] != true || res["path"] != "core.objects.vega" || res["class"] != "star" {
		t.Fatalf("unexpected resolution %v", res)
	}
	if vmag, ok := res["vmag"].(float64); !ok || vmag != 0.03 {
		t.Fatalf("vmag = %v", res["vmag"])
	}

	res, err = h.client.Resolve(ctx, "Vgea")
	if err != nil {
		t.Fatalf("resolve typo: %v", err)
	}
	if res["found"] != false {
		t.Fatalf("typo should not resolve: %v", res)
	}
	if sug, _ := res["suggestions"].([]any); len(sug) == 0 || sug[0] != "Vega" {
		t.Fatalf("expected Vega suggestion, got %v", res["suggestions"])
	}

	if err := h.client.Select(ctx, "Vega"); err != nil {
		t.Fatalf("select: %v", err)
	}
	st, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st["selection"] != "core.objects.vega" {
		t.Fatalf("selection = %v", st["selection"])
	}
	wantCode(t, h.client.Select(ctx, "Betelgeuse"), codes.NotFound)
}

func TestLookAtAndZoom(t *testing.T) {
	h := newHarness(t)
	ctx := callCtx(t)

	res, err := h.client.LookAtTarget(ctx, "Vega", 0, true)
	if err != nil {
		t.Fatalf("lookat: %v", err)
	}
	if res["locked"] != true {
		t.Fatalf("expected lock, got %v", res)
	}
	if err := h.client.Zoom(ctx, 10, 0); err != nil {
		t.Fatalf("zoom: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := h.client.Status(ctx)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if math.Abs(st["fov"].(float64)-10) < 1e-6 && st["locked"] == true {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("zoom never applied: %v", st)
		}
		time.Sleep(2 * time.Millisecond)
	}

	res, err = h.client.LookAtRADec(ctx, 0, 90, 0)
	if err != nil {
		t.Fatalf("lookat ra/dec: %v", err)
	}
	if res["locked"] != false {
		t.Fatalf("coordinates should unlock: %v", res)
	}
	if alt := res["alt"].(float64); math.Abs(alt-0.8*180/math.Pi) > 0.5 {
		t.Fatalf("pole altitude %.2f, want observer latitude", alt)
	}

	_, err = h.client.LookAtTarget(ctx, "nothing here", 0, true)
	wantCode(t, err, codes.NotFound)
	wantCode(t, h.client.Zoom(ctx, -1, 0), codes.InvalidArgument)
	_, err = h.client.Call(ctx, "LookAt", map[string]any{"duration": 1.0})
	wantCode(t, err, codes.InvalidArgument)
}

func TestSetTime(t *testing.T) {
	h := newHarness(t)
	ctx := callCtx(t)

	when := time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC)
	if err := h.client.SetTimeSpeed(ctx, 0); err != nil {
		t.Fatalf("settime speed: %v", err)
	}
	if err := h.client.SetTime(ctx, when, 0); err != nil {
		t.Fatalf("settime: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := h.client.Status(ctx)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		got, err := time.Parse(time.RFC3339, st["utc"].(string))
		if err != nil {
			t.Fatalf("status utc: %v", err)
		}
		if d := got.Sub(when); d > -2*time.Second && d < 2*time.Second {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("time never applied: %v", st)
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, err := h.client.Call(ctx, "SetTime", map[string]any{"utc": "yesterday"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.Call(ctx, "SetTime", nil)
	wantCode(t, err, codes.InvalidArgument)
}

func TestAttributes(t *testing.T) {
	h := newHarness(t)
	ctx := callCtx(t)

	v, err := h.client.GetAttr(ctx, "", "bortle_index")
	if err != nil {
		t.Fatalf("get attr: %v", err)
	}
	if v != float64(3) {
		t.Fatalf("bortle_index = %v, want 3", v)
	}
	if err := h.client.SetAttr(ctx, "core", "bortle_index", 6); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	if v, _ := h.client.GetAttr(ctx, "core", "bortle_index"); v != float64(6) {
		t.Fatalf("bortle_index after set = %v", v)
	}
	if v, _ := h.client.GetAttr(ctx, "objects", "path"); v != "core.objects" {
		t.Fatalf("path attr = %v", v)
	}
	if err := h.client.SetAttr(ctx, "", "selection", "Vega"); err != nil {
		t.Fatalf("set selection: %v", err)
	}
	if v, _ := h.client.GetAttr(ctx, "", "selection"); v != "core.objects.vega" {
		t.Fatalf("selection attr = %v", v)
	}

	_, err = h.client.GetAttr(ctx, "nosuch", "visible")
	wantCode(t, err, codes.NotFound)
	_, err = h.client.GetAttr(ctx, "", "no_such_attr")
	wantCode(t, err, codes.NotFound)
	wantCode(t, h.client.SetAttr(ctx, "", "bortle_index", 42), codes.InvalidArgument)
}

func TestAddDataSource(t *testing.T) {
	h := newHarness(t)
	ctx := callCtx(t)

	if err := h.client.AddDataSource(ctx, "mem://x", "test", map[string]any{"max_vmag": 6.5}); err != nil {
		t.Fatalf("add data source: %v", err)
	}
	var args map[string]any
	if err := json.Unmarshal(<-h.sources.args, &args); err != nil {
		t.Fatalf("args not JSON: %v", err)
	}
	if args["max_vmag"] != 6.5 {
		t.Fatalf("args = %v", args)
	}

	wantCode(t, h.client.AddDataSource(ctx, "x", "unknown", nil), codes.FailedPrecondition)
	wantCode(t, h.client.AddDataSource(ctx, "bad", "test", nil), codes.InvalidArgument)
	_, err := h.client.Call(ctx, "AddDataSource", map[string]any{"url": "x"})
	wantCode(t, err, codes.InvalidArgument)
}
