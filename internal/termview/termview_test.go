package termview

import (
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/model"
)

func newScreen(t *testing.T) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("init screen: %v", err)
	}
	screen.SetSize(80, 24)
	t.Cleanup(screen.Fini)
	return screen
}

func runeAt(s tcell.Screen, x, y int) rune {
	ch, _, _, _ := s.GetContent(x, y)
	return ch
}

func rowText(s tcell.Screen, y int) string {
	w, _ := s.Size()
	var b strings.Builder
	for x := 0; x < w; x++ {
		b.WriteRune(runeAt(s, x, y))
	}
	return b.String()
}

func TestRendererDrawPoint(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	if w, h := r.WindowSize(); w != 640 || h != 384 {
		t.Fatalf("window size = %vx%v, want 640x384", w, h)
	}
	_ = r.BeginFrame(core.FrameInfo{})
	r.DrawPoint(core.Point{X: 84, Y: 40, Radius: 8, Luminance: 1, Label: "Vega"})
	r.DrawPoint(core.Point{X: -10, Y: 40, Radius: 8, Luminance: 1})

	if got := runeAt(screen, 10, 2); got != '@' {
		t.Fatalf("glyph = %q, want '@'", got)
	}
	if got := strings.TrimSpace(rowText(screen, 2)); !strings.Contains(got, "Vega") {
		t.Fatalf("row 2 = %q, want label", got)
	}
	if r.points != 1 {
		t.Fatalf("points = %d, want 1", r.points)
	}
}

func TestGlyphForScalesWithBrightness(t *testing.T) {
	faint := glyphFor(0.5, 0.05, DefaultCellWidth)
	bright := glyphFor(8, 1, DefaultCellWidth)
	if faint != '.' {
		t.Fatalf("faint glyph = %q, want '.'", faint)
	}
	if bright != '@' {
		t.Fatalf("bright glyph = %q, want '@'", bright)
	}
}

func TestRendererDrawLineKeepsStars(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	_ = r.BeginFrame(core.FrameInfo{})
	r.DrawPoint(core.Point{X: 5*8 + 1, Y: 5*16 + 1, Radius: 8, Luminance: 1})
	r.DrawLine(1, 5*16+1, 20*8+1, 5*16+1, 1)

	if got := runeAt(screen, 5, 5); got != '@' {
		t.Fatalf("star overwritten by %q", got)
	}
	for _, x := range []int{0, 3, 10, 20} {
		if got := runeAt(screen, x, 5); got != '-' {
			t.Fatalf("cell %d = %q, want '-'", x, got)
		}
	}
	if got := runeAt(screen, 21, 5); got != ' ' {
		t.Fatalf("line overran its end: %q", got)
	}

	r.DrawLine(30*8+1, 1, 30*8+1, 10*16+1, 0.5)
	if got := runeAt(screen, 30, 4); got != '|' {
		t.Fatalf("vertical line cell = %q, want '|'", got)
	}
}

func TestRendererStatusLine(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	_ = r.BeginFrame(core.FrameInfo{FOV: 1, Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)})
	r.DrawText(0, 23*16, "hidden by status", 1)
	if err := r.EndFrame(); err != nil {
		t.Fatalf("end frame: %v", err)
	}
	line := rowText(screen, 23)
	if !strings.Contains(line, "fov 57.3°") || !strings.Contains(line, "2024-03-01 12:00:00") {
		t.Fatalf("status line = %q", line)
	}

	r.SetStatusLine(false)
	_ = r.BeginFrame(core.FrameInfo{})
	r.DrawText(0, 23*16, "bottom", 1)
	_ = r.EndFrame()
	if got := rowText(screen, 23); !strings.HasPrefix(got, "bottom") {
		t.Fatalf("bottom row = %q", got)
	}
}

func newCore(t *testing.T, r core.Renderer) *core.Core {
	t.Helper()
	c, err := core.Init(640, 384, 1,
		core.WithRenderer(r),
		core.WithObserver(model.NewObserver(0.8, 0.1, 0, 60000.5)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(c.Release)
	return c
}

func TestInputKeysHoldAndRelease(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	c := newCore(t, r)
	in := NewInput(r)
	now := time.Unix(0, 0)
	in.now = func() time.Time { return now }

	if !in.HandleEvent(c, tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone)) {
		t.Fatalf("arrow key asked to quit")
	}
	if !c.KeyDown(core.KeyLeft) {
		t.Fatalf("left not held after press")
	}

	now = now.Add(100 * time.Millisecond)
	in.Release(c)
	if !c.KeyDown(core.KeyLeft) {
		t.Fatalf("left released before hold timeout")
	}

	now = now.Add(keyHold)
	in.Release(c)
	if c.KeyDown(core.KeyLeft) {
		t.Fatalf("left still held after hold timeout")
	}
}

func TestInputQuitAndChars(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	c := newCore(t, r)
	in := NewInput(r)

	tests := []struct {
		name string
		ev   tcell.Event
		want bool
	}{
		{"ctrl-c", tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl), false},
		{"q", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone), false},
		{"char", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone), true},
		{"resize", tcell.NewEventResize(100, 30), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := in.HandleEvent(c, tt.ev); got != tt.want {
				t.Fatalf("HandleEvent = %v, want %v", got, tt.want)
			}
		})
	}
	if got := string(c.Chars()); got != "x" {
		t.Fatalf("chars = %q, want \"x\"", got)
	}
}

func TestInputZoomKeys(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	c := newCore(t, r)
	in := NewInput(r)

	before := c.FOV()
	in.HandleEvent(c, tcell.NewEventKey(tcell.KeyRune, '+', tcell.ModNone))
	if err := c.Update(0.01); err != nil {
		t.Fatalf("update: %v", err)
	}
	if c.FOV() >= before {
		t.Fatalf("fov %v did not shrink from %v", c.FOV(), before)
	}

	before = c.FOV()
	in.HandleEvent(c, tcell.NewEventMouse(10, 5, tcell.WheelDown, tcell.ModNone))
	_ = c.Update(0.01)
	if c.FOV() <= before {
		t.Fatalf("fov %v did not grow from %v", c.FOV(), before)
	}
}

func TestInputMouseClickCounts(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	c := newCore(t, r)
	in := NewInput(r)

	in.HandleEvent(c, tcell.NewEventMouse(10, 5, tcell.Button1, tcell.ModNone))
	in.HandleEvent(c, tcell.NewEventMouse(10, 5, tcell.ButtonNone, tcell.ModNone))
	_ = c.Update(0.01)
	if c.Clicks() != 1 {
		t.Fatalf("clicks = %d, want 1", c.Clicks())
	}
}

func TestRenderThroughCore(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, 0, 0)
	c := newCore(t, r)
	w, h := r.WindowSize()
	if err := c.Update(0.01); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Render(w, h, 1); err != nil {
		t.Fatalf("render: %v", err)
	}
	if line := rowText(screen, 23); !strings.Contains(line, "UTC") {
		t.Fatalf("status line = %q", line)
	}
}
