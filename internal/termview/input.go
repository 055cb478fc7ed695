package termview

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/kb"
)

// keyHold is how long a key stays down after its last event. Terminals do
// not report key releases, only presses and autorepeat.
const keyHold = 250 * time.Millisecond

var keyMap = map[tcell.Key]int{
	tcell.KeyLeft:       core.KeyLeft,
	tcell.KeyRight:      core.KeyRight,
	tcell.KeyUp:         core.KeyUp,
	tcell.KeyDown:       core.KeyDown,
	tcell.KeyPgUp:       core.KeyPageUp,
	tcell.KeyPgDn:       core.KeyPageDown,
	tcell.KeyHome:       core.KeyHome,
	tcell.KeyEnd:        core.KeyEnd,
	tcell.KeyEnter:      core.KeyEnter,
	tcell.KeyTab:        core.KeyTab,
	tcell.KeyBackspace:  core.KeyBackspace,
	tcell.KeyBackspace2: core.KeyBackspace,
	tcell.KeyDelete:     core.KeyDelete,
}

// Input feeds tcell events to a core.
type Input struct {
	r    *Renderer
	now  func() time.Time
	held map[int]time.Time
	down bool
}

// NewInput creates an input handler using r to convert cells to window
// pixels.
func NewInput(r *Renderer) *Input {
	return &Input{r: r, now: time.Now, held: make(map[int]time.Time)}
}

// HandleEvent processes a tcell event and returns false if the view should
// exit. It must run on the goroutine that owns c.
func (in *Input) HandleEvent(c *core.Core, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return in.handleKey(c, ev)
	case *tcell.EventMouse:
		in.handleMouse(c, ev)
	case *tcell.EventResize:
		in.r.screen.Sync()
	}
	return true
}

func (in *Input) handleKey(c *core.Core, ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyCtrlC, tcell.KeyCtrlQ:
		return false
	case tcell.KeyEscape:
		c.OnKey(core.KeyEscape, core.KeyActionDown)
		c.OnKey(core.KeyEscape, core.KeyActionUp)
		c.Select(kb.Handle{})
		return true
	case tcell.KeyRune:
		if ev.Rune() == 'q' {
			return false
		}
		in.handleRune(c, ev.Rune())
		return true
	}
	key, ok := keyMap[ev.Key()]
	if !ok {
		return true
	}
	action := core.KeyActionDown
	if _, ok := in.held[key]; ok {
		action = core.KeyActionRepeat
	}
	in.held[key] = in.now()
	c.OnKey(key, action)
	return true
}

func (in *Input) handleRune(c *core.Core, r rune) {
	w, h := in.r.WindowSize()
	switch r {
	case '+', '=':
		c.OnZoom(1, w/2, h/2)
		return
	case '-', '_':
		c.OnZoom(-1, w/2, h/2)
		return
	}
	c.OnChar(r)
}

func (in *Input) handleMouse(c *core.Core, ev *tcell.EventMouse) {
	col, row := ev.Position()
	x, y := in.r.CellToWindow(col, row)
	buttons := ev.Buttons()
	switch {
	case buttons&tcell.WheelUp != 0:
		c.OnZoom(1, x, y)
		return
	case buttons&tcell.WheelDown != 0:
		c.OnZoom(-1, x, y)
		return
	}
	pressed := buttons&tcell.Button1 != 0
	if !pressed && !in.down {
		c.OnMouse(0, 0, x, y)
		return
	}
	state := 0
	if pressed {
		state = 1
	}
	in.down = pressed
	c.OnMouse(0, state, x, y)
}

// Release lifts keys that have not been repeated recently. Call it once
// per frame before core.Update.
func (in *Input) Release(c *core.Core) {
	now := in.now()
	for key, at := range in.held {
		if now.Sub(at) >= keyHold {
			delete(in.held, key)
			c.OnKey(key, core.KeyActionUp)
		}
	}
}
