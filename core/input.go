package core

import (
	"math"

	"github.com/signalsfoundry/sky-engine/geom"
)

// Key actions.
const (
	KeyActionUp     = 0
	KeyActionDown   = 1
	KeyActionRepeat = 2
)

// Key ids, same values as GLFW. Printable keys use their ASCII code.
const (
	KeyEscape    = 256
	KeyEnter     = 257
	KeyTab       = 258
	KeyBackspace = 259
	KeyDelete    = 261
	KeyRight     = 262
	KeyLeft      = 263
	KeyDown      = 264
	KeyUp        = 265
	KeyPageUp    = 266
	KeyPageDown  = 267
	KeyHome      = 268
	KeyEnd       = 269
	KeyShift     = 340
	KeyControl   = 341
)

// Pinch gesture states.
const (
	PinchStart  = 0
	PinchUpdate = 1
	PinchEnd    = 2
)

const (
	maxKeys  = 512
	maxChars = 16

	// clickSlop is how far, in window pixels, the pointer may move between
	// press and release for the gesture to count as a click.
	clickSlop = 5

	// keyPanRate is the view rotation speed of the arrow keys, in fields of
	// view per second.
	keyPanRate  = 0.5
	keyZoomRate = 2.0
)

type touch struct {
	id    int
	x, y  float64
	down  bool
	press [2]float64
	moved bool
}

type click struct{ x, y float64 }

type inputState struct {
	touches [2]touch
	keys    [maxKeys]bool
	chars   []rune

	hasPointer         bool
	pointerX, pointerY float64

	// intents consumed by the next Update
	clicks   []click
	dragFrom [2]float64
	dragTo   [2]float64
	dragging bool
	zoom     float64
	zoomX    float64
	zoomY    float64

	pinching   bool
	pinchFOV   float64
	pinchScale float64
}

// OnMouse records a pointer event. state is 1 while the button is held and 0
// otherwise. Motion with the button held drags the view; a press and release
// without motion is a click.
func (c *Core) OnMouse(id, state int, x, y float64) {
	in := &c.in
	if id < 0 || id >= len(in.touches) {
		return
	}
	t := &in.touches[id]
	t.id = id
	if id == 0 {
		in.hasPointer = true
		in.pointerX, in.pointerY = x, y
	}
	down := state == 1
	switch {
	case down && !t.down:
		t.press = [2]float64{x, y}
		t.moved = false
	case down && t.down:
		if math.Hypot(x-t.press[0], y-t.press[1]) > clickSlop {
			t.moved = true
		}
		if t.moved && id == 0 && !in.pinching {
			if !in.dragging {
				in.dragFrom = [2]float64{t.x, t.y}
				in.dragging = true
			}
			in.dragTo = [2]float64{x, y}
		}
	case !down && t.down:
		if !t.moved && id == 0 {
			in.clicks = append(in.clicks, click{x: x, y: y})
		}
	}
	t.down = down
	t.x, t.y = x, y
}

// OnKey records a key state change.
func (c *Core) OnKey(key, action int) {
	if key < 0 || key >= maxKeys {
		return
	}
	c.in.keys[key] = action != KeyActionUp
}

// KeyDown reports whether key is currently held.
func (c *Core) KeyDown(key int) bool {
	return key >= 0 && key < maxKeys && c.in.keys[key]
}

// OnChar queues a typed character. The queue keeps the last 16 characters.
func (c *Core) OnChar(r rune) {
	c.in.chars = append(c.in.chars, r)
	if n := len(c.in.chars); n > maxChars {
		c.in.chars = c.in.chars[n-maxChars:]
	}
}

// Chars drains the queued characters.
func (c *Core) Chars() []rune {
	out := c.in.chars
	c.in.chars = nil
	return out
}

// OnZoom queues a zoom of delta steps (positive zooms in) centred on x, y.
func (c *Core) OnZoom(delta, x, y float64) {
	c.in.zoom += delta
	c.in.zoomX, c.in.zoomY = x, y
}

// OnPinch handles a two finger gesture. scale starts at 1.
func (c *Core) OnPinch(state int, x, y, scale float64) {
	in := &c.in
	switch state {
	case PinchStart:
		in.pinching = true
		in.pinchFOV = c.fov
		in.pinchScale = 1
		in.dragFrom = [2]float64{x, y}
		in.dragTo = in.dragFrom
		in.dragging = true
	case PinchUpdate:
		if !in.pinching {
			return
		}
		if scale > 0 {
			in.pinchScale = scale
		}
		if !in.dragging {
			in.dragFrom = in.dragTo
			in.dragging = true
		}
		in.dragTo = [2]float64{x, y}
	case PinchEnd:
		in.pinching = false
	}
}

// processInputs turns the intents queued since the last frame into view
// changes and selections.
func (c *Core) processInputs(dt float64) {
	in := &c.in

	if in.pinching && in.pinchScale > 0 {
		c.fovAnim.t = 1
		c.setFOV(geom.Clamp(in.pinchFOV/in.pinchScale, minFOV, maxFOV))
	}
	if in.dragging {
		c.drag(in.dragFrom[0], in.dragFrom[1], in.dragTo[0], in.dragTo[1])
		in.dragFrom = in.dragTo
		in.dragging = false
	}
	if in.zoom != 0 {
		c.zoomAt(math.Pow(1.05, -in.zoom), in.zoomX, in.zoomY)
		in.zoom = 0
	}

	// Arrow keys pan, page keys zoom.
	if dt > 0 {
		step := keyPanRate * c.fov * dt
		var dyaw, dpitch float64
		if in.keys[KeyLeft] {
			dyaw += step
		}
		if in.keys[KeyRight] {
			dyaw -= step
		}
		if in.keys[KeyUp] {
			dpitch += step
		}
		if in.keys[KeyDown] {
			dpitch -= step
		}
		if dyaw != 0 || dpitch != 0 {
			c.Unlock()
			c.obs.SetView(c.obs.Yaw+dyaw, c.obs.Pitch+dpitch)
		}
		if in.keys[KeyPageUp] {
			c.setFOV(geom.Clamp(c.fov*math.Pow(keyZoomRate, -dt), minFOV, maxFOV))
		}
		if in.keys[KeyPageDown] {
			c.setFOV(geom.Clamp(c.fov*math.Pow(keyZoomRate, dt), minFOV, maxFOV))
		}
	}

	clicks := in.clicks
	in.clicks = nil
	for _, ck := range clicks {
		c.clicks++
		c.reg.Notify(c.root, "clicks")
		if c.onClick != nil && c.onClick(ck.x, ck.y) {
			continue
		}
		if c.ignoreClicks {
			continue
		}
		c.Select(c.GetObjAt(ck.x, ck.y, defaultPickDistance))
	}
}

// drag rotates the view so the sky point under (x0, y0) moves to (x1, y1).
func (c *Core) drag(x0, y0, x1, y1 float64) {
	if x0 == x1 && y0 == y1 {
		return
	}
	c.Unlock()
	a := c.obs.ViewToObserved(c.proj.Unproject(x0, y0))
	b := c.obs.ViewToObserved(c.proj.Unproject(x1, y1))
	ya, pa := geom.ToSpherical(a)
	yb, pb := geom.ToSpherical(b)
	c.obs.SetView(c.obs.Yaw+wrapAngle(ya-yb), c.obs.Pitch+(pa-pb))
}

// zoomAt scales the field of view by k keeping the sky point under (x, y)
// roughly in place.
func (c *Core) zoomAt(k, x, y float64) {
	before := c.obs.ViewToObserved(c.proj.Unproject(x, y))
	c.fovAnim.t = 1
	c.setFOV(geom.Clamp(c.fov*k, minFOV, maxFOV))
	after := c.obs.ViewToObserved(c.proj.Unproject(x, y))
	yb, pb := geom.ToSpherical(before)
	ya, pa := geom.ToSpherical(after)
	if c.pointing.lock.IsZero() {
		c.obs.SetView(c.obs.Yaw+wrapAngle(yb-ya), c.obs.Pitch+(pb-pa))
	}
}

// wrapAngle maps a to (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
