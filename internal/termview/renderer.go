// Package termview draws the sky into a terminal with tcell and maps
// terminal events onto the core input calls.
package termview

import (
	"fmt"
	"math"

	"github.com/gdamore/tcell/v2"

	"github.com/signalsfoundry/sky-engine/core"
)

// Default size of a terminal cell in window pixels. Cells are about twice
// as tall as they are wide.
const (
	DefaultCellWidth  = 8
	DefaultCellHeight = 16
)

// glyphs from faint to bright.
var glyphs = []rune{'.', '·', '+', '*', '✦', '@'}

// Renderer is a core.Renderer drawing into a tcell screen. Window pixel
// coordinates are mapped to cells of CellW x CellH pixels.
type Renderer struct {
	screen       tcell.Screen
	cellW, cellH float64
	frame        core.FrameInfo
	status       bool
	points       int
}

// NewRenderer creates a renderer on an initialised screen.
func NewRenderer(screen tcell.Screen, cellW, cellH float64) *Renderer {
	if cellW <= 0 {
		cellW = DefaultCellWidth
	}
	if cellH <= 0 {
		cellH = DefaultCellHeight
	}
	return &Renderer{screen: screen, cellW: cellW, cellH: cellH, status: true}
}

// SetStatusLine toggles the status line on the last row.
func (r *Renderer) SetStatusLine(on bool) { r.status = on }

// WindowSize returns the screen size in window pixels.
func (r *Renderer) WindowSize() (w, h float64) {
	cols, rows := r.screen.Size()
	return float64(cols) * r.cellW, float64(rows) * r.cellH
}

// CellToWindow returns the window position of the centre of a cell.
func (r *Renderer) CellToWindow(col, row int) (x, y float64) {
	return (float64(col) + 0.5) * r.cellW, (float64(row) + 0.5) * r.cellH
}

func (r *Renderer) cell(x, y float64) (int, int) {
	return int(math.Floor(x / r.cellW)), int(math.Floor(y / r.cellH))
}

func (r *Renderer) inside(col, row int) bool {
	cols, rows := r.screen.Size()
	if r.status {
		rows--
	}
	return col >= 0 && row >= 0 && col < cols && row < rows
}

func (r *Renderer) empty(col, row int) bool {
	ch, _, _, _ := r.screen.GetContent(col, row)
	return ch == ' ' || ch == 0
}

// BeginFrame clears the screen.
func (r *Renderer) BeginFrame(f core.FrameInfo) error {
	r.frame = f
	r.points = 0
	r.screen.Clear()
	return nil
}

// DrawPoint draws a point source as a glyph whose weight follows the
// apparent size and whose grey level follows the luminance.
func (r *Renderer) DrawPoint(p core.Point) {
	col, row := r.cell(p.X, p.Y)
	if !r.inside(col, row) {
		return
	}
	r.screen.SetContent(col, row, glyphFor(p.Radius, p.Luminance, r.cellW), nil, greyStyle(p.Luminance))
	r.points++
	if p.Label != "" {
		r.text(col+2, row, p.Label, tcell.StyleDefault.Foreground(tcell.ColorLightSkyBlue))
	}
}

// DrawLine draws a line between two window positions. Cells that already
// hold a glyph are left alone so lines never hide stars.
func (r *Renderer) DrawLine(x0, y0, x1, y1, alpha float64) {
	c0, r0 := r.cell(x0, y0)
	c1, r1 := r.cell(x1, y1)
	style := tcell.StyleDefault.Foreground(tcell.ColorSteelBlue)
	if alpha < 0.75 {
		style = style.Dim(true)
	}
	dx := abs(c1 - c0)
	dy := -abs(r1 - r0)
	sx, sy := 1, 1
	if c0 > c1 {
		sx = -1
	}
	if r0 > r1 {
		sy = -1
	}
	// Lines far outside the screen are clipped by length.
	if dx > 4096 || -dy > 4096 {
		return
	}
	err := dx + dy
	for {
		if r.inside(c0, r0) && r.empty(c0, r0) {
			r.screen.SetContent(c0, r0, lineRune(dx, -dy, sx*sy), nil, style)
		}
		if c0 == c1 && r0 == r1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			c0 += sx
		}
		if e2 <= dx {
			err += dx
			r0 += sy
		}
	}
}

// DrawText writes text starting at a window position.
func (r *Renderer) DrawText(x, y float64, text string, alpha float64) {
	col, row := r.cell(x, y)
	style := tcell.StyleDefault.Foreground(tcell.ColorSilver)
	if alpha < 0.75 {
		style = style.Dim(true)
	}
	r.text(col, row, text, style)
}

func (r *Renderer) text(col, row int, s string, style tcell.Style) {
	for _, ch := range s {
		if r.inside(col, row) {
			r.screen.SetContent(col, row, ch, nil, style)
		}
		col++
	}
}

// EndFrame draws the status line and shows the frame.
func (r *Renderer) EndFrame() error {
	if r.status {
		cols, rows := r.screen.Size()
		line := fmt.Sprintf(" fov %.1f°  %s UTC  lwmax %.3g  %d pts",
			r.frame.FOV*180/math.Pi, r.frame.Time.UTC().Format("2006-01-02 15:04:05"),
			r.frame.Lwmax, r.points)
		style := tcell.StyleDefault.Reverse(true)
		x := 0
		for _, ch := range line {
			if x >= cols {
				break
			}
			r.screen.SetContent(x, rows-1, ch, nil, style)
			x++
		}
		for ; x < cols; x++ {
			r.screen.SetContent(x, rows-1, ' ', nil, style)
		}
	}
	r.screen.Show()
	return nil
}

func glyphFor(radius, lum, cellW float64) rune {
	w := radius / cellW * 4 * math.Sqrt(math.Max(lum, 0))
	i := int(w * float64(len(glyphs)))
	if i < 0 {
		i = 0
	}
	if i >= len(glyphs) {
		i = len(glyphs) - 1
	}
	return glyphs[i]
}

func greyStyle(lum float64) tcell.Style {
	v := int32(96 + 159*math.Min(math.Max(lum, 0), 1))
	return tcell.StyleDefault.Foreground(tcell.NewRGBColor(v, v, v))
}

func lineRune(dx, dy, dir int) rune {
	switch {
	case dy*2 < dx:
		return '-'
	case dx*2 < dy:
		return '|'
	case dir > 0:
		return '\\'
	default:
		return '/'
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
