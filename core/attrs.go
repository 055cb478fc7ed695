package core

import (
	"fmt"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
	"github.com/signalsfoundry/sky-engine/photometry"
)

// ClassCore tags the root module.
const ClassCore kb.Class = "core"

var rootAttrNames = []string{
	"bortle_index",
	"clicks",
	"display_limit_mag",
	"exposure_scale",
	"fast_adaptation",
	"flip_view_horizontal",
	"flip_view_vertical",
	"fov",
	"ignore_clicks",
	"lwmax",
	"lwmax_min",
	"lwsky_average",
	"max_point_radius",
	"min_point_radius",
	"mount_frame",
	"projection",
	"selection",
	"show_hints_radius",
	"star_linear_scale",
	"star_relative_scale",
	"star_scale_screen_factor",
	"telescope",
	"telescope_auto",
	"time_speed",
	"tt",
}

// rootModule exposes the core state as generic attributes of the "core"
// module.
type rootModule struct {
	c *Core
}

func (*rootModule) Class() kb.Class      { return ClassCore }
func (*rootModule) RenderOrder() float64 { return 0 }

func (r *rootModule) AttrNames() []string { return rootAttrNames }

func (r *rootModule) Attr(name string) (any, bool) {
	c := r.c
	p := c.phot.Params()
	switch name {
	case "fov":
		return c.fov, true
	case "bortle_index":
		return p.BortleIndex, true
	case "display_limit_mag":
		return p.DisplayLimitMag, true
	case "exposure_scale":
		return p.ExposureScale, true
	case "lwmax":
		return c.phot.Lwmax(), true
	case "lwmax_min":
		return p.LwmaxMin, true
	case "lwsky_average":
		return c.phot.LwskyAverage(), true
	case "fast_adaptation":
		return p.FastAdaptation, true
	case "time_speed":
		return c.timeSpeed, true
	case "tt":
		return c.obs.TT, true
	case "selection":
		return c.Selection(), true
	case "clicks":
		return c.clicks, true
	case "ignore_clicks":
		return c.ignoreClicks, true
	case "flip_view_vertical":
		return c.flipV, true
	case "flip_view_horizontal":
		return c.flipH, true
	case "projection":
		if c.projKind == model.Perspective {
			return "perspective", true
		}
		return "stereographic", true
	case "min_point_radius":
		return p.MinPointRadius, true
	case "max_point_radius":
		return p.MaxPointRadius, true
	case "show_hints_radius":
		return p.ShowHintsRadius, true
	case "star_linear_scale":
		return p.StarLinearScale, true
	case "star_relative_scale":
		return p.StarRelativeScale, true
	case "star_scale_screen_factor":
		return p.StarScaleScreenFactor, true
	case "telescope":
		return c.phot.Telescope().Diameter, true
	case "telescope_auto":
		return c.telescopeAuto, true
	case "mount_frame":
		return c.mount.String(), true
	}
	return nil, false
}

func (r *rootModule) SetAttr(name string, value any) error {
	c := r.c
	p := c.phot.Params()
	switch name {
	case "fov":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("fov must be positive, got %g", v)
		}
		c.fovAnim.t = 1
		c.storeFOV(geom.Clamp(v, minFOV, maxFOV))
		return nil
	case "bortle_index":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		if v < 1 || v > 9 {
			return fmt.Errorf("bortle index %g out of range 1..9", v)
		}
		p.BortleIndex = int(v)
	case "display_limit_mag":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		p.DisplayLimitMag = v
	case "exposure_scale":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		p.ExposureScale = v
	case "lwmax":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		c.phot.SetLwmax(v)
		return nil
	case "lwmax_min":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("lwmax_min must be positive, got %g", v)
		}
		p.LwmaxMin = v
	case "fast_adaptation":
		v, err := toBool(value)
		if err != nil {
			return err
		}
		p.FastAdaptation = v
	case "time_speed":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		c.timeSpeed = v
		return nil
	case "tt":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		c.SetTime(v, 0)
		return nil
	case "selection":
		h, ok := value.(kb.Handle)
		if !ok && value != nil {
			return fmt.Errorf("selection: expected handle, got %T", value)
		}
		c.storeSelection(h)
		return nil
	case "ignore_clicks":
		v, err := toBool(value)
		if err != nil {
			return err
		}
		c.ignoreClicks = v
		return nil
	case "flip_view_vertical", "flip_view_horizontal":
		v, err := toBool(value)
		if err != nil {
			return err
		}
		if name == "flip_view_vertical" {
			c.flipV = v
		} else {
			c.flipH = v
		}
		c.updateProjection()
		return nil
	case "projection":
		switch value {
		case "stereographic":
			c.projKind = model.Stereographic
		case "perspective":
			c.projKind = model.Perspective
		default:
			return fmt.Errorf("unknown projection %v", value)
		}
		c.updateProjection()
		return nil
	case "min_point_radius", "max_point_radius", "show_hints_radius",
		"star_linear_scale", "star_relative_scale", "star_scale_screen_factor":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		*pointParam(&p, name) = v
	case "telescope":
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("telescope aperture must not be negative, got %g", v)
		}
		c.telescopeAuto = false
		c.phot.SetTelescope(photometry.NewTelescope(v))
		return nil
	case "telescope_auto":
		v, err := toBool(value)
		if err != nil {
			return err
		}
		c.telescopeAuto = v
		if v {
			c.updateTelescope()
		} else {
			c.phot.SetTelescope(photometry.Telescope{})
		}
		return nil
	case "mount_frame":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("mount_frame: expected a string, got %T", value)
		}
		m, err := ParseMountFrame(s)
		if err != nil {
			return err
		}
		c.mount = m
		return nil
	case "clicks", "lwsky_average":
		return fmt.Errorf("%s is read only", name)
	default:
		return fmt.Errorf("unknown attribute %q: %w", name, kb.ErrNotFound)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.phot.SetParams(p)
	return nil
}

// pointParam maps a point size attribute to its field in p.
func pointParam(p *photometry.Params, name string) *float64 {
	switch name {
	case "min_point_radius":
		return &p.MinPointRadius
	case "max_point_radius":
		return &p.MaxPointRadius
	case "show_hints_radius":
		return &p.ShowHintsRadius
	case "star_linear_scale":
		return &p.StarLinearScale
	case "star_relative_scale":
		return &p.StarRelativeScale
	}
	return &p.StarScaleScreenFactor
}

// SetAttr sets an attribute of the root module and notifies the listener.
func (c *Core) SetAttr(name string, value any) error {
	return c.reg.SetAttr(c.root, name, value)
}

// Attr reads an attribute of the root module.
func (c *Core) Attr(name string) (any, error) {
	return c.reg.Attr(c.root, name)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected a bool, got %T", v)
}
