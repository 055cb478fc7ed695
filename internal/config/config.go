// Package config loads the runtime configuration of the skyengine binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// View modes.
const (
	ViewHeadless = "headless"
	ViewTerm     = "term"
)

// Config holds application configuration.
type Config struct {
	Window     WindowConfig     `mapstructure:"window"`
	Observer   ObserverConfig   `mapstructure:"observer"`
	Photometry PhotometryConfig `mapstructure:"photometry"`
	Frame      FrameConfig      `mapstructure:"frame"`
	Data       DataConfig       `mapstructure:"data"`
	Control    ControlConfig    `mapstructure:"control"`
}

// WindowConfig describes the drawing surface.
type WindowConfig struct {
	Width      float64 `mapstructure:"width"`
	Height     float64 `mapstructure:"height"`
	PixelScale float64 `mapstructure:"pixel_scale"`
	View       string  `mapstructure:"view"` // headless | term
	CellWidth  float64 `mapstructure:"cell_width"`
	CellHeight float64 `mapstructure:"cell_height"`
}

// ObserverConfig places the observer. Angles are in degrees.
type ObserverConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Elevation float64 `mapstructure:"elevation"` // metres
	Start     string  `mapstructure:"start"`     // RFC 3339 or "now"
}

// PhotometryConfig holds the sky quality settings.
type PhotometryConfig struct {
	Bortle       int     `mapstructure:"bortle"`
	DisplayLimit float64 `mapstructure:"display_limit"`
}

// FrameConfig drives the frame loop.
type FrameConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Accelerated bool          `mapstructure:"accelerated"`
	Duration    time.Duration `mapstructure:"duration"` // 0 runs until interrupted
}

// DataConfig lists the data sources added at startup. Empty entries are
// skipped.
type DataConfig struct {
	Stars          string `mapstructure:"stars"`
	TLE            string `mapstructure:"tle"`
	Constellations string `mapstructure:"constellations"`
}

// ControlConfig holds the listen addresses.
type ControlConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("window.width", 1280)
	v.SetDefault("window.height", 720)
	v.SetDefault("window.pixel_scale", 1)
	v.SetDefault("window.view", ViewHeadless)
	v.SetDefault("window.cell_width", 8)
	v.SetDefault("window.cell_height", 16)
	v.SetDefault("observer.latitude", 0)
	v.SetDefault("observer.longitude", 0)
	v.SetDefault("observer.elevation", 0)
	v.SetDefault("observer.start", "now")
	v.SetDefault("photometry.bortle", 3)
	v.SetDefault("photometry.display_limit", 99)
	v.SetDefault("frame.tick", "50ms")
	v.SetDefault("frame.accelerated", false)
	v.SetDefault("frame.duration", "0s")
	v.SetDefault("data.stars", ":memory:")
	v.SetDefault("data.tle", "")
	v.SetDefault("data.constellations", "builtin:western")
	v.SetDefault("control.addr", ":50061")
	v.SetDefault("control.metrics_addr", ":9090")
}

// Load reads configuration from file and env. Env var overrides use prefix
// SKYENGINE_, with dots replaced by underscores (SKYENGINE_OBSERVER_LATITUDE).
// When path is empty SKYENGINE_CONFIG is used, then
// $HOME/.config/skyengine/config.toml if present.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("SKYENGINE_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "skyengine"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SKYENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %vx%v must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Window.PixelScale <= 0 {
		errs = append(errs, fmt.Errorf("pixel_scale %v must be positive", c.Window.PixelScale))
	}
	switch c.Window.View {
	case ViewHeadless, ViewTerm:
	default:
		errs = append(errs, fmt.Errorf("unknown view %q", c.Window.View))
	}
	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", c.Observer.Latitude))
	}
	if c.Observer.Longitude < -180 || c.Observer.Longitude > 360 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", c.Observer.Longitude))
	}
	if _, err := c.Observer.StartTime(time.Time{}); err != nil {
		errs = append(errs, err)
	}
	if c.Photometry.Bortle < 1 || c.Photometry.Bortle > 9 {
		errs = append(errs, fmt.Errorf("bortle %d must be within 1..9", c.Photometry.Bortle))
	}
	if c.Frame.Tick <= 0 {
		errs = append(errs, fmt.Errorf("frame tick %v must be positive", c.Frame.Tick))
	}
	if c.Frame.Duration < 0 {
		errs = append(errs, fmt.Errorf("frame duration %v is negative", c.Frame.Duration))
	}
	return errors.Join(errs...)
}

// StartTime returns the configured start instant, or now when the start is
// empty or "now".
func (o ObserverConfig) StartTime(now time.Time) (time.Time, error) {
	s := strings.TrimSpace(o.Start)
	if s == "" || strings.EqualFold(s, "now") {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("observer start %q: %w", o.Start, err)
	}
	return t.UTC(), nil
}
