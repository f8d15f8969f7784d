// Package config defines the LyraPointer settings schema, its defaults and
// validation, and loading from TOML, YAML or JSON files with hot reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable setting.
type Config struct {
	// Sensitivity scales pointer motion about the control zone center.
	Sensitivity float64 `toml:"sensitivity" json:"sensitivity" yaml:"sensitivity"`

	// Mirror flips the x axis so the pointer follows the hand as seen in a mirror.
	Mirror bool `toml:"mirror" json:"mirror" yaml:"mirror"`

	DoubleClickIntervalMs int `toml:"double_click_interval_ms" json:"double_click_interval_ms" yaml:"double_click_interval_ms"`

	// DragHoldMs is how long a pinch must be held before it becomes a drag.
	DragHoldMs int `toml:"drag_hold_ms" json:"drag_hold_ms" yaml:"drag_hold_ms"`

	// ScrollSpeed is the number of lines per scroll step.
	ScrollSpeed int `toml:"scroll_speed" json:"scroll_speed" yaml:"scroll_speed"`

	// ScrollDeadzone is the palm travel, in normalized frame units, of one scroll step.
	ScrollDeadzone float64 `toml:"scroll_deadzone" json:"scroll_deadzone" yaml:"scroll_deadzone"`

	Smoothing   SmoothingConfig `toml:"smoothing" json:"smoothing" yaml:"smoothing"`
	ControlZone ZoneConfig      `toml:"control_zone" json:"control_zone" yaml:"control_zone"`
	Gestures    GesturesConfig  `toml:"gestures" json:"gestures" yaml:"gestures"`
	Tracking    TrackingConfig  `toml:"tracking" json:"tracking" yaml:"tracking"`
	Camera      CameraConfig    `toml:"camera" json:"camera" yaml:"camera"`
}

// SmoothingConfig holds the One-Euro filter parameters.
type SmoothingConfig struct {
	MinCutoff        float64 `toml:"min_cutoff" json:"min_cutoff" yaml:"min_cutoff"`
	Beta             float64 `toml:"beta" json:"beta" yaml:"beta"`
	DerivativeCutoff float64 `toml:"derivative_cutoff" json:"derivative_cutoff" yaml:"derivative_cutoff"`
}

// ZoneConfig is the normalized frame rectangle mapped onto the screen.
type ZoneConfig struct {
	XMin float64 `toml:"x_min" json:"x_min" yaml:"x_min"`
	XMax float64 `toml:"x_max" json:"x_max" yaml:"x_max"`
	YMin float64 `toml:"y_min" json:"y_min" yaml:"y_min"`
	YMax float64 `toml:"y_max" json:"y_max" yaml:"y_max"`
}

// GestureConfig tunes one gesture.
type GestureConfig struct {
	// Threshold is the pinch distance in hand-size units. Only pinch
	// gestures use it.
	Threshold  float64 `toml:"threshold,omitempty" json:"threshold,omitempty" yaml:"threshold,omitempty"`
	HoldFrames int     `toml:"hold_frames" json:"hold_frames" yaml:"hold_frames"`
}

// GesturesConfig tunes classification and debouncing.
type GesturesConfig struct {
	// Priority is the classifier match order, by label name.
	Priority []string `toml:"priority" json:"priority" yaml:"priority"`
	// MaxGap is the number of disagreeing frames a label run survives.
	MaxGap int `toml:"max_gap" json:"max_gap" yaml:"max_gap"`

	Pointer    GestureConfig `toml:"pointer" json:"pointer" yaml:"pointer"`
	Click      GestureConfig `toml:"click" json:"click" yaml:"click"`
	RightClick GestureConfig `toml:"right_click" json:"right_click" yaml:"right_click"`
	Scroll     GestureConfig `toml:"scroll" json:"scroll" yaml:"scroll"`
	Pause      GestureConfig `toml:"pause" json:"pause" yaml:"pause"`
	Rest       GestureConfig `toml:"rest" json:"rest" yaml:"rest"`
	Release    GestureConfig `toml:"release" json:"release" yaml:"release"`
}

// TrackingConfig controls when a hand counts as lost.
type TrackingConfig struct {
	MinConfidence float64  `toml:"min_confidence" json:"min_confidence" yaml:"min_confidence"`
	LostFrames    int      `toml:"lost_frames" json:"lost_frames" yaml:"lost_frames"`
	FrameTimeout  Duration `toml:"frame_timeout" json:"frame_timeout" yaml:"frame_timeout"`
}

// CameraConfig selects and tunes the capture device. Changes need a restart.
type CameraConfig struct {
	Index               int     `toml:"index" json:"index" yaml:"index"`
	Width               int     `toml:"width" json:"width" yaml:"width"`
	Height              int     `toml:"height" json:"height" yaml:"height"`
	FPS                 int     `toml:"fps" json:"fps" yaml:"fps"`
	IdleFPS             int     `toml:"idle_fps" json:"idle_fps" yaml:"idle_fps"`
	MotionThreshold     float64 `toml:"motion_threshold" json:"motion_threshold" yaml:"motion_threshold"`
	DetectionConfidence float64 `toml:"detection_confidence" json:"detection_confidence" yaml:"detection_confidence"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Sensitivity:           1.5,
		Mirror:                true,
		DoubleClickIntervalMs: 300,
		DragHoldMs:            400,
		ScrollSpeed:           5,
		ScrollDeadzone:        0.02,
		Smoothing: SmoothingConfig{
			MinCutoff:        1.0,
			Beta:             0.007,
			DerivativeCutoff: 1.0,
		},
		ControlZone: ZoneConfig{XMin: 0.15, XMax: 0.85, YMin: 0.15, YMax: 0.85},
		Gestures: GesturesConfig{
			Priority:   []string{"pinch_click", "pinch_right", "fist", "open_palm", "scroll_ready", "pointer"},
			Pointer:    GestureConfig{HoldFrames: 2},
			Click:      GestureConfig{Threshold: 0.3, HoldFrames: 3},
			RightClick: GestureConfig{Threshold: 0.3, HoldFrames: 3},
			Scroll:     GestureConfig{HoldFrames: 3},
			Pause:      GestureConfig{HoldFrames: 10},
			Rest:       GestureConfig{HoldFrames: 3},
			Release:    GestureConfig{HoldFrames: 3},
		},
		Tracking: TrackingConfig{
			MinConfidence: 0.5,
			LostFrames:    5,
			FrameTimeout:  Duration{200 * time.Millisecond},
		},
		Camera: CameraConfig{
			Index:               0,
			Width:               640,
			Height:              480,
			FPS:                 30,
			IdleFPS:             5,
			MotionThreshold:     1.0,
			DetectionConfidence: 0.7,
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Gestures.Priority = append([]string(nil), c.Gestures.Priority...)
	return &clone
}

// ApplyEnvOverrides applies LYRA_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LYRA_SENSITIVITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sensitivity = f
		}
	}
	if v := os.Getenv("LYRA_MIRROR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Mirror = b
		}
	}
	if v := os.Getenv("LYRA_CAMERA_INDEX"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Camera.Index = i
		}
	}
}

// RequiresRestart reports whether moving from old to new changes settings
// that only apply when the pipeline starts.
func RequiresRestart(old, new *Config) bool {
	if old == nil || new == nil {
		return false
	}
	return old.Camera != new.Camera
}

// Load reads, decodes and validates a config file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses data in the format named by ext over the defaults.
func Decode(data []byte, ext string) (*Config, error) {
	cfg := Default()

	var err error
	switch ext {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
		if err != nil {
			err = fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err = json.Unmarshal(data, cfg); err != nil {
			err = fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, cfg); err != nil {
			err = fmt.Errorf("decode YAML: %w", err)
		}
	default:
		err = fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode writes cfg in the format named by ext.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".toml":
		return toml.Marshal(cfg)
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	}
	return nil, fmt.Errorf("unsupported config format %q", ext)
}

// Save writes cfg to path in the format given by its extension.
func Save(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data, filepath.Ext(path))
}
