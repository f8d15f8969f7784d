package pipeline

import (
	"fmt"
	"time"

	"github.com/ayusman/lyrapointer/internal/config"
	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/dispatch"
	"github.com/ayusman/lyrapointer/internal/gesture"
	"github.com/ayusman/lyrapointer/internal/smoothing"
)

// Settings is an immutable snapshot of everything the processing loop
// reads per frame. A new snapshot replaces the old one atomically and takes
// effect at the next frame boundary.
type Settings struct {
	Version uint64

	Smoothing  smoothing.Params
	Extractor  gesture.Extractor
	Classifier *gesture.Classifier
	Machine    control.Config
	Mapping    dispatch.Mapping

	MinConfidence float64
	LostFrames    int
	FrameTimeout  time.Duration
}

// DefaultSettings builds a snapshot from config.Default.
func DefaultSettings() *Settings {
	s, err := SettingsFrom(config.Default())
	if err != nil {
		panic(err)
	}
	return s
}

// SettingsFrom translates a validated config into a snapshot.
func SettingsFrom(cfg *config.Config) (*Settings, error) {
	priority, err := cfg.Priority()
	if err != nil {
		return nil, fmt.Errorf("gesture priority: %w", err)
	}
	g := cfg.Gestures
	classifier, err := gesture.NewClassifier(priority, gesture.Thresholds{
		Click:      g.Click.Threshold,
		RightClick: g.RightClick.Threshold,
	})
	if err != nil {
		return nil, err
	}

	z := cfg.ControlZone
	return &Settings{
		Smoothing: smoothing.Params{
			MinCutoff:        cfg.Smoothing.MinCutoff,
			Beta:             cfg.Smoothing.Beta,
			DerivativeCutoff: cfg.Smoothing.DerivativeCutoff,
		},
		Extractor:  gesture.DefaultExtractor(),
		Classifier: classifier,
		Machine: control.Config{
			Hold: control.HoldFrames{
				Pointer:    g.Pointer.HoldFrames,
				Click:      g.Click.HoldFrames,
				RightClick: g.RightClick.HoldFrames,
				Scroll:     g.Scroll.HoldFrames,
				Pause:      g.Pause.HoldFrames,
				Rest:       g.Rest.HoldFrames,
				Release:    g.Release.HoldFrames,
			},
			MaxGap:              g.MaxGap,
			DragHold:            time.Duration(cfg.DragHoldMs) * time.Millisecond,
			DoubleClickInterval: time.Duration(cfg.DoubleClickIntervalMs) * time.Millisecond,
			ScrollSpeed:         cfg.ScrollSpeed,
			ScrollStep:          cfg.ScrollDeadzone,
		},
		Mapping: dispatch.Mapping{
			Zone:        dispatch.Zone{XMin: z.XMin, XMax: z.XMax, YMin: z.YMin, YMax: z.YMax},
			Sensitivity: cfg.Sensitivity,
			Mirror:      cfg.Mirror,
		},
		MinConfidence: cfg.Tracking.MinConfidence,
		LostFrames:    cfg.Tracking.LostFrames,
		FrameTimeout:  cfg.Tracking.FrameTimeout.Duration,
	}, nil
}
