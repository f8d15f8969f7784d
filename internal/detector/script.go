package detector

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed scripts/*.yaml
var scriptsFS embed.FS

// defaultScriptInterval is the frame spacing when a script does not set one.
const defaultScriptInterval = 33 * time.Millisecond

// ErrInvalidScript is returned for gesture scripts that cannot be replayed.
var ErrInvalidScript = errors.New("invalid gesture script")

// ScriptEntry is a run of identical frames, or a single timeout when Gap is set.
// DX and DY shift the hand by that much per frame, so a run can move the pointer.
type ScriptEntry struct {
	Pose       string  `yaml:"pose" json:"pose"`
	Repeat     int     `yaml:"repeat" json:"repeat"`
	Gap        bool    `yaml:"gap" json:"gap"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	DX         float64 `yaml:"dx" json:"dx"`
	DY         float64 `yaml:"dy" json:"dy"`
}

// Script is a gesture sequence built from preset poses. YAML and JSON both parse.
type Script struct {
	Name       string        `yaml:"name" json:"name"`
	IntervalMs int           `yaml:"interval_ms" json:"interval_ms"`
	Entries    []ScriptEntry `yaml:"entries" json:"entries"`
}

// ParseScript decodes and checks a script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	for i, e := range s.Entries {
		if e.Gap {
			continue
		}
		if _, ok := Pose(e.Pose); !ok {
			return nil, fmt.Errorf("%w: entry %d: unknown pose %q", ErrInvalidScript, i, e.Pose)
		}
		if e.Repeat < 0 {
			return nil, fmt.Errorf("%w: entry %d: negative repeat", ErrInvalidScript, i)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return nil, fmt.Errorf("%w: entry %d: confidence %v out of range", ErrInvalidScript, i, e.Confidence)
		}
	}
	return &s, nil
}

// LoadScript reads a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// DemoScript returns the built-in demo sequence used by mock mode.
func DemoScript() *Script {
	data, err := scriptsFS.ReadFile("scripts/demo.yaml")
	if err != nil {
		panic(err)
	}
	s, err := ParseScript(data)
	if err != nil {
		panic(err)
	}
	return s
}

// Interval returns the spacing between frame timestamps.
func (s *Script) Interval() time.Duration {
	if s.IntervalMs <= 0 {
		return defaultScriptInterval
	}
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// Steps expands the script into provider steps with timestamps starting at base.
func (s *Script) Steps(base time.Time) []Step {
	var steps []Step
	ts := base
	for _, e := range s.Entries {
		if e.Gap {
			steps = append(steps, Step{Gap: true})
			continue
		}
		pose, _ := Pose(e.Pose)
		n := e.Repeat
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			f := pose.Translated(e.DX*float64(i), e.DY*float64(i))
			if e.Confidence > 0 {
				f.Confidence = e.Confidence
			}
			f.Timestamp = ts
			steps = append(steps, Step{Frame: f})
			ts = ts.Add(s.Interval())
		}
	}
	return steps
}

// Provider returns a ScriptedProvider over the script's steps.
func (s *Script) Provider(base time.Time) *ScriptedProvider {
	return NewScriptedProvider(s.Steps(base)...)
}
