package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/detector"
	"github.com/ayusman/lyrapointer/internal/gesture"
	"github.com/ayusman/lyrapointer/internal/smoothing"
	"github.com/ayusman/lyrapointer/internal/store"
)

// Session is one continuous stretch of hand tracking. It owns the smoother,
// the state machine and the per-session counters; nothing outlives it except
// the paused flag the runner carries over.
type Session struct {
	ID      string
	Started time.Time

	bank    *smoothing.Bank
	machine *control.Machine
	version uint64

	frames       int64
	lowRun       int
	droppedStart uint64
	actions      map[control.Kind]uint64
}

func newSession(st *Settings, paused bool, droppedStart uint64, ts time.Time) *Session {
	var opts []control.Option
	if paused {
		opts = append(opts, control.StartPaused())
	}
	return &Session{
		ID:           uuid.New().String(),
		Started:      ts,
		bank:         smoothing.NewBank(st.Smoothing),
		machine:      control.NewMachine(st.Machine, opts...),
		version:      st.Version,
		droppedStart: droppedStart,
		actions:      make(map[control.Kind]uint64),
	}
}

// State returns the session's control state.
func (s *Session) State() control.State {
	return s.machine.State()
}

// apply moves the session onto a newer settings snapshot.
func (s *Session) apply(st *Settings) {
	if st.Version == s.version {
		return
	}
	s.bank.SetParams(st.Smoothing)
	s.machine.SetConfig(st.Machine)
	s.version = st.Version
}

// step runs one confident frame through smoothing, features, classification
// and the machine.
func (s *Session) step(st *Settings, frame detector.HandFrame) (detector.HandFrame, gesture.Label, control.Output) {
	s.frames++
	s.lowRun = 0
	smoothed := s.bank.Filter(frame)
	fv := st.Extractor.Extract(smoothed)
	label := st.Classifier.Classify(fv)
	return smoothed, label, s.machine.Step(label, fv, frame.Timestamp)
}

// stepLow feeds a low-confidence frame as label None. It reports whether
// enough of them have arrived in a row to count as lost tracking.
func (s *Session) stepLow(st *Settings, ts time.Time) (control.Output, bool) {
	s.frames++
	s.lowRun++
	if s.lowRun >= st.LostFrames {
		return control.Output{}, true
	}
	return s.machine.Step(gesture.None, gesture.FeatureVector{}, ts), false
}

func (s *Session) count(out control.Output) {
	for _, ev := range out.Events {
		s.actions[ev.Kind]++
	}
}

// Record converts the session into its persisted form. endState is the
// state the session was in when tracking ended.
func (s *Session) Record(ended time.Time, dropped uint64, endState control.State) *store.Session {
	actions := make(map[string]uint64, len(s.actions))
	for k, n := range s.actions {
		actions[k.String()] = n
	}
	return &store.Session{
		ID:        s.ID,
		StartedAt: s.Started,
		EndedAt:   &ended,
		Frames:    s.frames,
		Dropped:   int64(dropped - s.droppedStart),
		Actions:   actions,
		EndState:  endState.String(),
	}
}
