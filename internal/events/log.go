package events

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogObserver writes every event to the global logger. Transitions and
// actions are logged at debug level, session changes at info.
type LogObserver struct{}

func (LogObserver) Name() string { return "log" }

func (LogObserver) Observe(ev Event) error {
	var e *zerolog.Event
	switch ev.Type {
	case TypeSessionStarted, TypeSessionEnded, TypeSettingsChanged:
		e = log.Info()
	case TypeError:
		e = log.Warn()
	default:
		e = log.Debug()
	}

	e = e.Str("type", string(ev.Type))
	if ev.Session != "" {
		e = e.Str("session", ev.Session)
	}
	if tr := ev.Transition; tr != nil {
		e = e.Stringer("from", tr.From).Stringer("state", tr.To)
	}
	if a := ev.Action; a != nil {
		e = e.Stringer("kind", a.Kind)
		if a.Delta != 0 {
			e = e.Int("delta", a.Delta)
		}
	}
	if ev.Message != "" {
		e = e.Str("detail", ev.Message)
	}
	e.Msg("event")
	return nil
}
