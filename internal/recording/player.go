package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/lyrapointer/internal/detector"
	"github.com/ayusman/lyrapointer/internal/store"
)

// FrameSource is the part of the store a Player reads from.
type FrameSource interface {
	Frames(recordingID string) ([]store.Frame, error)
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithSpeed scales playback. 2 plays twice as fast. Non-positive values are
// ignored.
func WithSpeed(speed float64) PlayerOption {
	return func(p *Player) {
		if speed > 0 {
			p.speed = speed
		}
	}
}

// Immediate delivers frames without waiting. Timestamps still follow the
// recorded offsets.
func Immediate() PlayerOption {
	return func(p *Player) {
		p.immediate = true
	}
}

// Player is a detector.Provider over recorded frames. It keeps the recorded
// inter-frame timing, scaled by its speed, and stamps frames on a fresh time
// base starting at the first call.
type Player struct {
	mu        sync.Mutex
	frames    []store.Frame
	pos       int
	speed     float64
	immediate bool
	start     time.Time
	closed    bool
}

// NewPlayer creates a player over frames in sequence order.
func NewPlayer(frames []store.Frame, opts ...PlayerOption) *Player {
	p := &Player{frames: frames, speed: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load reads a stored recording into a player.
func Load(src FrameSource, recordingID string, opts ...PlayerOption) (*Player, error) {
	frames, err := src.Frames(recordingID)
	if err != nil {
		return nil, fmt.Errorf("load recording %s: %w", recordingID, err)
	}
	return NewPlayer(frames, opts...), nil
}

// Len returns the number of recorded ticks.
func (p *Player) Len() int {
	return len(p.frames)
}

// Remaining returns the number of ticks not yet delivered.
func (p *Player) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames) - p.pos
}

// NextFrame waits until the next recorded tick is due. If it is not due
// within timeout the call returns ok == false and the tick stays pending.
func (p *Player) NextFrame(ctx context.Context, timeout time.Duration) (detector.HandFrame, bool, error) {
	p.mu.Lock()
	if p.closed || p.pos >= len(p.frames) {
		p.mu.Unlock()
		return detector.HandFrame{}, false, detector.ErrEndOfStream
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	f := p.frames[p.pos]
	due := p.start.Add(p.scaled(f.Offset))
	p.mu.Unlock()

	if !p.immediate {
		wait := time.Until(due)
		if wait > timeout {
			if err := sleep(ctx, timeout); err != nil {
				return detector.HandFrame{}, false, err
			}
			return detector.HandFrame{}, false, nil
		}
		if err := sleep(ctx, wait); err != nil {
			return detector.HandFrame{}, false, err
		}
	} else if err := ctx.Err(); err != nil {
		return detector.HandFrame{}, false, err
	}

	p.mu.Lock()
	p.pos++
	p.mu.Unlock()

	if !f.Present {
		return detector.HandFrame{}, false, nil
	}
	frame, err := DecodeFrame(f.Data)
	if err != nil {
		return detector.HandFrame{}, false, fmt.Errorf("frame %d: %w", f.Seq, err)
	}
	frame.Timestamp = due
	return frame, true, nil
}

// Close stops playback.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Player) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) / p.speed)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
