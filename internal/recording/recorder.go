// Package recording captures raw landmark frames into the store and plays
// them back as a detector.Provider.
package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/detector"
	"github.com/ayusman/lyrapointer/internal/store"
)

// DefaultBatch is the number of frames buffered before a write.
const DefaultBatch = 64

// ErrClosed is returned when adding to a closed recorder.
var ErrClosed = errors.New("recorder closed")

// Repository is the part of the store a Recorder writes to.
type Repository interface {
	Create(rec *store.Recording) error
	AppendFrames(recordingID string, frames []store.Frame) error
}

// Recorder appends frames to a stored recording in batches.
type Recorder struct {
	mu     sync.Mutex
	repo   Repository
	rec    store.Recording
	start  time.Time
	seq    int
	buf    []store.Frame
	batch  int
	closed bool
}

// Start creates a recording and returns a recorder for it.
func Start(repo Repository, name, sessionID string) (*Recorder, error) {
	rec := store.Recording{Name: name, SessionID: sessionID}
	if err := repo.Create(&rec); err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{repo: repo, rec: rec, batch: DefaultBatch}, nil
}

// ID returns the recording ID.
func (r *Recorder) ID() string {
	return r.rec.ID
}

// Frames returns the number of frames added so far.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Add records one tick. When ok is false the tick is stored as an absent
// hand at time at; otherwise the frame's own timestamp is used.
func (r *Recorder) Add(frame detector.HandFrame, ok bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if ok {
		at = frame.Timestamp
	}
	if r.seq == 0 {
		r.start = at
	}
	offset := at.Sub(r.start)
	if offset < 0 {
		offset = 0
	}

	f := store.Frame{Seq: r.seq, Offset: offset, Present: ok}
	if ok {
		data, err := EncodeFrame(frame)
		if err != nil {
			return err
		}
		f.Data = data
	}
	r.buf = append(r.buf, f)
	r.seq++

	if len(r.buf) >= r.batch {
		return r.flushLocked()
	}
	return nil
}

// Flush writes buffered frames.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := r.repo.AppendFrames(r.rec.ID, r.buf); err != nil {
		return fmt.Errorf("append frames: %w", err)
	}
	r.buf = r.buf[:0]
	return nil
}

// Close flushes and stops the recorder.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.flushLocked()
}

// EncodeFrame serializes a frame for storage.
func EncodeFrame(h detector.HandFrame) (json.RawMessage, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses and validates a stored frame.
func DecodeFrame(data json.RawMessage) (detector.HandFrame, error) {
	var h detector.HandFrame
	if err := json.Unmarshal(data, &h); err != nil {
		return detector.HandFrame{}, fmt.Errorf("%w: %v", detector.ErrMalformedFrame, err)
	}
	if err := h.Validate(); err != nil {
		return detector.HandFrame{}, err
	}
	return h, nil
}

// Tap wraps a provider so every tick it reports is also recorded.
// Malformed frames are recorded as absent ticks.
type Tap struct {
	detector.Provider
	rec *Recorder
	now func() time.Time
}

// NewTap returns a provider that records what p delivers.
func NewTap(p detector.Provider, rec *Recorder) *Tap {
	return &Tap{Provider: p, rec: rec, now: time.Now}
}

// NextFrame forwards to the wrapped provider and records the result.
func (t *Tap) NextFrame(ctx context.Context, timeout time.Duration) (detector.HandFrame, bool, error) {
	frame, ok, err := t.Provider.NextFrame(ctx, timeout)
	if errors.Is(err, detector.ErrEndOfStream) || ctx.Err() != nil {
		return frame, ok, err
	}
	if addErr := t.rec.Add(frame, ok && err == nil, t.now()); addErr != nil {
		log.Warn().Err(addErr).Str("recording", t.rec.ID()).Msg("recording frame")
	}
	return frame, ok, err
}

// Close closes the recorder and then the wrapped provider.
func (t *Tap) Close() error {
	recErr := t.rec.Close()
	if err := t.Provider.Close(); err != nil {
		return err
	}
	return recErr
}
