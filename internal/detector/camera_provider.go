package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/ayusman/lyrapointer/internal/capture"
)

// readRetryDelay is the pause after a failed camera read when there is no
// gate to supply a frame period.
const readRetryDelay = 100 * time.Millisecond

// CameraProvider turns camera frames into HandFrames. A motion gate drops the
// camera to its idle rate, and skips detection, while nothing moves in view.
type CameraProvider struct {
	camera   capture.Camera
	detector Detector
	motion   *capture.MotionDetector
	gate     *capture.Gate
	now      func() time.Time
}

// NewCameraProvider wires a camera to a detector. motion may be nil, in which
// case every frame is sent to the detector.
func NewCameraProvider(cam capture.Camera, det Detector, motion *capture.MotionDetector, gate *capture.Gate) *CameraProvider {
	return &CameraProvider{
		camera:   cam,
		detector: det,
		motion:   motion,
		gate:     gate,
		now:      time.Now,
	}
}

// Open opens the camera at the gate's idle rate.
func (p *CameraProvider) Open() error {
	if err := p.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	if p.gate != nil {
		p.camera.SetFPS(p.gate.FPS())
	}
	return nil
}

// NextFrame reads camera frames until a hand is found or the timeout expires.
func (p *CameraProvider) NextFrame(ctx context.Context, timeout time.Duration) (HandFrame, bool, error) {
	deadline := p.now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return HandFrame{}, false, err
		}
		if !p.now().Before(deadline) {
			return HandFrame{}, false, nil
		}

		mat, err := p.camera.ReadFrame()
		if err != nil {
			// Back off one frame period before reporting a failed read.
			if werr := p.wait(ctx, p.retryDelay(), deadline); werr != nil {
				return HandFrame{}, false, werr
			}
			return HandFrame{}, false, fmt.Errorf("read frame: %w", err)
		}

		if !p.activeFor(mat) {
			mat.Close()
			if err := p.idle(ctx, deadline); err != nil {
				return HandFrame{}, false, err
			}
			continue
		}

		hands, err := p.detector.Detect(mat)
		mat.Close()
		if err != nil {
			return HandFrame{}, false, fmt.Errorf("detect hands: %w", err)
		}

		hand, ok := selectHand(hands)
		if !ok {
			continue
		}
		if p.gate != nil {
			// A visible hand keeps acquisition active even when it holds still.
			p.gate.Update(true, p.now())
		}
		if err := hand.Validate(); err != nil {
			return HandFrame{}, false, err
		}
		return hand, true, nil
	}
}

// activeFor runs motion detection on mat and updates the gate.
func (p *CameraProvider) activeFor(mat *gocv.Mat) bool {
	if p.motion == nil || p.gate == nil {
		return true
	}

	moving, changed := p.motion.Detect(mat)
	active, switched := p.gate.Update(moving, p.now())
	if switched {
		p.camera.SetFPS(p.gate.FPS())
		log.Debug().Bool("active", active).Float64("changed_pct", changed).Int("fps", p.gate.FPS()).Msg("acquisition rate switched")
	}
	return active
}

// idle waits one idle frame period, bounded by the deadline.
func (p *CameraProvider) idle(ctx context.Context, deadline time.Time) error {
	return p.wait(ctx, p.gate.Interval(), deadline)
}

func (p *CameraProvider) retryDelay() time.Duration {
	if p.gate != nil {
		if d := p.gate.Interval(); d > 0 {
			return d
		}
	}
	return readRetryDelay
}

// wait sleeps for d, bounded by the deadline and ctx.
func (p *CameraProvider) wait(ctx context.Context, d time.Duration, deadline time.Time) error {
	wait := d
	if left := deadline.Sub(p.now()); left < wait {
		wait = left
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close releases the camera, the motion detector and the detector.
func (p *CameraProvider) Close() error {
	if p.motion != nil {
		p.motion.Close()
	}
	if err := p.detector.Close(); err != nil {
		log.Warn().Err(err).Msg("closing detector")
	}
	return p.camera.Close()
}
