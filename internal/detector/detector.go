package detector

import (
	"context"
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// ErrEndOfStream is returned by a Provider that has no more frames to deliver.
var ErrEndOfStream = errors.New("end of landmark stream")

// Detector estimates hand landmarks from a camera frame.
type Detector interface {
	// Detect analyzes a video frame and returns detected hands.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandFrame, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Provider delivers one HandFrame per processed camera frame.
type Provider interface {
	// NextFrame waits at most timeout for the next frame. It returns ok == false
	// when no hand was observed before the timeout expired. A frame that fails
	// validation is reported as an error wrapping ErrMalformedFrame.
	NextFrame(ctx context.Context, timeout time.Duration) (frame HandFrame, ok bool, err error)

	// Close releases the provider's resources.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect.
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64
}

// DefaultConfig returns the detection settings the pointer pipeline expects.
// A single hand is tracked; multi-hand fusion is not supported.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.7,
		MinTrackingConf: 0.5,
	}
}

// selectHand picks the most confident hand from a detection result.
func selectHand(hands []HandFrame) (HandFrame, bool) {
	if len(hands) == 0 {
		return HandFrame{}, false
	}
	best := hands[0]
	for _, h := range hands[1:] {
		if h.Confidence > best.Confidence {
			best = h
		}
	}
	return best, true
}
