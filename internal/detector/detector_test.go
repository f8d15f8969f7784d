package detector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/lyrapointer/internal/capture"
)

const epsilon = 1e-9

func TestNewHandFrame(t *testing.T) {
	ts := time.Unix(10, 0)
	points := make([]Point3D, NumLandmarks)

	t.Run("accepts a complete frame", func(t *testing.T) {
		frame, err := NewHandFrame(points, Left, 0.8, ts)
		require.NoError(t, err)
		assert.Equal(t, Left, frame.Handedness)
		assert.Equal(t, ts, frame.Timestamp)
	})

	t.Run("rejects a landmark count mismatch", func(t *testing.T) {
		_, err := NewHandFrame(points[:20], Right, 0.8, ts)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects non-finite coordinates", func(t *testing.T) {
		bad := make([]Point3D, NumLandmarks)
		bad[IndexTip].Y = math.NaN()
		_, err := NewHandFrame(bad, Right, 0.8, ts)
		assert.ErrorIs(t, err, ErrMalformedFrame)

		bad[IndexTip].Y = math.Inf(1)
		_, err = NewHandFrame(bad, Right, 0.8, ts)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects confidence out of range", func(t *testing.T) {
		_, err := NewHandFrame(points, Right, 1.5, ts)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects unknown handedness", func(t *testing.T) {
		_, err := NewHandFrame(points, Handedness("Both"), 0.8, ts)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestHandFrame_Normalize(t *testing.T) {
	t.Run("wrist at origin and unit hand size", func(t *testing.T) {
		hand := HandFrame{Handedness: Right, Confidence: 0.9}
		hand.Points[Wrist] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[MiddleMCP] = Point3D{X: 13.0, Y: 24.0, Z: 5.0} // distance = 5.0
		for i := 1; i < NumLandmarks; i++ {
			if i != MiddleMCP {
				hand.Points[i] = Point3D{X: 10.0 + float64(i), Y: 20.0 + float64(i), Z: 5.0}
			}
		}

		normalized := hand.Normalize()

		assert.InDelta(t, 0, normalized.Points[Wrist].X, epsilon)
		assert.InDelta(t, 0, normalized.Points[Wrist].Y, epsilon)
		assert.InDelta(t, 1.0, normalized.HandSize(), epsilon)
		assert.Equal(t, hand.Handedness, normalized.Handedness)
		assert.Equal(t, 10.0, hand.Points[Wrist].X, "the source frame is not modified")
	})

	t.Run("degenerate hand is only translated", func(t *testing.T) {
		hand := HandFrame{Handedness: Right}
		hand.Points[Wrist] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[MiddleMCP] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[IndexTip] = Point3D{X: 12.0, Y: 20.0, Z: 5.0}

		require.True(t, hand.Degenerate())
		normalized := hand.Normalize()
		assert.InDelta(t, 2.0, normalized.Points[IndexTip].X, epsilon)
	})
}

func TestHandFrame_Translated(t *testing.T) {
	hand := PointerLandmarks()
	moved := hand.Translated(0.1, -0.05)

	assert.InDelta(t, hand.Points[IndexTip].X+0.1, moved.Points[IndexTip].X, epsilon)
	assert.InDelta(t, hand.Points[Wrist].Y-0.05, moved.Points[Wrist].Y, epsilon)
	assert.InDelta(t, hand.HandSize(), moved.HandSize(), epsilon)
}

func TestPresets(t *testing.T) {
	names := []string{"fist", "pointer", "scroll", "open_palm", "thumbs_up", "pinch", "right_pinch"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			hand, ok := Pose(name)
			require.True(t, ok)
			require.NoError(t, hand.Validate())
			assert.InDelta(t, 0.14, hand.HandSize(), 1e-6)
		})
	}

	_, ok := Pose("wave")
	assert.False(t, ok)

	t.Run("pinch tips touch", func(t *testing.T) {
		pinch := PinchLandmarks()
		assert.Less(t, Distance(pinch.Points[ThumbTip], pinch.Points[IndexTip]), 0.02)

		right := RightPinchLandmarks()
		assert.Less(t, Distance(right.Points[ThumbTip], right.Points[MiddleTip]), 0.02)
	})
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty hands by default", func(t *testing.T) {
		hands, err := NewMockDetector().Detect(nil)
		assert.NoError(t, err)
		assert.Nil(t, hands)
	})

	t.Run("returns configured hands with a fresh timestamp", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetHands([]HandFrame{PointerLandmarks(), OpenPalmLandmarks()})

		hands, err := mock.Detect(nil)
		require.NoError(t, err)
		require.Len(t, hands, 2)
		assert.False(t, hands[0].Timestamp.IsZero())
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()
		want := errors.New("detection failed")
		mock.SetError(want)

		hands, err := mock.Detect(nil)
		assert.Equal(t, want, err)
		assert.Nil(t, hands)
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
	})
}

func TestScriptedProvider(t *testing.T) {
	ctx := context.Background()
	bad := PointerLandmarks()
	bad.Confidence = 2

	p := NewScriptedProvider(
		Step{Frame: PointerLandmarks()},
		Step{Gap: true},
		Step{Frame: bad},
	)
	var _ Provider = p

	_, ok, err := p.NextFrame(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = p.NextFrame(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "a gap reports a timeout")

	_, _, err = p.NextFrame(ctx, time.Second)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, _, err = p.NextFrame(ctx, time.Second)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Zero(t, p.Remaining())
}

func TestParseResponse(t *testing.T) {
	ts := time.Unix(5, 0)

	t.Run("decodes hands", func(t *testing.T) {
		line := []byte(`{"hands":[{"points":[` + pointsJSON(NumLandmarks) + `],"handedness":"Left","score":0.9}]}`)
		hands, err := parseResponse(line, ts)
		require.NoError(t, err)
		require.Len(t, hands, 1)
		assert.Equal(t, Left, hands[0].Handedness)
		assert.Equal(t, ts, hands[0].Timestamp)
	})

	t.Run("short landmark list is malformed", func(t *testing.T) {
		line := []byte(`{"hands":[{"points":[` + pointsJSON(5) + `],"handedness":"Left","score":0.9}]}`)
		_, err := parseResponse(line, ts)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := parseResponse([]byte("not json"), ts)
		assert.Error(t, err)
	})
}

func pointsJSON(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += `{"x":0.5,"y":0.5,"z":0}`
	}
	return s
}

func TestSelectHand(t *testing.T) {
	low := PointerLandmarks()
	low.Confidence = 0.6
	high := OpenPalmLandmarks()
	high.Confidence = 0.9

	got, ok := selectHand([]HandFrame{low, high})
	require.True(t, ok)
	assert.Equal(t, 0.9, got.Confidence)

	_, ok = selectHand(nil)
	assert.False(t, ok)
}

func TestCameraProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := capture.NewMockCamera([]*gocv.Mat{&frame}, true)
	det := NewMockDetector()
	p := NewCameraProvider(cam, det, nil, nil)
	require.NoError(t, p.Open())
	defer p.Close()

	t.Run("times out without a hand", func(t *testing.T) {
		_, ok, err := p.NextFrame(context.Background(), 20*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("returns the most confident hand", func(t *testing.T) {
		det.SetHands([]HandFrame{PointerLandmarks()})
		hand, ok, err := p.NextFrame(context.Background(), time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Right, hand.Handedness)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := p.NextFrame(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCameraProvider_ReadFailureBacksOff(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	gate := capture.NewGate(5, 30, time.Second)
	p := NewCameraProvider(cam, NewMockDetector(), nil, gate)
	require.NoError(t, p.Open())
	defer p.Close()

	start := time.Now()
	_, ok, err := p.NextFrame(context.Background(), time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, capture.ErrEmptyFrame)
	assert.GreaterOrEqual(t, time.Since(start), gate.Interval()-10*time.Millisecond)

	t.Run("bounded by the timeout", func(t *testing.T) {
		start := time.Now()
		_, _, err := p.NextFrame(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, capture.ErrEmptyFrame)
		assert.Less(t, time.Since(start), gate.Interval())
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, _, err := p.NextFrame(ctx, time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
