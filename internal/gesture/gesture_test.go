package gesture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/lyrapointer/internal/detector"
)

func TestExtract_Presets(t *testing.T) {
	tests := []struct {
		name     string
		hand     detector.HandFrame
		extended [5]bool
	}{
		{"fist", detector.FistLandmarks(), [5]bool{false, false, false, false, false}},
		{"pointer", detector.PointerLandmarks(), [5]bool{false, true, false, false, false}},
		{"scroll", detector.ScrollLandmarks(), [5]bool{false, true, true, false, false}},
		{"open palm", detector.OpenPalmLandmarks(), [5]bool{true, true, true, true, true}},
		{"thumbs up", detector.ThumbsUpLandmarks(), [5]bool{true, false, false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := Extract(tt.hand)
			require.True(t, fv.Valid)
			assert.Equal(t, tt.extended, fv.Extended)
		})
	}
}

func TestExtract_PinchDistances(t *testing.T) {
	pinch := Extract(detector.PinchLandmarks())
	assert.InDelta(t, 0.08, pinch.Distance(ThumbIndex), 0.01)
	assert.Greater(t, pinch.Distance(ThumbMiddle), 1.0)

	right := Extract(detector.RightPinchLandmarks())
	assert.InDelta(t, 0.08, right.Distance(ThumbMiddle), 0.01)
	assert.Greater(t, right.Distance(ThumbIndex), 1.0)
}

func TestExtract_ScaleInvariant(t *testing.T) {
	hand := detector.ScrollLandmarks()
	small := hand
	wrist := hand.Points[detector.Wrist]
	for i, p := range hand.Points {
		small.Points[i] = detector.Point3D{
			X: wrist.X + (p.X-wrist.X)*0.5,
			Y: wrist.Y + (p.Y-wrist.Y)*0.5,
			Z: p.Z * 0.5,
		}
	}

	a, b := Extract(hand), Extract(small)
	assert.Equal(t, a.Extended, b.Extended)
	for p := ThumbIndex; p < numPairs; p++ {
		assert.InDelta(t, a.Distance(p), b.Distance(p), 1e-9)
	}
	assert.InDelta(t, a.PalmOpenness, b.PalmOpenness, 1e-9)
}

func TestExtract_Openness(t *testing.T) {
	fist := Extract(detector.FistLandmarks())
	palm := Extract(detector.OpenPalmLandmarks())

	assert.Less(t, fist.PalmOpenness, 0.5)
	assert.Equal(t, 1.0, palm.PalmOpenness)
	assert.GreaterOrEqual(t, fist.PalmOpenness, 0.0)
}

func TestExtract_PassesThroughCursorAndPalm(t *testing.T) {
	hand := detector.PointerLandmarks()
	fv := Extract(hand)
	assert.Equal(t, hand.Points[detector.IndexTip], fv.Cursor)
	assert.InDelta(t, hand.PalmCenter().Y, fv.PalmY, 1e-12)
}

func TestExtract_DegenerateHand(t *testing.T) {
	var hand detector.HandFrame
	for i := range hand.Points {
		hand.Points[i] = detector.Point3D{X: 0.5, Y: 0.5}
	}

	fv := Extract(hand)
	assert.False(t, fv.Valid)
	assert.Equal(t, [5]bool{}, fv.Extended)
	for p := ThumbIndex; p < numPairs; p++ {
		assert.True(t, math.IsInf(fv.Distance(p), 1))
	}
}

func newDefaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(nil, DefaultThresholds())
	require.NoError(t, err)
	return c
}

func TestClassifier_Presets(t *testing.T) {
	c := newDefaultClassifier(t)

	tests := []struct {
		pose string
		want Label
	}{
		{"fist", Fist},
		{"pointer", Pointer},
		{"scroll", ScrollReady},
		{"open_palm", OpenPalm},
		{"thumbs_up", None},
		{"pinch", PinchClick},
		{"right_pinch", PinchRight},
	}

	for _, tt := range tests {
		t.Run(tt.pose, func(t *testing.T) {
			hand, ok := detector.Pose(tt.pose)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Classify(Extract(hand)))
		})
	}
}

func TestClassifier_PinchBelowThreshold(t *testing.T) {
	c, err := NewClassifier(nil, Thresholds{Click: 0.05, RightClick: 0.05})
	require.NoError(t, err)

	fv := FeatureVector{Valid: true}
	for i := range fv.Distances {
		fv.Distances[i] = 1
	}
	fv.Extended[Index] = true
	fv.Distances[ThumbIndex] = 0.02

	assert.Equal(t, PinchClick, c.Classify(fv))

	fv.Distances[ThumbIndex] = 0.05
	assert.Equal(t, Pointer, c.Classify(fv), "threshold is exclusive")
}

func TestClassifier_InvalidFeaturesAreNone(t *testing.T) {
	c := newDefaultClassifier(t)
	fv := Extract(detector.PinchLandmarks())
	fv.Valid = false
	assert.Equal(t, None, c.Classify(fv))
	assert.Empty(t, c.Matches(fv))
}

func TestClassifier_PriorityIsConfigurable(t *testing.T) {
	fv := Extract(detector.PinchLandmarks())

	def := newDefaultClassifier(t)
	assert.ElementsMatch(t, []Label{Pointer, PinchClick}, def.Matches(fv))
	assert.Equal(t, PinchClick, def.Classify(fv))

	pointerFirst, err := NewClassifier([]Label{Pointer, PinchClick}, DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, Pointer, pointerFirst.Classify(fv))

	onlyFist, err := NewClassifier([]Label{Fist}, DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, None, onlyFist.Classify(fv))
}

func TestValidatePriority(t *testing.T) {
	assert.NoError(t, ValidatePriority(DefaultPriority))
	assert.Error(t, ValidatePriority(nil))
	assert.ErrorIs(t, ValidatePriority([]Label{Pointer, None}), ErrUnknownLabel)
	assert.ErrorIs(t, ValidatePriority([]Label{Label(42)}), ErrUnknownLabel)
	assert.ErrorContains(t, ValidatePriority([]Label{Fist, Pointer, Fist}), "duplicate")

	_, err := NewClassifier([]Label{}, DefaultThresholds())
	assert.Error(t, err)
}

func TestClassifier_PriorityIsCopied(t *testing.T) {
	priority := []Label{Pointer, Fist}
	c, err := NewClassifier(priority, DefaultThresholds())
	require.NoError(t, err)

	priority[0] = OpenPalm
	assert.Equal(t, []Label{Pointer, Fist}, c.Priority())
}

func TestLabelText(t *testing.T) {
	for _, l := range Labels() {
		text, err := l.MarshalText()
		require.NoError(t, err)

		var back Label
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, l, back)
	}

	var l Label
	assert.ErrorIs(t, l.UnmarshalText([]byte("wave")), ErrUnknownLabel)
	assert.Equal(t, "Label(99)", Label(99).String())
}
