package merge

import (
	"context"
	"errors"
	"image"
	"testing"
)

// scriptedItem is a Renderable whose attempts fail a configurable
// number of times before succeeding.
type scriptedItem struct {
	geom         Geometry
	failFirst    int  // number of leading attempts that fail
	failRotation bool // fail every attempt that includes rotation
	blankOutput  bool // fail by returning an undrawn raster, not an error
	calls        int
	rotationLess int // count of attempts made with rotation dropped
}

func (s *scriptedItem) Geometry() Geometry { return s.geom }

func (s *scriptedItem) Render(_ context.Context, w, h int, withRotation bool) (image.Image, error) {
	s.calls++
	if !withRotation {
		s.rotationLess++
	}
	if s.failRotation && withRotation {
		return nil, errors.New("backend rejected rotated render")
	}
	if s.calls <= s.failFirst {
		if s.blankOutput {
			return image.NewNRGBA(image.Rect(0, 0, w, h)), nil // all zero, fails validation
		}
		return nil, errors.New("backend failure")
	}
	return gradientImage(w, h), nil
}

func TestSafeRendererFirstAttemptSucceeds(t *testing.T) {
	item := &scriptedItem{geom: Geometry{Width: 800, Height: 600}}
	r := NewSafeRenderer(nil)

	res, err := r.Render(context.Background(), item, TierBalanced)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.DirectEmbed {
		t.Fatal("unexpected direct embed")
	}
	if res.RetryCount != 0 || res.QualityReduced {
		t.Errorf("RetryCount = %d, QualityReduced = %v; want 0, false", res.RetryCount, res.QualityReduced)
	}
	if res.Width != 800 || res.Height != 600 {
		t.Errorf("dims = %dx%d, want 800x600", res.Width, res.Height)
	}
	if !ValidEncoded(res.Encoded) {
		t.Error("encoded output should pass validation")
	}
}

func TestSafeRendererRetriesThenSucceeds(t *testing.T) {
	for k := 1; k <= 2; k++ {
		item := &scriptedItem{geom: Geometry{Width: 1600, Height: 1200}, failFirst: k}
		r := NewSafeRenderer(nil)

		res, err := r.Render(context.Background(), item, TierBalanced)
		if err != nil {
			t.Fatalf("k=%d: Render: %v", k, err)
		}
		if res.DirectEmbed {
			t.Fatalf("k=%d: unexpected direct embed", k)
		}
		if res.RetryCount != k {
			t.Errorf("k=%d: RetryCount = %d, want %d", k, res.RetryCount, k)
		}
		if !res.QualityReduced {
			t.Errorf("k=%d: QualityReduced should be true after retries", k)
		}
		if len(res.Attempts) != k+1 {
			t.Errorf("k=%d: attempts = %d, want %d", k, len(res.Attempts), k+1)
		}
		for i, a := range res.Attempts[:k] {
			if a.Outcome == OutcomeSuccess {
				t.Errorf("k=%d: attempt %d should not be a success", k, i)
			}
		}
	}
}

func TestSafeRendererInvalidOutputRetries(t *testing.T) {
	// Blank (never drawn) rasters must be treated like backend failures.
	item := &scriptedItem{geom: Geometry{Width: 1000, Height: 1000}, failFirst: 1, blankOutput: true}
	r := NewSafeRenderer(nil)

	res, err := r.Render(context.Background(), item, TierSmall)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", res.RetryCount)
	}
	if res.Attempts[0].Outcome != OutcomeInvalidOutput {
		t.Errorf("first outcome = %v, want invalid-output", res.Attempts[0].Outcome)
	}
}

func TestSafeRendererAlwaysFailingFallsBackToDirectEmbed(t *testing.T) {
	item := &scriptedItem{geom: Geometry{Width: 900, Height: 900}, failFirst: 1 << 30}
	r := NewSafeRenderer(nil)

	res, err := r.Render(context.Background(), item, TierBalanced)
	if err != nil {
		t.Fatalf("Render should not fail, got %v", err)
	}
	if !res.DirectEmbed {
		t.Fatal("exhausted renderer must signal direct embed")
	}
	if !res.QualityReduced {
		t.Error("direct embed counts as quality reduction")
	}
	if res.Encoded != nil {
		t.Error("direct embed result should carry no encoded buffer")
	}
}

func TestSafeRendererDropsRotationWhenRotatedRendersFail(t *testing.T) {
	item := &scriptedItem{
		geom:         Geometry{Width: 600, Height: 800, Rotation: 90},
		failRotation: true,
	}
	r := NewSafeRenderer(nil)

	res, err := r.Render(context.Background(), item, TierBalanced)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.DirectEmbed {
		t.Fatal("rotation-drop fallback should have produced output")
	}
	if !res.RotationSkipped {
		t.Error("RotationSkipped should be set")
	}
	if !res.QualityReduced {
		t.Error("dropped rotation counts as quality reduction")
	}
	if item.rotationLess == 0 {
		t.Error("fallback should have rendered without rotation")
	}
	// The unrotated target swaps back to the source orientation.
	if res.Width != 800 || res.Height != 600 {
		t.Errorf("dims = %dx%d, want 800x600", res.Width, res.Height)
	}
}

func TestSafeRendererScalesOversizedInitialTarget(t *testing.T) {
	item := &scriptedItem{geom: Geometry{Width: 10000, Height: 10000}}
	r := NewSafeRenderer(nil)

	res, err := r.Render(context.Background(), item, TierSmall)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !res.QualityReduced {
		t.Error("dimension-safety scaling must flag quality reduction")
	}
	if res.Width > DefaultMaxDimension || res.Height > DefaultMaxDimension {
		t.Errorf("dims %dx%d exceed safe bounds", res.Width, res.Height)
	}
	if res.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 (proactive scaling is not a retry)", res.RetryCount)
	}
}

func TestSafeRendererRetryFloorStopsShrinking(t *testing.T) {
	// 200px target: one 0.7 retry lands at 140, the next would be 98,
	// below the floor, so only two attempts run before fallback.
	item := &scriptedItem{geom: Geometry{Width: 200, Height: 200}, failFirst: 1 << 30}
	r := NewSafeRenderer(nil)

	res, err := r.Render(context.Background(), item, TierBalanced)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !res.DirectEmbed {
		t.Fatal("expected direct embed after floor abort")
	}
	if item.calls != 2 {
		t.Errorf("attempts = %d, want 2 (floor aborts the third)", item.calls)
	}
}

func TestSafeRendererHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := &scriptedItem{geom: Geometry{Width: 500, Height: 500}}
	r := NewSafeRenderer(nil)

	if _, err := r.Render(ctx, item, TierBalanced); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
