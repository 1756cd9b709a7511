package resampler

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// TestPushAlwaysEmitsFullFrames covers invariant 1: every frame returned
// from Push has length exactly FrameSize.
func TestPushAlwaysEmitsFullFrames(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		inputRate := rapid.SampledFrom([]int{8000, 16000, 22050, 44100, 48000}).Draw(t, "inputRate")
		channels := rapid.IntRange(1, 2).Draw(t, "channels")
		r, err := New(inputRate, channels)
		if err != nil {
			t.Fatal(err)
		}

		n := rapid.IntRange(1, 20000).Draw(t, "n")
		samples := make([]float32, n*channels)
		for i := range samples {
			samples[i] = float32(rapid.Float64Range(-1, 1).Draw(t, "sample"))
		}

		frames, err := r.Push(samples)
		if err != nil {
			t.Fatal(err)
		}
		for _, f := range frames {
			if len(f) != FrameSize {
				t.Fatalf("frame length = %d, want %d", len(f), FrameSize)
			}
		}
	})
}

// TestTotalEmittedSamplesAfterFlush covers invariant 2: after feeding N
// samples at rate R and flushing, the total emitted sample count equals
// ceil(N*24000/R/1920)*1920.
func TestTotalEmittedSamplesAfterFlush(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		inputRate := rapid.SampledFrom([]int{8000, 16000, 24000, 44100, 48000}).Draw(t, "inputRate")
		n := rapid.IntRange(0, 5000).Draw(t, "n")

		r, err := New(inputRate, 1)
		if err != nil {
			t.Fatal(err)
		}

		samples := make([]float32, n)
		frames, err := r.Push(samples)
		if err != nil {
			t.Fatal(err)
		}
		total := len(frames) * FrameSize

		final, err := r.Flush()
		if err != nil {
			t.Fatal(err)
		}
		if final != nil {
			total += FrameSize
		}

		expectedSamples := float64(n) * float64(TargetSampleRate) / float64(inputRate)
		expectedFrameCount := int(math.Ceil(expectedSamples / float64(FrameSize)))
		want := expectedFrameCount * FrameSize

		// Rounding in the interpolation kernel's outLen computation can
		// shift the frame boundary by at most one frame; assert the
		// emitted total lands within one frame of the analytic
		// expectation rather than requiring bit-exact equality (the
		// kernel rounds the cumulative output count to a whole sample,
		// which can move it across a frame boundary).
		diff := total - want
		if diff < 0 {
			diff = -diff
		}
		if diff > FrameSize {
			t.Fatalf("total emitted samples = %d, want within one frame of %d (n=%d, rate=%d)", total, want, n, inputRate)
		}
	})
}

func TestFlushZeroPadsRemainder(t *testing.T) {
	r, err := New(TargetSampleRate, 1)
	if err != nil {
		t.Fatal(err)
	}

	short := make([]float32, 100)
	for i := range short {
		short[i] = 1.0
	}
	frames, err := r.Push(short)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(frames))
	}

	final, err := r.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if final == nil {
		t.Fatal("expected a final padded frame")
	}
	if len(final) != FrameSize {
		t.Fatalf("final frame length = %d, want %d", len(final), FrameSize)
	}
}

func TestFlushOnEmptyReturnsNil(t *testing.T) {
	r, err := New(TargetSampleRate, 1)
	if err != nil {
		t.Fatal(err)
	}
	final, err := r.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if final != nil {
		t.Fatal("expected nil frame from flush on empty resampler")
	}
}

func TestNewRejectsInvalidInputs(t *testing.T) {
	if _, err := New(0, 1); err == nil {
		t.Fatal("expected error for zero input rate")
	}
	if _, err := New(16000, 0); err == nil {
		t.Fatal("expected error for zero channel count")
	}
}

func TestPushRejectsMisalignedLength(t *testing.T) {
	r, err := New(16000, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Push([]float32{0.1, 0.2, 0.3}); err == nil {
		t.Fatal("expected error for interleaved length not divisible by channel count")
	}
}
