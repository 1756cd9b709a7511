package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// stubSource emits a handful of frames then closes, simulating an
// exhausted file input without touching any real device.
type stubSource struct {
	frames chan resampler.Frame
	n      int
}

func newStubSource(n int) *stubSource {
	return &stubSource{frames: make(chan resampler.Frame, n), n: n}
}

func (s *stubSource) Frames() <-chan resampler.Frame { return s.frames }
func (s *stubSource) Close()                         {}
func (s *stubSource) Run() {
	defer close(s.frames)
	for i := 0; i < s.n; i++ {
		s.frames <- resampler.Frame{}
	}
}

type stubProcessor struct{}

func (stubProcessor) ProcessFrame(context.Context, resampler.Frame) ([]float32, string, error) {
	return []float32{0, 0, 0}, "", nil
}

func TestRunDrainOnlyCompletesOnSourceEOF(t *testing.T) {
	shutdown := lifecycle.NewShutdownFlag()
	cfg := Config{
		Source:    newStubSource(5),
		Processor: stubProcessor{},
	}

	resultCh := make(chan Stats, 1)
	errCh := make(chan error, 1)
	go func() {
		stats, err := Run(cfg, shutdown)
		resultCh <- stats
		errCh <- err
	}()

	select {
	case err := <-errCh:
		require.NoError(t, err)
		stats := <-resultCh
		assert.Equal(t, 5, stats.Model.FramesProcessed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete after source EOF")
	}
}

func TestRunStopsOnShutdownWithNoSource(t *testing.T) {
	shutdown := lifecycle.NewShutdownFlag()
	cfg := Config{
		Source:    newStubSource(0),
		Processor: stubProcessor{},
	}

	time.AfterFunc(50*time.Millisecond, shutdown.Set)

	done := make(chan struct{})
	var statsResult Stats
	var runErr error
	go func() {
		statsResult, runErr = Run(cfg, shutdown)
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, runErr)
		_ = statsResult
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after shutdown")
	}
}
