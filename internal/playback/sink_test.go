package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSink builds a Sink without opening a real malgo device, so the
// state machine and ring buffer can be exercised directly in renderCallback.
func newTestSink(initialFill int) *Sink {
	s := &Sink{
		buffer:      newRing(RingBufferSize),
		initialFill: initialFill,
		scratch:     make([]float32, 0, 4096),
	}
	s.state.Store(int32(Buffering))
	return s
}

func TestRingWriteReadRoundTrip(t *testing.T) {
	r := newRing(16)
	overflowed := r.write([]float32{1, 2, 3, 4, 5})
	require.False(t, overflowed)
	require.Equal(t, 5, r.available())

	var out []float32
	out = r.read(3, out)
	assert.Equal(t, []float32{1, 2, 3}, out)
	assert.Equal(t, 2, r.available())
}

func TestRingOverflowDropsOldest(t *testing.T) {
	r := newRing(4) // 3 usable slots (capacity-1 rule)
	r.write([]float32{1, 2, 3})
	overflowed := r.write([]float32{4, 5})
	assert.True(t, overflowed)

	var out []float32
	out = r.read(3, out)
	// Oldest sample(s) dropped to make room for the new write.
	assert.Len(t, out, 3)
}

func TestCallbackStaysBufferingUntilInitialFill(t *testing.T) {
	s := newTestSink(2400)
	samples := make([]float32, 2000)
	for i := range samples {
		samples[i] = 1
	}
	s.PushSamples(samples)

	output := make([]byte, 480*4) // 480 frames of silence
	var lastLog time.Time
	s.renderCallback(output, 480, &lastLog)

	assert.Equal(t, Buffering, s.State())
	for _, b := range output {
		assert.Equal(t, byte(0), b)
	}
}

func TestCallbackTransitionsToPlayingAtInitialFill(t *testing.T) {
	s := newTestSink(2400)
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 1
	}
	s.PushSamples(samples)

	output := make([]byte, 100*4)
	var lastLog time.Time
	s.renderCallback(output, 100, &lastLog)

	assert.Equal(t, Playing, s.State())
}

func TestCallbackPausesOnUnderrun(t *testing.T) {
	s := newTestSink(DefaultInitialFill)
	s.state.Store(int32(Playing))
	s.hasStarted.Store(true)
	s.PushSamples(make([]float32, PauseThreshold-10)) // already below pause level

	output := make([]byte, 10*4)
	var lastLog time.Time
	s.renderCallback(output, 10, &lastLog)

	assert.Equal(t, Paused, s.State())
	assert.Equal(t, uint64(1), s.UnderrunCount())
}

func TestCallbackResumesAtResumeThreshold(t *testing.T) {
	s := newTestSink(DefaultInitialFill)
	s.state.Store(int32(Paused))
	s.hasStarted.Store(true)
	s.PushSamples(make([]float32, ResumeThreshold))

	output := make([]byte, 10*4)
	var lastLog time.Time
	s.renderCallback(output, 10, &lastLog)

	assert.Equal(t, Playing, s.State())
}

func TestOverflowCounterIncrementsOnDroppedSamples(t *testing.T) {
	s := newTestSink(DefaultInitialFill)
	s.buffer = newRing(8)
	s.PushSamples([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	assert.Equal(t, uint64(1), s.OverflowCount())
}
