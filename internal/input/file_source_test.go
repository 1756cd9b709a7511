package input

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// writeTestWav encodes a mono 16-bit PCM WAV fixture at sampleRate
// containing the given samples, mirroring wavwriter's own encoder usage.
func writeTestWav(t *testing.T, sampleRate int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")

	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	return path
}

func TestFileSourceDecodesResamplesAndPaces(t *testing.T) {
	// One second of a constant-value tone at 24kHz (the pipeline's target
	// rate, so Push needs no fractional resampling) plus the 500ms silence
	// tail FileSource always appends: frames should cover the full file
	// duration, i.e. at least (24000*1.5)/1920 = 18.75 -> 19 frames.
	samples := make([]int, resampler.TargetSampleRate)
	for i := range samples {
		samples[i] = 1000
	}
	path := writeTestWav(t, resampler.TargetSampleRate, samples)

	shutdown := lifecycle.NewShutdownFlag()
	src := NewFileSource(path, shutdown)

	var got []resampler.Frame
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range src.Frames() {
			got = append(got, f)
		}
	}()

	start := time.Now()
	src.Run()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not observe channel close")
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, len(got), 19)
	// Paced at 80ms/frame, so at least (len(got)-1)*80ms must have elapsed;
	// leave headroom for scheduling jitter.
	assert.GreaterOrEqual(t, elapsed, time.Duration(len(got)-1)*frameDuration/2)

	nonZero := false
	for _, s := range got[0] {
		if s != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "first frame should carry decoded tone samples, not silence")
}

func TestFileSourceAppliesSilenceTailAndFlushesRemainder(t *testing.T) {
	// A file with very few real samples: the 500ms silence tail
	// (silenceTailMs, applied at the source rate) dominates the decoded
	// PCM, and Run must still flush a final frame for whatever remains
	// once the resampler's full frames are drained, without hanging.
	samples := make([]int, 100)
	for i := range samples {
		samples[i] = 500
	}
	path := writeTestWav(t, resampler.TargetSampleRate, samples)

	shutdown := lifecycle.NewShutdownFlag()
	src := NewFileSource(path, shutdown)

	var frameCount int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range src.Frames() {
			frameCount++
		}
	}()

	src.Run()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not observe channel close")
	}

	// (100 + 12000-sample tail) / FrameSize covers several whole frames
	// plus a final flushed remainder.
	assert.GreaterOrEqual(t, frameCount, 5)
}

func TestFileSourceStopsOnShutdownMidRun(t *testing.T) {
	// Several seconds of audio gives Run plenty of frames to still be
	// pacing through when shutdown fires.
	samples := make([]int, resampler.TargetSampleRate*3)
	for i := range samples {
		samples[i] = 100
	}
	path := writeTestWav(t, resampler.TargetSampleRate, samples)

	shutdown := lifecycle.NewShutdownFlag()
	src := NewFileSource(path, shutdown)

	go func() {
		for range src.Frames() {
		}
	}()

	time.AfterFunc(150*time.Millisecond, shutdown.Set)

	done := make(chan struct{})
	go func() {
		defer close(done)
		src.Run()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after shutdown")
	}
}

func TestDecodeWavFileRejectsMissingFile(t *testing.T) {
	_, _, _, err := decodeWavFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
