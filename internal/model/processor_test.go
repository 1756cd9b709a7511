package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

func TestDriverEchoesFramesAsAudio(t *testing.T) {
	shutdown := lifecycle.NewShutdownFlag()
	driver := NewDriver(EchoProcessor{}, shutdown, 8)

	frames := make(chan resampler.Frame, 2)
	var f1 resampler.Frame
	f1[0] = 0.5
	frames <- f1
	close(frames)

	pcmDone := make(chan [][]float32, 1)
	go func() {
		var chunks [][]float32
		for chunk := range driver.PCM() {
			chunks = append(chunks, chunk)
		}
		pcmDone <- chunks
	}()
	go func() {
		for range driver.Text() {
		}
	}()

	stats := driver.Run(frames)
	require.Equal(t, 1, stats.FramesProcessed)
	assert.GreaterOrEqual(t, stats.AvgTimeMs, 0.0)

	chunks := <-pcmDone
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0], resampler.FrameSize)
	assert.Equal(t, float32(0.5), chunks[0][0])
}

func TestDriverStopsOnShutdown(t *testing.T) {
	shutdown := lifecycle.NewShutdownFlag()
	driver := NewDriver(EchoProcessor{}, shutdown, 8)

	frames := make(chan resampler.Frame)
	done := make(chan Stats, 1)
	go func() { done <- driver.Run(frames) }()

	go func() {
		for range driver.PCM() {
		}
	}()
	go func() {
		for range driver.Text() {
		}
	}()

	shutdown.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not stop after shutdown")
	}
}

type erroringProcessor struct{}

func (erroringProcessor) ProcessFrame(context.Context, resampler.Frame) ([]float32, string, error) {
	return nil, "", assert.AnError
}

func TestDriverStopsOnProcessorError(t *testing.T) {
	shutdown := lifecycle.NewShutdownFlag()
	driver := NewDriver(erroringProcessor{}, shutdown, 8)

	frames := make(chan resampler.Frame, 1)
	frames <- resampler.Frame{}

	go func() {
		for range driver.PCM() {
		}
	}()
	go func() {
		for range driver.Text() {
		}
	}()

	driver.Run(frames)
	assert.True(t, shutdown.IsSet())
}

func TestEchoProcessorReturnsInputUnchanged(t *testing.T) {
	var frame resampler.Frame
	frame[10] = 0.25

	out, text, err := EchoProcessor{}.ProcessFrame(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, text)
	require.Len(t, out, resampler.FrameSize)
	assert.Equal(t, float32(0.25), out[10])
}
