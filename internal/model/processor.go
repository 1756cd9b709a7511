// Package model drives the external FrameProcessor collaborator: it polls
// incoming audio frames, hands each to a processor, forwards emitted PCM
// and optional text, and tracks per-frame latency. The processor itself —
// the actual speech model — is an external collaborator per spec.md §1;
// this package only owns the polling loop and statistics around it.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// ErrProcessor is the sentinel base error for processor failures.
var ErrProcessor = errors.New("processor error")

// pollTimeout is how long the driver waits on an empty frame channel
// before re-checking shutdown, matching the 100ms recv_timeout poll.
const pollTimeout = 100 * time.Millisecond

// statsLogInterval is how often the driver logs a received-frame heartbeat.
const statsLogInterval = 5 * time.Second

// FrameProcessor is the black-box speech model boundary: given one 80ms
// mono frame, it returns zero or more generated PCM samples and an
// optional text fragment. Implementations may block; the driver runs them
// serially on its own goroutine, never on the realtime audio thread.
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, frame resampler.Frame) (audio []float32, text string, err error)
}

// Stats summarizes per-frame processing latency, mirroring
// model.rs::ModelStats (avg/p95 over all frames processed so far).
type Stats struct {
	AvgTimeMs       float64
	P95TimeMs       float64
	FramesProcessed int
}

// Driver polls a frame source, runs each frame through a FrameProcessor,
// and forwards results on PCM and Text channels, per spec.md §4.3.
type Driver struct {
	processor FrameProcessor
	shutdown  *lifecycle.ShutdownFlag

	pcmOut  chan []float32
	textOut chan string

	frameTimes []float64
}

// NewDriver constructs a Driver. pcmCapacity bounds the output PCM queue
// (spec.md §2: PcmQueue capacity 50).
func NewDriver(processor FrameProcessor, shutdown *lifecycle.ShutdownFlag, pcmCapacity int) *Driver {
	return &Driver{
		processor: processor,
		shutdown:  shutdown,
		pcmOut:    make(chan []float32, pcmCapacity),
		textOut:   make(chan string, pcmCapacity),
	}
}

// PCM returns the channel generated audio chunks are sent on.
func (d *Driver) PCM() <-chan []float32 { return d.pcmOut }

// Text returns the channel generated text fragments are sent on.
func (d *Driver) Text() <-chan string { return d.textOut }

// Run drains frames until the channel closes or shutdown is observed, then
// closes both output channels and returns final stats.
func (d *Driver) Run(frames <-chan resampler.Frame) Stats {
	defer close(d.pcmOut)
	defer close(d.textOut)

	ctx := context.Background()
	var framesReceived uint64
	lastLog := time.Now()

	for !d.shutdown.IsSet() {
		select {
		case frame, ok := <-frames:
			if !ok {
				return d.stats()
			}
			framesReceived++

			if time.Since(lastLog) >= statsLogInterval {
				log.Info("model driver received frames", "count", framesReceived, "rms", rms(frame))
				lastLog = time.Now()
			}

			start := time.Now()
			audio, text, err := d.processor.ProcessFrame(ctx, frame)
			elapsed := time.Since(start).Seconds()
			d.frameTimes = append(d.frameTimes, elapsed)

			if err != nil {
				log.Error("frame processing failed", "error", err)
				d.shutdown.Set()
				return d.stats()
			}
			if len(audio) > 0 {
				d.pcmOut <- audio
			}
			if text != "" {
				d.textOut <- text
			}

		case <-time.After(pollTimeout):
			// Re-check shutdown; no frame arrived within the poll window.
		}
	}
	return d.stats()
}

func (d *Driver) stats() Stats {
	if len(d.frameTimes) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), d.frameTimes...)
	sort.Float64s(sorted)

	var sum float64
	for _, t := range sorted {
		sum += t
	}
	avg := sum / float64(len(sorted))
	p95Idx := int(float64(len(sorted)) * 0.95)
	if p95Idx >= len(sorted) {
		p95Idx = len(sorted) - 1
	}

	return Stats{
		AvgTimeMs:       avg * 1000,
		P95TimeMs:       sorted[p95Idx] * 1000,
		FramesProcessed: len(sorted),
	}
}

func rms(frame resampler.Frame) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// wrapProcessorError is a small helper keeping error construction
// consistent across processor implementations.
func wrapProcessorError(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProcessor, name, err)
}
