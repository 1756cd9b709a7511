// Package orchestrator wires a Source through a model.Driver into zero or
// more sinks (speaker, WAV file, or a drain-only fallback), following the
// thread topology in spec.md §2/§5.
package orchestrator

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/kyutai-labs/hibiki-stream/internal/input"
	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/model"
	"github.com/kyutai-labs/hibiki-stream/internal/playback"
	"github.com/kyutai-labs/hibiki-stream/internal/wavwriter"
)

// pcmQueueCapacity bounds every inter-stage PCM channel (spec.md §2: 50
// chunks).
const pcmQueueCapacity = 50

// monitorInterval is how often the top-level loop polls for shutdown.
const monitorInterval = 500 * time.Millisecond

// heartbeatInterval is how often the monitoring loop logs an activity
// heartbeat while running.
const heartbeatInterval = 5 * time.Second

// Config selects the pipeline's input source and output sinks. Sink and
// WavPath are independently optional, giving the four output-routing
// modes spec.md §2 describes: tee (both), playback-only, wav-only, and
// drain-only (neither).
type Config struct {
	Source    input.Source
	Sink      *playback.Sink // nil disables speaker output
	WavPath   string         // empty disables WAV saving
	Processor model.FrameProcessor
}

// Stats summarizes a completed run for final reporting.
type Stats struct {
	Model     model.Stats
	Underruns uint64
	Overflows uint64
}

// Run wires the pipeline described by cfg and blocks until the source is
// exhausted or shutdown is requested, then waits for every stage goroutine
// to finish before returning. The stages are waited on together as one
// group, not joined one by one in pipeline order. SIGINT/SIGTERM both
// request shutdown.
func Run(cfg Config, shutdown *lifecycle.ShutdownFlag) (Stats, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopWatcher := make(chan struct{})
	defer close(stopWatcher)
	go func() {
		select {
		case <-sigCh:
			log.Info("shutdown signal received")
			shutdown.Set()
		case <-stopWatcher:
		}
	}()

	driver := model.NewDriver(cfg.Processor, shutdown, pcmQueueCapacity)

	var g errgroup.Group
	var modelStats model.Stats
	var wavErr error

	g.Go(func() error {
		cfg.Source.Run()
		return nil
	})

	g.Go(func() error {
		modelStats = driver.Run(cfg.Source.Frames())
		return nil
	})

	g.Go(func() error {
		for text := range driver.Text() {
			// Text fragments go to stdout, one per line, as they
			// arrive; draining the channel here also keeps the driver
			// from blocking on a full buffer.
			fmt.Fprintln(os.Stdout, text)
		}
		return nil
	})

	playbackChan, wavChan := fanOutPCM(driver.PCM(), cfg.Sink != nil, cfg.WavPath != "")

	if cfg.Sink != nil {
		g.Go(func() error {
			runPlaybackSink(cfg.Sink, playbackChan, shutdown)
			return nil
		})
	}
	if cfg.WavPath != "" {
		g.Go(func() error {
			wavErr = runWavSink(cfg.WavPath, wavChan)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	if err := monitorLoop(done); err != nil {
		return Stats{}, err
	}
	if wavErr != nil {
		return Stats{}, wavErr
	}

	stats := Stats{Model: modelStats}
	if cfg.Sink != nil {
		stats.Underruns = cfg.Sink.UnderrunCount()
		stats.Overflows = cfg.Sink.OverflowCount()
	}
	return stats, nil
}

// monitorLoop logs a heartbeat every heartbeatInterval until the pipeline
// finishes — either because shutdown propagated through every stage, or
// because the source reached EOF on its own (file input) — mirroring
// mod.rs's 500ms poll / 5s log monitoring loop.
func monitorLoop(done <-chan error) error {
	lastLog := time.Now()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			if time.Since(lastLog) >= heartbeatInterval {
				log.Info("streaming active")
				lastLog = time.Now()
			}
		}
	}
}

// fanOutPCM tees generated PCM to playback and/or WAV channels depending
// on which outputs are enabled, or drains pcmIn with no consumer if
// neither is, matching spec.md §2's four routing modes.
func fanOutPCM(pcmIn <-chan []float32, wantPlayback, wantWav bool) (playbackChan, wavChan <-chan []float32) {
	if !wantPlayback && !wantWav {
		go func() {
			for range pcmIn {
			}
		}()
		return nil, nil
	}

	if wantPlayback && wantWav {
		pOut := make(chan []float32, pcmQueueCapacity)
		wOut := make(chan []float32, pcmQueueCapacity)
		go func() {
			defer close(pOut)
			defer close(wOut)
			for samples := range pcmIn {
				clone := append([]float32(nil), samples...)
				select {
				case pOut <- samples:
				default:
					log.Warn("playback tee full, dropping chunk for speaker sink")
				}
				select {
				case wOut <- clone:
				default:
					log.Warn("wav tee full, dropping chunk for wav sink")
				}
			}
		}()
		return pOut, wOut
	}

	if wantPlayback {
		return pcmIn, nil
	}
	return nil, pcmIn
}

// runPlaybackSink feeds generated PCM to sink until the channel closes,
// polling shutdown every 100ms while idle so it can exit promptly even if
// the upstream channel never closes on its own.
func runPlaybackSink(sink *playback.Sink, pcmChan <-chan []float32, shutdown *lifecycle.ShutdownFlag) {
	for {
		select {
		case samples, ok := <-pcmChan:
			if !ok {
				log.Info("input ended, draining playback buffer", "buffer_samples", sink.BufferLevel())
				sink.Drain()
				return
			}
			sink.PushSamples(samples)
		case <-time.After(100 * time.Millisecond):
			if shutdown.IsSet() {
				log.Info("playback thread: shutdown requested", "buffer_samples", sink.BufferLevel())
				sink.Drain()
				return
			}
		}
	}
}

func runWavSink(path string, pcmChan <-chan []float32) error {
	w, err := wavwriter.New(path)
	if err != nil {
		return err
	}
	for samples := range pcmChan {
		if err := w.WriteSamples(samples); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
