// Command hibikistream runs the realtime speech-to-speech streaming
// pipeline described in spec.md: a paced file or live microphone input,
// through a frame processor, to a speaker sink and/or a WAV file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/kyutai-labs/hibiki-stream/internal/config"
	"github.com/kyutai-labs/hibiki-stream/internal/devices"
	"github.com/kyutai-labs/hibiki-stream/internal/input"
	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/logging"
	"github.com/kyutai-labs/hibiki-stream/internal/model"
	"github.com/kyutai-labs/hibiki-stream/internal/orchestrator"
	"github.com/kyutai-labs/hibiki-stream/internal/playback"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sessionID := logging.Setup(cfg.Verbose)

	if cfg.ListDevices {
		if err := listDevices(); err != nil {
			log.Fatal("failed to list devices", "error", err)
		}
		return
	}

	log.Info("hibikistream starting", "session", sessionID, "processor", cfg.Processor, "seed", cfg.Seed, "cfg_alpha", cfg.CfgAlphaOrNil())

	shutdown := lifecycle.NewShutdownFlag()

	source, err := buildSource(cfg, shutdown)
	if err != nil {
		log.Fatal("failed to build input source", "error", err)
	}
	defer source.Close()

	processor, err := buildProcessor(cfg)
	if err != nil {
		log.Fatal("failed to build frame processor", "error", err)
	}

	var sink *playback.Sink
	if !cfg.DisableSpeaker {
		sink, err = buildSink(cfg)
		if err != nil {
			log.Fatal("failed to open playback device", "error", err)
		}
		defer sink.Close()
	}

	runCfg := orchestrator.Config{
		Source:    source,
		Sink:      sink,
		WavPath:   cfg.SaveOutput,
		Processor: processor,
	}

	stats, err := orchestrator.Run(runCfg, shutdown)
	if err != nil {
		log.Fatal("pipeline failed", "error", err)
	}

	log.Info("pipeline finished",
		"frames_processed", stats.Model.FramesProcessed,
		"avg_ms", fmt.Sprintf("%.2f", stats.Model.AvgTimeMs),
		"p95_ms", fmt.Sprintf("%.2f", stats.Model.P95TimeMs),
		"underruns", stats.Underruns,
		"overflows", stats.Overflows,
	)
}

func buildSource(cfg *config.Config, shutdown *lifecycle.ShutdownFlag) (input.Source, error) {
	if cfg.InputFile != "" {
		return input.NewFileSource(cfg.InputFile, shutdown), nil
	}
	return input.NewMicSource(cfg.InputDevice, shutdown)
}

func buildProcessor(cfg *config.Config) (model.FrameProcessor, error) {
	switch cfg.Processor {
	case "ollama":
		p, err := model.NewOllamaCommentaryProcessor(model.OllamaConfig{
			Host:  cfg.OllamaHost,
			Model: cfg.OllamaModel,
		})
		if err != nil {
			return nil, err
		}
		if err := p.HealthCheck(context.Background()); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return model.EchoProcessor{}, nil
	}
}

func buildSink(cfg *config.Config) (*playback.Sink, error) {
	opts := playback.Options{InitialFillThreshold: cfg.InitialFillThreshold}

	if cfg.OutputDevice != "" {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return nil, fmt.Errorf("init audio context for device lookup: %w", err)
		}
		defer func() {
			_ = ctx.Uninit()
			ctx.Free()
		}()
		id, ok, err := devices.FindOutput(ctx, cfg.OutputDevice)
		if err != nil {
			return nil, err
		}
		if ok {
			opts.DeviceID = &id
		}
	}

	return playback.NewSink(opts)
}

func listDevices() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()
	return devices.Print(ctx)
}
