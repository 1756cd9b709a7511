package model

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"

	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// OllamaCommentaryProcessor is a demo FrameProcessor adapter: it passes
// each frame through unchanged as generated audio (there is no real
// speech model behind it) and, every commentaryPeriod frames, asks a
// local Ollama model to comment on the recent input energy. It exists to
// exercise the FrameProcessor boundary end to end with a real network
// call, not to demonstrate speech synthesis.
type OllamaCommentaryProcessor struct {
	client *api.Client
	model  string

	commentaryPeriod int
	framesSinceAsk   int
	energyWindow     []float64
}

// OllamaConfig configures OllamaCommentaryProcessor.
type OllamaConfig struct {
	Host             string
	Model            string
	CommentaryPeriod int // ask for commentary every N frames; <=0 selects the default of 25
}

// NewOllamaCommentaryProcessor builds a processor talking to an Ollama
// server, following the teacher's connection-pooled HTTP client pattern.
func NewOllamaCommentaryProcessor(cfg OllamaConfig) (*OllamaCommentaryProcessor, error) {
	host := strings.TrimSuffix(cfg.Host, "/")
	parsedURL, err := url.Parse(host)
	if err != nil {
		return nil, wrapProcessorError("ollama", fmt.Errorf("invalid host URL: %w", err))
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	period := cfg.CommentaryPeriod
	if period <= 0 {
		period = 25 // roughly every 2s at 80ms/frame
	}

	return &OllamaCommentaryProcessor{
		client:           api.NewClient(parsedURL, httpClient),
		model:            cfg.Model,
		commentaryPeriod: period,
	}, nil
}

// HealthCheck verifies the Ollama server is reachable, mirroring the
// teacher's client.HealthCheck.
func (p *OllamaCommentaryProcessor) HealthCheck(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return wrapProcessorError("ollama", fmt.Errorf("cannot reach Ollama: %w", err))
	}
	return nil
}

// ProcessFrame implements FrameProcessor: it echoes the frame as audio and
// periodically requests a one-line commentary on recent input energy.
func (p *OllamaCommentaryProcessor) ProcessFrame(ctx context.Context, frame resampler.Frame) ([]float32, string, error) {
	out := make([]float32, len(frame))
	copy(out, frame[:])

	p.energyWindow = append(p.energyWindow, frameRMS(frame))
	p.framesSinceAsk++

	if p.framesSinceAsk < p.commentaryPeriod {
		return out, "", nil
	}
	p.framesSinceAsk = 0

	avgRMS := average(p.energyWindow)
	p.energyWindow = p.energyWindow[:0]

	text, err := p.comment(ctx, avgRMS)
	if err != nil {
		// Commentary is a demo extra, not load-bearing: log-and-continue
		// rather than failing the whole frame.
		log.Warn("ollama commentary failed", "error", err)
		return out, "", nil
	}
	return out, text, nil
}

func (p *OllamaCommentaryProcessor) comment(ctx context.Context, avgRMS float64) (string, error) {
	prompt := fmt.Sprintf("In five words or fewer, describe audio with average loudness %.4f (0=silent, 1=max).", avgRMS)
	stream := false

	var response api.ChatResponse
	err := p.client.Chat(ctx, &api.ChatRequest{
		Model: p.model,
		Messages: []api.Message{
			{Role: "system", Content: "You narrate a live audio stream tersely."},
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.7,
			"num_predict": 16,
			"num_ctx":     512,
		},
	}, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", wrapProcessorError("ollama", err)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

func frameRMS(frame resampler.Frame) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
