package model

import (
	"context"

	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// EchoProcessor is a deterministic, dependency-free FrameProcessor used in
// tests and as a --processor=echo demo mode: it returns the input frame
// unchanged as generated audio and never emits text. It exercises the
// Driver's polling and stats loop without any external model.
type EchoProcessor struct{}

// ProcessFrame implements FrameProcessor.
func (EchoProcessor) ProcessFrame(_ context.Context, frame resampler.Frame) ([]float32, string, error) {
	out := make([]float32, len(frame))
	copy(out, frame[:])
	return out, "", nil
}
