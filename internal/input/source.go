// Package input provides the two audio source variants spec.md §4.2
// describes: a paced file reader and a realtime microphone capturer. Both
// push raw samples through a resampler.Streaming and emit fixed 1920-
// sample frames on a bounded channel.
package input

import "github.com/kyutai-labs/hibiki-stream/internal/resampler"

// FrameQueueCapacity is the bounded capacity of the channel InputSource
// implementations send frames on (spec.md §2: 50 frames ≈ 4s).
const FrameQueueCapacity = 50

// Source produces AudioFrames on FrameQueueCapacity-bounded Frames channel
// until it observes shutdown or EOF (file sources only). A receiver that
// stops reading is not detected.
type Source interface {
	// Frames returns the channel frames are sent on. The channel is closed
	// when the source has nothing further to emit.
	Frames() <-chan resampler.Frame
	// Run drives the source until completion or shutdown; it owns closing
	// the Frames channel.
	Run()
	// Close releases any underlying device resources.
	Close()
}
