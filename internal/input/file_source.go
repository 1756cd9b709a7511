package input

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/kyutai-labs/hibiki-stream/internal/lifecycle"
	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// silenceTailMs is the 500ms flush-tail appended to every decoded
// file, at the file's own (pre-resample) sample rate in spec.md's
// canonical 24kHz terms: 12000 samples = 500ms @ 24kHz. We scale it to the
// source file's rate at decode time so the tail still represents 500ms
// after resampling.
const silenceTailMs = 500

// frameDuration is the wall-clock pacing interval: one frame every 80ms.
const frameDuration = 80 * time.Millisecond

// pollInterval bounds how long a blocked frame send waits before
// re-checking shutdown, so a full channel during shutdown can't stall
// Run past the rest of the pipeline's teardown.
const pollInterval = 100 * time.Millisecond

// FileSource decodes an entire PCM file, pads a silence tail, resamples to
// 24kHz mono 1920-sample frames, and paces emission to wall clock — see
// spec.md §4.2.
type FileSource struct {
	path     string
	shutdown *lifecycle.ShutdownFlag
	frames   chan resampler.Frame
}

// NewFileSource records path for decoding. The file is not opened or read
// until Run is called.
func NewFileSource(path string, shutdown *lifecycle.ShutdownFlag) *FileSource {
	return &FileSource{
		path:     path,
		shutdown: shutdown,
		frames:   make(chan resampler.Frame, FrameQueueCapacity),
	}
}

// Frames implements Source.
func (f *FileSource) Frames() <-chan resampler.Frame { return f.frames }

// Close implements Source; FileSource holds no live device so this is a
// no-op.
func (f *FileSource) Close() {}

// Run decodes the file, resamples it, and paces frame emission to wall
// clock at one frame per 80ms, sending each frame on Frames() until EOF or
// shutdown. A send blocked on a full channel re-checks shutdown every
// pollInterval; a receiver that stops reading is not otherwise detected.
// It owns closing the Frames channel.
func (f *FileSource) Run() {
	defer close(f.frames)

	pcm, sourceRate, channels, err := decodeWavFile(f.path)
	if err != nil {
		log.Error("failed to decode input file", "path", f.path, "error", err)
		return
	}
	log.Info("file decoded", "path", f.path, "samples", len(pcm)/channels, "sample_rate", sourceRate, "channels", channels)

	tailSamples := int(float64(sourceRate) * float64(channels) * (silenceTailMs / 1000.0))
	pcm = append(pcm, make([]float32, tailSamples)...)

	r, err := resampler.New(sourceRate, channels)
	if err != nil {
		log.Error("failed to construct resampler", "error", err)
		return
	}

	start := time.Now()
	frameIdx := 0

	send := func(fr resampler.Frame) bool {
		deadline := start.Add(frameDuration * time.Duration(frameIdx))
		if wait := time.Until(deadline); wait > 0 {
			time.Sleep(wait)
		}
		frameIdx++
		for {
			select {
			case f.frames <- fr:
				return true
			case <-time.After(pollInterval):
				if f.shutdown.IsSet() {
					return false
				}
			}
		}
	}

	frames, err := r.Push(pcm)
	if err != nil {
		log.Error("resampler push failed", "error", err)
		return
	}
	for _, fr := range frames {
		if f.shutdown.IsSet() {
			log.Info("file input: shutdown requested")
			return
		}
		if !send(fr) {
			log.Info("file input: shutdown requested while sending")
			return
		}
	}

	if final, err := r.Flush(); err != nil {
		log.Error("resampler flush failed", "error", err)
		return
	} else if final != nil && !f.shutdown.IsSet() {
		send(*final)
	}

	log.Info("file input complete", "frames", frameIdx)
}

// decodeWavFile decodes a WAV file into interleaved float32 PCM samples in
// [-1, 1], along with the file's sample rate and channel count. Non-WAV
// formats are out of scope per spec.md §1 (file decoding to PCM is an
// external collaborator concern) — this is a thin wrapper appropriate for
// the WAV fixtures the test scenarios (S1, S3, S6) use.
func decodeWavFile(path string) (pcm []float32, sampleRate int, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%s is not a valid WAV file", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	return pcmBufferToFloat32(buf), int(decoder.SampleRate), int(decoder.NumChans), nil
}

// pcmBufferToFloat32 converts a go-audio IntBuffer's interleaved integer
// samples into float32 in [-1, 1], scaled by the buffer's own bit depth.
func pcmBufferToFloat32(buf *goaudio.IntBuffer) []float32 {
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxVal := float64(int(1)<<(uint(bitDepth)-1)) - 1

	out := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = float32(float64(s) / maxVal)
	}
	return out
}
