// Package wavwriter persists generated PCM to a 24kHz mono 16-bit WAV
// file, dithering the float32->int16 conversion, per spec.md §4.5.
package wavwriter

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// ErrIO is the sentinel base error for WAV writer failures.
var ErrIO = errors.New("wav writer io error")

// ditherSeed, ditherMultiplier, ditherIncrement are the LCG constants for
// TPDF dither, matching wav_writer.rs's dither_f32_to_i16 bit for bit.
const (
	ditherSeed       uint32 = 0x12345678
	ditherMultiplier uint32 = 1103515245
	ditherIncrement  uint32 = 12345
)

// Writer accumulates float32 PCM and finalizes it as a canonical RIFF WAVE
// file on Close: PCM format, 1 channel, 24000Hz, 16 bits per sample.
type Writer struct {
	path string
	file *os.File
	enc  *wav.Encoder

	rng          uint32
	totalSamples uint64
}

// New creates path and prepares it for writing; the header is finalized
// only on Close.
func New(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}

	enc := wav.NewEncoder(f, resampler.TargetSampleRate, 16, 1, 1)

	log.Info("wav writer started", "path", path)
	return &Writer{path: path, file: f, enc: enc, rng: ditherSeed}, nil
}

// WriteSamples dithers and appends float32 samples in [-1, 1] as signed
// 16-bit PCM.
func (w *Writer) WriteSamples(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(w.ditherToInt16(s))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: resampler.TargetSampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("%w: write samples: %v", ErrIO, err)
	}
	w.totalSamples += uint64(len(samples))
	return nil
}

// ditherToInt16 applies TPDF dither (sum of two uniforms advanced by a
// simple LCG) before quantizing to int16, matching the original's
// dither_f32_to_i16 exactly.
func (w *Writer) ditherToInt16(sample float32) int16 {
	r1 := float32(w.rng)/float32(^uint32(0)) - 0.5
	w.rng = w.rng*ditherMultiplier + ditherIncrement
	r2 := float32(w.rng)/float32(^uint32(0)) - 0.5
	w.rng = w.rng*ditherMultiplier + ditherIncrement

	dither := (r1 + r2) / 32768.0
	dithered := sample + dither

	if dithered > 1.0 {
		dithered = 1.0
	} else if dithered < -1.0 {
		dithered = -1.0
	}
	return int16(dithered * 32767.0)
}

// Close finalizes the WAV header and releases the file handle.
func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("%w: finalize %s: %v", ErrIO, w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, w.path, err)
	}

	durationS := float64(w.totalSamples) / float64(resampler.TargetSampleRate)
	log.Info("wav file saved", "path", w.path, "samples", w.totalSamples, "duration_s", durationS)
	return nil
}
