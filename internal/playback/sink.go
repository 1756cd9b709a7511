// Package playback renders 24kHz mono PCM through a malgo output device,
// guarded by a ring buffer and a hysteresis-driven Buffering/Playing/Paused
// state machine, per spec.md §4.4.
package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/kyutai-labs/hibiki-stream/internal/resampler"
)

// ErrIO is the sentinel base error for playback device failures.
var ErrIO = errors.New("playback io error")

// Hysteresis constants, canonical per spec.md §7/§9 (the source's
// INITIAL_FILL_THRESHOLD carries a comment claiming 0.5s while its
// formula evaluates to 0.1s/2400 samples; this package treats the
// 2400-sample numeric value as canonical default and exposes
// InitialFillThreshold as a tunable for slower first-frame models).
const (
	// RingBufferSize holds 12 seconds of audio at TargetSampleRate.
	RingBufferSize = resampler.TargetSampleRate * 12

	PauseThreshold     = 2400  // 0.1s: pause draining below this level
	ResumeThreshold    = 6000  // 0.25s: resume draining at or above this level
	DefaultInitialFill = 2400  // 0.1s: default first-fill threshold
	MaxInitialFill     = 12000 // 0.5s: ceiling for slow first-frame models
)

// State is one of the three SpeakerSink states.
type State int

const (
	Buffering State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Buffering:
		return "buffering"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// ring is a mutex-guarded circular buffer of float32 samples. Unlike the
// teacher's lock-free single-sample ring, playback needs a multi-sample
// read/write with overflow semantics (drop oldest) and a level query
// usable from both the producer (push) and the realtime callback; a single
// mutex guarding short, allocation-free critical sections is the
// appropriate tradeoff here, matching the Rust PlaybackBuffer's Mutex use.
type ring struct {
	mu       sync.Mutex
	buf      []float32
	writePos int
	readPos  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float32, capacity)}
}

// availableLocked reports the number of queued samples. Callers must hold
// r.mu; use available() from outside the already-locked write/read paths.
func (r *ring) availableLocked() int {
	if r.writePos >= r.readPos {
		return r.writePos - r.readPos
	}
	return len(r.buf) - r.readPos + r.writePos
}

// available reports the number of queued samples, taking the lock itself.
// Safe to call concurrently with write/read, including from the realtime
// callback, matching the Rust PlaybackBuffer's locked available().
func (r *ring) available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked()
}

// write appends samples, dropping the oldest queued samples on overflow.
// A batch longer than the buffer's usable capacity (len(buf)-1) keeps only
// its newest len(buf)-1 samples. Returns true if an overflow occurred.
func (r *ring) write(samples []float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := len(r.buf) - r.availableLocked() - 1
	overflowed := len(samples) > free
	if overflowed {
		if limit := len(r.buf) - 1; len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
		toDrop := len(samples) - free
		r.readPos = (r.readPos + toDrop) % len(r.buf)
	}

	toWrite := len(samples)
	if toWrite <= 0 {
		return overflowed
	}

	if r.writePos+toWrite <= len(r.buf) {
		copy(r.buf[r.writePos:r.writePos+toWrite], samples[:toWrite])
		r.writePos = (r.writePos + toWrite) % len(r.buf)
	} else {
		firstChunk := len(r.buf) - r.writePos
		copy(r.buf[r.writePos:], samples[:firstChunk])
		copy(r.buf[:toWrite-firstChunk], samples[firstChunk:toWrite])
		r.writePos = toWrite - firstChunk
	}
	return overflowed
}

// read drains up to count samples into out (reusing its backing array),
// returning the samples actually read.
func (r *ring) read(count int, out []float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.availableLocked()
	toRead := count
	if toRead > available {
		toRead = available
	}
	out = out[:0]
	if toRead == 0 {
		return out
	}

	if r.readPos+toRead <= len(r.buf) {
		out = append(out, r.buf[r.readPos:r.readPos+toRead]...)
		r.readPos = (r.readPos + toRead) % len(r.buf)
	} else {
		firstChunk := len(r.buf) - r.readPos
		out = append(out, r.buf[r.readPos:]...)
		out = append(out, r.buf[:toRead-firstChunk]...)
		r.readPos = toRead - firstChunk
	}
	return out
}

// Sink renders PCM pushed via PushSamples through a malgo playback device
// running at a fixed TargetSampleRate, applying the Buffering/Playing/
// Paused hysteresis state machine in the audio callback.
type Sink struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	buffer        *ring
	initialFill   int
	state         atomic.Int32 // holds State
	hasStarted    atomic.Bool
	underrunCount atomic.Uint64
	overflowCount atomic.Uint64

	scratch []float32 // callback-local reusable read buffer
}

// Options configures Sink construction.
type Options struct {
	// DeviceID selects a specific playback device; zero value uses the
	// system default.
	DeviceID *malgo.DeviceID
	// InitialFillThreshold overrides DefaultInitialFill (clamped to
	// [PauseThreshold, MaxInitialFill]).
	InitialFillThreshold int
}

// NewSink opens a playback device forced to TargetSampleRate (matching the
// Rust SpeakerSink's "no resampling artifacts" requirement: the pipeline
// always produces 24kHz, so the device is asked for 24kHz directly).
func NewSink(opts Options) (*Sink, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", ErrIO, err)
	}

	fill := opts.InitialFillThreshold
	if fill <= 0 {
		fill = DefaultInitialFill
	}
	if fill < PauseThreshold {
		fill = PauseThreshold
	}
	if fill > MaxInitialFill {
		fill = MaxInitialFill
	}

	s := &Sink{
		buffer:      newRing(RingBufferSize),
		initialFill: fill,
		scratch:     make([]float32, 0, 4096),
	}
	s.state.Store(int32(Buffering))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = resampler.TargetSampleRate
	if opts.DeviceID != nil {
		deviceConfig.Playback.DeviceID = opts.DeviceID.Pointer()
	}

	var lastBufferingLog time.Time
	onSendFrames := func(output, _ []byte, frameCount uint32) {
		s.renderCallback(output, int(frameCount), &lastBufferingLog)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: init playback device: %v", ErrIO, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: start playback device: %v", ErrIO, err)
	}

	s.ctx = ctx
	s.device = device
	log.Info("speaker sink started", "sample_rate", resampler.TargetSampleRate, "initial_fill", fill)
	return s, nil
}

// renderCallback runs on the realtime audio thread. It holds the ring lock
// only for the level check and the copy-out, reuses s.scratch for the
// drain read, and writes silence on any buffering/paused/underrun path.
// Its log calls on state transitions run outside the ring lock.
func (s *Sink) renderCallback(output []byte, frameCount int, lastBufferingLog *time.Time) {
	level := s.buffer.available()
	state := State(s.state.Load())

	if !s.hasStarted.Load() {
		if level >= s.initialFill {
			s.hasStarted.Store(true)
			s.state.Store(int32(Playing))
			state = Playing
			log.Info("playback started", "buffer_samples", level)
		} else {
			if lastBufferingLog.IsZero() || time.Since(*lastBufferingLog) > 500*time.Millisecond {
				log.Debug("buffering", "level", level, "threshold", s.initialFill)
				*lastBufferingLog = time.Now()
			}
			fillSilence(output)
			return
		}
	}

	switch {
	case state != Playing && level >= ResumeThreshold:
		s.state.Store(int32(Playing))
		state = Playing
		log.Warn("playback resumed", "buffer_samples", level)
	case state == Playing && level < PauseThreshold:
		s.state.Store(int32(Paused))
		state = Paused
		s.underrunCount.Add(1)
		log.Error("playback paused: underrun", "buffer_samples", level)
	}

	if state != Playing {
		fillSilence(output)
		return
	}

	s.scratch = s.buffer.read(frameCount, s.scratch)
	for i := 0; i < frameCount; i++ {
		var sample float32
		if i < len(s.scratch) {
			sample = s.scratch[i]
		}
		binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(sample))
	}
}

func fillSilence(output []byte) {
	for i := range output {
		output[i] = 0
	}
}

// PushSamples enqueues generated PCM for playback. Safe to call
// concurrently with the realtime callback; overflow drops the oldest
// queued samples rather than blocking.
func (s *Sink) PushSamples(samples []float32) {
	before := s.buffer.available()
	if s.buffer.write(samples) {
		s.overflowCount.Add(1)
		log.Warn("playback buffer overflow, dropped oldest samples", "buffer_was_at", before)
	}
}

// BufferLevel returns the number of samples currently queued.
func (s *Sink) BufferLevel() int { return s.buffer.available() }

// State returns the current playback state.
func (s *Sink) State() State { return State(s.state.Load()) }

// UnderrunCount returns the cumulative number of Playing->Paused
// transitions caused by buffer depletion.
func (s *Sink) UnderrunCount() uint64 { return s.underrunCount.Load() }

// OverflowCount returns the cumulative number of PushSamples calls that
// dropped samples due to a full buffer.
func (s *Sink) OverflowCount() uint64 { return s.overflowCount.Load() }

// Drain sleeps long enough for the currently queued audio to finish
// rendering, per spec.md §4.4's shutdown-drain rule: buffer_level/rate +
// 0.5s.
func (s *Sink) Drain() {
	level := s.buffer.available()
	wait := time.Duration(float64(level)/float64(resampler.TargetSampleRate)*float64(time.Second)) + 500*time.Millisecond
	time.Sleep(wait)
}

// Close stops and releases the playback device and audio context.
func (s *Sink) Close() {
	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}
