// Package resampler converts arbitrary-rate, arbitrary-channel interleaved
// PCM into a lazy sequence of fixed-size mono frames at the pipeline's
// target sample rate.
package resampler

import (
	"errors"
	"fmt"
	"math"
)

const (
	// TargetSampleRate is the pipeline-wide output rate, in Hz.
	TargetSampleRate = 24000
	// FrameSize is the number of mono samples in one emitted frame: 80ms at
	// TargetSampleRate.
	FrameSize = 1920

	// inputBlockSamples is the fixed per-channel input block size the
	// interpolation kernel processes at a time.
	inputBlockSamples = 1024
	// kernelTaps controls the width of the septic-degree interpolation
	// kernel; a wider kernel trades CPU for a sharper passband.
	kernelTaps = 8
)

// ErrResampler is the sentinel base error for resampler failures.
var ErrResampler = errors.New("resampler error")

// Frame is exactly FrameSize mono float32 samples in [-1, 1] at
// TargetSampleRate.
type Frame [FrameSize]float32

// Streaming converts interleaved input at an arbitrary rate and channel
// count into a sequence of fixed-size mono Frames at TargetSampleRate. It
// holds a polynomial-interpolation kernel (septic degree, fixed 1024-sample
// input blocks per channel) behind a de-interleave/downmix/accumulate
// adaptor, matching the contract in spec.md §4.1.
type Streaming struct {
	inputRate int
	channels  int
	ratio     float64

	// scratch holds one input block per channel; filled until full, then
	// the kernel runs once per full block. The scratch rows are allocated
	// once at construction; each kernel run allocates its per-block output
	// rows, and the output accumulator grows only transiently.
	scratch    [][]float32
	scratchLen int

	kernel *kernel

	accumulated []float32
}

// New creates a Streaming resampler converting from inputRate/channels to
// TargetSampleRate mono.
func New(inputRate, channels int) (*Streaming, error) {
	if inputRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid input rate %d or channel count %d", ErrResampler, inputRate, channels)
	}

	scratch := make([][]float32, channels)
	for i := range scratch {
		scratch[i] = make([]float32, inputBlockSamples)
	}

	return &Streaming{
		inputRate:   inputRate,
		channels:    channels,
		ratio:       float64(TargetSampleRate) / float64(inputRate),
		scratch:     scratch,
		kernel:      newKernel(float64(inputRate), float64(TargetSampleRate)),
		accumulated: make([]float32, 0, FrameSize*2),
	}, nil
}

// Push de-interleaves samples into per-channel scratch; every time a
// scratch row fills, it runs the kernel, downmixes to mono, and appends to
// the accumulator. It returns every complete 1920-sample prefix as a Frame,
// leaving any remainder buffered for the next call (or flush).
func (s *Streaming) Push(interleaved []float32) ([]Frame, error) {
	if len(interleaved) == 0 {
		return nil, nil
	}
	if len(interleaved)%s.channels != 0 {
		return nil, fmt.Errorf("%w: interleaved length %d is not a multiple of %d channels", ErrResampler, len(interleaved), s.channels)
	}

	samplesPerChannel := len(interleaved) / s.channels
	pos := 0
	for pos < samplesPerChannel {
		space := inputBlockSamples - s.scratchLen
		toCopy := samplesPerChannel - pos
		if toCopy > space {
			toCopy = space
		}

		for ch := 0; ch < s.channels; ch++ {
			for i := 0; i < toCopy; i++ {
				s.scratch[ch][s.scratchLen+i] = interleaved[(pos+i)*s.channels+ch]
			}
		}
		s.scratchLen += toCopy
		pos += toCopy

		if s.scratchLen == inputBlockSamples {
			if err := s.processFullBlock(); err != nil {
				return nil, err
			}
			s.scratchLen = 0
		}
	}

	return s.drainFrames(), nil
}

// Flush runs the kernel's partial-mode path over any buffered partial
// block, then — if the accumulator holds a nonzero remainder — zero-pads
// it to FrameSize and returns one final frame.
func (s *Streaming) Flush() (*Frame, error) {
	if s.scratchLen > 0 {
		out, err := s.kernel.processPartial(s.scratch, s.scratchLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResampler, err)
		}
		s.downmixAppend(out)
		s.scratchLen = 0
	}

	if len(s.accumulated) == 0 {
		return nil, nil
	}

	var frame Frame
	copy(frame[:], s.accumulated)
	// Remainder beyond len(s.accumulated) stays zero (silence pad).
	s.accumulated = s.accumulated[:0]
	return &frame, nil
}

func (s *Streaming) processFullBlock() error {
	out, err := s.kernel.process(s.scratch)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResampler, err)
	}
	s.downmixAppend(out)
	return nil
}

// downmixAppend takes per-channel output rows (one row per input channel,
// all the same length) and appends their arithmetic mean, sample by
// sample, to the accumulator.
func (s *Streaming) downmixAppend(perChannel [][]float32) {
	if len(perChannel) == 0 || len(perChannel[0]) == 0 {
		return
	}
	n := len(perChannel[0])
	inv := float32(1.0 / float64(len(perChannel)))
	for i := 0; i < n; i++ {
		var sum float32
		for ch := range perChannel {
			sum += perChannel[ch][i]
		}
		s.accumulated = append(s.accumulated, sum*inv)
	}
}

func (s *Streaming) drainFrames() []Frame {
	var frames []Frame
	for len(s.accumulated) >= FrameSize {
		var frame Frame
		copy(frame[:], s.accumulated[:FrameSize])
		frames = append(frames, frame)
		s.accumulated = s.accumulated[FrameSize:]
	}
	return frames
}

// kernel implements septic-degree polynomial interpolation resampling,
// processing one per-channel block at a time while keeping a running
// input/output sample count so that per-block rounding of the output
// length never drifts the stream's overall rate: each block emits however
// many samples are needed to keep cumulative output in step with
// cumulative input, not a fixed per-block length.
type kernel struct {
	ratio   float64
	taps    int
	history [][]float32 // per-channel trailing samples from the previous block

	inputSeen     float64
	outputEmitted float64
}

func newKernel(fromRate, toRate float64) *kernel {
	return &kernel{ratio: toRate / fromRate, taps: kernelTaps}
}

// process runs the kernel over a full scratch block (one row per channel,
// all of length inputBlockSamples) and returns the resampled rows.
func (k *kernel) process(scratch [][]float32) ([][]float32, error) {
	return k.run(scratch, inputBlockSamples)
}

// processPartial runs the kernel over the first n samples of each scratch
// row — used only at flush, when the final block is not full.
func (k *kernel) processPartial(scratch [][]float32, n int) ([][]float32, error) {
	if n <= 0 {
		return nil, nil
	}
	return k.run(scratch, n)
}

func (k *kernel) run(scratch [][]float32, n int) ([][]float32, error) {
	if k.ratio <= 0 {
		return nil, fmt.Errorf("invalid resample ratio %f", k.ratio)
	}
	channels := len(scratch)
	if k.history == nil {
		k.history = make([][]float32, channels)
		for ch := range k.history {
			k.history[ch] = make([]float32, k.taps)
		}
	}

	k.inputSeen += float64(n)
	targetTotal := math.Round(k.inputSeen * k.ratio)
	outLen := int(targetTotal - k.outputEmitted)
	if outLen < 0 {
		outLen = 0
	}

	out := make([][]float32, channels)
	for ch := 0; ch < channels; ch++ {
		row := scratch[ch][:n]
		combined := append(append([]float32{}, k.history[ch]...), row...)
		outRow := make([]float32, outLen)
		for i := 0; i < outLen; i++ {
			// srcPos is the fractional source position (in input-sample
			// units since the start of this block) for output sample i,
			// expressed relative to the start of `combined` (which is
			// offset by k.taps history samples).
			outputIndex := k.outputEmitted + float64(i)
			srcPos := outputIndex/k.ratio - (k.inputSeen - float64(n))
			outRow[i] = interpolateSeptic(combined, srcPos+float64(k.taps))
		}
		out[ch] = outRow

		// Update history with the trailing taps samples for continuity.
		if n >= k.taps {
			copy(k.history[ch], row[n-k.taps:])
		} else {
			shift := k.taps - n
			copy(k.history[ch], k.history[ch][n:])
			copy(k.history[ch][shift:], row)
		}
	}
	k.outputEmitted += float64(outLen)
	return out, nil
}

// interpolateSeptic evaluates a 7th-degree (8-point) Lagrange interpolant
// of samples around a fractional position. This is the streaming
// equivalent of rubato's PolynomialDegree::Septic fixed-ratio kernel.
func interpolateSeptic(samples []float32, pos float64) float32 {
	base := int(math.Floor(pos))
	frac := pos - float64(base)

	const half = kernelTaps / 2
	var acc float64
	for j := -half + 1; j <= half; j++ {
		idx := base + j
		if idx < 0 || idx >= len(samples) {
			continue
		}
		acc += float64(samples[idx]) * lagrangeWeight(j, frac)
	}
	return float32(acc)
}

// lagrangeWeight computes the Lagrange basis weight for node j (an integer
// offset relative to base) evaluated at fractional position frac, over the
// kernelTaps-point stencil centered between base and base+1:
//
//	L_j(frac) = product over k != j of (frac - k) / (j - k)
func lagrangeWeight(j int, frac float64) float64 {
	const half = kernelTaps / 2
	weight := 1.0
	for k := -half + 1; k <= half; k++ {
		if k == j {
			continue
		}
		weight *= (frac - float64(k)) / float64(j-k)
	}
	return weight
}
