package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Resampler converts a mono stream between sample rates using linear
// interpolation. It keeps state across calls so chunk boundaries are seamless.
type Resampler struct {
	inRate  int
	outRate int
	step    float64
	// pos is the position of the next output sample in input-sample units,
	// relative to the start of the next chunk. -1 refers to prev.
	pos  float64
	prev float32
}

// NewResampler creates a resampler from inRate to outRate
func NewResampler(inRate, outRate int) *Resampler {
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		step:    float64(inRate) / float64(outRate),
	}
}

// Process resamples one chunk and returns the output samples.
func (r *Resampler) Process(in []float32) []float32 {
	if r.inRate == r.outRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 {
		return nil
	}

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= len(in) {
			break
		}
		a := r.prev
		if i >= 0 {
			a = in[i]
		}
		b := in[i+1]
		frac := float32(r.pos - float64(i))
		out = append(out, a+(b-a)*frac)
		r.pos += r.step
	}

	r.prev = in[len(in)-1]
	r.pos -= float64(len(in))
	return out
}

// MixToMono averages interleaved channels into a single channel.
func MixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	n := len(interleaved) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// DecodeF32LE converts little-endian 32-bit float PCM bytes to samples.
func DecodeF32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// DecodeS16LE converts little-endian 16-bit signed PCM bytes to samples in [-1, 1).
func DecodeS16LE(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
	}
	return out
}

// Framer turns raw device callbacks into fixed-size mono frames at
// TargetSampleRate and pushes them into a FrameQueue. It is owned by the
// audio callback goroutine and is not safe for concurrent use.
type Framer struct {
	channels     int
	frameSamples int
	resampler    *Resampler
	pending      []float32
	queue        *FrameQueue
	now          func() time.Time
}

// NewFramer creates a framer for a device delivering deviceRate Hz with the
// given channel count.
func NewFramer(deviceRate, channels, frameSamples int, queue *FrameQueue) *Framer {
	if channels < 1 {
		channels = 1
	}
	return &Framer{
		channels:     channels,
		frameSamples: frameSamples,
		resampler:    NewResampler(deviceRate, TargetSampleRate),
		pending:      make([]float32, 0, frameSamples*2),
		queue:        queue,
		now:          time.Now,
	}
}

// Write accepts interleaved samples at the device rate.
func (f *Framer) Write(interleaved []float32) {
	mono := MixToMono(interleaved, f.channels)
	f.pending = append(f.pending, f.resampler.Process(mono)...)

	for len(f.pending) >= f.frameSamples {
		samples := make([]float32, f.frameSamples)
		copy(samples, f.pending[:f.frameSamples])
		f.queue.Push(Frame{
			Samples:    samples,
			SampleRate: TargetSampleRate,
			Timestamp:  f.now(),
		})
		f.pending = append(f.pending[:0], f.pending[f.frameSamples:]...)
	}
}
