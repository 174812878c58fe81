// Package audio provides capture chunk buffering, sample windows and decoders.
package audio

import (
	"math"
	"sync"
	"time"
)

// Chunk is an opaque segment of capture bytes. Immutable once appended.
type Chunk []byte

// ChunkBuffer accumulates the chunks of the current recording segment.
// One producer appends, one consumer drains.
type ChunkBuffer struct {
	mu     sync.Mutex
	chunks []Chunk
	size   int
}

// NewChunkBuffer creates an empty chunk buffer.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// Append adds a chunk to the end of the sequence. Empty chunks are ignored:
// a zero-length delivery means "not ready", not "ready with no data".
func (b *ChunkBuffer) Append(c Chunk) {
	if len(c) == 0 {
		return
	}
	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.mu.Unlock()
}

// Drain returns every buffered chunk in append order and leaves the buffer empty.
func (b *ChunkBuffer) Drain() []Chunk {
	b.mu.Lock()
	out := b.chunks
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
	return out
}

// IsEmpty reports whether no chunk is buffered.
func (b *ChunkBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) == 0
}

// Len returns the number of buffered chunks.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the number of buffered bytes.
func (b *ChunkBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Reset discards all buffered chunks. Called when a new segment starts.
func (b *ChunkBuffer) Reset() {
	b.Drain()
}

// Concat joins drained chunks into one byte slice, preserving order.
func Concat(chunks []Chunk) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Window holds the trailing samples of a segment at a fixed sample rate.
// Its length never exceeds MaxSamples.
type Window struct {
	samples    []float32
	sampleRate int
	maxSamples int
}

// NewWindow creates a window bounded to maxSeconds of audio.
func NewWindow(sampleRate, maxSeconds int) *Window {
	max := sampleRate * maxSeconds
	return &Window{
		samples:    make([]float32, 0, max),
		sampleRate: sampleRate,
		maxSamples: max,
	}
}

// Push appends decoded samples and drops the oldest ones beyond MaxSamples.
func (w *Window) Push(samples []float32) {
	if len(samples) >= w.maxSamples {
		w.samples = append(w.samples[:0], samples[len(samples)-w.maxSamples:]...)
		return
	}
	if over := len(w.samples) + len(samples) - w.maxSamples; over > 0 {
		n := copy(w.samples, w.samples[over:])
		w.samples = w.samples[:n]
	}
	w.samples = append(w.samples, samples...)
}

// Samples returns a copy of the window contents.
func (w *Window) Samples() []float32 {
	out := make([]float32, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len returns the number of samples held.
func (w *Window) Len() int { return len(w.samples) }

// MaxSamples returns the window bound (sample rate × max seconds).
func (w *Window) MaxSamples() int { return w.maxSamples }

// SampleRate returns the window sample rate.
func (w *Window) SampleRate() int { return w.sampleRate }

// Duration returns the duration of the held audio.
func (w *Window) Duration() time.Duration {
	if w.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(w.samples)) * time.Second / time.Duration(w.sampleRate)
}

// RMS returns the root mean square level of the window.
func (w *Window) RMS() float32 {
	return RMS(w.samples)
}

// Reset empties the window for a new segment.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}

// Trim keeps the min(len(samples), max) most recent samples.
func Trim(samples []float32, max int) []float32 {
	if max <= 0 {
		return samples[:0]
	}
	if len(samples) <= max {
		return samples
	}
	return samples[len(samples)-max:]
}

// RMS calculates the root mean square of audio samples.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
