package audio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is returned when capture bytes cannot be decoded into samples.
var ErrDecode = errors.New("audio: decode failed")

// Decoder turns the byte stream of one recording segment into mono float32
// samples at a fixed rate. Decoders are streaming: bytes that do not yet form
// a complete unit are kept until the next call. Reset starts a new segment.
type Decoder interface {
	Decode(data []byte) ([]float32, error)
	Reset()
}

// Format names a capture byte format.
type Format string

const (
	FormatPCM16   Format = "pcm16"
	FormatOggOpus Format = "ogg-opus"
)

// NewDecoder creates a decoder for the given capture format.
// sourceRate and channels only apply to raw PCM.
func NewDecoder(format Format, targetRate, sourceRate, channels int) (Decoder, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatPCM16, "":
		return NewPCM16Decoder(sourceRate, channels, targetRate), nil
	case FormatOggOpus:
		return NewOggOpusDecoder(targetRate)
	default:
		return nil, fmt.Errorf("unknown audio format: %s", format)
	}
}

// PCM16Decoder decodes signed 16-bit little-endian PCM, downmixes to mono and
// linearly resamples to the target rate.
type PCM16Decoder struct {
	sourceRate int
	channels   int
	targetRate int

	carry []byte  // incomplete trailing frame
	pos   float64 // next output position relative to the current block
	prev  float32 // last sample of the previous block
}

// NewPCM16Decoder creates a PCM decoder. Zero values default to mono at the
// target rate.
func NewPCM16Decoder(sourceRate, channels, targetRate int) *PCM16Decoder {
	if targetRate <= 0 {
		targetRate = 16000
	}
	if sourceRate <= 0 {
		sourceRate = targetRate
	}
	if channels <= 0 {
		channels = 1
	}
	return &PCM16Decoder{
		sourceRate: sourceRate,
		channels:   channels,
		targetRate: targetRate,
	}
}

// Decode converts the bytes to samples at the target rate.
func (d *PCM16Decoder) Decode(data []byte) ([]float32, error) {
	if len(d.carry) > 0 {
		data = append(d.carry, data...)
		d.carry = nil
	}

	frameSize := 2 * d.channels
	frames := len(data) / frameSize
	if rem := len(data) - frames*frameSize; rem > 0 {
		d.carry = append([]byte(nil), data[frames*frameSize:]...)
	}
	if frames == 0 {
		return nil, nil
	}

	mono := make([]float32, frames)
	for i := range mono {
		var sum float32
		for ch := 0; ch < d.channels; ch++ {
			off := i*frameSize + ch*2
			v := int16(uint16(data[off]) | uint16(data[off+1])<<8)
			sum += float32(v) / 32768
		}
		mono[i] = sum / float32(d.channels)
	}

	if d.sourceRate == d.targetRate {
		return mono, nil
	}
	return d.resample(mono), nil
}

func (d *PCM16Decoder) resample(in []float32) []float32 {
	step := float64(d.sourceRate) / float64(d.targetRate)
	n := len(in)
	out := make([]float32, 0, int(float64(n)/step)+1)

	t := d.pos
	for t < float64(n-1) {
		i := int(t)
		if t < 0 {
			i = -1
		}
		a := d.prev
		if i >= 0 {
			a = in[i]
		}
		b := in[i+1]
		frac := float32(t - float64(i))
		out = append(out, a+(b-a)*frac)
		t += step
	}

	d.pos = t - float64(n)
	d.prev = in[n-1]
	return out
}

// Reset drops carried bytes and resampler state.
func (d *PCM16Decoder) Reset() {
	d.carry = nil
	d.pos = 0
	d.prev = 0
}
