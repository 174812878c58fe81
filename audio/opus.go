package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var opusTagsSignature = []byte("OpusTags")

const (
	pageHeaderLen   = 27
	pageContinued   = 0x01
	lacingTerminate = 255
)

// OggOpusDecoder decodes an Ogg/Opus stream, as delivered in chunks by a
// browser MediaRecorder or `ffmpeg -f ogg -c:a libopus`, into mono samples.
//
// Only the first chunk of a segment carries the identification page, so the
// decoder remembers it and re-parses it in front of every later drain.
type OggOpusDecoder struct {
	sampleRate int

	dec     *opuscodec.Decoder
	idPage  []byte
	pending []byte
	partial []byte // packet continued on the next page
	pcm     []float32
}

// NewOggOpusDecoder creates a decoder producing samples at sampleRate, which
// must be a rate libopus can decode to.
func NewOggOpusDecoder(sampleRate int) (*OggOpusDecoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus cannot decode at %d Hz", sampleRate)
	}
	return &OggOpusDecoder{
		sampleRate: sampleRate,
		pcm:        make([]float32, sampleRate*120/1000), // longest Opus packet
	}, nil
}

// Decode parses every complete page in the accumulated bytes and decodes the
// audio packets. A trailing partial page is kept for the next call.
func (d *OggOpusDecoder) Decode(data []byte) ([]float32, error) {
	d.pending = append(d.pending, data...)

	if d.idPage == nil {
		cr := &countingReader{r: bytes.NewReader(d.pending)}
		if _, _, err := oggreader.NewWith(cr); err != nil {
			if incomplete(err) {
				return nil, nil
			}
			d.pending = nil
			return nil, fmt.Errorf("%w: read ogg header: %v", ErrDecode, err)
		}
		d.idPage = append([]byte(nil), d.pending[:cr.n]...)
		d.pending = d.pending[cr.n:]

		dec, err := opuscodec.NewDecoder(d.sampleRate, 1)
		if err != nil {
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		d.dec = dec
	}

	cr := &countingReader{r: io.MultiReader(bytes.NewReader(d.idPage), bytes.NewReader(d.pending))}
	reader, _, err := oggreader.NewWith(cr)
	if err != nil {
		return nil, fmt.Errorf("%w: reread ogg header: %v", ErrDecode, err)
	}
	base := cr.n

	var (
		out      []float32
		consumed int
	)
	for {
		if _, _, err := reader.ParseNextPage(); err != nil {
			if incomplete(err) {
				break
			}
			d.pending = nil
			d.partial = nil
			return out, fmt.Errorf("%w: parse ogg page: %v", ErrDecode, err)
		}
		page := d.pending[consumed : cr.n-base]
		consumed = cr.n - base

		for _, packet := range d.packets(page) {
			if len(packet) == 0 || bytes.HasPrefix(packet, opusTagsSignature) {
				continue
			}
			n, err := d.dec.DecodeFloat32(packet, d.pcm)
			if err != nil {
				d.pending = append([]byte(nil), d.pending[consumed:]...)
				d.partial = nil
				return out, fmt.Errorf("%w: decode opus packet: %v", ErrDecode, err)
			}
			out = append(out, d.pcm[:n]...)
		}
	}

	d.pending = append([]byte(nil), d.pending[consumed:]...)
	return out, nil
}

// packets splits a complete page into packets along its lacing values. A
// lacing value of 255 continues the packet, also across the page boundary,
// so an unterminated last packet is carried in d.partial.
func (d *OggOpusDecoder) packets(page []byte) [][]byte {
	segments := int(page[pageHeaderLen-1])
	lacing := page[pageHeaderLen : pageHeaderLen+segments]
	body := page[pageHeaderLen+segments:]

	// The first bytes continue a packet whose start was never seen.
	orphan := page[5]&pageContinued != 0 && d.partial == nil
	if page[5]&pageContinued == 0 {
		d.partial = nil
	}

	var out [][]byte
	for _, l := range lacing {
		seg := body[:l]
		body = body[l:]
		if !orphan {
			d.partial = append(d.partial, seg...)
		}
		if l < lacingTerminate {
			if !orphan {
				out = append(out, d.partial)
			}
			d.partial = nil
			orphan = false
		}
	}
	return out
}

// Reset forgets the stream header and decoder state.
func (d *OggOpusDecoder) Reset() {
	d.dec = nil
	d.idPage = nil
	d.pending = nil
	d.partial = nil
}

func incomplete(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// countingReader records how many bytes have been read through it.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
