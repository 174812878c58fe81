package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ReaderDevice captures from an io.Reader such as stdin or a file. The reader
// is consumed by a single goroutine for the life of the device; bytes read
// while stopped are discarded.
type ReaderDevice struct {
	stream

	r       io.Reader
	readMu  sync.Mutex
	reading bool
}

// NewReaderDevice creates a device reading from r.
func NewReaderDevice(r io.Reader) *ReaderDevice {
	return &ReaderDevice{
		stream: newStream(),
		r:      r,
	}
}

// Start begins capturing.
func (d *ReaderDevice) Start() error {
	if err := d.begin(); err != nil {
		return err
	}

	d.readMu.Lock()
	defer d.readMu.Unlock()
	if !d.reading {
		d.reading = true
		go d.read()
	}
	return nil
}

// Stop ends capture. It is safe to call on a stopped device.
func (d *ReaderDevice) Stop() error {
	d.end(nil, false)
	return nil
}

func (d *ReaderDevice) read() {
	buf := make([]byte, 4096)
	for {
		n, err := d.r.Read(buf)
		if n > 0 {
			d.write(buf[:n])
		}
		if err == nil {
			continue
		}

		d.readMu.Lock()
		d.reading = false
		d.readMu.Unlock()

		if errors.Is(err, io.EOF) {
			d.end(nil, true)
		} else {
			d.end(fmt.Errorf("read capture input: %w", err), true)
		}
		return
	}
}
