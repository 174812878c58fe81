package capture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultStartupGrace is how long a capture command must stay alive before
// the device counts as started.
const DefaultStartupGrace = 200 * time.Millisecond

// ProcessDevice captures the stdout of an external command, for example
//
//	ffmpeg -loglevel error -f pulse -i default -ac 1 -ar 16000 -f s16le -
//
// Every Start runs a fresh process, so every segment starts with the stream
// header of the command's output format.
type ProcessDevice struct {
	stream

	command []string
	grace   time.Duration
	logger  *slog.Logger

	procMu   sync.Mutex
	cmd      *exec.Cmd
	stopping bool
}

// NewProcessDevice creates a device running command. A zero grace uses
// DefaultStartupGrace.
func NewProcessDevice(command []string, grace time.Duration, logger *slog.Logger) *ProcessDevice {
	if grace <= 0 {
		grace = DefaultStartupGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDevice{
		stream:  newStream(),
		command: command,
		grace:   grace,
		logger:  logger.With("component", "capture"),
	}
}

// Start launches the capture command. It fails with ErrPermissionDenied when
// the command reports that the microphone is not accessible.
func (d *ProcessDevice) Start() error {
	if len(d.command) == 0 {
		return fmt.Errorf("%w: no capture command configured", ErrUnsupported)
	}
	if d.isRunning() {
		return ErrRunning
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	stderr := &tailBuffer{max: 4096}
	cmd := exec.Command(d.command[0], d.command[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("start capture command: %w", err)
	}
	pw.Close()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		pr.Close()
		return classifyExit(err, stderr.String(), "capture command exited during startup")
	case <-time.After(d.grace):
	}

	d.procMu.Lock()
	d.cmd = cmd
	d.stopping = false
	d.procMu.Unlock()

	if err := d.begin(); err != nil {
		cmd.Process.Kill()
		pr.Close()
		return err
	}
	d.logger.Debug("capture started", "command", d.command[0], "pid", cmd.Process.Pid)

	go d.read(pr, exited, stderr)
	return nil
}

// Stop terminates the capture command. The StopEvent follows once the
// process has exited.
func (d *ProcessDevice) Stop() error {
	d.procMu.Lock()
	defer d.procMu.Unlock()

	if d.cmd == nil || d.stopping {
		return nil
	}
	d.stopping = true
	if err := d.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop capture command: %w", err)
	}
	return nil
}

func (d *ProcessDevice) read(r io.ReadCloser, exited <-chan error, stderr *tailBuffer) {
	defer r.Close()

	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.write(buf[:n])
		}
		if err != nil {
			break
		}
	}

	waitErr := <-exited

	d.procMu.Lock()
	requested := d.stopping
	d.cmd = nil
	d.procMu.Unlock()

	if requested {
		d.end(nil, false)
		return
	}

	var stopErr error
	if waitErr != nil {
		stopErr = classifyExit(waitErr, stderr.String(), "capture command failed")
	}
	d.logger.Debug("capture command exited", "error", stopErr)
	d.end(stopErr, true)
}

var permissionMarkers = []string{
	"permission denied",
	"not permitted",
	"access denied",
	"not authorized",
}

func classifyExit(err error, stderr, msg string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)
	for _, m := range permissionMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
		}
	}
	if detail != "" {
		return fmt.Errorf("%s: %v: %s", msg, err, detail)
	}
	if err == nil {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
