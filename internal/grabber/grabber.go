// Package grabber implements the Frame Grabber of spec.md §4.1: pulling a
// single JPEG from an RTSP URL via an external ffmpeg-family tool, bounded
// by a timeout, grounded in original_source/rtsp_capture.py's subprocess
// invocation.
package grabber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Typed errors per spec.md §4.1.
var (
	ErrUnreachable  = errors.New("grabber: camera unreachable")
	ErrTimeout      = errors.New("grabber: timed out")
	ErrDecodeFailed = errors.New("grabber: no frame decoded")
	ErrToolMissing  = errors.New("grabber: ffmpeg not found")
)

var jpegMagic = []byte{0xFF, 0xD8}

// Grabber constructs ffmpeg argument vectors and supervises the subprocess.
type Grabber struct {
	binary string
}

// New locates the ffmpeg binary once; construction fails with ErrToolMissing
// if it is absent so callers can surface a ConfigError at startup.
func New() (*Grabber, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrToolMissing
	}
	return &Grabber{binary: path}, nil
}

// Grab pulls one frame from rtspURL into outPath within timeout, using TCP
// transport and the given JPEG quality hint (ffmpeg -q:v scale, 2-31, lower
// is better; default 2 for the highest usable quality).
func (g *Grabber) Grab(ctx context.Context, rtspURL, outPath string, timeout time.Duration, quality int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("grabber: create output directory: %w", err)
	}
	if quality <= 0 {
		quality = 2
	}

	tmpPath := outPath + ".tmp"
	defer os.Remove(tmpPath)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binary,
		"-rtsp_transport", "tcp",
		"-y",
		"-timeout", "5000000",
		"-i", rtspURL,
		"-frames:v", "1",
		"-q:v", fmt.Sprintf("%d", quality),
		tmpPath,
	)
	setNewProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s", ErrTimeout, firstLine(stderr.String()))
	}
	if runErr != nil {
		return classifyFailure(runErr, stderr.String())
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: empty output", ErrDecodeFailed)
	}

	head := make([]byte, 2)
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("grabber: reopen output: %w", err)
	}
	_, readErr := f.Read(head)
	f.Close()
	if readErr != nil || !bytes.Equal(head, jpegMagic) {
		return fmt.Errorf("%w: not a valid JPEG", ErrDecodeFailed)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("grabber: move into place: %w", err)
	}
	return nil
}

func classifyFailure(err error, stderr string) error {
	lower := stderr
	switch {
	case contains(lower, "Connection refused", "No route to host", "Name or service not known", "could not connect"):
		return fmt.Errorf("%w: %s", ErrUnreachable, firstLine(stderr))
	case contains(lower, "Invalid data found", "could not find codec parameters"):
		return fmt.Errorf("%w: %s", ErrDecodeFailed, firstLine(stderr))
	default:
		return fmt.Errorf("grabber: ffmpeg exit: %w (%s)", err, firstLine(stderr))
	}
}

func contains(s string, subs ...string) bool {
	for _, sub := range subs {
		if bytesContainsFold(s, sub) {
			return true
		}
	}
	return false
}

func bytesContainsFold(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexFold(s, sub) >= 0)
}

func indexFold(s, sub string) int {
	return bytes.Index(bytes.ToLower([]byte(s)), bytes.ToLower([]byte(sub)))
}

func firstLine(s string) string {
	if i := bytes.IndexByte([]byte(s), '\n'); i >= 0 {
		return s[:i]
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

func setNewProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
