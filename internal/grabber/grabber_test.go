package grabber

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeFFmpeg writes a minimal script acting as ffmpeg: it writes the given
// exitCode/stderr, and if writeJPEG is true, a valid JPEG-magic file to its
// last argument (the output path).
func fakeFFmpeg(t *testing.T, writeJPEG bool, sleep time.Duration, stderr string, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")

	body := "#!/bin/bash\n"
	if sleep > 0 {
		body += "sleep " + sleep.String() + "\n"
	}
	if stderr != "" {
		body += "echo '" + stderr + "' >&2\n"
	}
	if writeJPEG {
		body += "out=\"${@: -1}\"\n"
		body += "printf '\\xFF\\xD8rest' > \"$out\"\n"
	}
	body += "exit " + itoa(exitCode) + "\n"

	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return dir
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func withFakePath(t *testing.T, dir string) {
	t.Helper()
	old := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+old)
	t.Cleanup(func() { os.Setenv("PATH", old) })
}

func TestGrabSuccess(t *testing.T) {
	dir := fakeFFmpeg(t, true, 0, "", 0)
	withFakePath(t, dir)

	g, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := filepath.Join(t.TempDir(), "frame.jpg")
	if err := g.Grab(context.Background(), "rtsp://example/stream", out, 2*time.Second, 2); err != nil {
		t.Fatalf("Grab: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("expected JPEG magic bytes in output")
	}
}

func TestGrabUnreachable(t *testing.T) {
	dir := fakeFFmpeg(t, false, 0, "Connection refused", 1)
	withFakePath(t, dir)

	g, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := filepath.Join(t.TempDir(), "frame.jpg")
	err = g.Grab(context.Background(), "rtsp://example/stream", out, 2*time.Second, 2)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestClassifyFailureUnreachable(t *testing.T) {
	err := classifyFailure(os.ErrClosed, "Connection refused by peer")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("abc\ndef"); got != "abc" {
		t.Fatalf("expected 'abc', got %q", got)
	}
}
