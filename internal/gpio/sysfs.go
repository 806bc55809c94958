package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SysfsLine drives one line through the Linux sysfs GPIO character
// interface (/sys/class/gpio), configured with a pull-up and watched for
// falling edges by re-reading the value file on a ticker. The pack
// carries no GPIO driver dependency (periph.io, go-rpio, etc. appear in
// none of the example repos), so this is built on the standard library and
// the kernel's own sysfs contract rather than a fabricated binding — see
// DESIGN.md.
type SysfsLine struct {
	pin      int
	basePath string
	valueFile *os.File
}

const gpioBase = "/sys/class/gpio"

// OpenSysfsLine exports pin, configures it as an input with a pull-up (the
// sysfs interface has no pull-up knob; the caller is expected to have
// configured board-level pull-ups, e.g. via /boot/config.txt on a
// Raspberry Pi — consistent with the original gpio_service.py, which relied
// on RPi.GPIO's PUD_UP at setup time) and arms falling-edge detection.
func OpenSysfsLine(pin int) (*SysfsLine, error) {
	exportPath := filepath.Join(gpioBase, "export")
	pinDir := filepath.Join(gpioBase, fmt.Sprintf("gpio%d", pin))

	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if werr := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0o200); werr != nil {
			return nil, fmt.Errorf("gpio: export pin %d: %w", pin, werr)
		}
	}

	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("in"), 0o200); err != nil {
		return nil, fmt.Errorf("gpio: set direction on pin %d: %w", pin, err)
	}
	if err := os.WriteFile(filepath.Join(pinDir, "edge"), []byte("falling"), 0o200); err != nil {
		return nil, fmt.Errorf("gpio: set edge on pin %d: %w", pin, err)
	}

	f, err := os.OpenFile(filepath.Join(pinDir, "value"), os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gpio: open value file for pin %d: %w", pin, err)
	}

	return &SysfsLine{pin: pin, basePath: pinDir, valueFile: f}, nil
}

// Read reports the current logical level.
func (l *SysfsLine) Read() (bool, error) {
	buf := make([]byte, 1)
	if _, err := l.valueFile.ReadAt(buf, 0); err != nil {
		return false, fmt.Errorf("gpio: read pin %d: %w", l.pin, err)
	}
	return buf[0] == '1', nil
}

// WatchFalling polls the value file for edge changes at a cadence derived
// from debounce; a software re-read below the debounce window is ignored,
// matching the hardware-debounce stage of spec.md §4.3 for boards where the
// kernel driver doesn't coalesce bounces itself.
func (l *SysfsLine) WatchFalling(debounce time.Duration, fn func()) (func(), error) {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(debounce / 3)
		defer ticker.Stop()
		last := true
		var lastFall time.Time
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				level, err := l.Read()
				if err != nil {
					continue
				}
				if last && !level {
					now := time.Now()
					if now.Sub(lastFall) >= debounce {
						lastFall = now
						fn()
					}
				}
				last = level
			}
		}
	}()
	stop := func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	return stop, nil
}

// Close un-exports the line.
func (l *SysfsLine) Close() error {
	if l.valueFile != nil {
		l.valueFile.Close()
	}
	unexportPath := filepath.Join(gpioBase, "unexport")
	return os.WriteFile(unexportPath, []byte(strconv.Itoa(l.pin)), 0o200)
}
