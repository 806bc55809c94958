//go:build !linux

package health

import "errors"

// freeBytes is unsupported off Linux; the board this daemon targets is
// always Linux, so this only exists to keep the package buildable for
// dev tooling on other hosts.
func freeBytes(dir string) (int64, error) {
	return 0, errors.New("health: disk space check unsupported on this platform")
}
