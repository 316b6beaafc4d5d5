//go:build !linux && !darwin && !freebsd && !windows

package diskspace

import "errors"

func availableBytes(dir string) (int64, error) {
	return 0, errors.New("free space not available on this platform")
}
