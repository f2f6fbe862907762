//go:build !(linux || darwin || freebsd)

package metrics

import "errors"

func statfs(string) (uint64, uint64, error) {
	return 0, 0, errors.New("disk stats not supported on this platform")
}
