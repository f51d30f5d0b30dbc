//go:build !linux && !darwin && !freebsd

package diskguard

import "errors"

func statfs(string) (Usage, error) {
	return Usage{}, errors.New("disk usage is not supported on this platform")
}
