//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

import "errors"

func setAffinityPlatform(int) error {
	return errors.New("affinity: not supported on this platform")
}
