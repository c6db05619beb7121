// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are
// located in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"
)

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. The returned release undoes the thread lock; it is safe to call even
// when pinning failed.
func Pin(cpuID int) (release func(), err error) {
	runtime.LockOSThread()
	release = runtime.UnlockOSThread
	if cpuID < 0 || cpuID >= runtime.NumCPU() {
		return release, fmt.Errorf("affinity: cpu %d out of range [0,%d)", cpuID, runtime.NumCPU())
	}
	return release, setAffinityPlatform(cpuID)
}
