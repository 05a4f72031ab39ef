// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral entry point for CPU affinity. Platform bindings live in
// the build-tagged siblings of this file.

package affinity

// SetAffinity pins the calling OS thread to a single logical CPU. Callers
// must hold the thread (runtime.LockOSThread) for the pin to mean anything.
// Returns an error on platforms without an affinity binding.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
