package crypto

import "runtime"

// Wipe zeroes the provided buffer. Best-effort; keeps b live so the writes
// are not elided.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
