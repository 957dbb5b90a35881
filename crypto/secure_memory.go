package crypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes overwrites secret material in place. Nil and empty slices are
// left alone.
func ZeroBytes(secret []byte) {
	clear(secret)
	runtime.KeepAlive(secret)
}

// ConstantTimeEqual compares two tokens without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
