package utils

import (
	"sync"
	"unsafe"
)

var internCache sync.Map

// Intern returns a shared string for buf, so hot-path keys (route cache
// keys, middleware masks) don't allocate on every request.
func Intern(buf []byte) string {
	if v, ok := internCache.Load(string(buf)); ok {
		return v.(string)
	}

	s := string(buf)
	internCache.Store(s, s)
	return s
}

// BytesToString reinterprets b as a string without copying. The caller
// must not mutate b afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}
