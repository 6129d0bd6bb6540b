//go:build (darwin || linux) && !noav1 && !cgo

package av1enc

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

// maxBridgeString bounds reads of NUL-terminated strings returned by the
// bridge. Error and version strings from libaom are far shorter.
const maxBridgeString = 1024

// goStringFromPtr copies a NUL-terminated C string owned by the bridge.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	base := unsafe.Pointer(ptr)
	n := 0
	for n < maxBridgeString && *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(base), n))
}

// findSourceRoot returns the directory of this file, which is the module
// root in a checkout (tests, go run).
func findSourceRoot() string {
	if _, file, _, ok := runtime.Caller(0); ok {
		return filepath.Dir(file)
	}
	return ""
}

// findModuleRoot returns the nearest directory at or above the working
// directory that holds a go.mod.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for ; ; dir = filepath.Dir(dir) {
		if fi, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !fi.IsDir() {
			return dir
		}
		if filepath.Dir(dir) == dir {
			return ""
		}
	}
}
