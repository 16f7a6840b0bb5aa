//go:build cgo

package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// All exported functions use C calling convention and can be called from Dart FFI.
// Strings returned to the host must be released with FreeString. A NULL
// result or a zero int means failure; GetLastError then holds
// {"code":...,"message":...}.

func cString(s string) *C.char {
	if s == "" {
		return nil
	}
	return C.CString(s)
}

//export Init
func Init(configPath, dataDir *C.char) C.int {
	if core.open(C.GoString(configPath), C.GoString(dataDir)) {
		return 1
	}
	return 0
}

//export Enqueue
func Enqueue(operation, entityType, payload, tenantID *C.char) *C.char {
	return cString(core.enqueue(C.GoString(operation), C.GoString(entityType), C.GoString(payload), C.GoString(tenantID)))
}

//export Status
func Status() *C.char {
	return cString(core.status())
}

//export SetNetworkState
func SetNetworkState(online C.int) C.int {
	if core.setNetworkState(online != 0) {
		return 1
	}
	return 0
}

//export ForceSync
func ForceSync() *C.char {
	return cString(core.forceSync())
}

//export ClearFailed
func ClearFailed() *C.char {
	return cString(core.clearFailed())
}

//export Shutdown
func Shutdown() {
	core.shutdown()
}

//export GetLastError
func GetLastError() *C.char {
	return C.CString(core.lastError())
}

//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}
