package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// =====================================================
// Memory Management Helpers
// =====================================================

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func main() {
	// Required for c-shared build mode; not executed when loaded as a library
}
