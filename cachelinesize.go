package nbmap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is used in structure padding to prevent false sharing.
// It's taken from golang.org/x/sys/cpu for the target architecture.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
