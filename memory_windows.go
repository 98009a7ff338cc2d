package uratap

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	allocGranularity = 0x10000
	// stay clear of the rel32 limit so the relay jump always fits
	maxNearDistance = 0x7ff00000
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

type systemMemory struct{}

func (systemMemory) allocNear(addr uintptr, size int) (uintptr, error) {
	if p := searchFree(addr, size, -1); p != 0 {
		return p, nil
	}
	if p := searchFree(addr, size, 1); p != 0 {
		return p, nil
	}
	p, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, errors.Wrap(err, "VirtualAlloc failed")
	}
	return p, nil
}

// searchFree walks free regions away from addr in the given direction and
// allocates the first one that is reachable with a rel32 jump.
func searchFree(addr uintptr, size int, dir int) uintptr {
	lo := uintptr(allocGranularity)
	if addr > maxNearDistance {
		lo = addr - maxNearDistance
	}
	hi := addr + maxNearDistance
	p := addr &^ (allocGranularity - 1)
	for p >= lo && p <= hi {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return 0
		}
		if mbi.State == windows.MEM_FREE {
			a, err := windows.VirtualAlloc(p, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
			if err == nil {
				return a
			}
		}
		if dir < 0 {
			if mbi.AllocationBase < allocGranularity {
				return 0
			}
			p = (mbi.AllocationBase - 1) &^ (allocGranularity - 1)
		} else {
			p = (mbi.BaseAddress + mbi.RegionSize + allocGranularity - 1) &^ (allocGranularity - 1)
		}
	}
	return 0
}

func (systemMemory) free(addr uintptr, _ int) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func (systemMemory) read(addr uintptr, size int) []byte {
	return readCode(addr, size)
}

func (systemMemory) write(addr uintptr, b []byte) error {
	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(len(b)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return errors.Wrapf(err, "VirtualProtect failed at %#x", addr)
	}
	copy(makeSlice(addr, len(b)), b)
	if err := windows.VirtualProtect(addr, uintptr(len(b)), old, &old); err != nil {
		return errors.Wrapf(err, "VirtualProtect restore failed at %#x", addr)
	}
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(len(b)))
	return nil
}
