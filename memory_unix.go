//go:build !windows

package uratap

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize uintptr

var (
	mappings  = make(map[uintptr][]byte)
	mappingMu sync.Mutex
)

// systemMemory on unix backs development builds. Slots come from anonymous
// mappings, which are rarely within rel32 reach, so hooks use absolute jumps.
type systemMemory struct{}

func (systemMemory) allocNear(_ uintptr, size int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	mappingMu.Lock()
	mappings[p] = b
	mappingMu.Unlock()
	return p, nil
}

func (systemMemory) free(addr uintptr, _ int) error {
	mappingMu.Lock()
	b, ok := mappings[addr]
	delete(mappings, addr)
	mappingMu.Unlock()
	if !ok {
		return nil
	}
	return unix.Munmap(b)
}

func (systemMemory) read(addr uintptr, size int) []byte {
	return readCode(addr, size)
}

func (systemMemory) write(addr uintptr, b []byte) error {
	mappingMu.Lock()
	_, owned := mappings[addr]
	mappingMu.Unlock()
	if owned {
		copy(makeSlice(addr, len(b)), b)
		return nil
	}
	if err := protectPages(addr, uintptr(len(b))); err != nil {
		return err
	}
	copy(makeSlice(addr, len(b)), b)
	return reProtectPages(addr, uintptr(len(b)))
}

func reProtectPages(addr, size uintptr) error {
	return mprotectRange(addr, size, unix.PROT_EXEC|unix.PROT_READ)
}

func protectPages(addr, size uintptr) error {
	return mprotectRange(addr, size, unix.PROT_EXEC|unix.PROT_READ|unix.PROT_WRITE)
}

func mprotectRange(addr, size uintptr, prot int) error {
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	for i := uintptr(0); i < length; i += pageSize {
		data := makeSlice(start+i, int(pageSize))
		if err := unix.Mprotect(data, prot); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	pageSize = uintptr(unix.Getpagesize())
}
