package uratap

import "unsafe"

func makeSlice(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func readCode(addr uintptr, size int) []byte {
	return append([]byte(nil), makeSlice(addr, size)...)
}
