//go:build windows

package ucan

import (
	"syscall"
	"unsafe"
)

func defaultLibrary() string {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return "usbcan64.dll"
	}
	return "usbcan32.dll"
}

func openLibrary(path string) (uintptr, error) {
	h, err := syscall.LoadLibrary(path)
	return uintptr(h), err
}

func lookupSymbol(h uintptr, name string) (uintptr, error) {
	return syscall.GetProcAddress(syscall.Handle(h), name)
}
