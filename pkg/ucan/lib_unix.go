//go:build darwin || freebsd || linux || netbsd

package ucan

import "github.com/ebitengine/purego"

func defaultLibrary() string { return "libusbcan.so" }

func openLibrary(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func lookupSymbol(h uintptr, name string) (uintptr, error) {
	return purego.Dlsym(h, name)
}
