//go:build !(darwin || freebsd || linux || netbsd || windows)

package ucan

import (
	"fmt"
	"runtime"
)

type library struct{ api }

func loadLibrary(string) (*library, error) {
	return nil, fmt.Errorf("ucan: run time binding not available on %s", runtime.GOOS)
}
