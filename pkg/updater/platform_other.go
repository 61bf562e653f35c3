//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package updater

import (
	"os"
	"runtime"
)

var goarchMachines = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"arm":     "armv7l",
	"riscv64": "riscv64",
}

// HostPlatform falls back to the compile-time target where uname is unavailable.
func HostPlatform() (Platform, error) {
	machine, ok := goarchMachines[runtime.GOARCH]
	if !ok {
		machine = runtime.GOARCH
	}
	return Platform{OS: runtime.GOOS, Machine: machine}, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return runtime.GOOS == "windows" || info.Mode()&0o111 != 0
}
