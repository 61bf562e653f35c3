//go:build linux || darwin || freebsd || netbsd || openbsd

package updater

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// HostPlatform reads the kernel name and machine from uname(2).
func HostPlatform() (Platform, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return Platform{}, fmt.Errorf("uname: %w", err)
	}
	return Platform{
		OS:      strings.ToLower(unix.ByteSliceToString(u.Sysname[:])),
		Machine: strings.ToLower(unix.ByteSliceToString(u.Machine[:])),
	}, nil
}

func isExecutable(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}
