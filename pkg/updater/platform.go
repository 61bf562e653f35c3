package updater

import (
	"strings"

	"github.com/relaynode/relaynode/pkg/errors"
)

// Platform identifies the host the engine binary has to run on.
type Platform struct {
	// OS is the lower-cased kernel name ("linux").
	OS string
	// Machine is the lower-cased hardware name as uname reports it.
	Machine string
}

var linuxArtifacts = map[string]string{
	"x86_64":  "Xray-linux-64.zip",
	"amd64":   "Xray-linux-64.zip",
	"aarch64": "Xray-linux-arm64-v8a.zip",
	"arm64":   "Xray-linux-arm64-v8a.zip",
	"armv7l":  "Xray-linux-arm32-v7a.zip",
	"armv7":   "Xray-linux-arm32-v7a.zip",
	"armv6l":  "Xray-linux-arm32-v6.zip",
	"riscv64": "Xray-linux-riscv64.zip",
}

// AssetName maps p to the release artifact name.
func AssetName(p Platform) (string, error) {
	if strings.HasPrefix(strings.ToLower(p.OS), "linux") {
		if name, ok := linuxArtifacts[strings.ToLower(p.Machine)]; ok {
			return name, nil
		}
	}
	return "", errors.NewUnsupportedPlatformError()
}

// executableCandidates lists the archive entries probed for the engine binary,
// in order.
func executableCandidates(goos string) []string {
	if goos == "windows" {
		return []string{"xray.exe", "Xray.exe", "xray", "Xray"}
	}
	return []string{"xray", "Xray"}
}
