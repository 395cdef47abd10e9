package tool

import "runtime"

// Platform identifies the operating system and CPU architecture release
// archives are built for.
type Platform struct {
	OS   string
	Arch string
}

// CurrentPlatform returns the platform srcscan is running on.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// IsWindows reports whether p is a Windows platform.
func (p Platform) IsWindows() bool { return p.OS == "windows" }

// ExecutableName returns the file name of command on p.
func (p Platform) ExecutableName(command string) string {
	if p.IsWindows() {
		return command + ".exe"
	}
	return command
}
