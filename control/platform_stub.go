//go:build !linux
// +build !linux

// control/platform_stub.go
// Author: momentics <momentics@gmail.com>

package control

// RegisterPlatformProbes is a no-op on platforms without
// platform-specific probes.
func RegisterPlatformProbes(dp *DebugProbes) {}
