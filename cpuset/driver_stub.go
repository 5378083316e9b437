//go:build !linux
// +build !linux

// File: cpuset/driver_stub.go
// Author: momentics <momentics@gmail.com>
//
// Core arbitration is built on Linux cpusets; no other platform has a
// real Driver.

package cpuset

import "github.com/pkg/errors"

// NewPlatformDriver always fails on non-Linux platforms.
func NewPlatformDriver() (Driver, error) {
	return nil, errors.New("cpuset: core arbitration requires Linux cgroups")
}
