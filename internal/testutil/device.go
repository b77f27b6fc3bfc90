package testutil

import (
	"arc-go/internal/device"
)

// NewTestDevice creates an in-memory device that never waits for media.
func NewTestDevice() *device.MemoryDevice {
	return device.NewMemoryDevice("disc")
}

// NewRemovableTestDevice creates an in-memory device that waits for an
// inserted medium in both phases.
func NewRemovableTestDevice() *device.MemoryDevice {
	d := device.NewMemoryDevice("disc")
	d.RequireMedium = true
	return d
}
