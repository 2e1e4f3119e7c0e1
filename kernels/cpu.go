package kernels

import (
	"github.com/klauspost/cpuid/v2"
)

// LaneWidth returns the number of int32 lanes the widest available vector
// unit processes per instruction. Scratch buffers are padded to a multiple
// of it so inner loops never need a scalar tail.
func LaneWidth() int {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		return 16
	case cpuid.CPU.Supports(cpuid.AVX2):
		return 8
	default:
		return 4
	}
}

// CPUSummary describes the host for logs and benchmark reports.
type CPUSummary struct {
	Brand     string
	Cores     int
	L1DCache  int
	LaneWidth int
}

// DescribeCPU reports the detected host capabilities.
func DescribeCPU() CPUSummary {
	return CPUSummary{
		Brand:     cpuid.CPU.BrandName,
		Cores:     cpuid.CPU.PhysicalCores,
		L1DCache:  cpuid.CPU.Cache.L1D,
		LaneWidth: LaneWidth(),
	}
}

// padToLanes rounds n up to a multiple of the lane width.
func padToLanes(n int) int {
	w := LaneWidth()
	return (n + w - 1) / w * w
}
