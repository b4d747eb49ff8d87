// Package cpuspec identifies the host CPU for the system info endpoint.
package cpuspec

import (
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about the host CPU.
type CPUSpec struct {
	BrandName     string
	PhysicalCores int
	LogicalCores  int
	Hybrid        bool // performance/efficiency core architecture
}

// GetCPUSpec returns the host CPU identification. Fields may be empty or
// zero inside VMs that mask CPUID.
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:     strings.TrimSpace(cpuid.CPU.BrandName),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Hybrid:        cpuid.CPU.Has(cpuid.HYBRID_CPU),
	}
}

// GetOptimalThreadCount returns the recommended worker count for CPU-bound
// work such as spectrum parsing and embedding batches.
func (c CPUSpec) GetOptimalThreadCount() int {
	availableCPUs := runtime.NumCPU()

	// On hybrid architectures leave the efficiency cores to the OS.
	if c.Hybrid && c.PhysicalCores > 0 && c.PhysicalCores < availableCPUs {
		return c.PhysicalCores
	}

	if c.LogicalCores > 0 && c.LogicalCores < availableCPUs {
		return c.LogicalCores
	}
	return availableCPUs
}
