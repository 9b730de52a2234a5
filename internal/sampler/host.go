package sampler

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// HostMemory summarises physical memory of the host, in MB.
type HostMemory struct {
	TotalMB     float64
	AvailableMB float64
	UsedPercent float64
}

// ReadHostMemory is informational only; limits are per-process RSS.
func ReadHostMemory(ctx context.Context) (*HostMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host memory: %w", err)
	}
	return &HostMemory{
		TotalMB:     bytesToMB(vm.Total),
		AvailableMB: bytesToMB(vm.Available),
		UsedPercent: vm.UsedPercent,
	}, nil
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
