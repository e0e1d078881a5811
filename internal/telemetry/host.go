// Package telemetry exposes the daemon's Prometheus metrics surface and a
// gopsutil-based host resource snapshot (§6). The host snapshot is not
// registered with the Prometheus registry and is not part of the admin
// API's health or backpressure responses.
package telemetry

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostSnapshot is a point-in-time view of host resource usage, percentages
// in [0, 100].
type HostSnapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// CollectHost samples CPU/memory/disk utilization. CPU is sampled over a
// short window (cpu.PercentWithContext blocks for the given interval); mem
// and disk are instantaneous. A sampler that fails leaves its field at zero
// rather than failing the whole snapshot.
func CollectHost(ctx context.Context) HostSnapshot {
	var snap HostSnapshot

	if cpuPercents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	return snap
}
