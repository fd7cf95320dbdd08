//go:build !linux

package resource

import (
	"runtime"
	"time"
)

// totalSystemMemory estimates total memory on platforms without a native
// probe. Four times the Go runtime's reserved memory is a rough floor
// that keeps utilization percentages meaningful.
func totalSystemMemory() uint64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.Sys * 4
}

func residentSetSize() uint64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.Sys
}

func processCPUTime() time.Duration {
	return 0
}
