package async

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/qaflow/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	TasksQueued   int     `json:"tasks_queued"`
	TasksRunning  int     `json:"tasks_running"`
}

// MemoryStats is a point-in-time reading of host memory
type MemoryStats struct {
	TotalGB     float64 `json:"total_gb"`
	AvailableGB float64 `json:"available_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// ReadMemory reports host memory through gopsutil
func ReadMemory() (MemoryStats, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return MemoryStats{}, errors.Wrap(err, "failed to get memory stats")
	}
	return MemoryStats{
		TotalGB:     float64(v.Total) / bytesPerGB,
		AvailableGB: float64(v.Available) / bytesPerGB,
		UsedPercent: v.UsedPercent,
	}, nil
}

// calculateSafeWorkerCount recommends a worker count for the available memory.
// Each worker is budgeted for one concurrent local-model inference.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 5.0
	const memoryBuffer = 2.0

	if availableGB < memoryBuffer {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics(ctx context.Context) SystemMetrics {
	var m SystemMetrics
	if stats, err := ReadMemory(); err == nil && stats.TotalGB > 0 {
		m.MemoryTotalGB = stats.TotalGB
		m.MemoryUsedGB = stats.TotalGB - stats.AvailableGB
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}

	if stats, err := wp.queue.GetStats(ctx); err == nil {
		m.TasksQueued = stats.Queued
		m.TasksRunning = stats.Running
	}

	wp.mu.Lock()
	m.WorkersActive = wp.activeWorkers
	wp.mu.Unlock()
	m.WorkersTotal = wp.workers
	return m
}

// checkMemoryPressure returns a warning when the worker count exceeds what
// available memory supports, or "" when it fits.
func (wp *WorkerPool) checkMemoryPressure() string {
	stats, err := ReadMemory()
	if err != nil {
		return ""
	}
	recommended := calculateSafeWorkerCount(stats.AvailableGB)
	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			wp.workers, recommended, stats.TotalGB-stats.AvailableGB, stats.TotalGB)
	}
	return ""
}
