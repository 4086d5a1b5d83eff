package util

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ReadPidFile returns the pid stored in a pidfile.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pidfile %s does not contain a pid", path)
	}
	return pid, nil
}

// ProcessInfo is a point-in-time view of the game server process.
type ProcessInfo struct {
	PID        int       `json:"pid"`
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   uint64    `json:"memory_mb"`
	Threads    int32     `json:"threads"`
	StartedAt  time.Time `json:"started_at"`
}

// GetProcessInfo inspects the process whose pid is stored in pidfile.
func GetProcessInfo(pidfile string) (*ProcessInfo, error) {
	pid, err := ReadPidFile(pidfile)
	if err != nil {
		return nil, err
	}

	info := &ProcessInfo{PID: pid}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		// Stale pidfile: the server is not running.
		return info, nil
	}
	info.Running = true

	if name, err := proc.Name(); err == nil {
		info.Name = name
	}
	if pct, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = pct
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.MemoryMB = memInfo.RSS / (1024 * 1024)
	}
	if threads, err := proc.NumThreads(); err == nil {
		info.Threads = threads
	}
	if created, err := proc.CreateTime(); err == nil {
		info.StartedAt = time.UnixMilli(created)
	}

	return info, nil
}
