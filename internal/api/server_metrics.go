package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics собирает сведения о процессе fogd для /api/fog/server
type ServerMetrics struct {
	StartTime time.Time
	// CPUSample задаёт окно замера системного CPU, если процессный недоступен
	CPUSample time.Duration
}

// NewServerMetrics запоминает время старта
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{StartTime: time.Now(), CPUSample: 100 * time.Millisecond}
}

// Uptime форматирует время работы: "1д 2ч 3м 4с" без нулевых старших частей
func (sm *ServerMetrics) Uptime() string {
	return formatUptime(time.Since(sm.StartTime))
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	}
	return fmt.Sprintf("%dс", seconds)
}

// CPUPercent возвращает загрузку CPU процессом, а при ошибке системную за CPUSample
func (sm *ServerMetrics) CPUPercent() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			return pct, nil
		}
	}
	pcts, err := cpu.Percent(sm.CPUSample, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("cpu.Percent: no samples")
	}
	return pcts[0], nil
}

// RSSMegabytes возвращает резидентную память процесса
func (sm *ServerMetrics) RSSMegabytes() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / 1024 / 1024, nil
}

// SystemMemoryPercent возвращает долю занятой памяти хоста
func (sm *ServerMetrics) SystemMemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// RuntimeStats возвращает статистику Go runtime
func (sm *ServerMetrics) RuntimeStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"alloc_mb":      float64(m.Alloc) / 1024 / 1024,
		"sys_mb":        float64(m.Sys) / 1024 / 1024,
		"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"goroutines":    runtime.NumGoroutine(),
		"gomaxprocs":    runtime.GOMAXPROCS(0),
	}
}
