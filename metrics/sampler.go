package metrics

import (
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// resourceSample is one point-in-time read of the host and process
// resource usage backing P8 (bounded process memory).
type resourceSample struct {
	ProcessRSSBytes   uint64
	ProcessCPUPercent float64
	SystemMemPercent  float64
}

// resourceSampler wraps the process handle gopsutil needs so Sample
// doesn't re-resolve the pid on every scrape.
type resourceSampler struct {
	proc *process.Process
}

func newResourceSampler() (*resourceSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &resourceSampler{proc: proc}, nil
}

// sample reads the current process RSS, this process's CPU percent since
// the previous call, and system-wide memory pressure. A zero interval on
// Process.Percent reports usage since the last call rather than blocking
// for a full measurement window, which matters here since sample runs inline
// during a Prometheus scrape.
func (s *resourceSampler) sample() (resourceSample, error) {
	var out resourceSample

	mi, err := s.proc.MemoryInfo()
	if err != nil {
		return out, err
	}
	out.ProcessRSSBytes = mi.RSS

	cpuPct, err := s.proc.Percent(0)
	if err != nil {
		return out, err
	}
	out.ProcessCPUPercent = cpuPct

	vm, err := mem.VirtualMemory()
	if err != nil {
		return out, err
	}
	out.SystemMemPercent = vm.UsedPercent

	return out, nil
}

// systemCPUPercent reports whole-system CPU usage since the last call,
// separate from the per-process figure sample() returns.
func systemCPUPercent() (float64, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil || len(pcts) == 0 {
		return 0, err
	}
	return pcts[0], nil
}
