package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// ProcessTable enumerates processes through gopsutil. Process handles are
// kept between snapshots so CPU percentages cover the poll interval rather
// than the process lifetime.
type ProcessTable struct {
	mu     sync.Mutex
	cache  map[int32]*process.Process
	logger *logging.Logger
}

// NewProcessTable creates an empty process table
func NewProcessTable(logger *logging.Logger) *ProcessTable {
	return &ProcessTable{
		cache:  make(map[int32]*process.Process),
		logger: logger.WithComponent("process_table"),
	}
}

// Snapshot lists every readable process. Processes that exit or deny access
// mid-enumeration are skipped.
func (t *ProcessTable) Snapshot(ctx context.Context) (model.Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to list processes: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := model.Snapshot{
		Processes: make([]model.ProcessRecord, 0, len(procs)),
		Taken:     time.Now(),
	}
	live := make(map[int32]*process.Process, len(procs))

	for _, fresh := range procs {
		p := t.reuse(ctx, fresh)

		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		live[p.Pid] = p

		record := model.ProcessRecord{PID: p.Pid, Name: name}
		if username, err := p.UsernameWithContext(ctx); err == nil {
			record.Username = username
		} else {
			record.Username = "unknown"
		}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			record.Cmdline = cmdline
		}
		if cpuPercent, err := p.PercentWithContext(ctx, 0); err == nil {
			record.CPUPercent = model.Percent(cpuPercent)
		}
		if memPercent, err := p.MemoryPercentWithContext(ctx); err == nil {
			record.MemoryPercent = model.Percent(float64(memPercent))
		}

		snapshot.Processes = append(snapshot.Processes, record)
	}

	t.cache = live
	return snapshot, nil
}

// reuse returns the cached handle for fresh's pid unless the pid was recycled
func (t *ProcessTable) reuse(ctx context.Context, fresh *process.Process) *process.Process {
	cached, ok := t.cache[fresh.Pid]
	if !ok {
		return fresh
	}
	cachedStart, err1 := cached.CreateTimeWithContext(ctx)
	freshStart, err2 := fresh.CreateTimeWithContext(ctx)
	if err1 != nil || err2 != nil || cachedStart != freshStart {
		return fresh
	}
	return cached
}

// Summary reports host-wide process count, CPU and memory usage
func (t *ProcessTable) Summary(ctx context.Context) (model.SystemSummary, error) {
	var summary model.SystemSummary

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list pids: %w", err)
	}
	summary.ProcessCount = len(pids)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		summary.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to read memory usage: %w", err)
	}
	summary.MemoryPercent = vm.UsedPercent
	summary.MemoryAvailable = vm.Available

	return summary, nil
}
