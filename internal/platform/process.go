package platform

import (
	"runtime"

	"github.com/prometheus/procfs"
	"github.com/rs/xid"
)

var instanceID = xid.New()

// InstanceID identifies this process in logs and health responses.
func InstanceID() string {
	return instanceID.String()
}

// MemoryUsage is the memory object reported by /health, in bytes.
type MemoryUsage struct {
	RSS       uint64 `json:"rss"`
	HeapTotal uint64 `json:"heapTotal"`
	HeapUsed  uint64 `json:"heapUsed"`
	External  uint64 `json:"external"`
}

// ReadMemoryUsage samples the Go heap and the process resident set size.
// Where /proc is unavailable RSS falls back to the memory obtained from the OS.
func ReadMemoryUsage() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	usage := MemoryUsage{
		RSS:       ms.Sys,
		HeapTotal: ms.HeapSys,
		HeapUsed:  ms.HeapAlloc,
		External:  ms.Sys - ms.HeapSys,
	}
	if rss, ok := residentMemory(); ok {
		usage.RSS = rss
	}
	return usage
}

func residentMemory() (uint64, bool) {
	p, err := procfs.Self()
	if err != nil {
		return 0, false
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, false
	}
	rss := stat.ResidentMemory()
	if rss <= 0 {
		return 0, false
	}
	return uint64(rss), true
}
