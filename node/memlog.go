package node

import (
	"runtime"
	"time"
)

const memLogFrequency = 30 * time.Second

func (n *Node) startMemoryLogging() {
	var mstats runtime.MemStats
	n.runInBackground(memLogFrequency, func() {
		runtime.ReadMemStats(&mstats)
		n.Log().Debugf("uptime: %v, allocated %.1f MB, system %.1f MB, Num GC: %d, Goroutines: %d",
			n.UpTime().Round(time.Second),
			float32(mstats.Alloc*10/(1024*1024))/10,
			float32(mstats.Sys*10/(1024*1024))/10,
			mstats.NumGC,
			runtime.NumGoroutine(),
		)
	})
}
