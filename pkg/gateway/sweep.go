package gateway

import (
	"context"
	"time"
)

// StartSweepLoop runs Sweep every interval until ctx is done. A non-positive
// interval disables the loop; calling it twice has no effect.
func (o *Orchestrator) StartSweepLoop(ctx context.Context, interval time.Duration) {
	if ctx == nil {
		panic("gateway: StartSweepLoop requires non-nil ctx")
	}
	if interval <= 0 {
		return
	}
	o.sweepMu.Lock()
	if o.sweepRunning {
		o.sweepMu.Unlock()
		return
	}
	o.sweepRunning = true
	o.sweepMu.Unlock()

	go o.runSweepLoop(ctx, interval)
}

func (o *Orchestrator) runSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.sweepMu.Lock()
			o.sweepRunning = false
			o.sweepMu.Unlock()
			return
		case <-ticker.C:
			o.Sweep(o.now())
		}
	}
}
