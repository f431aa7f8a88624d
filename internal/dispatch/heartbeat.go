package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"drover/internal/logging"
)

// startHeartbeat refreshes this process's registry heartbeat until the
// returned stop function is called.
func (d *Dispatcher) startHeartbeat(ctx context.Context) (stop func()) {
	interval := time.Duration(d.cfg.Worker.HeartbeatInterval) * time.Second
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger := d.logger.With(logging.String(logging.FieldComponent, "heartbeat"))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.registry.Heartbeat(ctx, d.pid); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
