package cache

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/tbcv/engine/pkg/logger"
)

var schedulerLog = logger.New("cache:scheduler")

// Scheduler runs a Cache's Sweep on a fixed interval in the background,
// per spec.md §4.2's "periodic cleanup task".
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler builds a Scheduler that sweeps c on every tick of spec
// (a standard five-field cron expression, e.g. "*/10 * * * *" for every
// ten minutes). Start must be called to begin running it.
func NewScheduler(c Cache, spec string) (*Scheduler, error) {
	ctl := cron.New()
	_, err := ctl.AddFunc(spec, func() {
		n, err := c.Sweep(context.Background())
		if err != nil {
			schedulerLog.Printf("sweep failed: %v", err)
			return
		}
		if n > 0 {
			schedulerLog.Printf("swept %d expired entries", n)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: ctl}, nil
}

// Start begins running the scheduled sweep in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
