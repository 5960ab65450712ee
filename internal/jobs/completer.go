package jobs

import (
	"context"
	"log/slog"

	"github.com/mastertime-app/mastertime/internal/booking"
	"github.com/robfig/cron/v3"
)

// Completer periodically marks CONFIRMED appointments whose end time has
// passed as COMPLETED, so stale appointments never linger in the active set.
type Completer struct {
	engine *booking.Service
	logger *slog.Logger
	spec   string
	cron   *cron.Cron
}

// NewCompleter schedules the sweep with a cron spec (default every 10 minutes).
func NewCompleter(engine *booking.Service, logger *slog.Logger, spec string) *Completer {
	if spec == "" {
		spec = "*/10 * * * *"
	}
	return &Completer{engine: engine, logger: logger, spec: spec}
}

func (c *Completer) Start(ctx context.Context) error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.spec, func() {
		n, err := c.engine.CompletePast(ctx)
		if err != nil {
			c.logger.Error("auto-complete sweep failed", "err", err)
			return
		}
		if n > 0 {
			c.logger.Info("auto-completed past appointments", "count", n)
		}
	})
	if err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

func (c *Completer) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}
