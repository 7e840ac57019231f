package main

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/collabhub/server/internal/dedup"
	"github.com/collabhub/server/internal/observability"
)

// startJanitor schedules periodic maintenance sweeps on the cron expression
// from config, so a dedup set backing a quiet document doesn't hold expired
// entries indefinitely between message arrivals, and a connection that
// vanished mid-upload doesn't hold a stalled download forever.
func startJanitor(schedule string, dedupSet *dedup.Set, h *hub, logger *observability.Logger) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n := dedupSet.Sweep()
		if n > 0 {
			logger.Debug("janitor swept expired dedup entries")
		}
		if timedOut := h.sweepTransferTimeouts(time.Now()); timedOut > 0 {
			logger.Debug("janitor swept stalled transfers")
		}
	})
	if err != nil {
		logger.Warn("janitor: invalid sweep schedule " + schedule + ": " + err.Error())
		return nil
	}
	c.Start()
	return c
}
