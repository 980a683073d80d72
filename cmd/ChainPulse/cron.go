package main

import (
	"context"
	"time"

	"ChainPulse/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartCacheWarmCron starts the periodic cache re-warm job on top of the
// orchestrator's one-shot background warm. The schedule comes from
// coldstart.cache_warming.cron (six-field spec, seconds first); an empty
// schedule or disabled warming returns nil and no job runs.
func StartCacheWarmCron(orch *biz.ColdStartOrchestrator, spec string, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	if spec == "" || !orch.WarmingEnabled() {
		helper.Info("periodic cache warm disabled, cron not started")
		return nil
	}

	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc(spec, func() {
		helper.Info("Starting periodic cache warm cycle...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		warmed, failed := orch.WarmCaches(ctx)
		helper.Infow("msg", "Periodic cache warm cycle finished", "warmed", warmed, "failed", failed)
	})

	if err != nil {
		helper.Errorw("msg", "failed to register cache warm cron job", "error", err, "spec", spec)
		return nil
	}

	c.Start()
	helper.Infof("Cache warm cron job started: %s", spec)

	return c
}
