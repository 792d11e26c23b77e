package main

import (
	"context"
	"time"

	"MsgBridge/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartConsistencyCron starts the periodic consistency sweep over recently
// written depositions. It runs every 15 minutes; the sweep itself honors
// the consistency_checks flag, so disabling the flag silences the job
// without restarting anything.
func StartConsistencyCron(router *biz.RouterUseCase, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("0 */15 * * * *", func() {
		helper.Info("starting consistency sweep over recent depositions")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		checked, inconsistent := router.SweepRecentDepositions(ctx)
		if inconsistent > 0 {
			helper.Warnw("msg", "consistency sweep found divergent depositions",
				"checked", checked, "inconsistent", inconsistent)
		} else {
			helper.Infow("msg", "consistency sweep completed clean", "checked", checked)
		}
	})

	if err != nil {
		helper.Errorw("msg", "failed to register consistency sweep cron job", "error", err)
		return nil
	}

	c.Start()
	helper.Info("consistency sweep cron job started: runs every 15 minutes")

	return c
}
