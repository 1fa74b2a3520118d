package app

import (
	"context"

	"coursehub_backend/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// startJobs 注册定时任务：按 jobs.analytics_refresh 重算过期的测验统计
func (a *App) startJobs(ctx context.Context) (*cron.Cron, error) {
	cl := cronLogger{log: logger.Log.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	spec := a.Config.Jobs.AnalyticsRefresh
	if _, err := c.AddFunc(spec, func() {
		n, err := a.services.analytics.RefreshStale(ctx)
		if err != nil {
			logger.Log.Error("Analytics refresh job failed", zap.Error(err))
			return
		}
		logger.Log.Debug("Analytics refresh job finished", zap.Int("refreshed", n))
	}); err != nil {
		return nil, err
	}

	c.Start()
	logger.Log.Info("Background jobs scheduled", zap.String("analytics_refresh", spec))
	return c, nil
}
