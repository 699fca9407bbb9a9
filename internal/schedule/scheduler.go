package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs background jobs on standard five-field cron specs. A run
// that is still in progress when its next tick fires is skipped.
type CronScheduler struct {
	cron *cron.Cron
	jobs map[string]func()
	ctx  context.Context
}

func NewCronScheduler(loc *time.Location) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		jobs: make(map[string]func()),
		ctx:  context.Background(),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	fn := c.wrap(job, spec)
	if _, err := c.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	c.jobs[name] = fn
	logutil.GetLogger(context.Background()).Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// RunNow triggers a scheduled job synchronously, outside its cron slot.
func (c *CronScheduler) RunNow(name string) bool {
	fn, ok := c.jobs[name]
	if ok {
		fn()
	}
	return ok
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		logger := logutil.GetLogger(c.ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		err := job.Run(c.ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job failed", zap.Error(err), zap.Duration("duration", elapsed))
			return
		}
		logger.Info("job finished", zap.Duration("duration", elapsed))
	}
}
