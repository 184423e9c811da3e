package scheduler

import (
	"context"
	"fmt"
	"time"

	"legal_agenda/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper is the job the scheduler triggers.
type Sweeper interface {
	RunSweep(ctx context.Context) (app.SweepResult, error)
}

// SweepScheduler runs the reminder sweep every interval. A run that is still
// going when the next tick fires makes that tick a no-op.
type SweepScheduler struct {
	cronEngine *cron.Cron
	sweeper    Sweeper
	interval   time.Duration
	timeout    time.Duration
	logger     *logrus.Entry
	entryID    cron.EntryID
}

func NewSweepScheduler(sweeper Sweeper, interval time.Duration, loc *time.Location, logger *logrus.Entry) *SweepScheduler {
	if loc == nil {
		loc = time.Local
	}
	l := logger.WithField("component", "scheduler")
	cl := cronLogger{l}
	return &SweepScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper:  sweeper,
		interval: interval,
		// a sweep never outlives the next tick
		timeout: interval,
		logger:  l,
	}
}

func (s *SweepScheduler) Start() error {
	s.logger.WithField("interval", s.interval).Info("Starting sweep scheduler...")
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	s.entryID = s.cronEngine.Schedule(cron.Every(s.interval), cron.FuncJob(s.runOnce))
	s.cronEngine.Start()
	s.logger.Info("Sweep scheduler started.")
	return nil
}

func (s *SweepScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	started := time.Now()
	res, err := s.sweeper.RunSweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Sweep failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"dispatched": res.Dispatched,
		"errors":     res.Errors,
		"took":       time.Since(started).String(),
	}).Debug("Sweep tick done")
}

// Next reports when the sweep fires next; zero before Start.
func (s *SweepScheduler) Next() time.Time {
	return s.cronEngine.Entry(s.entryID).Next
}

func (s *SweepScheduler) Stop() {
	s.logger.Info("Stopping sweep scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Sweep scheduler gracefully stopped.")
}

// cronLogger routes robfig/cron's internal logging into logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
