package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the auditor on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	cron     *cron.Cron
	auditor  *Auditor
	schedule string
	log      zerolog.Logger
}

// NewScheduler creates a scheduler running auditor on schedule, a standard
// five-field cron expression or a descriptor such as "@every 5m".
func NewScheduler(auditor *Auditor, schedule string, log zerolog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", schedule, err)
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		auditor:  auditor,
		schedule: schedule,
		log:      log,
	}
	return s, nil
}

// Start registers the audit job and starts the scheduler. Runs use ctx and
// stop being scheduled once Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.auditor.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("reconcile run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("reconcile scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running audit to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("reconcile scheduler stopped")
}

// cronLogger routes cron's own logging to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
