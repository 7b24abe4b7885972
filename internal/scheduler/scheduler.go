package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler runs the daily digest on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
}

// New builds a scheduler for spec (standard five-field cron) in loc.
func New(spec string, loc *time.Location) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

func (s *Scheduler) Start() error {
	if s.reportFunc == nil {
		log.Warn("report function not set, scheduler will not generate digests")
		return nil
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		log.Infof("daily digest triggered (%s)", s.spec)
		if err := s.reportFunc(s.ctx); err != nil {
			log.Errorf("daily digest failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.Infof("scheduler started, digest schedule %q", s.spec)
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Info("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
