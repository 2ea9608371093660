package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
	"whatsapp-alert/internal/metrics"
)

var schedLog = logging.WithComponent("scheduler")

// Scheduler fires heartbeat passes on a cron spec with seconds.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	invoker *Invoker
}

func NewScheduler(cfg config.SchedulerConfig, invoker *Invoker) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		spec:    cfg.HeartbeatCron,
		invoker: invoker,
	}
	if _, err := s.cron.AddFunc(s.spec, s.heartbeat); err != nil {
		return nil, fmt.Errorf("add heartbeat cron %q: %w", s.spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	schedLog.Infof("heartbeat registered: cron=%s", s.spec)
}

// Stop waits for a running heartbeat to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) heartbeat() {
	defer func() {
		if rec := recover(); rec != nil {
			schedLog.Errorf("panic in heartbeat: %v", rec)
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
		}
	}()
	s.invoker.Heartbeat(context.Background(), "schedule")
}
