package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-course/internal/recommend"
)

// Prober probes the upstreams for one region.
type Prober interface {
	ProbeUpstreams(ctx context.Context, regionKey string) []recommend.ProbeResult
}

// Scheduler periodically probes the upstream services.
type Scheduler struct {
	scheduler *gocron.Scheduler
	prober    Prober
	region    string
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler.
func New(region string, interval time.Duration, prober Prober) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		prober:    prober,
		region:    region,
		interval:  interval,
		timeout:   30 * time.Second,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	log.Printf("DEBUG: scheduler: probing upstreams for %s", s.region)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	results := s.prober.ProbeUpstreams(ctx, s.region)
	for _, r := range results {
		if !r.OK {
			log.Printf("WARN: scheduler: %s unhealthy (status %d, code %s): %s", r.Upstream, r.HTTPStatus, r.ResultCode, r.Detail)
		}
	}
	log.Printf("DEBUG: scheduler: completed %d upstream probes", len(results))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
