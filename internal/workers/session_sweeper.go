package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/speaktest/internal/services"
)

// SessionSweeper periodically abandons sessions nobody finished.
type SessionSweeper struct {
	scheduler *gocron.Scheduler
	sessions  services.TestSessionService
	interval  time.Duration
	maxAge    time.Duration
	log       *logrus.Logger
}

func NewSessionSweeper(sessions services.TestSessionService, interval, maxAge time.Duration, log *logrus.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 3 * time.Hour
	}
	if log == nil {
		log = logrus.New()
	}
	return &SessionSweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		sessions:  sessions,
		interval:  interval,
		maxAge:    maxAge,
		log:       log,
	}
}

func (s *SessionSweeper) Start() error {
	if _, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.Sweep); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *SessionSweeper) Stop() {
	s.scheduler.Stop()
}

// Sweep runs one pass and returns how many sessions were abandoned.
func (s *SessionSweeper) Sweep() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.sessions.AbandonStale(ctx, s.maxAge)
	if err != nil {
		s.log.WithError(err).Error("stale session sweep failed")
		return 0
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"abandoned": n, "max_age": s.maxAge.String()}).Info("abandoned stale sessions")
	}
	return n
}
