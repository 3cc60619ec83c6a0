package server

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zeusync/scenesync/internal/core/observability/log"
)

func (s *Server) startJanitor() error {
	if s.config.JanitorSchedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.config.JanitorSchedule, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.janitor = c
	s.logger.Debug("Janitor scheduled", log.String("schedule", s.config.JanitorSchedule))
	return nil
}

// sweep closes connections idle for longer than ClientTimeout and logs hub
// statistics.
func (s *Server) sweep() {
	atomic.AddInt64(&s.janitorRuns, 1)

	closed := 0
	if s.config.ClientTimeout > 0 {
		cutoff := time.Now().Add(-s.config.ClientTimeout)
		s.clients.Range(func(_, value any) bool {
			cs := value.(*clientSession)
			if cs.conn.LastActivity().Before(cutoff) {
				cs.logger.Info("Closing idle client", log.Duration("idle", time.Since(cs.conn.LastActivity())))
				_ = cs.conn.Close()
				closed++
			}
			return true
		})
	}

	stats := s.Stats()
	s.logger.Info("Hub statistics",
		log.Int64("clients", stats.Clients),
		log.Int64("subscriptions", stats.Subscriptions),
		log.Int64("frames_handled", stats.FramesHandled),
		log.Int64("frames_failed", stats.FramesFailed),
		log.Int64("rejected", stats.Rejected),
		log.Int("idle_closed", closed))
}
