package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/metrics"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
)

// Reaper periodically destroys sessions that have been idle too long,
// whether or not the client ever disconnected.
type Reaper struct {
	sessions *session.Registry
	idle     time.Duration
	interval time.Duration
	log      zerolog.Logger
}

// New returns a reaper that expires sessions idle longer than idle every interval.
func New(sessions *session.Registry, idle, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		idle:     idle,
		interval: interval,
		log:      log.With().Str("component", "reaper").Logger(),
	}
}

// Sweep runs one expiry pass and returns how many sessions it removed.
func (r *Reaper) Sweep() int {
	expired := r.sessions.Expire(r.idle)
	if len(expired) == 0 {
		return 0
	}

	metrics.SessionsReaped.Add(float64(len(expired)))
	for _, id := range expired {
		r.log.Info().Str("session", id).Dur("idle", r.idle).Msg("session expired")
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Debug().Dur("interval", r.interval).Dur("idle", r.idle).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
