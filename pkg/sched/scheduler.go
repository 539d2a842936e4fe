// ABOUTME: Periodic background sweeps for block expiry and idle sessions
// ABOUTME: Storage failures are logged and never stop the loop

package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mechdocs/docgate/pkg/block"
	"github.com/mechdocs/docgate/pkg/session"
)

// Config holds the sweep intervals and timeouts.
type Config struct {
	BlockSweepInterval      time.Duration // default 300s
	InactivitySweepInterval time.Duration // default 60s
	InactivityTimeout       time.Duration // default 600s
	ApprovalTimeout         time.Duration // 0 disables the approval sweep
}

func (c *Config) applyDefaults() {
	if c.BlockSweepInterval <= 0 {
		c.BlockSweepInterval = 300 * time.Second
	}
	if c.InactivitySweepInterval <= 0 {
		c.InactivitySweepInterval = 60 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 600 * time.Second
	}
}

// Scheduler runs two independent fixed-interval sweeps: expired block
// removal and idle-session logout. An authorized session idle past the
// inactivity timeout is reset in memory only; the persisted credential
// binding survives and the next /start re-authorizes.
type Scheduler struct {
	cfg      Config
	blocks   *block.Registry
	sessions *session.Manager
	log      zerolog.Logger
}

// NewScheduler wires the sweeps.
func NewScheduler(cfg Config, blocks *block.Registry, sessions *session.Manager, log zerolog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{cfg: cfg, blocks: blocks, sessions: sessions, log: log}
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	blockTicker := time.NewTicker(s.cfg.BlockSweepInterval)
	defer blockTicker.Stop()
	idleTicker := time.NewTicker(s.cfg.InactivitySweepInterval)
	defer idleTicker.Stop()

	s.log.Info().
		Dur("block_interval", s.cfg.BlockSweepInterval).
		Dur("inactivity_interval", s.cfg.InactivitySweepInterval).
		Msg("expiry scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("expiry scheduler stopped")
			return
		case <-blockTicker.C:
			s.SweepBlocks(ctx, time.Now())
		case <-idleTicker.C:
			s.SweepInactive(ctx, time.Now())
		}
	}
}

// SweepBlocks removes every block record whose unblock time has passed.
func (s *Scheduler) SweepBlocks(ctx context.Context, now time.Time) {
	n, err := s.blocks.SweepExpired(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("block sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("removed", n).Msg("expired blocks removed")
	}
}

// SweepInactive logs out authorized sessions idle past the inactivity
// timeout and, when an approval timeout is configured, expires stale
// pending access requests.
func (s *Scheduler) SweepInactive(ctx context.Context, now time.Time) {
	s.sessions.SweepInactive(s.cfg.InactivityTimeout, now, func(userID int64, sess *session.Session) {
		if !sess.State.Authorized() {
			return
		}
		if err := s.blocks.Unblock(ctx, userID); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("releasing suspension on logout failed")
		}
		sess.Reset()
		s.log.Info().Int64("user_id", userID).Msg("inactive session logged out")
	})

	if s.cfg.ApprovalTimeout > 0 {
		s.sessions.SweepInactive(s.cfg.ApprovalTimeout, now, func(userID int64, sess *session.Session) {
			if sess.State != session.StateAwaitingApproval {
				return
			}
			sess.Reset()
			s.log.Info().Int64("user_id", userID).Msg("stale access request expired")
		})
	}
}
