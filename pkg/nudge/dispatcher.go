// Package nudge re-engages members who never answered a question a session
// suspended on. A periodic scan finds waiting_event sessions whose next
// reminder is due and sends it through the configured notifier, walking the
// session's backoff sequence until the reminder budget is spent.
package nudge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Notifier delivers one reminder about an unanswered question.
type Notifier interface {
	Nudge(ctx context.Context, sess *session.Session, attempt int) error
}

// Dispatcher runs the reminder scan on a fixed schedule.
type Dispatcher struct {
	store    session.Store
	notifier Notifier
	logger   zerolog.Logger
	clock    func() time.Time

	cron     *cron.Cron
	schedule string
}

// Config assembles a Dispatcher.
type Config struct {
	Store    session.Store
	Notifier Notifier
	Logger   zerolog.Logger

	// Schedule is a cron spec for the scan cadence (default "@every 1m").
	Schedule string
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// NewDispatcher validates the configuration and builds a dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Dispatcher{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		schedule: cfg.Schedule,
	}, nil
}

// Start begins the periodic scan.
func (d *Dispatcher) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(d.schedule, func() {
		if err := d.Scan(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Nudge scan failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid nudge schedule %q: %w", d.schedule, err)
	}

	c.Start()
	d.cron = c
	d.logger.Info().Str("schedule", d.schedule).Msg("Nudge dispatcher started")
	return nil
}

// Stop halts the scan and waits for an in-flight run to finish.
func (d *Dispatcher) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

// Scan sends every due reminder. A concurrent session update surfaces as a
// version conflict; the session is skipped and picked up on the next scan.
func (d *Dispatcher) Scan(ctx context.Context) error {
	sessions, err := d.store.ListByStatus(ctx, session.StatusWaitingEvent)
	if err != nil {
		return fmt.Errorf("failed to list waiting sessions: %w", err)
	}

	now := d.clock().UTC()
	for _, sess := range sessions {
		if !due(sess, now) {
			continue
		}
		if err := d.nudge(ctx, sess, now); err != nil {
			d.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("Nudge delivery failed")
		}
	}
	return nil
}

func due(sess *session.Session, now time.Time) bool {
	return sess.Nudges != nil &&
		sess.Wait != nil &&
		sess.Nudges.Sent < sess.Nudges.Max &&
		!sess.Nudges.NextDueAt.After(now)
}

func (d *Dispatcher) nudge(ctx context.Context, sess *session.Session, now time.Time) error {
	attempt := sess.Nudges.Sent + 1
	if err := d.notifier.Nudge(ctx, sess, attempt); err != nil {
		return err
	}

	sess.Nudges.Sent = attempt
	if attempt < len(sess.Nudges.BackoffSeq) {
		sess.Nudges.NextDueAt = now.Add(sess.Nudges.BackoffSeq[attempt])
	} else {
		// Budget spent; the session stays suspended until a reply arrives.
		sess.Nudges.NextDueAt = time.Time{}
	}

	if err := d.store.Update(ctx, sess); err != nil {
		if errors.Is(err, session.ErrVersionConflict) {
			d.logger.Debug().Str("session_id", sess.ID).Msg("Session changed mid-scan, skipping")
			return nil
		}
		return fmt.Errorf("failed to persist nudge state: %w", err)
	}

	d.logger.Info().
		Str("session_id", sess.ID).
		Int("attempt", attempt).
		Int("max", sess.Nudges.Max).
		Msg("Reminder sent")
	return nil
}
