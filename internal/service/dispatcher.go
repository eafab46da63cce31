package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/repo"
	"github.com/LeventeLantos/whatsapp-assistant/internal/schedule"
)

// Messenger is the outbound side of the messaging session.
type Messenger interface {
	IsReady() bool
	// SelfID returns the logged-in account address, or "" when unknown.
	SelfID() string
	SendText(ctx context.Context, to, text string) error
}

type Dispatcher struct {
	repo      repo.MessageRepository
	messenger Messenger
	limiter   *rate.Limiter
	now       func() time.Time
	log       zerolog.Logger

	onSent   func(ctx context.Context, id string, at time.Time) error
	onFailed func(ctx context.Context, id string, reason string, at time.Time) error
}

func NewDispatcher(r repo.MessageRepository, m Messenger, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      r,
		messenger: m,
		now:       time.Now,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) WithHooks(
	onSent func(ctx context.Context, id string, at time.Time) error,
	onFailed func(ctx context.Context, id string, reason string, at time.Time) error,
) *Dispatcher {
	d.onSent = onSent
	d.onFailed = onFailed
	return d
}

// WithMinGap spaces consecutive sends by at least gap. Zero disables pacing.
func (d *Dispatcher) WithMinGap(gap time.Duration) *Dispatcher {
	if gap <= 0 {
		d.limiter = nil
		return d
	}
	d.limiter = rate.NewLimiter(rate.Every(gap), 1)
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Tick adapts RunCycle to the poller callback.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.RunCycle(ctx)
}

// RunCycle delivers every pending record that is due, one at a time.
func (d *Dispatcher) RunCycle(ctx context.Context) (sent int, failed int) {
	if !d.messenger.IsReady() {
		d.log.Debug().Msg("messenger not ready, skipping cycle")
		return 0, 0
	}

	pending, err := d.repo.ListPending(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("list pending schedules")
		return 0, 0
	}

	now := d.now()
	due := make([]model.ScheduledMessage, 0, len(pending))
	for _, m := range pending {
		if m.Due(now) {
			due = append(due, m)
		}
	}
	if len(due) == 0 {
		return 0, 0
	}
	d.log.Info().Int("due", len(due)).Msg("dispatching scheduled messages")

	for _, m := range due {
		if err := ctx.Err(); err != nil {
			d.log.Warn().Err(err).Msg("cycle interrupted, remaining records stay pending")
			return sent, failed
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.log.Warn().Err(err).Msg("cycle interrupted, remaining records stay pending")
				return sent, failed
			}
		}

		to := schedule.EnsureAddress(m.Recipient)
		err := d.messenger.SendText(ctx, to, m.Message)

		// Once a send has been attempted its outcome is recorded even if the
		// poller is stopping, otherwise the record is delivered again.
		outcomeCtx := context.WithoutCancel(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			d.log.Warn().Err(err).Str("id", m.ID).Msg("send interrupted, record stays pending")
			return sent, failed
		case err != nil:
			failed++
			d.fail(outcomeCtx, m, err, now)
		default:
			sent++
			d.succeed(outcomeCtx, m, to, now)
		}
	}

	d.log.Info().Int("sent", sent).Int("failed", failed).Msg("dispatch cycle finished")
	return sent, failed
}

func (d *Dispatcher) succeed(ctx context.Context, m model.ScheduledMessage, to string, at time.Time) {
	err := d.repo.UpdateStatus(ctx, m.ID, model.StatusUpdate{Status: model.Sent, SentAt: at})
	if err != nil {
		d.logUpdateError(err, m.ID, model.Sent)
	} else {
		d.log.Info().Str("id", m.ID).Str("recipient", m.Recipient).Msg("scheduled message sent")
	}

	if d.onSent != nil {
		if err := d.onSent(ctx, m.ID, at); err != nil {
			d.log.Warn().Err(err).Str("id", m.ID).Msg("sent hook")
		}
	}

	requester := d.requesterAddress(m)
	if requester == "" || schedule.SameUser(requester, to) {
		return
	}
	text := fmt.Sprintf("Your scheduled message %q to %s was sent.", m.Message, m.Recipient)
	d.notify(ctx, m, requester, text)
}

func (d *Dispatcher) fail(ctx context.Context, m model.ScheduledMessage, sendErr error, at time.Time) {
	reason := sendErr.Error()
	if reason == "" {
		reason = "send failed"
	}
	d.log.Error().Err(sendErr).Str("id", m.ID).Str("recipient", m.Recipient).Msg("scheduled message failed")

	err := d.repo.UpdateStatus(ctx, m.ID, model.StatusUpdate{Status: model.Failed, SentAt: at, Error: reason})
	if err != nil {
		d.logUpdateError(err, m.ID, model.Failed)
	}

	if d.onFailed != nil {
		if err := d.onFailed(ctx, m.ID, reason, at); err != nil {
			d.log.Warn().Err(err).Str("id", m.ID).Msg("failed hook")
		}
	}

	requester := d.requesterAddress(m)
	if requester == "" {
		return
	}
	text := fmt.Sprintf("Your scheduled message %q to %s could not be sent: %s", m.Message, m.Recipient, reason)
	d.notify(ctx, m, requester, text)
}

// requesterAddress returns where outcome notices for m go, or "" when none
// should be sent. Requesters without a phone number, such as the dashboard,
// are the owner, so their notices go to the logged-in account.
func (d *Dispatcher) requesterAddress(m model.ScheduledMessage) string {
	self := d.messenger.SelfID()
	if m.RequesterID == "" || self == "" {
		return ""
	}
	if !hasDigit(schedule.LocalPart(m.RequesterID)) {
		return self
	}
	return schedule.EnsureAddress(m.RequesterID)
}

func (d *Dispatcher) notify(ctx context.Context, m model.ScheduledMessage, to, text string) {
	if err := d.messenger.SendText(ctx, to, text); err != nil {
		d.log.Warn().Err(err).Str("id", m.ID).Str("requester", m.RequesterID).Msg("requester notification")
	}
}

func hasDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return true
		}
	}
	return false
}

func (d *Dispatcher) logUpdateError(err error, id string, status model.Status) {
	ev := d.log.Error()
	if errors.Is(err, repo.ErrStatusConflict) {
		ev = d.log.Warn()
	}
	ev.Err(err).Str("id", id).Str("status", string(status)).Msg("update schedule status")
}
