package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/repo"
	"github.com/LeventeLantos/whatsapp-assistant/internal/schedule"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Schedules is the create/list surface shared by chat commands and the
// dashboard form.
type Schedules struct {
	parser *schedule.Parser
	repo   repo.MessageRepository
	now    func() time.Time
	log    zerolog.Logger
}

func NewSchedules(p *schedule.Parser, r repo.MessageRepository, log zerolog.Logger) *Schedules {
	return &Schedules{
		parser: p,
		repo:   r,
		now:    time.Now,
		log:    log.With().Str("component", "schedules").Logger(),
	}
}

func (s *Schedules) CreateFromCommand(ctx context.Context, text, requesterID string) (model.ScheduledMessage, error) {
	d, ok := s.parser.ParseCommand(text, requesterID)
	if !ok {
		return model.ScheduledMessage{}, ErrInvalidSchedule
	}
	return s.create(ctx, d)
}

func (s *Schedules) CreateFromForm(ctx context.Context, f schedule.Form, requesterID string) (model.ScheduledMessage, error) {
	d, ok := s.parser.ParseForm(f, requesterID)
	if !ok {
		return model.ScheduledMessage{}, ErrInvalidSchedule
	}
	return s.create(ctx, d)
}

func (s *Schedules) List(ctx context.Context) ([]model.ScheduledMessage, error) {
	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return items, nil
}

// Location is the zone schedule times are interpreted in.
func (s *Schedules) Location() *time.Location {
	if loc := s.parser.Policy().Location; loc != nil {
		return loc
	}
	return time.UTC
}

func (s *Schedules) create(ctx context.Context, d model.Draft) (model.ScheduledMessage, error) {
	id, err := s.repo.Create(ctx, d)
	if err != nil {
		s.log.Error().Err(err).Str("recipient", d.Recipient).Msg("save schedule")
		return model.ScheduledMessage{}, fmt.Errorf("save schedule: %w", err)
	}

	s.log.Info().
		Str("id", id).
		Str("recipient", d.Recipient).
		Time("scheduled_time", d.ScheduledTime).
		Msg("message scheduled")

	return model.ScheduledMessage{
		ID:            id,
		Recipient:     d.Recipient,
		Message:       d.Message,
		ScheduledTime: d.ScheduledTime,
		Status:        d.Status,
		CreatedAt:     s.now(),
		RequesterID:   d.RequesterID,
	}, nil
}
