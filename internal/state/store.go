// Package state keeps the owner's bot settings and session document in
// memory and writes every change through to the repository.
package state

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/repo"
)

type Store struct {
	repo repo.StateRepository
	log  zerolog.Logger

	mu sync.RWMutex
	st model.BotState
}

func NewStore(r repo.StateRepository, log zerolog.Logger) *Store {
	return &Store{
		repo: r,
		log:  log.With().Str("component", "state").Logger(),
		st:   model.DefaultBotState(),
	}
}

// Load reads the stored document, creating it with defaults when absent.
func (s *Store) Load(ctx context.Context) (model.BotState, error) {
	st, found, err := s.repo.LoadState(ctx)
	if err != nil {
		return model.BotState{}, fmt.Errorf("load bot state: %w", err)
	}
	if !found {
		st = model.DefaultBotState()
		if err := s.repo.SaveState(ctx, st); err != nil {
			return model.BotState{}, fmt.Errorf("create bot state: %w", err)
		}
		s.log.Info().Msg("bot state created with defaults")
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()

	s.log.Info().
		Bool("owner_online", st.OwnerOnline).
		Bool("assistant_mode", st.AssistantMode).
		Bool("has_session", len(st.Session) > 0).
		Msg("bot state loaded")
	return s.Snapshot(), nil
}

func (s *Store) Snapshot() model.BotState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.st
	out.Session = maps.Clone(s.st.Session)
	return out
}

// SetOwnerOnline reports whether the value changed.
func (s *Store) SetOwnerOnline(ctx context.Context, online bool) (bool, error) {
	return s.mutate(ctx, func(st *model.BotState) bool {
		if st.OwnerOnline == online {
			return false
		}
		st.OwnerOnline = online
		return true
	})
}

// SetAssistantMode reports whether the value changed.
func (s *Store) SetAssistantMode(ctx context.Context, on bool) (bool, error) {
	return s.mutate(ctx, func(st *model.BotState) bool {
		if st.AssistantMode == on {
			return false
		}
		st.AssistantMode = on
		return true
	})
}

func (s *Store) ToggleOwnerOnline(ctx context.Context) (bool, error) {
	var now bool
	_, err := s.mutate(ctx, func(st *model.BotState) bool {
		st.OwnerOnline = !st.OwnerOnline
		now = st.OwnerOnline
		return true
	})
	return now, err
}

func (s *Store) ToggleAssistantMode(ctx context.Context) (bool, error) {
	var now bool
	_, err := s.mutate(ctx, func(st *model.BotState) bool {
		st.AssistantMode = !st.AssistantMode
		now = st.AssistantMode
		return true
	})
	return now, err
}

func (s *Store) SetQR(ctx context.Context, qr string) error {
	_, err := s.mutate(ctx, func(st *model.BotState) bool {
		if st.LastQR == qr {
			return false
		}
		st.LastQR = qr
		return true
	})
	return err
}

func (s *Store) SetSession(ctx context.Context, session map[string]any, qr string) error {
	_, err := s.mutate(ctx, func(st *model.BotState) bool {
		st.Session = maps.Clone(session)
		st.LastQR = qr
		return true
	})
	return err
}

func (s *Store) ClearSession(ctx context.Context, qr string) error {
	_, err := s.mutate(ctx, func(st *model.BotState) bool {
		st.Session = nil
		st.LastQR = qr
		return true
	})
	return err
}

// mutate applies fn and persists the result. The in-memory copy is left
// untouched when the write fails.
func (s *Store) mutate(ctx context.Context, fn func(*model.BotState) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st
	next.Session = maps.Clone(s.st.Session)
	if !fn(&next) {
		return false, nil
	}

	if err := s.repo.SaveState(ctx, next); err != nil {
		s.log.Error().Err(err).Msg("save bot state")
		return false, fmt.Errorf("save bot state: %w", err)
	}
	s.st = next
	return true, nil
}
