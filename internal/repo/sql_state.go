package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

func (s *SQLStore) LoadState(ctx context.Context) (model.BotState, bool, error) {
	var (
		st      model.BotState
		session sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT owner_online, assistant_mode, last_qr, session
		FROM bot_state
		WHERE owner_key = ?
	`), s.ownerKey).Scan(&st.OwnerOnline, &st.AssistantMode, &st.LastQR, &session)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultBotState(), false, nil
	}
	if err != nil {
		return model.BotState{}, false, fmt.Errorf("load bot state: %w", err)
	}

	if session.Valid {
		st.Session = model.DecodeSession(&session.String)
	}
	return st, true, nil
}

func (s *SQLStore) SaveState(ctx context.Context, st model.BotState) error {
	var session sql.NullString
	if raw := model.EncodeSession(st.Session); raw != nil {
		session = sql.NullString{String: *raw, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO bot_state (owner_key, owner_online, assistant_mode, last_qr, session, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_key) DO UPDATE SET
			owner_online = excluded.owner_online,
			assistant_mode = excluded.assistant_mode,
			last_qr = excluded.last_qr,
			session = excluded.session,
			updated_at = excluded.updated_at
	`),
		s.ownerKey,
		st.OwnerOnline,
		st.AssistantMode,
		st.LastQR,
		session,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save bot state: %w", err)
	}
	return nil
}
