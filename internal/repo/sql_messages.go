package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

// SQLStore keeps schedules and the bot state of one owner in SQLite or PostgreSQL.
// Timestamps are stored as RFC 3339 text so both dialects share one schema.
type SQLStore struct {
	db       *sql.DB
	driver   Driver
	ownerKey string
	now      func() time.Time
}

func NewSQLStore(db *sql.DB, driver Driver, ownerKey string) *SQLStore {
	return &SQLStore{
		db:       db,
		driver:   driver,
		ownerKey: ownerKey,
		now:      time.Now,
	}
}

func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) Create(ctx context.Context, d model.Draft) (string, error) {
	if d.Recipient == "" || d.ScheduledTime.IsZero() {
		return "", errors.New("draft requires recipient and scheduled time")
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO scheduled_messages
			(id, owner_key, recipient, message, scheduled_time, status, created_at, requester_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		id,
		s.ownerKey,
		d.Recipient,
		d.Message,
		d.ScheduledTime.Format(time.RFC3339),
		string(model.Pending),
		s.now().UTC().Format(time.RFC3339Nano),
		d.RequesterID,
	)
	if err != nil {
		return "", fmt.Errorf("insert scheduled message: %w", err)
	}
	return id, nil
}

func (s *SQLStore) ListPending(ctx context.Context) ([]model.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, recipient, message, scheduled_time, status, created_at, sent_at, error, requester_id
		FROM scheduled_messages
		WHERE owner_key = ? AND status = ?
	`), s.ownerKey, string(model.Pending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLStore) ListAll(ctx context.Context) ([]model.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, recipient, message, scheduled_time, status, created_at, sent_at, error, requester_id
		FROM scheduled_messages
		WHERE owner_key = ?
	`), s.ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Stored times carry their own offsets, so text order is not time order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, u model.StatusUpdate) error {
	if !u.Status.Terminal() {
		return fmt.Errorf("%w: cannot move to %q", ErrStatusConflict, u.Status)
	}

	sentAt := u.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	errText := sql.NullString{String: u.Error, Valid: u.Status == model.Failed}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE scheduled_messages
		SET status = ?,
		    sent_at = COALESCE(sent_at, ?),
		    error = COALESCE(error, ?)
		WHERE owner_key = ? AND id = ? AND status IN (?, ?)
	`),
		string(u.Status),
		sentAt.UTC().Format(time.RFC3339Nano),
		errText,
		s.ownerKey,
		id,
		string(model.Pending),
		string(u.Status),
	)
	if err != nil {
		return fmt.Errorf("update scheduled message %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT status FROM scheduled_messages WHERE owner_key = ? AND id = ?
	`), s.ownerKey, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, current)
}

func scanMessages(rows *sql.Rows) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	for rows.Next() {
		var (
			m             model.ScheduledMessage
			status        string
			scheduledTime string
			createdAt     string
			sentAt        sql.NullString
			lastErr       sql.NullString
		)
		if err := rows.Scan(
			&m.ID,
			&m.Recipient,
			&m.Message,
			&scheduledTime,
			&status,
			&createdAt,
			&sentAt,
			&lastErr,
			&m.RequesterID,
		); err != nil {
			return nil, err
		}

		var err error
		if m.ScheduledTime, err = time.Parse(time.RFC3339Nano, scheduledTime); err != nil {
			return nil, fmt.Errorf("message %s: bad scheduled_time %q: %w", m.ID, scheduledTime, err)
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("message %s: bad created_at %q: %w", m.ID, createdAt, err)
		}
		m.Status = model.Status(status)

		if sentAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, sentAt.String)
			if err != nil {
				return nil, fmt.Errorf("message %s: bad sent_at %q: %w", m.ID, sentAt.String, err)
			}
			m.SentAt = &t
		}
		if lastErr.Valid {
			e := lastErr.String
			m.Error = &e
		}

		out = append(out, m)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
