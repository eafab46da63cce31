package repo

import (
	"context"
	"errors"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

var (
	ErrNotFound       = errors.New("scheduled message not found")
	ErrStatusConflict = errors.New("scheduled message already in another terminal status")
)

type MessageRepository interface {
	Create(ctx context.Context, d model.Draft) (string, error)
	ListPending(ctx context.Context) ([]model.ScheduledMessage, error)
	ListAll(ctx context.Context) ([]model.ScheduledMessage, error)
	UpdateStatus(ctx context.Context, id string, u model.StatusUpdate) error
}

type StateRepository interface {
	LoadState(ctx context.Context) (model.BotState, bool, error)
	SaveState(ctx context.Context, st model.BotState) error
}
