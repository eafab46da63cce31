package cache

import (
	"context"
	"time"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

type OutcomeCache interface {
	StoreOutcome(ctx context.Context, id string, status model.Status, at time.Time, reason string) error
}
