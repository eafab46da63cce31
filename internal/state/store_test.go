package state

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

type fakeStateRepo struct {
	stored  *model.BotState
	saves   int
	saveErr error
}

func (f *fakeStateRepo) LoadState(context.Context) (model.BotState, bool, error) {
	if f.stored == nil {
		return model.DefaultBotState(), false, nil
	}
	return *f.stored, true, nil
}

func (f *fakeStateRepo) SaveState(_ context.Context, st model.BotState) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.stored = &st
	return nil
}

func TestStore_LoadCreatesDefaults(t *testing.T) {
	t.Parallel()

	r := &fakeStateRepo{}
	s := NewStore(r, zerolog.Nop())

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !st.OwnerOnline || st.AssistantMode || st.LastQR != model.QRPlaceholder {
		t.Fatalf("unexpected defaults: %+v", st)
	}
	if r.saves != 1 {
		t.Fatalf("expected default document to be written once, got %d saves", r.saves)
	}
}

func TestStore_LoadExisting(t *testing.T) {
	t.Parallel()

	r := &fakeStateRepo{stored: &model.BotState{OwnerOnline: false, AssistantMode: true, LastQR: "x"}}
	s := NewStore(r, zerolog.Nop())

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.OwnerOnline || !st.AssistantMode {
		t.Fatalf("expected stored values, got %+v", st)
	}
	if r.saves != 0 {
		t.Fatalf("expected no write for an existing document, got %d", r.saves)
	}
}

func TestStore_SetReportsChange(t *testing.T) {
	t.Parallel()

	r := &fakeStateRepo{}
	s := NewStore(r, zerolog.Nop())
	ctx := context.Background()

	changed, err := s.SetOwnerOnline(ctx, true)
	if err != nil {
		t.Fatalf("SetOwnerOnline() error: %v", err)
	}
	if changed {
		t.Fatalf("expected no change when already online")
	}
	if r.saves != 0 {
		t.Fatalf("expected no write for a no-op, got %d", r.saves)
	}

	changed, err = s.SetAssistantMode(ctx, true)
	if err != nil {
		t.Fatalf("SetAssistantMode() error: %v", err)
	}
	if !changed {
		t.Fatalf("expected change")
	}
	if r.stored == nil || !r.stored.AssistantMode {
		t.Fatalf("expected assistant mode persisted, got %+v", r.stored)
	}
}

func TestStore_TogglesPersist(t *testing.T) {
	t.Parallel()

	r := &fakeStateRepo{}
	s := NewStore(r, zerolog.Nop())
	ctx := context.Background()

	online, err := s.ToggleOwnerOnline(ctx)
	if err != nil {
		t.Fatalf("ToggleOwnerOnline() error: %v", err)
	}
	if online {
		t.Fatalf("expected owner offline after toggle")
	}

	on, err := s.ToggleAssistantMode(ctx)
	if err != nil {
		t.Fatalf("ToggleAssistantMode() error: %v", err)
	}
	if !on {
		t.Fatalf("expected assistant mode on after toggle")
	}

	if r.stored.OwnerOnline || !r.stored.AssistantMode {
		t.Fatalf("expected toggles persisted, got %+v", r.stored)
	}
}

func TestStore_SessionLifecycle(t *testing.T) {
	t.Parallel()

	r := &fakeStateRepo{}
	s := NewStore(r, zerolog.Nop())
	ctx := context.Background()

	session := map[string]any{"jid": "919365374458@s.whatsapp.net"}
	if err := s.SetSession(ctx, session, "authenticated"); err != nil {
		t.Fatalf("SetSession() error: %v", err)
	}

	// Mutating the caller's map must not leak into the store.
	session["jid"] = "changed"
	if got := s.Snapshot().Session["jid"]; got != "919365374458@s.whatsapp.net" {
		t.Fatalf("expected stored copy, got %v", got)
	}

	if err := s.ClearSession(ctx, model.QRPlaceholder); err != nil {
		t.Fatalf("ClearSession() error: %v", err)
	}
	snap := s.Snapshot()
	if snap.Session != nil || snap.LastQR != model.QRPlaceholder {
		t.Fatalf("expected cleared session, got %+v", snap)
	}
}

func TestStore_SaveFailureKeepsPreviousState(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	r := &fakeStateRepo{saveErr: boom}
	s := NewStore(r, zerolog.Nop())

	_, err := s.ToggleAssistantMode(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected save error, got %v", err)
	}
	if s.Snapshot().AssistantMode {
		t.Fatalf("expected in-memory state unchanged after failed save")
	}
}
