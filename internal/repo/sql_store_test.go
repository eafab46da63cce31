package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func openTestStore(t *testing.T, ownerKey string) *SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "assistant.db")
	db, err := Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLStore(db, DriverSQLite, ownerKey)
}

func draft(msg string, at time.Time) model.Draft {
	return model.Draft{
		Recipient:     "919365374458@s.whatsapp.net",
		Message:       msg,
		ScheduledTime: at,
		Status:        model.Pending,
		RequesterID:   "918888888888@s.whatsapp.net",
	}
}

func TestSQLStore_CreateThenListPendingRoundTrip(t *testing.T) {
	s := openTestStore(t, "app/owner")
	ctx := context.Background()

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, ist)
	id, err := s.Create(ctx, draft("Hi", at))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected an id")
	}

	items, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(items))
	}

	got := items[0]
	if got.ID != id {
		t.Fatalf("expected id %q, got %q", id, got.ID)
	}
	if got.Recipient != "919365374458@s.whatsapp.net" || got.Message != "Hi" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.ScheduledTime.Equal(at) {
		t.Fatalf("expected scheduled time %v, got %v", at, got.ScheduledTime)
	}
	if got.Status != model.Pending {
		t.Fatalf("expected pending, got %q", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("expected createdAt to be set")
	}
	if got.SentAt != nil || got.Error != nil {
		t.Fatalf("expected no sentAt/error on pending record, got %+v", got)
	}
}

func TestSQLStore_UpdateStatusSentIsIdempotent(t *testing.T) {
	s := openTestStore(t, "app/owner")
	ctx := context.Background()

	id, err := s.Create(ctx, draft("Hi", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	first := time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC)
	if err := s.UpdateStatus(ctx, id, model.StatusUpdate{Status: model.Sent, SentAt: first}); err != nil {
		t.Fatalf("first UpdateStatus() error: %v", err)
	}
	if err := s.UpdateStatus(ctx, id, model.StatusUpdate{Status: model.Sent, SentAt: first.Add(time.Minute)}); err != nil {
		t.Fatalf("second UpdateStatus() error: %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending records, got %d", len(pending))
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error: %v", err)
	}
	if len(all) != 1 || all[0].Status != model.Sent {
		t.Fatalf("expected one sent record, got %+v", all)
	}
	if all[0].SentAt == nil || !all[0].SentAt.Equal(first) {
		t.Fatalf("expected sentAt to stay at the first attempt %v, got %v", first, all[0].SentAt)
	}
}

func TestSQLStore_UpdateStatusRejectsTerminalFlip(t *testing.T) {
	s := openTestStore(t, "app/owner")
	ctx := context.Background()

	id, err := s.Create(ctx, draft("Hi", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := s.UpdateStatus(ctx, id, model.StatusUpdate{Status: model.Failed, Error: "offline"}); err != nil {
		t.Fatalf("UpdateStatus(failed) error: %v", err)
	}

	err = s.UpdateStatus(ctx, id, model.StatusUpdate{Status: model.Sent})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	err = s.UpdateStatus(ctx, id, model.StatusUpdate{Status: model.Pending})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for pending, got %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error: %v", err)
	}
	if all[0].Status != model.Failed || all[0].Error == nil || *all[0].Error != "offline" {
		t.Fatalf("expected failed record with error, got %+v", all[0])
	}
}

func TestSQLStore_UpdateStatusUnknownID(t *testing.T) {
	s := openTestStore(t, "app/owner")

	err := s.UpdateStatus(context.Background(), "missing", model.StatusUpdate{Status: model.Sent})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStore_ListAllSortedByScheduledTime(t *testing.T) {
	s := openTestStore(t, "app/owner")
	ctx := context.Background()

	// 10:00 UTC is later than 12:00 IST even though the text sorts first.
	later := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, 1, 1, 12, 0, 0, 0, ist)

	if _, err := s.Create(ctx, draft("later", later)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := s.Create(ctx, draft("earlier", earlier)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error: %v", err)
	}
	if len(all) != 2 || all[0].Message != "earlier" || all[1].Message != "later" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestSQLStore_OwnerScoping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.db")
	db, err := Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	a := NewSQLStore(db, DriverSQLite, "app/a")
	b := NewSQLStore(db, DriverSQLite, "app/b")
	ctx := context.Background()

	if _, err := a.Create(ctx, draft("for a", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	items, err := b.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected other owner to see nothing, got %d", len(items))
	}
}

func TestSQLStore_StateDefaultsAndSave(t *testing.T) {
	s := openTestStore(t, "app/owner")
	ctx := context.Background()

	st, found, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error: %v", err)
	}
	if found {
		t.Fatalf("expected no stored state")
	}
	if !st.OwnerOnline || st.AssistantMode {
		t.Fatalf("unexpected defaults: %+v", st)
	}

	st.AssistantMode = true
	st.OwnerOnline = false
	st.LastQR = "authenticated"
	st.Session = map[string]any{"jid": "919365374458@s.whatsapp.net"}
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() error: %v", err)
	}

	got, found, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error: %v", err)
	}
	if !found {
		t.Fatalf("expected stored state")
	}
	if got.OwnerOnline || !got.AssistantMode || got.LastQR != "authenticated" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.Session["jid"] != "919365374458@s.whatsapp.net" {
		t.Fatalf("unexpected session: %v", got.Session)
	}

	got.Session = map[string]any{}
	if err := s.SaveState(ctx, got); err != nil {
		t.Fatalf("SaveState() error: %v", err)
	}
	again, _, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error: %v", err)
	}
	if again.Session != nil {
		t.Fatalf("expected empty session stored as absent, got %v", again.Session)
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driver: DriverPostgres}
	if got := s.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("unexpected rebind: %q", got)
	}

	s.driver = DriverSQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("expected sqlite query untouched, got %q", got)
	}
}
