package service_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/repo"
)

type memRepo struct {
	mu      sync.Mutex
	items   map[string]*model.ScheduledMessage
	seq     int
	listErr error
	saveErr error
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[string]*model.ScheduledMessage{}}
}

func (r *memRepo) Create(_ context.Context, d model.Draft) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return "", r.saveErr
	}
	r.seq++
	id := "id-" + strconv.Itoa(r.seq)
	r.items[id] = &model.ScheduledMessage{
		ID:            id,
		Recipient:     d.Recipient,
		Message:       d.Message,
		ScheduledTime: d.ScheduledTime,
		Status:        d.Status,
		CreatedAt:     time.Now(),
		RequesterID:   d.RequesterID,
	}
	return id, nil
}

func (r *memRepo) ListPending(_ context.Context) ([]model.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []model.ScheduledMessage
	for _, m := range r.sorted() {
		if m.Status == model.Pending {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) ListAll(_ context.Context) ([]model.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.sorted(), nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id string, u model.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	if m.Status != model.Pending && m.Status != u.Status {
		return repo.ErrStatusConflict
	}
	m.Status = u.Status
	if m.SentAt == nil {
		at := u.SentAt
		m.SentAt = &at
	}
	if u.Error != "" && m.Error == nil {
		e := u.Error
		m.Error = &e
	}
	return nil
}

func (r *memRepo) get(id string) model.ScheduledMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *memRepo) sorted() []model.ScheduledMessage {
	out := make([]model.ScheduledMessage, 0, len(r.items))
	for _, m := range r.items {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out
}

type sentText struct {
	to   string
	text string
}

type fakeMessenger struct {
	mu      sync.Mutex
	ready   bool
	self    string
	failFor map[string]error
	sent    []sentText
}

func (f *fakeMessenger) IsReady() bool { return f.ready }

func (f *fakeMessenger) SelfID() string { return f.self }

func (f *fakeMessenger) SendText(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentText{to: to, text: text})
	if err, ok := f.failFor[to]; ok {
		return err
	}
	return nil
}

func (f *fakeMessenger) sends() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

var errNotOnWhatsApp = errors.New("recipient is not on WhatsApp")
