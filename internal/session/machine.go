// Package session tracks the lifecycle of the messaging connection and ties
// the dispatch poller to it: the poller runs only while the session is ready.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

type State string

const (
	Uninitialized State = "uninitialized"
	AwaitingScan  State = "awaiting-scan"
	Authenticated State = "authenticated"
	Ready         State = "ready"
	Disconnected  State = "disconnected"
)

type Event string

const (
	EventQRReceived    Event = "qr"
	EventAuthenticated Event = "authenticated"
	EventReady         Event = "ready"
	EventDisconnected  Event = "disconnected"
	EventLoggedOut     Event = "logged_out"
	EventLogout        Event = "logout"
)

const (
	AuthenticatedText = "Authenticated! Waiting for the client to become ready..."
	ReadyText         = "Client is ready!"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNotReady          = errors.New("session is not ready")
)

// transitions lists, per event, the states it may fire from and the state it
// leads to.
var transitions = map[Event]struct {
	from []State
	to   State
}{
	EventQRReceived:    {from: []State{Uninitialized, AwaitingScan, Disconnected}, to: AwaitingScan},
	EventAuthenticated: {from: []State{Uninitialized, AwaitingScan, Disconnected}, to: Authenticated},
	EventReady:         {from: []State{Uninitialized, AwaitingScan, Authenticated, Disconnected, Ready}, to: Ready},
	EventDisconnected:  {from: []State{AwaitingScan, Authenticated, Ready, Disconnected}, to: Disconnected},
	EventLoggedOut:     {from: []State{Uninitialized, AwaitingScan, Authenticated, Ready, Disconnected}, to: Uninitialized},
	EventLogout:        {from: []State{Ready}, to: Uninitialized},
}

type Poller interface {
	Start() bool
	Stop() bool
	IsRunning() bool
}

// SessionStore persists the pairing status shown on the dashboard.
type SessionStore interface {
	SetQR(ctx context.Context, qr string) error
	SetSession(ctx context.Context, session map[string]any, qr string) error
	ClearSession(ctx context.Context, qr string) error
}

type Transport interface {
	Logout(ctx context.Context) error
}

type Machine struct {
	poller    Poller
	store     SessionStore
	transport Transport
	log       zerolog.Logger

	onReady  func(ctx context.Context)
	onLogout func(ctx context.Context)

	mu    sync.Mutex
	state State
}

func NewMachine(p Poller, store SessionStore, t Transport, log zerolog.Logger) *Machine {
	return &Machine{
		poller:    p,
		store:     store,
		transport: t,
		log:       log.With().Str("component", "session").Logger(),
		state:     Uninitialized,
	}
}

// WithHooks sets callbacks run after the session becomes ready and after it
// has been logged out. Either may be nil.
func (m *Machine) WithHooks(onReady, onLogout func(ctx context.Context)) *Machine {
	m.onReady = onReady
	m.onLogout = onLogout
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) IsReady() bool {
	return m.State() == Ready
}

func (m *Machine) QRReceived(ctx context.Context, qr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(EventQRReceived); err != nil {
		return err
	}
	return m.store.SetQR(ctx, qr)
}

func (m *Machine) Authenticated(ctx context.Context, session map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(EventAuthenticated); err != nil {
		return err
	}
	return m.store.SetSession(ctx, session, AuthenticatedText)
}

// Ready restarts the poller so exactly one loop runs for the new session.
func (m *Machine) Ready(ctx context.Context) error {
	m.mu.Lock()
	if err := m.transition(EventReady); err != nil {
		m.mu.Unlock()
		return err
	}
	m.poller.Stop()
	m.poller.Start()
	err := m.store.SetQR(ctx, ReadyText)
	m.mu.Unlock()

	if m.onReady != nil {
		m.onReady(ctx)
	}
	return err
}

// Disconnected stops the poller but keeps the stored session so the client
// can resume with the same device.
func (m *Machine) Disconnected(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(EventDisconnected); err != nil {
		return err
	}
	m.poller.Stop()
	m.log.Warn().Str("reason", reason).Msg("session disconnected")
	return m.store.SetQR(ctx, model.QRPlaceholder)
}

// LoggedOut handles a logout initiated by the phone or the server.
func (m *Machine) LoggedOut(ctx context.Context, reason string) error {
	m.mu.Lock()
	if err := m.transition(EventLoggedOut); err != nil {
		m.mu.Unlock()
		return err
	}
	err := m.teardown(ctx, reason)
	m.mu.Unlock()

	if m.onLogout != nil {
		m.onLogout(ctx)
	}
	return err
}

// Logout is the owner-initiated logout from the dashboard.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Ready {
		m.mu.Unlock()
		return ErrNotReady
	}
	if err := m.transport.Logout(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("logout: %w", err)
	}
	if err := m.transition(EventLogout); err != nil {
		m.mu.Unlock()
		return err
	}
	err := m.teardown(ctx, "owner logout")
	m.mu.Unlock()

	if m.onLogout != nil {
		m.onLogout(ctx)
	}
	return err
}

func (m *Machine) teardown(ctx context.Context, reason string) error {
	m.poller.Stop()
	m.log.Warn().Str("reason", reason).Msg("session logged out")
	return m.store.ClearSession(ctx, model.QRPlaceholder)
}

// transition must be called with mu held.
func (m *Machine) transition(ev Event) error {
	t, ok := transitions[ev]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	for _, from := range t.from {
		if from == m.state {
			m.log.Info().Str("from", string(m.state)).Str("to", string(t.to)).Str("event", string(ev)).Msg("session transition")
			m.state = t.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, m.state)
}
