package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/schedule"
)

var ErrNotConnected = errors.New("whatsapp client is not connected")

// EventSink receives session lifecycle events.
type EventSink interface {
	QRReceived(ctx context.Context, qr string) error
	Authenticated(ctx context.Context, session map[string]any) error
	Ready(ctx context.Context) error
	Disconnected(ctx context.Context, reason string) error
	LoggedOut(ctx context.Context, reason string) error
}

type InboundHandler func(ctx context.Context, in model.Inbound)

// WhatsApp adapts a whatsmeow client to the assistant.
type WhatsApp struct {
	container *sqlstore.Container
	log       zerolog.Logger
	waLog     waLog.Logger
	qrOut     io.Writer

	sink    EventSink
	inbound InboundHandler

	mu  sync.RWMutex
	cli *whatsmeow.Client

	sent *recentIDs
}

// NewWhatsApp opens the device store at path and prepares a client for the
// first stored device, or a fresh one when none is paired.
func NewWhatsApp(ctx context.Context, path string, log zerolog.Logger) (*WhatsApp, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	wl := waLog.Zerolog(log.With().Str("module", "whatsmeow").Logger())

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+path+"?_foreign_keys=on", wl.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	w := &WhatsApp{
		container: container,
		log:       log.With().Str("component", "whatsapp").Logger(),
		waLog:     wl,
		qrOut:     os.Stdout,
		sent:      newRecentIDs(256),
	}
	w.cli = w.newClient(device)
	return w, nil
}

// Bind sets the receivers for lifecycle events and inbound messages. Call it
// before Connect.
func (w *WhatsApp) Bind(sink EventSink, inbound InboundHandler) {
	w.sink = sink
	w.inbound = inbound
}

func (w *WhatsApp) newClient(device *store.Device) *whatsmeow.Client {
	cli := whatsmeow.NewClient(device, w.waLog.Sub("Client"))
	cli.AddEventHandler(w.handleEvent)
	return cli
}

func (w *WhatsApp) client() *whatsmeow.Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cli
}

// Connect opens the connection. An unpaired device first gets a QR channel
// whose codes are rendered to the terminal and forwarded to the sink.
func (w *WhatsApp) Connect(ctx context.Context) error {
	cli := w.client()

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go w.consumeQR(ctx, qrChan)
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	w.log.Info().Bool("paired", cli.Store.ID != nil).Msg("whatsapp connecting")
	return nil
}

// Reinitialize replaces a logged-out client with one on a fresh device and
// connects it, producing a new pairing QR.
func (w *WhatsApp) Reinitialize(ctx context.Context) error {
	w.mu.Lock()
	old := w.cli
	w.cli = w.newClient(w.container.NewDevice())
	w.mu.Unlock()

	old.Disconnect()
	old.RemoveEventHandlers()

	w.log.Info().Msg("whatsapp client reinitialized")
	return w.Connect(ctx)
}

func (w *WhatsApp) consumeQR(ctx context.Context, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			rendered := renderQR(item.Code)
			_, _ = io.WriteString(w.qrOut, rendered)
			w.log.Info().Dur("timeout", item.Timeout).Msg("scan the QR code to pair")
			if w.sink != nil {
				if err := w.sink.QRReceived(ctx, rendered); err != nil {
					w.log.Debug().Err(err).Msg("qr event")
				}
			}
		case whatsmeow.QRChannelSuccess.Event:
			w.log.Info().Msg("pairing succeeded")
		default:
			w.log.Warn().Str("event", item.Event).Err(item.Error).Msg("qr channel")
		}
	}
}

func renderQR(code string) string {
	var buf bytes.Buffer
	qrterminal.GenerateHalfBlock(code, qrterminal.L, &buf)
	return buf.String()
}

func (w *WhatsApp) IsReady() bool {
	cli := w.client()
	return cli.IsConnected() && cli.IsLoggedIn()
}

// SelfID returns the paired account address or "" before pairing.
func (w *WhatsApp) SelfID() string {
	cli := w.client()
	if cli.Store.ID == nil {
		return ""
	}
	return cli.Store.ID.ToNonAD().String()
}

func (w *WhatsApp) SendText(ctx context.Context, to, text string) error {
	cli := w.client()
	if !cli.IsConnected() {
		return ErrNotConnected
	}

	jid, err := types.ParseJID(schedule.EnsureAddress(to))
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	resp, err := cli.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &text,
	})
	if err != nil {
		return err
	}
	w.sent.add(resp.ID)
	return nil
}

func (w *WhatsApp) Logout(ctx context.Context) error {
	return w.client().Logout(ctx)
}

func (w *WhatsApp) Disconnect() {
	w.client().Disconnect()
}

func (w *WhatsApp) Close() error {
	w.Disconnect()
	return w.container.Close()
}

func (w *WhatsApp) handleEvent(evt any) {
	ctx := context.Background()

	var err error
	switch v := evt.(type) {
	case *events.PairSuccess:
		w.log.Info().Str("jid", v.ID.String()).Msg("device paired")
		err = w.emit(func(s EventSink) error {
			return s.Authenticated(ctx, map[string]any{
				"jid":      v.ID.ToNonAD().String(),
				"lid":      v.LID.String(),
				"platform": v.Platform,
			})
		})
	case *events.Connected:
		w.log.Info().Msg("whatsapp connected")
		err = w.emit(func(s EventSink) error { return s.Ready(ctx) })
	case *events.Disconnected:
		err = w.emit(func(s EventSink) error { return s.Disconnected(ctx, "connection lost") })
	case *events.StreamReplaced:
		err = w.emit(func(s EventSink) error { return s.Disconnected(ctx, "stream replaced by another client") })
	case *events.LoggedOut:
		err = w.emit(func(s EventSink) error { return s.LoggedOut(ctx, v.Reason.String()) })
	case *events.Message:
		w.onMessage(ctx, v)
	}

	if err != nil {
		w.log.Debug().Err(err).Type("event", evt).Msg("session event not applied")
	}
}

func (w *WhatsApp) emit(fn func(EventSink) error) error {
	if w.sink == nil {
		return nil
	}
	return fn(w.sink)
}

func (w *WhatsApp) onMessage(ctx context.Context, v *events.Message) {
	if w.inbound == nil {
		return
	}

	text := messageText(v.Message)
	if text == "" {
		return
	}

	cli := w.client()
	var self, selfLID types.JID
	if cli.Store.ID != nil {
		self = *cli.Store.ID
	}
	selfLID = cli.Store.LID

	in := model.Inbound{
		ID:        v.Info.ID,
		Sender:    v.Info.Sender.ToNonAD().String(),
		Chat:      v.Info.Chat.ToNonAD().String(),
		Text:      text,
		FromOwner: v.Info.IsFromMe && isSelfChat(v.Info.Chat, self, selfLID),
		FromBot:   w.sent.contains(v.Info.ID),
	}

	// Replies may call the LLM; keep the event loop free.
	go w.inbound(ctx, in)
}

func messageText(m *waProto.Message) string {
	if m == nil {
		return ""
	}
	if c := m.GetConversation(); c != "" {
		return strings.TrimSpace(c)
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return strings.TrimSpace(ext.GetText())
	}
	return ""
}

func isSelfChat(chat, self, selfLID types.JID) bool {
	if chat.User == "" {
		return false
	}
	switch chat.Server {
	case types.DefaultUserServer:
		return self.User != "" && chat.User == self.User
	case types.HiddenUserServer:
		return selfLID.User != "" && chat.User == selfLID.User
	}
	return false
}

// recentIDs remembers the last n message IDs sent by this process.
type recentIDs struct {
	mu    sync.Mutex
	set   map[string]struct{}
	order []string
	max   int
}

func newRecentIDs(max int) *recentIDs {
	return &recentIDs{set: make(map[string]struct{}, max), max: max}
}

func (r *recentIDs) add(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[id]; ok {
		return
	}
	if len(r.order) == r.max {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
	r.set[id] = struct{}{}
	r.order = append(r.order, id)
}

func (r *recentIDs) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[id]
	return ok
}
