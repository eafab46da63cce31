// Package command routes the owner's chat messages to schedule creation,
// settings changes and the LLM assistant.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/client"
	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/schedule"
	"github.com/LeventeLantos/whatsapp-assistant/internal/service"
)

const (
	FormatHelp = `Sorry, the schedule command format is wrong. Use "send [message] to [number] at [time]". Example: "send Hi to 9365374458 at 12:00pm"`
	SaveFailed = "There was an error saving the scheduled message."

	OnlineNow       = "Your status is now: online. The bot will not reply to other users."
	OfflineNow      = "Your status is now: offline. The bot will not reply to anyone, apart from following your instructions and sending scheduled messages."
	AlreadyOnline   = "You are already online."
	AlreadyOffline  = "You are already offline."
	AssistantOnNow  = "Your personal assistant mode is now on. I will reply to your messages."
	AssistantOffNow = "Your personal assistant mode is now off. I will not reply to your messages."
	AlreadyOn       = "Personal assistant mode is already on."
	AlreadyOff      = "Personal assistant mode is already off."

	LLMUnavailable = "Sorry, I can't reply right now. Please try again in a little while."
	LLMNoAnswer    = "Sorry, I didn't quite understand that."
	LLMFailed      = "Sorry, something went wrong on my side."
)

type Scheduler interface {
	CreateFromCommand(ctx context.Context, text, requesterID string) (model.ScheduledMessage, error)
	Location() *time.Location
}

type Settings interface {
	Snapshot() model.BotState
	SetOwnerOnline(ctx context.Context, online bool) (bool, error)
	SetAssistantMode(ctx context.Context, on bool) (bool, error)
}

type Assistant interface {
	Reply(ctx context.Context, message string) (string, error)
}

type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

type Router struct {
	schedules Scheduler
	settings  Settings
	assistant Assistant
	out       Sender
	log       zerolog.Logger
}

func NewRouter(s Scheduler, st Settings, a Assistant, out Sender, log zerolog.Logger) *Router {
	return &Router{
		schedules: s,
		settings:  st,
		assistant: a,
		out:       out,
		log:       log.With().Str("component", "router").Logger(),
	}
}

// Handle processes one inbound message. Only messages the owner writes in
// their own chat are acted on.
func (r *Router) Handle(ctx context.Context, in model.Inbound) {
	if in.FromBot || strings.TrimSpace(in.Text) == "" {
		return
	}
	if !in.FromOwner {
		r.log.Debug().Str("chat", in.Chat).Msg("message not from owner, ignoring")
		return
	}

	text := strings.TrimSpace(in.Text)
	lower := strings.ToLower(text)

	switch {
	case strings.HasPrefix(lower, "send "):
		r.schedule(ctx, in, text)
	case lower == "online true":
		r.toggle(ctx, in, r.settings.SetOwnerOnline, true, OnlineNow, AlreadyOnline)
	case lower == "online false":
		r.toggle(ctx, in, r.settings.SetOwnerOnline, false, OfflineNow, AlreadyOffline)
	case lower == "assistant on":
		r.toggle(ctx, in, r.settings.SetAssistantMode, true, AssistantOnNow, AlreadyOn)
	case lower == "assistant off":
		r.toggle(ctx, in, r.settings.SetAssistantMode, false, AssistantOffNow, AlreadyOff)
	default:
		if r.settings.Snapshot().AssistantMode {
			r.reply(ctx, in, r.askAssistant(ctx, text))
		}
	}
}

func (r *Router) schedule(ctx context.Context, in model.Inbound, text string) {
	requester := in.Sender
	if requester == "" {
		requester = in.Chat
	}

	m, err := r.schedules.CreateFromCommand(ctx, text, requester)
	switch {
	case errors.Is(err, service.ErrInvalidSchedule):
		r.reply(ctx, in, FormatHelp)
	case err != nil:
		r.reply(ctx, in, SaveFailed)
	default:
		when := m.ScheduledTime.In(r.schedules.Location()).Format("02 Jan 2006 03:04 PM MST")
		r.reply(ctx, in, fmt.Sprintf("Message %q to %s is scheduled for %s.", m.Message, schedule.LocalPart(m.Recipient), when))
	}
}

func (r *Router) toggle(
	ctx context.Context,
	in model.Inbound,
	set func(context.Context, bool) (bool, error),
	value bool,
	changedText, unchangedText string,
) {
	changed, err := set(ctx, value)
	if err != nil {
		r.log.Error().Err(err).Msg("update bot settings")
		r.reply(ctx, in, LLMFailed)
		return
	}
	if !changed {
		r.reply(ctx, in, unchangedText)
		return
	}
	r.log.Info().Str("command", strings.ToLower(in.Text)).Msg("owner changed settings")
	r.reply(ctx, in, changedText)
}

func (r *Router) askAssistant(ctx context.Context, text string) string {
	answer, err := r.assistant.Reply(ctx, text)
	switch {
	case err == nil:
		return answer
	case errors.Is(err, client.ErrNotConfigured):
		return LLMUnavailable
	case errors.Is(err, client.ErrEmptyReply):
		return LLMNoAnswer
	default:
		r.log.Error().Err(err).Msg("assistant reply")
		return LLMFailed
	}
}

func (r *Router) reply(ctx context.Context, in model.Inbound, text string) {
	if err := r.out.SendText(ctx, in.Chat, text); err != nil {
		r.log.Error().Err(err).Str("chat", in.Chat).Msg("send reply")
	}
}
