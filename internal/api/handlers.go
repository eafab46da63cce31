package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/schedule"
	"github.com/LeventeLantos/whatsapp-assistant/internal/service"
	"github.com/LeventeLantos/whatsapp-assistant/internal/session"
)

// WebRequester marks schedules created from the dashboard.
const WebRequester = "web"

type Session interface {
	State() session.State
	IsReady() bool
	Logout(ctx context.Context) error
}

type Settings interface {
	Snapshot() model.BotState
	ToggleOwnerOnline(ctx context.Context) (bool, error)
	ToggleAssistantMode(ctx context.Context) (bool, error)
}

type Schedules interface {
	CreateFromForm(ctx context.Context, f schedule.Form, requesterID string) (model.ScheduledMessage, error)
	List(ctx context.Context) ([]model.ScheduledMessage, error)
}

type Poller interface {
	IsRunning() bool
	Cycles() uint64
}

type Handler struct {
	session   Session
	settings  Settings
	schedules Schedules
	poller    Poller
	zone      string
	log       zerolog.Logger
}

func NewHandler(sess Session, st Settings, sc Schedules, p Poller, zone string, log zerolog.Logger) *Handler {
	return &Handler{
		session:   sess,
		settings:  st,
		schedules: sc,
		poller:    p,
		zone:      zone,
		log:       log.With().Str("component", "api").Logger(),
	}
}

type scheduleRequest struct {
	RecipientNumber string `form:"recipientNumber" json:"recipientNumber"`
	Message         string `form:"message" json:"message"`
	ScheduledTime   string `form:"scheduledTime" json:"scheduledTime"`
}

type scheduleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func (h *Handler) Index(c *gin.Context) {
	st := h.settings.Snapshot()
	if h.session.IsReady() {
		c.HTML(http.StatusOK, "status.html", st)
		return
	}
	c.HTML(http.StatusOK, "qr.html", gin.H{
		"QR":    st.LastQR,
		"State": h.session.State(),
	})
}

func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *Handler) SchedulePage(c *gin.Context) {
	c.HTML(http.StatusOK, "schedule.html", gin.H{"Zone": h.zone})
}

func (h *Handler) ScheduleMessage(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, scheduleResponse{Message: "Invalid request body."})
		return
	}

	if strings.TrimSpace(req.RecipientNumber) == "" || strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.ScheduledTime) == "" {
		c.JSON(http.StatusBadRequest, scheduleResponse{Message: "Please fill in all required fields."})
		return
	}

	m, err := h.schedules.CreateFromForm(c.Request.Context(), schedule.Form{
		Message:         req.Message,
		RecipientNumber: req.RecipientNumber,
		ScheduledTime:   req.ScheduledTime,
	}, WebRequester)
	switch {
	case errors.Is(err, service.ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, scheduleResponse{
			Message: "Invalid number or time format. Make sure the number includes the country code and the time is valid.",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, scheduleResponse{Message: "There was an error saving the scheduled message."})
	default:
		c.JSON(http.StatusOK, scheduleResponse{Success: true, Message: "Message scheduled successfully!", ID: m.ID})
	}
}

func (h *Handler) ListScheduled(c *gin.Context) {
	items, err := h.schedules.List(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list scheduled messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "There was an error loading the scheduled messages."})
		return
	}
	if items == nil {
		items = []model.ScheduledMessage{}
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) ToggleOwnerStatus(c *gin.Context) {
	if _, err := h.settings.ToggleOwnerOnline(c.Request.Context()); err != nil {
		c.String(http.StatusInternalServerError, "Could not save the owner status.")
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) TogglePersonalAssistant(c *gin.Context) {
	if _, err := h.settings.ToggleAssistantMode(c.Request.Context()); err != nil {
		c.String(http.StatusInternalServerError, "Could not save the assistant mode.")
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) Logout(c *gin.Context) {
	err := h.session.Logout(c.Request.Context())
	switch {
	case errors.Is(err, session.ErrNotReady):
		c.String(http.StatusBadRequest, "The WhatsApp client is not ready or is already logged out.")
	case err != nil:
		h.log.Error().Err(err).Msg("logout")
		c.String(http.StatusInternalServerError, "Logout failed.")
	default:
		c.Redirect(http.StatusFound, "/")
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": h.poller.IsRunning(),
		"cycles":  h.poller.Cycles(),
		"session": h.session.State(),
	})
}
