package api

import (
	"embed"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templatesFS embed.FS

func Router(h *Handler, log zerolog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	r.GET("/", h.Index)
	r.GET("/ping", h.Ping)
	r.GET("/schedule", h.SchedulePage)
	r.POST("/schedule_message", h.ScheduleMessage)
	r.GET("/api/scheduled-messages", h.ListScheduled)
	r.GET("/toggle_owner_status", h.ToggleOwnerStatus)
	r.GET("/toggle_personal_assistant", h.TogglePersonalAssistant)
	r.GET("/logout", h.Logout)

	v1 := r.Group("/v1")
	v1.GET("/health", h.Health)
	v1.GET("/scheduler/status", h.SchedulerStatus)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
	})

	return r
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
