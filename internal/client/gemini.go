package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/retry"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.5-flash"
)

var (
	ErrNotConfigured = errors.New("llm api key not configured")
	ErrEmptyReply    = errors.New("llm returned no text")
)

const replyPrompt = "Reply to this message the way an ordinary person would: short, friendly and direct. Do not offer options or lists. Message: %q"

type Gemini struct {
	baseURL string
	model   string
	apiKey  string
	policy  retry.Policy
	client  *http.Client
	log     zerolog.Logger
}

func NewGemini(baseURL, model, apiKey string, policy retry.Policy, log zerolog.Logger) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	g := &Gemini{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		policy:  policy,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "gemini").Logger(),
	}
	if g.policy.OnRetry == nil {
		g.policy.OnRetry = func(err error, wait time.Duration) {
			g.log.Warn().Err(err).Dur("wait", wait).Msg("llm call failed, retrying")
		}
	}
	return g
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Reply asks the model for a short conversational answer to message.
func (g *Gemini) Reply(ctx context.Context, message string) (string, error) {
	if g.apiKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(generateRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: fmt.Sprintf(replyPrompt, message)}},
		}},
	})
	if err != nil {
		return "", err
	}

	return retry.Do(ctx, g.policy, func(ctx context.Context) (string, error) {
		return g.generate(ctx, body)
	})
}

func (g *Gemini) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
}

func (g *Gemini) generate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// The error carries the request URL, which holds the key.
		return "", fmt.Errorf("generateContent request failed: %s", redact(err.Error(), g.apiKey))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(raw))
	case resp.StatusCode != http.StatusOK:
		return "", retry.Permanent(fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(raw)))
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(raw))
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", retry.Permanent(ErrEmptyReply)
	}
	text := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", retry.Permanent(ErrEmptyReply)
	}
	return text, nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, url.QueryEscape(secret), "REDACTED")
}
