package model

import "encoding/json"

const QRPlaceholder = "QR code is not generated yet. Please wait..."

// BotState is the owner/session document persisted next to the schedules.
type BotState struct {
	OwnerOnline   bool           `json:"isOwnerOnline"`
	AssistantMode bool           `json:"isPersonalAssistantMode"`
	LastQR        string         `json:"lastQrCodeData"`
	Session       map[string]any `json:"session,omitempty"`
}

func DefaultBotState() BotState {
	return BotState{
		OwnerOnline:   true,
		AssistantMode: false,
		LastQR:        QRPlaceholder,
	}
}

// EncodeSession serializes a session for storage. Empty sessions are stored as absent.
func EncodeSession(session map[string]any) *string {
	if len(session) == 0 {
		return nil
	}
	b, err := json.Marshal(session)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// DecodeSession parses a stored session. Anything that is not a non-empty
// JSON object decodes to nil.
func DecodeSession(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
