// Package schedule turns chat commands and dashboard form input into
// schedule drafts. Nothing in this package performs I/O; the current time is
// injected so parsing is deterministic.
package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

var (
	commandRe = regexp.MustCompile(`(?i)^send\s+(.+)\s+to\s+([0-9+]+)\s+at\s+([0-9]{1,2}(?::[0-9]{2})?\s*(?:am|pm)?)$`)
	clockRe   = regexp.MustCompile(`(?i)^\s*([0-9]{1,2})(?::([0-9]{2}))?\s*(am|pm)?\s*$`)
)

var dateLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// Policy holds the time-zone and recipient rules applied by the parser.
type Policy struct {
	// Location is the zone every wall-clock input is read in.
	Location    *time.Location
	CountryCode string
	// MinDigits and MaxDigits bound the normalized number; zero disables the check.
	MinDigits int
	MaxDigits int
}

func DefaultPolicy() Policy {
	return Policy{Location: time.Local, CountryCode: "91"}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// Form is the structured input of the dashboard scheduling form.
type Form struct {
	Message         string
	RecipientNumber string
	ScheduledTime   string
}

type Parser struct {
	policy Policy
	now    func() time.Time
}

func NewParser(policy Policy, now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{policy: policy, now: now}
}

func (p *Parser) Policy() Policy {
	return p.policy
}

// ParseCommand parses "send <message> to <number> at <time>".
func (p *Parser) ParseCommand(text, requesterID string) (model.Draft, bool) {
	m := commandRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return model.Draft{}, false
	}
	return p.build(m[1], m[2], m[3], requesterID)
}

func (p *Parser) ParseForm(f Form, requesterID string) (model.Draft, bool) {
	if strings.TrimSpace(f.Message) == "" {
		return model.Draft{}, false
	}
	return p.build(f.Message, f.RecipientNumber, f.ScheduledTime, requesterID)
}

func (p *Parser) build(message, recipientRaw, timeString, requesterID string) (model.Draft, bool) {
	recipient, ok := p.policy.NormalizeRecipient(recipientRaw)
	if !ok {
		return model.Draft{}, false
	}

	at, ok := p.policy.ResolveTime(timeString, p.now())
	if !ok {
		return model.Draft{}, false
	}

	return model.Draft{
		Recipient:     recipient,
		Message:       message,
		ScheduledTime: at,
		Status:        model.Pending,
		RequesterID:   requesterID,
	}, true
}

// ResolveTime converts a date literal or clock time into an instant strictly
// after now, rolling forward by one calendar day at most.
func (p Policy) ResolveTime(timeString string, now time.Time) (time.Time, bool) {
	loc := p.location()
	timeString = strings.TrimSpace(timeString)
	if timeString == "" {
		return time.Time{}, false
	}

	var at time.Time
	if strings.ContainsAny(timeString, "Tt") && strings.Contains(timeString, "-") {
		t, ok := parseDateLiteral(timeString, loc)
		if !ok {
			return time.Time{}, false
		}
		at = t
	} else {
		hour, minute, ok := parseClock(timeString)
		if !ok {
			return time.Time{}, false
		}
		n := now.In(loc)
		at = time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, loc)
	}

	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

func parseDateLiteral(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.In(loc)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc), true
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

func parseClock(s string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}

	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, false
	}

	switch strings.ToLower(m[3]) {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}
