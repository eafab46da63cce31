package schedule

import "strings"

const (
	PersonalServer = "s.whatsapp.net"
	GroupServer    = "g.us"

	// legacyPersonalServer is the suffix older records were written with.
	legacyPersonalServer = "c.us"
)

// NormalizeRecipient turns a raw phone number into a personal chat address.
func (p Policy) NormalizeRecipient(raw string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	digits = strings.TrimPrefix(digits, "0")
	if digits == "" {
		return "", false
	}

	if len(digits) == 10 && p.CountryCode != "" {
		digits = p.CountryCode + digits
	}

	if p.MinDigits > 0 && len(digits) < p.MinDigits {
		return "", false
	}
	if p.MaxDigits > 0 && len(digits) > p.MaxDigits {
		return "", false
	}

	return digits + "@" + PersonalServer, true
}

// EnsureAddress guarantees a destination suffix on a stored recipient.
func EnsureAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	user, server, ok := strings.Cut(addr, "@")
	if !ok {
		return addr + "@" + PersonalServer
	}
	switch server {
	case PersonalServer, GroupServer:
		return addr
	case legacyPersonalServer:
		return user + "@" + PersonalServer
	default:
		return addr
	}
}

// LocalPart returns the address without its domain suffix.
func LocalPart(addr string) string {
	user, _, _ := strings.Cut(addr, "@")
	return user
}

// SameUser reports whether two addresses point at the same account,
// ignoring device suffixes and the legacy personal domain.
func SameUser(a, b string) bool {
	ua := strings.SplitN(LocalPart(EnsureAddress(a)), ":", 2)[0]
	ub := strings.SplitN(LocalPart(EnsureAddress(b)), ":", 2)[0]
	return ua != "" && ua == ub
}
