package client

import "strings"

// NormalizePhone strips formatting from addr and returns bare digits. When
// countryCode is set, a 10-digit national number gets it prefixed.
func NormalizePhone(addr, countryCode string) string {
	var b strings.Builder
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			// Not a phone number; hand it back for the channel to reject.
			return strings.TrimSpace(addr)
		}
	}
	digits := b.String()

	cc := strings.TrimLeft(strings.TrimSpace(countryCode), "+")
	if cc != "" && len(digits) == 10 {
		return cc + digits
	}
	return digits
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
