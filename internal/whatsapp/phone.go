package whatsapp

import "strings"

const (
	minIdentityDigits = 10
	maxIdentityDigits = 15
)

// NormalizePhoneNumber reduces a phone-like string to its digits and keeps
// at most the last 15, so "+1 (555) 123-4567" and "15551234567" match.
func NormalizePhoneNumber(phoneNumber string) string {
	var b strings.Builder
	b.Grow(len(phoneNumber))
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > maxIdentityDigits {
		digits = digits[len(digits)-maxIdentityDigits:]
	}
	return digits
}

// ValidIdentity reports whether a normalized number has a plausible length
func ValidIdentity(digits string) bool {
	return len(digits) >= minIdentityDigits && len(digits) <= maxIdentityDigits
}
