package logger

import "strings"

// RedactPhone masks a phone number for safe logging, keeping the country prefix
// and the last two digits: "+15551234567" → "+1********67".
// Inputs with fewer than five digits are fully masked.
func RedactPhone(phone string) string {
	p := strings.TrimSpace(phone)
	if p == "" {
		return ""
	}
	plus := strings.HasPrefix(p, "+")
	digits := strings.TrimPrefix(p, "+")
	if len(digits) < 5 {
		return "***"
	}
	var b strings.Builder
	if plus {
		b.WriteByte('+')
	}
	b.WriteString(digits[:1])
	b.WriteString(strings.Repeat("*", len(digits)-3))
	b.WriteString(digits[len(digits)-2:])
	return b.String()
}
