package util

import "strings"

// MaskPhone hides every digit of a phone number except the last four.
// A leading '+' is preserved so the log line still reads as E.164.
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}

	prefix := ""
	body := phone
	if strings.HasPrefix(body, "+") {
		prefix = "+"
		body = body[1:]
	}

	if len(body) <= 4 {
		return prefix + strings.Repeat("*", len(body))
	}

	return prefix + strings.Repeat("*", len(body)-4) + body[len(body)-4:]
}
