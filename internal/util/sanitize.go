package util

import (
	"html"
	"strings"
)

var suspiciousFragments = []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}

// SanitizeInput trims s and escapes HTML so it can be echoed back safely.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// ContainsSuspicious reports markup or template fragments in client supplied
// identifiers.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, frag := range suspiciousFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
