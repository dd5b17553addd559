package otp

import "strings"

// DefaultCountryCode is prefixed to bare ten-digit national numbers.
const DefaultCountryCode = "91"

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// NormalizePhone canonicalizes raw input using DefaultCountryCode.
func NormalizePhone(raw string) (string, error) {
	return NormalizePhoneWithCountry(raw, DefaultCountryCode)
}

// NormalizePhoneWithCountry strips every non-digit, prefixes countryCode to a
// ten-digit result and returns "+<digits>" when 10-15 digits remain.
func NormalizePhoneWithCountry(raw, countryCode string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw) + len(countryCode) + 1)
	b.WriteByte('+')

	digits := 0
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
			digits++
		}
	}

	normalized := b.String()
	if digits == minPhoneDigits {
		normalized = "+" + countryCode + normalized[1:]
		digits += len(countryCode)
	}

	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", ErrInvalidFormat
	}
	return normalized, nil
}
