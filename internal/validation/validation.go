// Package validation checks user-supplied location names before they reach the cache or the provider.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

// Default length bounds for a location, in runes.
const (
	DefaultMinLength = 1
	DefaultMaxLength = 100
)

var (
	ErrLocationEmpty        = errors.New("location is required")
	ErrLocationTooShort     = errors.New("location too short")
	ErrLocationTooLong      = errors.New("location too long")
	ErrLocationInvalidChars = errors.New("location contains invalid characters")
	// ErrLocationNoName is returned when the text before the first comma is empty or only
	// periods; such input has no usable cache key.
	ErrLocationNoName = errors.New("location must start with a place name")
)

// ValidateLocation trims input, enforces length bounds (minLen, maxLen in runes; 0 disables a bound)
// and allows letters in any script, digits, space, comma, hyphen, period and apostrophe.
// Returns the trimmed string; lower-casing is left to the service layer.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	name, _, _ := strings.Cut(s, ",")
	if strings.Trim(name, " .") == "" {
		return "", ErrLocationNoName
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
