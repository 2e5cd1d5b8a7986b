package api

import (
	"regexp"
	"unicode/utf8"
)

// maxSearchLen is the maximum length for free-text search parameters.
const maxSearchLen = 100

// phoneRe validates dialable numbers: optional leading +, 3-15 digits
// (E.164 plus short codes).
var phoneRe = regexp.MustCompile(`^\+?\d{3,15}$`)

// validatePhoneNumber checks that a dial target looks like a phone number.
// Returns an error message if invalid, empty string if OK.
func validatePhoneNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !phoneRe.MatchString(value) {
		return field + " must be a phone number (optional +, 3-15 digits)"
	}
	return ""
}

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}
