package utils

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// MaxLogStringLength defines the maximum length for user-provided strings in logs
const MaxLogStringLength = 200

// unprintable matches anything that's not a letter, number, punctuation, symbol or whitespace
var unprintable = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{S}\p{Z}]`)

// SanitizeLogString sanitizes a user-controlled string for safe logging
// It replaces control characters and limits string length
func SanitizeLogString(input string) string {
	if input == "" {
		return ""
	}

	if len(input) > MaxLogStringLength {
		input = input[:MaxLogStringLength] + "... (truncated)"
	}

	// Pre-process CRLF to avoid double spaces
	input = strings.ReplaceAll(input, "\r\n", "\n")

	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, input)

	return unprintable.ReplaceAllString(sanitized, "")
}

// RedactURL strips the query and fragment from a join URL before logging.
// Join URLs carry per-user session tokens in the query string.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[invalid url]"
	}

	redacted := u.Scheme + "://" + u.Host + u.Path
	if u.RawQuery != "" || u.Fragment != "" {
		redacted += "?[redacted]"
	}
	return SanitizeLogString(redacted)
}
