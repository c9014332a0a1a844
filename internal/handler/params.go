package handler

import (
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// identifier returns v when it is a valid hash identifier and "" otherwise.
func identifier(v string) string {
	if !identifierPattern.MatchString(v) {
		return ""
	}
	return v
}

// lowerIdentifier is identifier followed by lowercasing.
func lowerIdentifier(v string) string {
	return strings.ToLower(identifier(v))
}
