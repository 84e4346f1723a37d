package runner

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// DefaultMaxInputSize is 4KB.
const DefaultMaxInputSize = 4096

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeInput enforces the size limit, validates UTF-8 and strips
// control characters other than newline, tab and carriage return.
// A non-positive maxSize selects DefaultMaxInputSize.
func SanitizeInput(input string, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxInputSize
	}
	// Oversized input is rejected, never truncated.
	if len(input) > maxSize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), maxSize)
	}

	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// SanitizeEvent returns event with its text sanitized.
func SanitizeEvent(event domain.InboundEvent, maxSize int) (domain.InboundEvent, error) {
	text, err := SanitizeInput(event.Text, maxSize)
	if err != nil {
		return event, err
	}
	event.Text = text
	event.FromNumber = strings.TrimSpace(event.FromNumber)
	return event, nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
