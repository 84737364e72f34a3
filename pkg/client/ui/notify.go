package ui

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gen2brain/beeep"
)

// Notifier raises a desktop notification
type Notifier interface {
	Notify(title, message string) error
}

// DesktopNotifier sends notifications through the OS notification service
type DesktopNotifier struct{}

func (DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// mentions reports whether text addresses username as @username. Matching is
// case-insensitive and the mention must end at a word boundary.
func mentions(text, username string) bool {
	if username == "" {
		return false
	}
	lower := strings.ToLower(text)
	needle := "@" + strings.ToLower(username)

	for offset := 0; ; {
		i := strings.Index(lower[offset:], needle)
		if i < 0 {
			return false
		}
		end := offset + i + len(needle)
		if end == len(lower) {
			return true
		}
		if next, _ := utf8.DecodeRuneInString(lower[end:]); !isNameRune(next) {
			return true
		}
		offset = end
	}
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}
