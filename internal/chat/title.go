package chat

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	maxTitleRunes = 50
	defaultTitle  = "New conversation"
)

// TitleFrom derives a conversation title from the first message text.
// Whitespace runs collapse to single spaces and the result is cut to 50
// runes with a trailing "...".
func TitleFrom(text string) string {
	text = norm.NFC.String(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return defaultTitle
	}
	runes := []rune(text)
	if len(runes) <= maxTitleRunes {
		return text
	}
	return string(runes[:maxTitleRunes]) + "..."
}
