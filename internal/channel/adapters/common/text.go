package common

import (
	"strings"
	"unicode/utf8"
)

const summaryMaxRunes = 120

// SummarizeText collapses whitespace and truncates text for log lines.
func SummarizeText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= summaryMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:summaryMaxRunes]) + "..."
}

// TruncateRunes truncates text to at most limit bytes on a rune boundary, appending "..."
// when anything was cut.
func TruncateRunes(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	const suffix = "..."
	cut := limit - len(suffix)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + suffix
}
