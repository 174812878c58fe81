package stt

import (
	"regexp"
	"strings"
)

var (
	// [00:00:00.000 --> 00:00:04.000]
	regexTimestamp = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s-->\s\d{2}:\d{2}:\d{2}\.\d{3}\]`)
	// [BLANK_AUDIO], [MUSIC], (silence) and similar non-speech markers
	regexArtifacts = regexp.MustCompile(`\[[A-Z_ ]+\]|\((?i:silence|music|blank audio|inaudible)\)`)
	regexSpaces    = regexp.MustCompile(`\s+`)
)

// CleanText removes timestamps and non-speech markers from model output.
func CleanText(text string) string {
	text = regexTimestamp.ReplaceAllString(text, "")
	text = regexArtifacts.ReplaceAllString(text, "")
	text = regexSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
