package lang

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// minDetectRunes is the shortest text worth running detection on.
const minDetectRunes = 3

// Detector guesses the language of short transcript text.
type Detector struct {
	detector lingua.LanguageDetector
}

// NewDetector builds a detector restricted to the given ISO 639-1 codes, or
// to every supported language when none are given. Unknown codes are
// ignored.
func NewDetector(codes ...string) *Detector {
	builder := lingua.NewLanguageDetectorBuilder()

	var isoCodes []lingua.IsoCode639_1
	for _, c := range codes {
		iso := lingua.GetIsoCode639_1FromValue(Whisper(c))
		if iso != lingua.UnknownIsoCode639_1 {
			isoCodes = append(isoCodes, iso)
		}
	}

	var b lingua.LanguageDetectorBuilder
	if len(isoCodes) >= 2 {
		b = builder.FromIsoCodes639_1(isoCodes...)
	} else {
		b = builder.FromAllLanguages()
	}
	return &Detector{detector: b.WithLowAccuracyMode().Build()}
}

// Detect returns the NLLB code of the language text is most likely written
// in.
func (d *Detector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minDetectRunes {
		return "", false
	}
	l, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return Normalize(strings.ToLower(l.IsoCode639_1().String())), true
}
