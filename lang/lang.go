// Package lang converts between the language code forms used across the
// pipeline: NLLB codes (deu_Latn) for translation, ISO 639-1 codes (de) for
// whisper, and BCP 47 tags from users and browsers.
package lang

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto means "let the speech model detect the language".
const Auto = "auto"

// NLLB uses individual languages where ISO 639-3 has a macrolanguage.
var nllbOverrides = map[string]string{
	"ar":      "arb_Arab",
	"fa":      "pes_Arab",
	"ms":      "zsm_Latn",
	"et":      "est_Latn",
	"lv":      "lvs_Latn",
	"uz":      "uzn_Latn",
	"sw":      "swh_Latn",
	"ne":      "npi_Deva",
	"ko":      "kor_Hang",
	"no":      "nob_Latn",
	"nb":      "nob_Latn",
	"zh":      "zho_Hans",
	"zh-hans": "zho_Hans",
	"zh-cn":   "zho_Hans",
	"zh-hant": "zho_Hant",
	"zh-tw":   "zho_Hant",
	"zh-hk":   "zho_Hant",
}

var whisperOverrides = map[string]string{
	"arb": "ar",
	"pes": "fa",
	"zsm": "ms",
	"lvs": "lv",
	"uzn": "uz",
	"swh": "sw",
	"npi": "ne",
	"nob": "no",
	"est": "et",
	"zho": "zh",
}

// Normalize returns the NLLB form of code. Empty and "auto" map to the
// empty string. Codes that cannot be parsed are returned unchanged.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, Auto) {
		return ""
	}
	if isNLLB(code) {
		return code
	}

	key := strings.ToLower(strings.ReplaceAll(code, "_", "-"))
	if v, ok := nllbOverrides[key]; ok {
		return v
	}

	tag, err := language.Parse(key)
	if err != nil {
		return code
	}
	base, conf := tag.Base()
	if conf == language.No {
		return code
	}
	if v, ok := nllbOverrides[base.String()]; ok {
		if script, c := tag.Script(); c == language.Exact && base.String() == "zh" {
			return "zho_" + script.String()
		}
		return v
	}
	script, _ := tag.Script()
	return base.ISO3() + "_" + script.String()
}

// Whisper returns the ISO 639-1 code whisper expects for code, or the empty
// string for automatic detection.
func Whisper(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, Auto) {
		return ""
	}

	if isNLLB(code) {
		iso3 := code[:3]
		if v, ok := whisperOverrides[iso3]; ok {
			return v
		}
		base, err := language.ParseBase(iso3)
		if err != nil {
			return iso3
		}
		return base.String()
	}

	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}

// Tag returns the BCP 47 tag for code, keeping the script for languages
// written in more than one.
func Tag(code string) language.Tag {
	n := Normalize(code)
	if !isNLLB(n) {
		return language.Make(code)
	}
	base := Whisper(n)
	if base == "zh" {
		return language.Make(base + "-" + n[4:])
	}
	return language.Make(base)
}

// Name returns the English display name of code, or code itself when it is
// unknown.
func Name(code string) string {
	if code == "" || strings.EqualFold(code, Auto) {
		return "auto-detected language"
	}
	tag := Tag(code)
	if tag == language.Und {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// Same reports whether a and b name the same language.
func Same(a, b string) bool {
	if a == b {
		return true
	}
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

func isNLLB(code string) bool {
	if len(code) != 8 || code[3] != '_' {
		return false
	}
	for i := 0; i < 3; i++ {
		if c := code[i]; c < 'a' || c > 'z' {
			return false
		}
	}
	if c := code[4]; c < 'A' || c > 'Z' {
		return false
	}
	for i := 5; i < 8; i++ {
		if c := code[i]; c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
