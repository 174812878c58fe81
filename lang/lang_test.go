package lang

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"auto", ""},
		{"de", "deu_Latn"},
		{"de-DE", "deu_Latn"},
		{"en_US", "eng_Latn"},
		{"deu_Latn", "deu_Latn"},
		{"ru", "rus_Cyrl"},
		{"ar", "arb_Arab"},
		{"zh", "zho_Hans"},
		{"zh-TW", "zho_Hant"},
		{"no", "nob_Latn"},
		{"not a language", "not a language"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWhisper(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"auto", ""},
		{"de", "de"},
		{"de-AT", "de"},
		{"deu_Latn", "de"},
		{"eng_Latn", "en"},
		{"arb_Arab", "ar"},
		{"zho_Hant", "zh"},
		{"pes_Arab", "fa"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Whisper(tt.in); got != tt.want {
				t.Errorf("Whisper(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"deu_Latn", "German"},
		{"eng_Latn", "English"},
		{"fr", "French"},
		{"", "auto-detected language"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Name(tt.in); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSame(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"deu_Latn", "deu_Latn", true},
		{"de", "deu_Latn", true},
		{"en-GB", "eng_Latn", true},
		{"deu_Latn", "eng_Latn", false},
		{"", "", true},
		{"", "eng_Latn", false},
		{"zho_Hans", "zho_Hant", false},
		{"xx-unknown", "xx-unknown", true},
	}

	for _, tt := range tests {
		if got := Same(tt.a, tt.b); got != tt.want {
			t.Errorf("Same(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDetector(t *testing.T) {
	d := NewDetector("en", "de", "fr")

	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Guten Morgen, wie geht es dir heute?", "deu_Latn", true},
		{"The weather is lovely this afternoon.", "eng_Latn", true},
		{"Je voudrais un café, s'il vous plaît.", "fra_Latn", true},
		{"hi", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := d.Detect(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Detect(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}
