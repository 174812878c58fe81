package app

import "go.aimuz.me/transcast/livecaption"

// Event names for frontend communication.
const (
	EventChannel     = "caption-channel"
	EventState       = "caption-state"
	EventTranscript  = "caption-transcript"
	EventTranslation = "caption-translation"
	EventNotice      = "caption-notice"
)

// Notice is the payload of EventNotice.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// Translation is the payload of EventTranslation.
type Translation struct {
	Text           string `json:"text"`
	SourceText     string `json:"sourceText"`
	TargetLanguage string `json:"targetLanguage"`
	Partial        bool   `json:"partial"`
	Stale          bool   `json:"stale,omitempty"`
}

func noticeOf(n livecaption.Notice) Notice {
	msg := ""
	if n.Err != nil {
		msg = n.Err.Error()
	}
	return Notice{Kind: string(n.Kind), Message: msg, Fatal: n.Kind.Fatal()}
}

func translationOf(ev livecaption.TranslationEvent) Translation {
	return Translation{
		Text:           ev.Text,
		SourceText:     ev.SourceText,
		TargetLanguage: ev.TargetLanguage,
		Partial:        ev.Partial,
		Stale:          ev.Stale,
	}
}
