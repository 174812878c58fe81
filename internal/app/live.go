package app

import (
	"sync"

	"go.aimuz.me/transcast/internal/types"
	"go.aimuz.me/transcast/livecaption"
)

// liveSession tracks the running coordinators so UI actions can reach them.
type liveSession struct {
	mu          sync.RWMutex
	transcriber *livecaption.Transcriber
	translator  *livecaption.Translator
	channelID   string
}

func (l *liveSession) setTranscriber(t *livecaption.Transcriber, channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transcriber = t
	l.channelID = channelID
}

func (l *liveSession) setTranslator(t *livecaption.Translator, channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.translator = t
	l.channelID = channelID
}

func (l *liveSession) withTranscriber(fn func(*livecaption.Transcriber)) bool {
	l.mu.RLock()
	t := l.transcriber
	l.mu.RUnlock()
	if t == nil {
		return false
	}
	fn(t)
	return true
}

func (l *liveSession) withTranslator(fn func(*livecaption.Translator)) bool {
	l.mu.RLock()
	t := l.translator
	l.mu.RUnlock()
	if t == nil {
		return false
	}
	fn(t)
	return true
}

// snapshot merges the projections of both pipelines.
func (l *liveSession) snapshot() types.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s types.Snapshot
	if l.transcriber != nil {
		s = l.transcriber.Snapshot()
	}
	if l.translator != nil {
		ts := l.translator.Snapshot()
		s.TranslatedText = ts.TranslatedText
		s.TargetLanguage = ts.TargetLanguage
		if l.transcriber == nil {
			s.TranscriptText = ts.TranscriptText
			s.SourceLanguage = ts.SourceLanguage
		}
	}
	s.ChannelID = l.channelID
	return s
}
