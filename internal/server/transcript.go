package server

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
)

// Transcripts is the dialog channel of API runs. Each run registers its
// replies up front; TALK output is collected and returned with the result.
type Transcripts struct {
	mu       sync.Mutex
	sessions map[string]*transcript
}

type transcript struct {
	answers []string
	out     bytes.Buffer
}

// NewTranscripts creates an empty transcript channel.
func NewTranscripts() *Transcripts {
	return &Transcripts{sessions: make(map[string]*transcript)}
}

// Name returns the channel name.
func (t *Transcripts) Name() string { return channel.Dialog }

// Begin registers a session before its run starts.
func (t *Transcripts) Begin(sessionID string, answers []string) {
	if answers == nil {
		answers = []string{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &transcript{answers: answers}
}

// End forgets a session and returns what the script said, one entry per
// line.
func (t *Transcripts) End(sessionID string) []string {
	t.mu.Lock()
	tr, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	text := strings.TrimRight(tr.out.String(), "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

// Open binds a console to the session's transcript.
func (t *Transcripts) Open(ctx context.Context, s channel.Session) (channel.Handle, error) {
	t.mu.Lock()
	tr, ok := t.sessions[s.ID]
	if !ok {
		// scheduled runs have nobody to talk to
		tr = &transcript{answers: []string{}}
	}
	t.mu.Unlock()

	console := channel.NewConsole(channel.ConsoleOptions{
		Out:     &tr.out,
		Answers: tr.answers,
		Prompt:  "> ",
	})
	return console.Open(ctx, s)
}
