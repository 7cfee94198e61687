// ABOUTME: Transcript export rendering a conversation's markdown messages to HTML
// ABOUTME: Produces a standalone document for the dashboard's download feature

package session

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
)

// transcriptTemplate is the standalone HTML shell around the rendered turns.
var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.turn { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 8px; }
.turn.user { background: #eef2ff; }
.turn.assistant { background: #f4f4f5; }
.role { font-size: 0.75rem; text-transform: uppercase; color: #71717a; margin-bottom: 0.25rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Turns}}<div class="turn {{.Role}}">
<div class="role">{{.Role}}</div>
{{.Body}}
</div>
{{end}}</body>
</html>
`))

type transcriptTurn struct {
	Role string
	Body template.HTML
}

type transcriptData struct {
	Title string
	Turns []transcriptTurn
}

// RenderTranscript writes a standalone HTML transcript of the conversation.
// Message content is treated as markdown.
func RenderTranscript(w io.Writer, conv Conversation, messages []Message) error {
	data := transcriptData{
		Title: conv.Title,
		Turns: make([]transcriptTurn, 0, len(messages)),
	}
	if data.Title == "" {
		data.Title = "Conversation"
	}

	for _, m := range messages {
		var body bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &body); err != nil {
			return fmt.Errorf("rendering message markdown: %w", err)
		}
		data.Turns = append(data.Turns, transcriptTurn{
			Role: string(m.Role),
			Body: template.HTML(body.String()),
		})
	}

	if err := transcriptTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	return nil
}

// ExportTranscript renders the controller's current conversation as HTML.
func (c *Controller) ExportTranscript(w io.Writer) error {
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return fmt.Errorf("no active conversation")
	}
	conv := *c.conv
	messages := make([]Message, len(c.messages))
	copy(messages, c.messages)
	c.mu.Unlock()

	return RenderTranscript(w, conv, messages)
}
