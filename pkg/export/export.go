// Package export renders debate transcripts into shareable artifacts:
// machine-readable JSON, spreadsheet-friendly CSV, and a self-contained HTML
// page with message bodies rendered from markdown.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/yuin/goldmark"

	"github.com/aragora/aragora/pkg/services"
	"github.com/aragora/aragora/pkg/version"
)

// Format selects the output encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatHTML:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, csv, or html)", s)
}

// Write renders the transcript to w in the given format.
func Write(w io.Writer, format Format, tr *services.Transcript) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, tr)
	case FormatCSV:
		return writeCSV(w, tr)
	case FormatHTML:
		return writeHTML(w, tr)
	}
	return fmt.Errorf("unknown export format %q", format)
}

func writeJSON(w io.Writer, tr *services.Transcript) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"exported_at": time.Now().UTC().Format(time.RFC3339),
		"exporter":    version.Full(),
		"transcript":  tr,
	})
}

// writeCSV emits one row per message and one per vote, sharing a column set
// so the file loads into a single sheet.
func writeCSV(w io.Writer, tr *services.Transcript) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"kind", "round", "agent", "role", "content", "choice", "confidence", "created_at",
	}); err != nil {
		return err
	}

	for _, m := range tr.Messages {
		confidence := ""
		if m.Confidence != nil {
			confidence = strconv.FormatFloat(*m.Confidence, 'f', -1, 64)
		}
		if err := cw.Write([]string{
			"message", strconv.Itoa(m.Round), m.Agent, m.Role, m.Content,
			"", confidence, m.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	for _, v := range tr.Votes {
		if err := cw.Write([]string{
			"vote", "", v.Agent, "", v.Reasoning, v.Choice,
			strconv.FormatFloat(v.Confidence, 'f', -1, 64),
			v.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// htmlMessage is a message with its body pre-rendered from markdown.
type htmlMessage struct {
	Round int
	Agent string
	Role  string
	Body  template.HTML
}

type htmlData struct {
	Task     string
	Slug     string
	Outcome  string
	Messages []htmlMessage
	Votes    []htmlVote
	Exporter string
}

type htmlVote struct {
	Agent      string
	Choice     string
	Confidence float64
	Reasoning  string
}

func writeHTML(w io.Writer, tr *services.Transcript) error {
	data := htmlData{
		Task:     tr.Debate.Task,
		Slug:     tr.Debate.Slug,
		Outcome:  string(tr.Debate.Outcome),
		Exporter: version.Full(),
	}
	for _, m := range tr.Messages {
		body, err := renderMarkdown(m.Content)
		if err != nil {
			return fmt.Errorf("rendering message by %s round %d: %w", m.Agent, m.Round, err)
		}
		data.Messages = append(data.Messages, htmlMessage{
			Round: m.Round,
			Agent: m.Agent,
			Role:  m.Role,
			Body:  body,
		})
	}
	for _, v := range tr.Votes {
		data.Votes = append(data.Votes, htmlVote{
			Agent:      v.Agent,
			Choice:     v.Choice,
			Confidence: v.Confidence,
			Reasoning:  v.Reasoning,
		})
	}
	return pageTemplate.Execute(w, data)
}

// renderMarkdown converts agent markdown to HTML. Goldmark's default policy
// drops raw HTML in the source, so agent output cannot inject markup.
func renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

var pageTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Task}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
header { border-bottom: 2px solid #ddd; padding-bottom: 1rem; }
.outcome { font-weight: 600; text-transform: uppercase; letter-spacing: .05em; }
.message { border: 1px solid #e2e2e2; border-radius: 6px; margin: 1rem 0; padding: .5rem 1rem; }
.meta { color: #666; font-size: .85rem; }
.vote { background: #f7f7f7; border-radius: 6px; margin: .5rem 0; padding: .5rem 1rem; }
footer { margin-top: 2rem; color: #999; font-size: .8rem; }
</style>
</head>
<body>
<header>
<h1>{{.Task}}</h1>
<p class="meta">{{.Slug}} &middot; outcome: <span class="outcome">{{.Outcome}}</span></p>
</header>
<section>
{{range .Messages}}<article class="message">
<p class="meta">round {{.Round}} &middot; {{.Agent}} ({{.Role}})</p>
{{.Body}}
</article>
{{end}}</section>
<section>
<h2>Votes</h2>
{{range .Votes}}<div class="vote">
<p class="meta">{{.Agent}} &rarr; {{.Choice}} ({{printf "%.2f" .Confidence}})</p>
<p>{{.Reasoning}}</p>
</div>
{{end}}</section>
<footer>exported by {{.Exporter}}</footer>
</body>
</html>
`))
