// Package transcript renders conversation histories into downloadable documents.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
)

// Format names a supported export format.
type Format string

const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// ParseFormat resolves a format name, defaulting to HTML.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "html":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// FileName is the attachment name offered to the browser.
func (f Format) FileName() string {
	return "conversation." + string(f)
}

// ContentType is the MIME type of the rendered document.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/html; charset=utf-8"
}

// ExportCode identifies the study arm and participant that produced a transcript.
func ExportCode(cfg experiment.Config, userID string) string {
	return cfg.Code() + "_" + userID
}

// Render dispatches to the renderer for format.
func Render(format Format, history []chat.Message, userID string, cfg experiment.Config) (*bytes.Buffer, error) {
	switch format {
	case FormatHTML:
		return RenderHTML(history, userID, cfg), nil
	case FormatJSON:
		return RenderJSON(history, userID, cfg)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

const pageStyle = `body { font-family: Arial, sans-serif; padding: 20px; background: #f5f7fa; }
.msg { margin-bottom: 16px; padding: 10px 14px; border-radius: 12px; }
.user { background: #ddeeff; }
.assistant { background: #f0e5ff; }
.timestamp { color: #888; font-size: 0.85em; }
.role { font-weight: bold; }`

// RenderHTML produces a self-contained HTML page listing every message in order.
func RenderHTML(history []chat.Message, userID string, cfg experiment.Config) *bytes.Buffer {
	lines := []string{
		"<html><head><meta charset='utf-8'><title>Conversation Export</title>",
		"<style>",
		pageStyle,
		"</style></head><body>",
		fmt.Sprintf("<h2>Climate Change AI Assistant Chat (User ID: %s)</h2>", html.EscapeString(userID)),
		"<hr>",
	}

	for _, msg := range history {
		role, class := "Assistant", "assistant"
		if msg.IsUser() {
			role, class = "User", "user"
		}

		lines = append(lines, fmt.Sprintf("<div class='msg %s'>", class))
		if msg.Timestamp != "" {
			lines = append(lines, fmt.Sprintf("<span class='timestamp'>[%s]</span><br>", html.EscapeString(msg.Timestamp)))
		}
		lines = append(lines,
			fmt.Sprintf("<span class='role'>%s:</span><br>", role),
			fmt.Sprintf("<div>%s</div>", contentHTML(msg.Content)),
			"</div>",
		)
	}

	lines = append(lines,
		"<hr>",
		fmt.Sprintf("<div><b>Export code:</b> %s</div>", html.EscapeString(ExportCode(cfg, userID))),
		"</body></html>",
	)

	return bytes.NewBufferString(strings.Join(lines, "\n"))
}

func contentHTML(content string) string {
	escaped := html.EscapeString(content)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

type jsonTranscript struct {
	UserID     string            `json:"userId"`
	Config     experiment.Config `json:"config"`
	ExportCode string            `json:"exportCode"`
	Messages   []chat.Message    `json:"messages"`
}

// RenderJSON produces the same transcript as an indented JSON document.
func RenderJSON(history []chat.Message, userID string, cfg experiment.Config) (*bytes.Buffer, error) {
	doc := jsonTranscript{
		UserID:     userID,
		Config:     cfg,
		ExportCode: ExportCode(cfg, userID),
		Messages:   append([]chat.Message{}, history...),
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return buf, nil
}
