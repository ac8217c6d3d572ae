package notify

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// Message is the human-readable form of an Event.
type Message struct {
	Subject string
	// Text is Markdown.
	Text string
	HTML string
}

var (
	sanitizer = bluemonday.UGCPolicy()
	mdConv    = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	mdRender = goldmark.New()
)

// Render formats e for people. The excerpt is sanitized before it is
// converted, so page scripts and handlers never reach a mail client.
func Render(e Event) (Message, error) {
	name := e.WatchID
	if name == "" || name == "default" {
		name = host(e.URL)
	}
	m := Message{Subject: "Change detected: " + name}
	if e.Baseline() {
		m.Subject = "Now watching: " + name
	}

	var b strings.Builder
	if e.Baseline() {
		fmt.Fprintf(&b, "First observation of %s.\n\n", e.URL)
	} else {
		fmt.Fprintf(&b, "The page %s has changed.\n\n", e.URL)
	}

	if len(e.Items) > 0 {
		fmt.Fprintf(&b, "Current entries (%d):\n\n", len(e.Items))
		for _, it := range e.Items {
			b.WriteString("- ")
			b.WriteString(it)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	} else {
		b.WriteString("The watched region is currently empty.\n\n")
	}

	if e.Excerpt != "" {
		md, err := mdConv.ConvertString(sanitizer.Sanitize(e.Excerpt), converter.WithDomain(e.URL))
		if err != nil {
			return Message{}, fmt.Errorf("notify: convert excerpt: %w", err)
		}
		if md = strings.TrimSpace(md); md != "" {
			b.WriteString("---\n\n")
			b.WriteString(md)
			b.WriteString("\n\n")
		}
	}
	fmt.Fprintf(&b, "Digest: `%s`\n", e.Current)
	m.Text = b.String()

	var html bytes.Buffer
	if err := mdRender.Convert([]byte(m.Text), &html); err != nil {
		return Message{}, fmt.Errorf("notify: render html: %w", err)
	}
	m.HTML = html.String()
	return m, nil
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
