// Copyright 2024-2026 Aiku AI

// Package htmlfmt renders Mattermost markdown as HTML for API consumers.
package htmlfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Rendered is a message body together with its optional HTML rendering.
// Format and FormattedBody are empty when the text has no markup.
type Rendered struct {
	Body          string       `json:"body"`
	Format        event.Format `json:"format,omitempty"`
	FormattedBody string       `json:"formatted_body,omitempty"`
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(?:^|[^*])_(.+?)_(?:[^*]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	fenceRe      = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	bulletRe     = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	numberedRe   = regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s+(.+)$`)

	markupPatterns = []*regexp.Regexp{
		boldRe, italicRe, strikeRe, codeRe, fenceRe, linkRe,
		headingRe, blockquoteRe, bulletRe, numberedRe,
	}
)

const fencePlaceholder = "\x00FENCE"

type fence struct {
	lang string
	code string
}

// Render converts markdown text into a Rendered message.
func Render(text string) *Rendered {
	if text == "" {
		return &Rendered{}
	}
	if !hasMarkup(text) {
		return &Rendered{Body: text}
	}

	stripped, fences := extractFences(text)
	out := renderBlocks(stripped)
	out = renderInline(out)
	out = restoreFences(out, fences)

	out = strings.ReplaceAll(out, "\n\n", "</p><p>")
	out = strings.ReplaceAll(out, "\n", "<br/>")
	if strings.Contains(out, "</p><p>") {
		out = "<p>" + out + "</p>"
	}

	return &Rendered{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: out,
	}
}

func hasMarkup(text string) bool {
	for _, re := range markupPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// extractFences swaps fenced code blocks for placeholders so that block and
// inline rules never touch code content.
func extractFences(text string) (string, []fence) {
	var fences []fence
	out := fenceRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := fenceRe.FindStringSubmatch(match)
		f := fence{}
		if len(parts) >= 3 {
			f.lang, f.code = parts[1], parts[2]
		}
		fences = append(fences, f)
		return fencePlaceholder + strconv.Itoa(len(fences)-1) + "\x00"
	})
	return out, fences
}

func restoreFences(text string, fences []fence) string {
	for i, f := range fences {
		var b strings.Builder
		b.WriteString("<pre><code")
		if f.lang != "" {
			b.WriteString(` class="language-` + html.EscapeString(f.lang) + `"`)
		}
		b.WriteString(">" + html.EscapeString(f.code) + "</code></pre>")
		text = strings.Replace(text, fencePlaceholder+strconv.Itoa(i)+"\x00", b.String(), 1)
	}
	return text
}

// renderBlocks handles line-level constructs: quotes, headings and lists.
// Everything it emits is already HTML-escaped.
func renderBlocks(text string) string {
	var (
		lines    []string
		listTag  string
		listItem []string
	)
	flush := func() {
		if len(listItem) > 0 {
			lines = append(lines, "<"+listTag+">"+strings.Join(listItem, "")+"</"+listTag+">")
		}
		listItem, listTag = nil, ""
	}
	addItem := func(tag, content string) {
		if listTag != tag {
			flush()
			listTag = tag
		}
		listItem = append(listItem, "<li>"+html.EscapeString(content)+"</li>")
	}

	for _, line := range strings.Split(text, "\n") {
		if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			flush()
			lines = append(lines, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
		} else if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			lvl := strconv.Itoa(min(len(m[1]), 6))
			lines = append(lines, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
		} else if m := bulletRe.FindStringSubmatch(line); m != nil {
			addItem("ul", m[1])
		} else if m := numberedRe.FindStringSubmatch(line); m != nil {
			addItem("ol", m[1])
		} else {
			flush()
			lines = append(lines, html.EscapeString(line))
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

func renderInline(text string) string {
	text = codeRe.ReplaceAllString(text, "<code>$1</code>")
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = italicRe.ReplaceAllString(text, "<em>$1</em>")
	text = strikeRe.ReplaceAllString(text, "<del>$1</del>")
	return linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		if !safeHref(href) {
			return label
		}
		return `<a href="` + href + `">` + label + `</a>`
	})
}

func safeHref(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	for _, scheme := range []string{"http://", "https://", "mailto:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
