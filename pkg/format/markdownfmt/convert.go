// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package markdownfmt converts HTML message bodies supplied by API callers
// into Mattermost markdown.
package markdownfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	strongRe     = regexp.MustCompile(`<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`<(?:del|s)>(.*?)</(?:del|s)>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code(?: class="language-(\w+)")?>(.*?)</code></pre>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// Convert returns the markdown form of content. Plain content (no HTML
// format or an empty formatted body) is returned as its Body unchanged.
func Convert(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}
	return FromHTML(content.FormattedBody)
}

// FromHTML converts an HTML fragment to markdown.
func FromHTML(text string) string {
	text = preRe.ReplaceAllString(text, "```$1\n$2\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")
	text = linkRe.ReplaceAllString(text, "[$2]($1)")

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level, _ := strconv.Atoi(parts[1])
		return strings.Repeat("#", level) + " " + parts[2]
	})
	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		inner := blockquoteRe.FindStringSubmatch(match)[1]
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n")
	})
	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		return listItems(match, func(int) string { return "- " })
	})
	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		return listItems(match, func(i int) string { return strconv.Itoa(i+1) + ". " })
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")

	return strings.TrimSpace(html.UnescapeString(text))
}

func listItems(list string, marker func(int) string) string {
	items := liRe.FindAllStringSubmatch(list, -1)
	out := make([]string, 0, len(items))
	for i, item := range items {
		out = append(out, marker(i)+strings.TrimSpace(item[1]))
	}
	return strings.Join(out, "\n")
}
