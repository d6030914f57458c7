// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package emoji maps Mattermost reaction names to Unicode emoji and back,
// using the system emoji table shipped with the Mattermost model package.
package emoji

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

const variationSelector = '️'

// Aliases that Mattermost accepts but never sends back.
var aliases = map[string]string{
	"thumbsup":   "+1",
	"thumbsdown": "-1",
}

// ToUnicode converts a Mattermost emoji name to Unicode. Unknown and custom
// emoji come back as ":name:".
func ToUnicode(name string) string {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	if code, ok := model.GetSystemEmojiId(name); ok {
		if uni, err := codeToUnicode(code); err == nil {
			return uni
		}
	}
	return ":" + name + ":"
}

// ToName converts a Unicode emoji or a ":name:" shortcode to the name
// Mattermost stores reactions under.
func ToName(emoji string) string {
	if name, ok := lookupUnicode(emoji); ok {
		return name
	}
	name := emoji
	if len(name) > 2 && strings.HasPrefix(name, ":") && strings.HasSuffix(name, ":") {
		name = name[1 : len(name)-1]
	}
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// lookupUnicode tries the sequence as given, then with the variation
// selector added or removed, since clients disagree on it.
func lookupUnicode(emoji string) (string, bool) {
	if emoji == "" {
		return "", false
	}
	bare := strings.ReplaceAll(emoji, string(variationSelector), "")
	for _, candidate := range []string{emoji, bare, bare + string(variationSelector)} {
		if name, count := model.GetEmojiNameFromUnicode(unicodeToCode(candidate)); count > 0 {
			return name, true
		}
	}
	return "", false
}

// codeToUnicode turns a code point list like "1f44d-1f3fb" into its runes.
func codeToUnicode(code string) (string, error) {
	var sb strings.Builder
	for _, part := range strings.Split(code, "-") {
		cp, err := strconv.ParseUint(part, 16, 32)
		if err != nil {
			return "", fmt.Errorf("invalid code point %q: %w", part, err)
		}
		sb.WriteRune(rune(cp))
	}
	return sb.String(), nil
}

func unicodeToCode(emoji string) string {
	parts := make([]string, 0, len(emoji)/2)
	for _, r := range emoji {
		parts = append(parts, strconv.FormatInt(int64(r), 16))
	}
	return strings.Join(parts, "-")
}
