// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// TruncateRunes shortens s to at most maxRunes runes and appends "..."
// when something was cut. Counting runes rather than bytes keeps UTF-8
// sequences intact. Very small budgets (3 or fewer) get a hard cut with
// no ellipsis, since the ellipsis alone would eat the whole budget.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth shortens s to at most maxWidth terminal columns, counting
// wide characters as two. The result, ellipsis included, never exceeds
// maxWidth; budgets of 3 or fewer columns get a hard cut instead.
//
// Plain text only. Styled strings carry escape sequences these helpers
// would count as printable columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if StringWidth(s) <= maxWidth {
		return s
	}

	budget := maxWidth
	ellipsis := ""
	if maxWidth > 3 {
		budget = maxWidth - 3
		ellipsis = "..."
	}

	var b strings.Builder
	used := 0
	for _, r := range s {
		w := runeWidth(r)
		if used+w > budget {
			break
		}
		b.WriteRune(r)
		used += w
	}
	return b.String() + ellipsis
}

// StringWidth reports how many terminal columns s occupies.
func StringWidth(s string) int {
	total := 0
	for _, r := range s {
		total += runeWidth(r)
	}
	return total
}

// Blocks that render double-wide in monospace terminals. Deliberately the
// short list that matters for dataset content; swap in
// github.com/mattn/go-runewidth if full Unicode coverage is ever needed.
var wideRanges = [...][2]rune{
	{0x3040, 0x30FF}, // Hiragana and Katakana
	{0x3400, 0x4DBF}, // CJK Extension A
	{0x4E00, 0x9FFF}, // CJK Unified Ideographs
	{0xAC00, 0xD7AF}, // Hangul Syllables
	{0xFF00, 0xFFEF}, // Fullwidth Forms
}

func runeWidth(r rune) int {
	for _, rr := range wideRanges {
		if r >= rr[0] && r <= rr[1] {
			return 2
		}
	}
	return 1
}
