// Package speakable flattens markdown-formatted answers into text a
// speech synthesizer can read aloud. Documentation answers arrive full
// of headings, code fences and links; read verbatim they are noise.
package speakable

import (
	"regexp"
	"strings"
)

var (
	fencedRe  = regexp.MustCompile("(?s)```.*?```")
	imageRe   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	inlineRe  = regexp.MustCompile("`([^`]*)`")
	htmlRe    = regexp.MustCompile(`<[^>]+>`)
	ruleRe    = regexp.MustCompile(`(?m)^\s*(?:-{3,}|\*{3,}|_{3,})\s*$`)
	headingRe = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	quoteRe   = regexp.MustCompile(`(?m)^\s*>\s?`)
	bulletRe  = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	emphRe    = regexp.MustCompile(`\*\*|__|~~|\*|_`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Clean strips markdown structure and collapses whitespace. Fenced code
// blocks are dropped entirely; hearing code read out character by
// character helps nobody. Link and image text survives, their targets
// do not.
func Clean(s string) string {
	s = fencedRe.ReplaceAllString(s, " ")
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = inlineRe.ReplaceAllString(s, "$1")
	s = htmlRe.ReplaceAllString(s, " ")
	s = ruleRe.ReplaceAllString(s, " ")
	s = headingRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = emphRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
