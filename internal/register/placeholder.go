package register

import (
	"regexp"
	"strconv"
	"strings"
)

// placeholderFallback is recognized as placeholder content alongside the
// configured template.
const placeholderFallback = "DISTILLED"

// PlaceholderTemplate renders and recognizes synthesized placeholder
// registers. The template substitutes "{position}".
type PlaceholderTemplate struct {
	template string
	matcher  *regexp.Regexp
}

// NewPlaceholderTemplate builds a template. An empty string uses
// "Message {position}".
func NewPlaceholderTemplate(template string) PlaceholderTemplate {
	if template == "" {
		template = "Message {position}"
	}
	pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(template), regexp.QuoteMeta("{position}"), `\d+`) + "$"
	return PlaceholderTemplate{
		template: template,
		matcher:  regexp.MustCompile(pattern),
	}
}

// Content renders the placeholder text for a position.
func (p PlaceholderTemplate) Content(position int) string {
	return strings.ReplaceAll(p.template, "{position}", strconv.Itoa(position))
}

// Matches reports whether content is placeholder text: the rendered template
// at any position, or the literal fallback marker.
func (p PlaceholderTemplate) Matches(content string) bool {
	content = strings.TrimSpace(content)
	return content == placeholderFallback || p.matcher.MatchString(content)
}
