package register

import "regexp"

// Context-window usage chatter varies by upstream renderer, so several
// overlapping patterns are required. Applied to every inbound message before
// it becomes a register, to keep the model's own usage display from breaking
// prefix caching.
var stripPatterns = []*regexp.Regexp{
	regexp.MustCompile(`# Context Window Usage\n[^\n]*\n*`),
	regexp.MustCompile(`\d+\s*/\s*\d+K?\s*tokens\s*used\s*\(\d+%\)\s*\n*`),
	regexp.MustCompile(`# Context Window Usage\s*\n*`),
	regexp.MustCompile(`(?m)^.*tokens used.*$\n?`),
	regexp.MustCompile(`(?m)^.*\(\d+%\).*$\n?`),
}

var tripleBlank = regexp.MustCompile(`\n{3,}`)

// StripUsage removes context-window-usage sections and usage display lines
// from text, then collapses triple-or-more blank lines to doubles.
func StripUsage(text string) string {
	for _, p := range stripPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return tripleBlank.ReplaceAllString(text, "\n\n")
}
