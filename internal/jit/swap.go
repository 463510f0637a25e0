package jit

import "regexp"

// Tool-result framing for the recache tool, in both the XML-derived and
// JSON-RPC-derived renderings. A match means the model wrapped its reply to
// a JIT round-trip as an ordinary tool result.
var toolResultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)\[use_mcp_tool for .*?recache_message_array.*?\]\s*Result:`),
	regexp.MustCompile(`(?s)\[.*?tokenwindow-local__recache_message_array.*?\]\s*Result:`),
}

// IsToolResult reports whether content carries recache tool-result framing.
// The manager swaps such content for the preserved user message, completing
// the JIT round-trip.
func IsToolResult(content string) bool {
	for _, p := range toolResultPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}
