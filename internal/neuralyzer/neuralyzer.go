// Package neuralyzer strips recache invocations, command vocabulary, and
// position-number patterns out of transcript text so the model cannot
// re-learn the window mechanism from its own prior replies. The scrubbing is
// intentionally aggressive; false positives in prose are the accepted cost.
package neuralyzer

import (
	"regexp"
	"strings"
)

// xmlInvocation matches the XML-MCP wrapped recache call.
var xmlInvocation = regexp.MustCompile(`(?s)<use_mcp_tool>.*?recache_message_array.*?</use_mcp_tool>`)

// surfaceCall matches the call's bare surface form.
var surfaceCall = regexp.MustCompile(`recache_message_array\s*\([^)]*\)`)

// vocabulary matches command words the model must not see echoed back.
var vocabulary = regexp.MustCompile(`(?i)\b(restore|newchat|new chat|cache_read|cache_write|foundation|append)\b`)

// slashForms matches slash-command residue.
var slashForms = regexp.MustCompile(`/(restore|newchat)\s+\d+`)

// taggedBlocks matches leftover tag-wrapped argument blocks and their
// contents.
var taggedBlocks = regexp.MustCompile(`(?s)<(recache_message_array|message_indices)>.*?</(recache_message_array|message_indices)>`)

// Numeric-reference patterns, most specific first. The final bare-number
// pattern sweeps whatever the earlier ones left.
var numericRefs = []*regexp.Regexp{
	regexp.MustCompile(`\[\s*\d+(\s*[-,]\s*\d+)*\s*\]`),
	regexp.MustCompile(`\{\s*\d+(\s*[-,]\s*\d+)*\s*\}`),
	regexp.MustCompile(`\(\s*\d+(\s*-\s*\d+)?\s*\)`),
	regexp.MustCompile(`(?i)\bmessages?\s+\d+(-\d+)?\s*:`),
	regexp.MustCompile(`\b\d+\s*-\s*\d+\s+entries\b`),
	regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`),
	regexp.MustCompile(`\b\d+(\s*,\s*\d+)+\b`),
	regexp.MustCompile(`\b\d+(-\d+)?\b`),
}

// contextWindowSentence matches a sentence mentioning "context window", up to
// the next period.
var contextWindowSentence = regexp.MustCompile(`(?i)[^.\n]*context window[^.]*(\.|$)`)

var (
	spaceRuns       = regexp.MustCompile(`[ \t]{2,}`)
	punctOnlyLine   = regexp.MustCompile(`(?m)^[\s\p{P}\p{S}]+$\n?`)
	excessBlank     = regexp.MustCompile(`\n{3,}`)
	trailingSpaces  = regexp.MustCompile(`(?m)[ \t]+$`)
)

// Scrub removes all trace of the recache command surface from text: the
// invocation itself, its vocabulary, slash forms, tag blocks, numeric
// position references, and sentences about the context window.
func Scrub(text string) string {
	text = RemoveInvocations(text)
	text = surfaceCall.ReplaceAllString(text, "")
	text = vocabulary.ReplaceAllString(text, "")
	text = slashForms.ReplaceAllString(text, "")
	text = taggedBlocks.ReplaceAllString(text, "")
	for _, p := range numericRefs {
		text = p.ReplaceAllString(text, "")
	}
	text = contextWindowSentence.ReplaceAllString(text, "")
	return tidy(text)
}

// RemoveInvocations strips only the full XML or JSON-RPC invocation blocks,
// leaving the surrounding prose intact.
func RemoveInvocations(text string) string {
	text = xmlInvocation.ReplaceAllString(text, "")
	return removeJSONRPCBlocks(text)
}

// removeJSONRPCBlocks deletes brace-balanced JSON objects that start with a
// jsonrpc field and mention the recache tool. Brace counting is used because
// a regexp cannot match the nested object reliably.
func removeJSONRPCBlocks(text string) string {
	for {
		start := strings.Index(text, `{"jsonrpc"`)
		if start < 0 {
			return text
		}
		end := matchBraces(text, start)
		if end < 0 {
			return text
		}
		block := text[start:end]
		if !strings.Contains(block, "recache_message_array") {
			// Some other JSON-RPC payload; leave it and scan only the text
			// after its opening brace, so the same offset is not found again.
			rest := removeJSONRPCBlocks(text[start+1:])
			return text[:start+1] + rest
		}
		text = text[:start] + text[end:]
	}
}

// matchBraces returns the index just past the brace that closes the object
// opening at start, or -1 if unbalanced. String literals are skipped.
func matchBraces(s string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// tidy collapses whitespace runs, removes punctuation-only lines, and caps
// consecutive blank lines at two.
func tidy(text string) string {
	text = spaceRuns.ReplaceAllString(text, " ")
	text = trailingSpaces.ReplaceAllString(text, "")
	text = punctOnlyLine.ReplaceAllString(text, "")
	text = excessBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
