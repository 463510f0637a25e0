// Package command detects, parses, and validates the recache_message_array
// tool invocation embedded in assistant text. Two wrappers are accepted: the
// XML-MCP call block and a JSON-RPC 2.0 tools/call envelope. The position
// grammar is deliberately lax; garbage tokens are ignored.
package command

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ToolName is the single tool exposed on the command surface.
const ToolName = "recache_message_array"

// ServerName is the MCP server the tool belongs to.
const ServerName = "tokenwindow-local"

// xmlArguments captures the arguments JSON out of the XML-MCP wrapper.
var xmlArguments = regexp.MustCompile(`(?s)<use_mcp_tool>.*?<tool_name>\s*` + ToolName +
	`\s*</tool_name>.*?<arguments>(.*?)</arguments>.*?</use_mcp_tool>`)

// rangeToken matches a closed integer range token.
var rangeToken = regexp.MustCompile(`^(\d+)-(\d+)$`)

// singleToken matches a single position token.
var singleToken = regexp.MustCompile(`^\d+$`)

// Position is one parsed register position.
type Position struct {
	// Value is the 1-based register position.
	Value int

	// FromRange is true when the position came from an expanded range
	// token. Range-expanded positions are allowed to land on placeholders.
	FromRange bool

	// Token is the originating list token, kept for diagnostics.
	Token string
}

// Invocation is a detected recache command, parsed or not.
type Invocation struct {
	// RawArguments is the arguments JSON as found in the text.
	RawArguments string

	// Messages is the value of the "messages" field.
	Messages string

	// Positions is the parsed, deduplicated, ascending position list.
	Positions []Position

	// Err is the parse-stage validation error, if any. A nil Err with an
	// empty Positions list cannot occur.
	Err *ValidationError
}

// jsonRPCEnvelope is the JSON-RPC 2.0 tools/call shape. The envelope is
// fixed by the wire contract; see the mcpserver package for the served side.
type jsonRPCEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

// Detect scans assistant text for a recache invocation and parses its
// argument list. Returns nil when no recognizable invocation is present or
// its JSON is malformed (both are silent parse failures).
func Detect(text string) *Invocation {
	if raw, ok := detectXML(text); ok {
		return parseArguments(raw)
	}
	if raw, ok := detectJSONRPC(text); ok {
		return parseArguments(raw)
	}
	return nil
}

// detectXML extracts the arguments JSON from an XML-MCP call block.
func detectXML(text string) (string, bool) {
	m := xmlArguments.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// detectJSONRPC extracts the arguments JSON from a JSON-RPC tools/call
// envelope anywhere in the text.
func detectJSONRPC(text string) (string, bool) {
	for offset := 0; ; {
		i := strings.Index(text[offset:], `{"jsonrpc"`)
		if i < 0 {
			return "", false
		}
		start := offset + i
		end := matchBraces(text, start)
		if end < 0 {
			return "", false
		}
		var env jsonRPCEnvelope
		if err := json.Unmarshal([]byte(text[start:end]), &env); err == nil &&
			env.Method == "tools/call" &&
			strings.HasSuffix(env.Params.Name, ToolName) {
			return string(env.Params.Arguments), true
		}
		offset = start + 1
	}
}

// matchBraces returns the index just past the brace closing the object that
// opens at start, or -1 if unbalanced.
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

// parseArguments parses the arguments JSON and the position list. JSON
// errors return nil (silent ignore); an absent, blank, or garbage-only
// messages field returns an Invocation carrying a ValidationError to surface.
func parseArguments(raw string) *Invocation {
	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}

	inv := &Invocation{RawArguments: raw}

	field, ok := args["messages"]
	if !ok {
		inv.Err = newEmptyArguments()
		return inv
	}
	var messages string
	if err := json.Unmarshal(field, &messages); err != nil {
		return nil
	}
	inv.Messages = messages

	if strings.TrimSpace(messages) == "" {
		inv.Err = newEmptyArguments()
		return inv
	}

	inv.Positions = ParsePositions(messages)
	if len(inv.Positions) == 0 {
		inv.Err = newNoValidPositions(messages)
	}
	return inv
}

// ParsePositions parses a position list: comma-separated tokens, each either
// an integer or a closed range N-M. Other tokens are silently ignored.
// Duplicates collapse keeping the first occurrence's tag; the result is
// sorted ascending.
func ParsePositions(list string) []Position {
	seen := make(map[int]struct{})
	var out []Position

	for _, tok := range strings.Split(list, ",") {
		tok = strings.TrimSpace(tok)
		if m := rangeToken.FindStringSubmatch(tok); m != nil {
			lo, _ := strconv.Atoi(m[1])
			hi, _ := strconv.Atoi(m[2])
			for p := lo; p <= hi; p++ {
				if _, dup := seen[p]; dup {
					continue
				}
				seen[p] = struct{}{}
				out = append(out, Position{Value: p, FromRange: true, Token: tok})
			}
			continue
		}
		if singleToken.MatchString(tok) {
			p, _ := strconv.Atoi(tok)
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, Position{Value: p, Token: tok})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}
