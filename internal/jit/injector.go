package jit

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/internal/register"
	"github.com/tokenwindow/twm/internal/token"
	"github.com/tokenwindow/twm/pkg/message"
)

// registerMapWords caps the per-register preview in the register map.
const registerMapWords = 25

// Injector computes window usage and produces/cleans JIT instruction blocks.
// All conversation state (jit_active, preserved user) lives with the caller;
// the Injector itself is stateless apart from the prompt cache.
type Injector struct {
	counter            token.Counter
	maxWindow          int
	threshold          int
	promptFile         string
	internalPromptFile string
	usageDetection     string
	usageSearch        *regexp.Regexp
	usageTemplate      string
	cleaning           []config.CompiledRule
	trunc              config.TruncationConfig
	cache              *PromptCache
	logger             *slog.Logger
}

// NewInjector creates an Injector from the JIT configuration. Call
// config.Validate first; the usage regex panics on invalid patterns.
func NewInjector(counter token.Counter, maxWindow int, jitCfg config.JITConfig, truncCfg config.TruncationConfig, cache *PromptCache, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	var search *regexp.Regexp
	if p := jitCfg.WindowUsagePattern.SearchRegex; p != "" {
		search = regexp.MustCompile(p)
	}
	return &Injector{
		counter:            counter,
		maxWindow:          maxWindow,
		threshold:          jitCfg.Threshold,
		promptFile:         jitCfg.PromptFile,
		internalPromptFile: jitCfg.InternalPromptFile,
		usageDetection:     jitCfg.WindowUsagePattern.DetectionText,
		usageSearch:        search,
		usageTemplate:      jitCfg.WindowUsagePattern.ReplaceTemplate,
		cleaning:           config.CompileCleaningRules(jitCfg.AssistantCleaning),
		trunc:              truncCfg,
		cache:              cache,
		logger:             logger,
	}
}

// TotalTokens sums the system prompt and all message contents.
func (in *Injector) TotalTokens(systemPrompt string, msgs []message.Message) int {
	total := in.counter.Count(systemPrompt)
	for _, m := range msgs {
		total += in.counter.Count(m.Content)
	}
	return total
}

// Percentage converts a token total to a rounded window-usage percentage.
func (in *Injector) Percentage(totalTokens int) int {
	if in.maxWindow <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(totalTokens) / float64(in.maxWindow)))
}

// ShouldInject reports whether the usage percentage meets the threshold.
// Exactly at the threshold injects.
func (in *Injector) ShouldInject(percentage int) bool {
	return percentage >= in.threshold
}

// CleanPrior applies the configured cleaning rules over every message to
// remove a previous turn's JIT text. Returns the number of messages changed.
func (in *Injector) CleanPrior(msgs []message.Message) int {
	changed := 0
	for i := range msgs {
		cleaned := msgs[i].Content
		for _, rule := range in.cleaning {
			cleaned = rule.Pattern.ReplaceAllString(cleaned, rule.Replace)
		}
		if cleaned != msgs[i].Content {
			msgs[i].Content = cleaned
			changed++
		}
	}
	return changed
}

// BuildInjection assembles the JIT block: the prompt file (external when the
// conversation originated from an API caller), an optional MCP error
// preamble, and the register map.
func (in *Injector) BuildInjection(source message.Source, mcpError string, regs []register.Register) (string, error) {
	path := in.internalPromptFile
	if source == message.SourceAPI {
		path = in.promptFile
	}
	prompt, err := in.cache.Load(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if mcpError != "" {
		fmt.Fprintf(&b, "PREVIOUS MCP ERROR: %s\n\n", mcpError)
	}
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString(in.RegisterMap(regs))
	return b.String(), nil
}

// RegisterMap lists every in-window register as "[i] role (tokens):
// first-words" so the model can select coherent positions.
func (in *Injector) RegisterMap(regs []register.Register) string {
	var b strings.Builder
	b.WriteString("Current message window:\n")
	for _, r := range regs {
		fmt.Fprintf(&b, "[%d] %s (%d): %s\n",
			r.Position, r.Role, in.counter.Count(r.Content), firstWords(r.Content, registerMapWords))
	}
	return strings.TrimRight(b.String(), "\n")
}

// firstWords returns the first n whitespace-separated words of s.
func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// TruncateUserMessage shortens content to fit within budget tokens,
// preserving the head or tail per configuration and appending the truncation
// indicator. Returns the content unchanged when it already fits or
// truncation is disabled.
func (in *Injector) TruncateUserMessage(content string, budget int) (string, bool) {
	if !in.trunc.Enabled || budget <= 0 {
		return content, false
	}
	budget -= in.counter.Count(in.trunc.TruncationIndicator)
	if budget < 0 {
		budget = 0
	}
	if in.counter.Count(content) <= budget {
		return content, false
	}

	runes := []rune(content)
	// Binary-search the longest keepable span.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		var candidate string
		if in.trunc.PreserveFromStart {
			candidate = string(runes[:mid])
		} else {
			candidate = string(runes[len(runes)-mid:])
		}
		if in.counter.Count(candidate) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	var kept string
	if in.trunc.PreserveFromStart {
		kept = string(runes[:lo]) + in.trunc.TruncationIndicator
	} else {
		kept = in.trunc.TruncationIndicator + string(runes[len(runes)-lo:])
	}
	return kept, true
}

// MessageBudget computes the latest user message's token budget:
// window − system − buffer − all other messages.
func (in *Injector) MessageBudget(systemTokens, otherMessagesTokens int) int {
	return in.maxWindow - systemTokens - in.trunc.TokenBuffer - otherMessagesTokens
}

// ApplyUsageDisplay substitutes the computed percentage into the message's
// usage display. When the detection marker is absent, the message is
// returned unchanged: the manager never invents a usage display.
func (in *Injector) ApplyUsageDisplay(content string, percentage int) string {
	if in.usageDetection == "" || in.usageSearch == nil {
		return content
	}
	if !strings.Contains(content, in.usageDetection) {
		return content
	}
	replacement := strings.ReplaceAll(in.usageTemplate, "{percentage}", strconv.Itoa(percentage))
	return in.usageSearch.ReplaceAllString(content, replacement)
}
