package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks the structural validity of a Config. A failure here is a
// configuration error: the process must abort at startup rather than run
// with a degraded window pipeline.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.MaxWindowSize <= 0 {
		errs = append(errs, errors.New("config: maxWindowSize must be positive"))
	}

	jit := cfg.JITInstruction
	if jit.Threshold < 0 || jit.Threshold > 100 {
		errs = append(errs, fmt.Errorf("config: JITinstruction.threshold %d out of range 0-100", jit.Threshold))
	}
	if jit.PromptFile == "" {
		errs = append(errs, errors.New("config: JITinstruction.promptFile is required"))
	} else if _, err := os.Stat(jit.PromptFile); err != nil {
		errs = append(errs, fmt.Errorf("config: JITinstruction.promptFile: %w", err))
	}
	if jit.InternalPromptFile != "" {
		if _, err := os.Stat(jit.InternalPromptFile); err != nil {
			errs = append(errs, fmt.Errorf("config: JITinstruction.internalPromptFile: %w", err))
		}
	}
	if p := jit.WindowUsagePattern.SearchRegex; p != "" {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("config: JITinstruction.windowUsagePattern.searchRegex: %w", err))
		}
	}
	for i, rule := range jit.AssistantCleaning {
		if _, err := compileRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("config: JITinstruction.assistantCleaning[%d]: %w", i, err))
		}
	}

	ov := cfg.OversizedMessageHandling
	if ov.ThresholdPercent <= 0 || ov.ThresholdPercent > 100 {
		errs = append(errs, fmt.Errorf("config: oversizedMessageHandling.thresholdPercent %d out of range 1-100", ov.ThresholdPercent))
	}

	if cfg.Gateway.Bind != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Gateway.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: gateway.bind %q: %w", cfg.Gateway.Bind, err))
		}
	}

	if cfg.Sweeper.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.Sweeper.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: sweeper.schedule %q: %w", cfg.Sweeper.Schedule, err))
		}
		if _, err := time.ParseDuration(cfg.Sweeper.Retention); err != nil {
			errs = append(errs, fmt.Errorf("config: sweeper.retention %q: %w", cfg.Sweeper.Retention, err))
		}
	}

	return errors.Join(errs...)
}

// compileRule compiles a cleaning rule into a regexp, prefixing (?i) when the
// rule is case-insensitive.
func compileRule(rule CleaningRule) (*regexp.Regexp, error) {
	pattern := rule.Search
	if !rule.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

// CompileCleaningRules compiles all cleaning rules, pairing each regexp with
// its replacement. Call Validate first; this panics on invalid patterns.
func CompileCleaningRules(rules []CleaningRule) []CompiledRule {
	out := make([]CompiledRule, 0, len(rules))
	for _, rule := range rules {
		re, err := compileRule(rule)
		if err != nil {
			panic(fmt.Sprintf("config: cleaning rule %q not validated: %v", rule.Search, err))
		}
		out = append(out, CompiledRule{Pattern: re, Replace: rule.Replace})
	}
	return out
}

// CompiledRule is a ready-to-apply cleaning rule.
type CompiledRule struct {
	Pattern *regexp.Regexp
	Replace string
}
