// Package config handles loading, environment variable expansion, and
// structural validation of the token-window.json configuration file.
package config

// Config is the top-level configuration structure. The file on disk is JSON
// (data/config/token-window.json); the loader parses it with the YAML
// decoder, so a YAML rendition of the same keys also works.
type Config struct {
	// MaxWindowSize is the model context window in tokens.
	MaxWindowSize int `yaml:"maxWindowSize" json:"maxWindowSize"`

	// ModelFamily selects the tokenizer used for token counting.
	// Supported: "claude", "gpt-4o", "gpt-4". Anything else falls back to a
	// characters-per-token estimate.
	ModelFamily string `yaml:"modelFamily" json:"modelFamily"`

	// JITInstruction controls just-in-time prompt injection.
	JITInstruction JITConfig `yaml:"JITinstruction" json:"JITinstruction"`

	// UserMessageTruncation controls last-user-message truncation when the
	// JIT threshold is not hit but the message exceeds its budget.
	UserMessageTruncation TruncationConfig `yaml:"userMessageTruncation" json:"userMessageTruncation"`

	// OversizedMessageHandling controls offloading of oversized registers.
	OversizedMessageHandling OversizeConfig `yaml:"oversizedMessageHandling" json:"oversizedMessageHandling"`

	// PlaceholderMessages controls synthesized role-repair registers.
	PlaceholderMessages PlaceholderConfig `yaml:"placeholderMessages" json:"placeholderMessages"`

	// Gateway configures the optional HTTP API server.
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`

	// OffloadIndex configures the SQLite offload audit index.
	OffloadIndex OffloadIndexConfig `yaml:"offloadIndex" json:"offloadIndex"`

	// Sweeper configures the offload retention sweep job.
	Sweeper SweeperConfig `yaml:"sweeper" json:"sweeper"`

	// Observability configures tracing export.
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// JITConfig holds the just-in-time injection settings.
type JITConfig struct {
	// Threshold is the window-usage percentage at or above which the JIT
	// block is injected.
	Threshold int `yaml:"threshold" json:"threshold"`

	// PromptFile is the JIT prompt used for conversations originating from
	// an external API caller.
	PromptFile string `yaml:"promptFile" json:"promptFile"`

	// InternalPromptFile is the JIT prompt used for internal conversations.
	InternalPromptFile string `yaml:"internalPromptFile" json:"internalPromptFile"`

	// WindowUsagePattern controls the usage display substitution.
	WindowUsagePattern UsagePattern `yaml:"windowUsagePattern" json:"windowUsagePattern"`

	// AssistantCleaning lists search/replace rules applied to remove a prior
	// JIT block from the message list.
	AssistantCleaning []CleaningRule `yaml:"assistantCleaning" json:"assistantCleaning"`
}

// UsagePattern describes how the window-usage display inside the latest user
// message is detected and rewritten.
type UsagePattern struct {
	// DetectionText must appear in the message for any substitution to run.
	DetectionText string `yaml:"detectionText" json:"detectionText"`

	// SearchRegex locates the usage display.
	SearchRegex string `yaml:"searchRegex" json:"searchRegex"`

	// ReplaceTemplate is substituted in; "{percentage}" receives the
	// computed usage percentage.
	ReplaceTemplate string `yaml:"replaceTemplate" json:"replaceTemplate"`
}

// CleaningRule is one regex search/replace pair.
type CleaningRule struct {
	Search        string `yaml:"search" json:"search"`
	Replace       string `yaml:"replace" json:"replace"`
	CaseSensitive bool   `yaml:"caseSensitive" json:"caseSensitive"`
}

// TruncationConfig holds user-message truncation settings.
type TruncationConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TokenBuffer is reserved headroom subtracted from the per-message
	// budget.
	TokenBuffer int `yaml:"tokenBuffer" json:"tokenBuffer"`

	// TruncationIndicator is appended to a truncated message.
	TruncationIndicator string `yaml:"truncationIndicator" json:"truncationIndicator"`

	// PreserveFromStart keeps the head of the message when true, the tail
	// when false.
	PreserveFromStart bool `yaml:"preserveFromStart" json:"preserveFromStart"`
}

// OversizeConfig holds oversized-message offload settings.
type OversizeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ThresholdPercent of the window above which (strictly) a register is
	// offloaded.
	ThresholdPercent int `yaml:"thresholdPercent" json:"thresholdPercent"`

	// TruncateToTokens is the approximate size of the retained preview.
	TruncateToTokens int `yaml:"truncateToTokens" json:"truncateToTokens"`

	// TempDirectory receives the offload files.
	TempDirectory string `yaml:"tempDirectory" json:"tempDirectory"`

	// InstructionTemplate overrides the stub text; "{path}" receives the
	// offload file path. Empty selects the built-in stub.
	InstructionTemplate string `yaml:"instructionTemplate" json:"instructionTemplate"`
}

// PlaceholderConfig holds placeholder register settings.
type PlaceholderConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Template produces placeholder content; "{position}" receives the
	// register position.
	Template string `yaml:"template" json:"template"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	// Bind is the listen address. Empty disables the gateway.
	Bind string `yaml:"bind" json:"bind"`

	// AuthToken protects the admin endpoints. Empty leaves them unmounted.
	AuthToken string `yaml:"authToken" json:"authToken"`
}

// OffloadIndexConfig holds the SQLite offload audit index settings.
type OffloadIndexConfig struct {
	// Path to the database file. Empty disables the index.
	Path string `yaml:"path" json:"path"`
}

// SweeperConfig holds offload retention sweep settings.
type SweeperConfig struct {
	// Schedule is a five-field cron expression. Empty disables the sweeper.
	Schedule string `yaml:"schedule" json:"schedule"`

	// Retention is a Go duration string; offload files older than this are
	// deleted.
	Retention string `yaml:"retention" json:"retention"`
}

// ObservabilityConfig holds tracing export settings.
type ObservabilityConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector endpoint. Empty disables
	// trace export.
	OTLPEndpoint string `yaml:"otlpEndpoint" json:"otlpEndpoint"`
}

// Default values applied by WithDefaults.
const (
	DefaultMaxWindowSize    = 128000
	DefaultJITThreshold     = 80
	DefaultTruncateToTokens = 100
	DefaultThresholdPercent = 25
	DefaultPlaceholder      = "Message {position}"
	DefaultTempDirectory    = "data/temp"
	DefaultPromptFile       = "data/config/prompts/twp.txt"
	DefaultInternalPrompt   = "data/config/prompts/twp_bak.txt"
	DefaultRetention        = "168h"
)

// WithDefaults returns a copy with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.MaxWindowSize <= 0 {
		c.MaxWindowSize = DefaultMaxWindowSize
	}
	if c.ModelFamily == "" {
		c.ModelFamily = "claude"
	}
	if c.JITInstruction.Threshold <= 0 {
		c.JITInstruction.Threshold = DefaultJITThreshold
	}
	if c.JITInstruction.PromptFile == "" {
		c.JITInstruction.PromptFile = DefaultPromptFile
	}
	if c.JITInstruction.InternalPromptFile == "" {
		c.JITInstruction.InternalPromptFile = DefaultInternalPrompt
	}
	if c.OversizedMessageHandling.ThresholdPercent <= 0 {
		c.OversizedMessageHandling.ThresholdPercent = DefaultThresholdPercent
	}
	if c.OversizedMessageHandling.TruncateToTokens <= 0 {
		c.OversizedMessageHandling.TruncateToTokens = DefaultTruncateToTokens
	}
	if c.OversizedMessageHandling.TempDirectory == "" {
		c.OversizedMessageHandling.TempDirectory = DefaultTempDirectory
	}
	if c.PlaceholderMessages.Template == "" {
		c.PlaceholderMessages.Template = DefaultPlaceholder
	}
	if c.Sweeper.Retention == "" {
		c.Sweeper.Retention = DefaultRetention
	}
	return c
}
