// Package config manages application configuration from config.yaml,
// ZB_-prefixed environment variables, and default values.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration is returned for any configuration loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Hard provider limit on a single outbound text message. Per-account
// text_chunk_limit is capped by this value at resolve time.
const MaxTextChunkLimit = 2000

// Config defines the full application configuration. Values can be set via
// config.yaml or environment variables prefixed with ZB_ (e.g. ZB_DB_PATH).
type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogJSON  bool   `mapstructure:"log_json"`

	DBPath string `mapstructure:"db_path" validate:"required"`

	ZaloBin        string        `mapstructure:"zalo_bin"        validate:"required"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"min=1s,max=5m"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"    validate:"min=30s,max=1h"`

	Agent AgentConfig `mapstructure:"agent"`

	Defaults ChannelConfig            `mapstructure:"defaults"`
	Accounts map[string]AccountConfig `mapstructure:"accounts" validate:"required,min=1"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AgentConfig holds settings for the reply-generation engine.
type AgentConfig struct {
	Token       string        `mapstructure:"token"       validate:"required"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Instruction string        `mapstructure:"instruction"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
}

// AccountConfig is one configured Zalo identity. Profile selects the backend
// credential set passed to the CLI via --profile.
type AccountConfig struct {
	Profile string        `mapstructure:"profile" validate:"required"`
	Enabled bool          `mapstructure:"enabled"`
	Config  ChannelConfig `mapstructure:"config"`
}

// GroupConfig is a per-group policy override, keyed in ChannelConfig.Groups
// by group id, display-name alias, or the wildcard "*".
type GroupConfig struct {
	Allow          *bool               `mapstructure:"allow"`
	Enabled        *bool               `mapstructure:"enabled"`
	RequireMention *bool               `mapstructure:"require_mention"`
	Tools          []string            `mapstructure:"tools"`
	ToolsBySender  map[string][]string `mapstructure:"tools_by_sender"`
}

// ChannelConfig holds the policy fields applied per inbound event. Pointer
// fields distinguish "unset, inherit from defaults" from an explicit value.
type ChannelConfig struct {
	DMPolicy    string `mapstructure:"dm_policy"    validate:"omitempty,oneof=pairing allowlist open disabled"`
	GroupPolicy string `mapstructure:"group_policy" validate:"omitempty,oneof=allowlist open disabled"`

	Groups map[string]GroupConfig `mapstructure:"groups"`

	GroupRequireMention          *bool    `mapstructure:"group_require_mention"`
	GroupMentionDetectionFailure string   `mapstructure:"group_mention_detection_failure" validate:"omitempty,oneof=allow deny allow-with-warning"`
	MentionPattern               string   `mapstructure:"mention_pattern"`
	BotAliases                   []string `mapstructure:"bot_aliases"`

	HistoryLimit             *int     `mapstructure:"history_limit"`
	HistoryContextHintMaxLen *int     `mapstructure:"history_context_hint_max_len"`
	HistoryReferenceWords    []string `mapstructure:"history_reference_words"`

	TextChunkLimit int    `mapstructure:"text_chunk_limit" validate:"omitempty,min=1"`
	ChunkMode      string `mapstructure:"chunk_mode"       validate:"omitempty,oneof=length newline"`

	MediaMaxMB        int      `mapstructure:"media_max_mb" validate:"omitempty,min=1"`
	MediaAllowedRoots []string `mapstructure:"media_allowed_roots"`

	SendFailureNotice  *bool  `mapstructure:"send_failure_notice"`
	SendFailureMessage string `mapstructure:"send_failure_message"`

	AllowFrom      []string `mapstructure:"allow_from"`
	GroupAllowFrom []string `mapstructure:"group_allow_from"`

	DebounceMS   int `mapstructure:"debounce_ms"    validate:"omitempty,min=0"`
	DMDebounceMS int `mapstructure:"dm_debounce_ms" validate:"omitempty,min=0"`

	EnableMessageActions *bool `mapstructure:"enable_message_actions"`
	EnableReactions      *bool `mapstructure:"enable_reactions"`
}

// SchedulerConfig configures maintenance tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig is one scheduled maintenance task entry.
type TaskConfig struct {
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}
