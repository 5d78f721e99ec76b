package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogJSON   = false
	DefaultDBPath    = "zalobridge.db"
	DefaultZaloBin   = "zalo-cli"
	defaultCmdTO     = 45 * time.Second
	defaultIdleTO    = 5 * time.Minute
	defaultAgentTO   = 2 * time.Minute
	defaultAgentTemp = 1.0

	DefaultDMPolicy          = "pairing"
	DefaultGroupPolicy       = "allowlist"
	DefaultMentionFailure    = "deny"
	DefaultHistoryLimit      = 10
	DefaultHintMaxLen        = 40
	DefaultTextChunkLimit    = MaxTextChunkLimit
	DefaultChunkMode         = "length"
	DefaultMediaMaxMB        = 25
	DefaultDebounceMS        = 1200
	DefaultDMDebounceMS      = 500
	DefaultSendFailureNotice = true
)

// DefaultSendFailureMessage is sent when a whole reply turn produced zero
// successful sends and failure notices are enabled.
const DefaultSendFailureMessage = "Sorry, I could not deliver my reply. Please try again."

// DefaultReferenceWords are the reference-word patterns that mark a turn as
// context-sensitive and widen the history window. English plus transliterated
// Vietnamese, extensible via history_reference_words.
var DefaultReferenceWords = []string{
	"it", "that", "this", "those", "them", "again", "same", "above", "earlier",
	"no", "cai do", "cái đó", "vay", "vậy", "lai", "lại", "nua", "nữa",
}

// setDefaults registers default values for optional configuration parameters.
func setDefaults() {
	viper.SetDefault("log_level", DefaultLogLevel)
	viper.SetDefault("log_json", DefaultLogJSON)

	viper.SetDefault("db_path", DefaultDBPath)
	viper.SetDefault("zalo_bin", DefaultZaloBin)
	viper.SetDefault("command_timeout", defaultCmdTO)
	viper.SetDefault("idle_timeout", defaultIdleTO)

	viper.SetDefault("agent.model", "gemini-2.0-flash")
	viper.SetDefault("agent.temperature", defaultAgentTemp)
	viper.SetDefault("agent.timeout", defaultAgentTO)
	viper.SetDefault("agent.instruction",
		"You are a helpful assistant replying inside a Zalo conversation. Keep answers concise.")

	viper.SetDefault("defaults.dm_policy", DefaultDMPolicy)
	viper.SetDefault("defaults.group_policy", DefaultGroupPolicy)
	viper.SetDefault("defaults.group_mention_detection_failure", DefaultMentionFailure)
	viper.SetDefault("defaults.history_limit", DefaultHistoryLimit)
	viper.SetDefault("defaults.history_context_hint_max_len", DefaultHintMaxLen)
	viper.SetDefault("defaults.text_chunk_limit", DefaultTextChunkLimit)
	viper.SetDefault("defaults.chunk_mode", DefaultChunkMode)
	viper.SetDefault("defaults.media_max_mb", DefaultMediaMaxMB)
	viper.SetDefault("defaults.debounce_ms", DefaultDebounceMS)
	viper.SetDefault("defaults.dm_debounce_ms", DefaultDMDebounceMS)
	viper.SetDefault("defaults.send_failure_notice", DefaultSendFailureNotice)
	viper.SetDefault("defaults.send_failure_message", DefaultSendFailureMessage)

	viper.SetDefault("scheduler.tasks.dedupe_sweep.schedule", "*/30 * * * * *")
	viper.SetDefault("scheduler.tasks.dedupe_sweep.enabled", true)
	viper.SetDefault("scheduler.tasks.msgref_evict.schedule", "0 */5 * * * *")
	viper.SetDefault("scheduler.tasks.msgref_evict.enabled", true)
	viper.SetDefault("scheduler.tasks.archive_prune.schedule", "0 0 3 * * *")
	viper.SetDefault("scheduler.tasks.archive_prune.enabled", true)
}
