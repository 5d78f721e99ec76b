package config_test

import (
	"testing"

	"zalobridge/internal/config"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func testConfig() *config.Config {
	return &config.Config{
		Defaults: config.ChannelConfig{
			DMPolicy:     "allowlist",
			HistoryLimit: intPtr(20),
			AllowFrom:    []string{"owner"},
		},
		Accounts: map[string]config.AccountConfig{
			"main": {
				Profile: "default",
				Enabled: true,
				Config: config.ChannelConfig{
					DMPolicy: "open",
				},
			},
			"alt": {
				Profile: "work",
				Enabled: true,
			},
		},
	}
}

func TestResolve_OverridePrecedence(t *testing.T) {
	t.Parallel()

	cfg := testConfig()

	main, err := cfg.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve(main) error = %v", err)
	}
	if main.DMPolicy != "open" {
		t.Errorf("main DMPolicy = %q, want account override", main.DMPolicy)
	}
	if main.HistoryLimit != 20 {
		t.Errorf("main HistoryLimit = %d, want inherited 20", main.HistoryLimit)
	}

	alt, err := cfg.Resolve("alt")
	if err != nil {
		t.Fatalf("Resolve(alt) error = %v", err)
	}
	if alt.DMPolicy != "allowlist" {
		t.Errorf("alt DMPolicy = %q, want defaults layer", alt.DMPolicy)
	}
	if len(alt.AllowFrom) != 1 || alt.AllowFrom[0] != "owner" {
		t.Errorf("alt AllowFrom = %v", alt.AllowFrom)
	}

	if _, err := cfg.Resolve("nope"); err == nil {
		t.Errorf("Resolve(unknown) error = nil, want error")
	}
}

func TestResolve_BuiltinFallbacks(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Accounts: map[string]config.AccountConfig{"a": {Profile: "p"}}}
	r, err := cfg.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if r.DMPolicy != config.DefaultDMPolicy {
		t.Errorf("DMPolicy = %q, want %q", r.DMPolicy, config.DefaultDMPolicy)
	}
	if r.GroupMentionDetectionFailure != "deny" {
		t.Errorf("GroupMentionDetectionFailure = %q, want fail-closed default", r.GroupMentionDetectionFailure)
	}
	if !r.GroupRequireMention {
		t.Errorf("GroupRequireMention = false, want true by default")
	}
	if r.TextChunkLimit != config.DefaultTextChunkLimit {
		t.Errorf("TextChunkLimit = %d", r.TextChunkLimit)
	}
	if len(r.HistoryReferenceWords) == 0 {
		t.Errorf("HistoryReferenceWords empty, want builtin list")
	}
	if r.EnableMessageActions || r.EnableReactions {
		t.Errorf("action toggles should default off")
	}
}

func TestResolve_ChunkLimitCapped(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Accounts: map[string]config.AccountConfig{
			"a": {Profile: "p", Config: config.ChannelConfig{TextChunkLimit: 99999}},
		},
	}
	r, err := cfg.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.TextChunkLimit != config.MaxTextChunkLimit {
		t.Errorf("TextChunkLimit = %d, want capped at %d", r.TextChunkLimit, config.MaxTextChunkLimit)
	}
}

func TestGroupEntryPrecedence(t *testing.T) {
	t.Parallel()

	r := &config.Resolved{
		GroupPolicy: "allowlist",
		Groups: map[string]config.GroupConfig{
			"123":         {RequireMention: boolPtr(false)},
			"Family Chat": {},
			"*":           {Allow: boolPtr(false)},
		},
		GroupRequireMention: true,
	}

	tests := []struct {
		name      string
		id        string
		groupName string
		allowed   bool
	}{
		{"id match", "123", "", true},
		{"name match case-insensitive", "999", "family chat", true},
		{"wildcard fallback denies", "999", "unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.GroupAllowed(tt.id, tt.groupName); got != tt.allowed {
				t.Errorf("GroupAllowed(%q, %q) = %v, want %v", tt.id, tt.groupName, got, tt.allowed)
			}
		})
	}

	if r.RequireMention("123", "") {
		t.Errorf("RequireMention(123) = true, want per-group override false")
	}
	if !r.RequireMention("999", "") {
		t.Errorf("RequireMention(999) = false, want account default true")
	}
}

func TestGroupToolPolicy(t *testing.T) {
	t.Parallel()

	r := &config.Resolved{
		Groups: map[string]config.GroupConfig{
			"123": {
				Tools:         []string{"send", "read"},
				ToolsBySender: map[string][]string{"admin": {"*"}},
			},
			"open-group": {},
		},
	}

	tests := []struct {
		name    string
		groupID string
		sender  string
		tool    string
		want    bool
	}{
		{"group list allows listed tool", "123", "member", "read", true},
		{"group list denies unlisted tool", "123", "member", "unsend", false},
		{"sender wildcard grant overrides", "123", "admin", "unsend", true},
		{"entry without lists leaves tool open", "open-group", "member", "unsend", true},
		{"no matching entry leaves tool open", "elsewhere", "member", "unsend", true},
		{"tool match is case-insensitive", "123", "member", "READ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.GroupToolAllowed(tt.groupID, "", tt.sender, tt.tool); got != tt.want {
				t.Errorf("GroupToolAllowed(%q, %q, %q) = %v, want %v",
					tt.groupID, tt.sender, tt.tool, got, tt.want)
			}
		})
	}

	if tools := r.SenderTools("123", "", "admin"); len(tools) != 1 || tools[0] != "*" {
		t.Errorf("SenderTools(admin) = %v", tools)
	}
	if tools := r.SenderTools("123", "", "member"); tools != nil {
		t.Errorf("SenderTools(member) = %v, want nil", tools)
	}
}

func TestSenderAllowed(t *testing.T) {
	t.Parallel()

	if !config.SenderAllowed([]string{"a", "b"}, "b") {
		t.Errorf("listed sender rejected")
	}
	if config.SenderAllowed([]string{"a"}, "z") {
		t.Errorf("unlisted sender accepted")
	}
	if !config.SenderAllowed([]string{"*"}, "anyone") {
		t.Errorf("wildcard rejected")
	}
	if config.SenderAllowed(nil, "anyone") {
		t.Errorf("empty list accepted")
	}
}
