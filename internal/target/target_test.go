package target_test

import (
	"testing"

	"zalobridge/internal/target"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantID   string
		wantKind target.Kind
		wantErr  bool
	}{
		{"123456", "123456", target.KindAmbiguous, false},
		{"group:123", "123", target.KindGroup, false},
		{"user:456", "456", target.KindUser, false},
		{"g-123", "123", target.KindGroup, false},
		{"g:123", "123", target.KindGroup, false},
		{"u-456", "456", target.KindUser, false},
		{"u:456", "456", target.KindUser, false},
		{"dm:456", "456", target.KindUser, false},
		{"zalo:group:123", "123", target.KindGroup, false},
		{"Family Chat (group:789)", "789", target.KindGroup, false},
		{"Alice (user:42)", "42", target.KindUser, false},
		{"Bob (987)", "987", target.KindAmbiguous, false},
		{"", "", target.KindAmbiguous, true},
		{"group:", "", target.KindAmbiguous, true},
		{"  user:77  ", "77", target.KindUser, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := target.Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) error = nil, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if got.ID != tt.wantID || got.Kind != tt.wantKind {
				t.Errorf("Parse(%q) = {%q %v}, want {%q %v}", tt.in, got.ID, got.Kind, tt.wantID, tt.wantKind)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestDisambiguate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tgt       target.Target
		isGroup   *bool
		wantGroup bool
		wantErr   bool
	}{
		{"typed group no flag", target.Target{ID: "1", Kind: target.KindGroup}, nil, true, false},
		{"typed user no flag", target.Target{ID: "1", Kind: target.KindUser}, nil, false, false},
		{"typed group agreeing flag", target.Target{ID: "1", Kind: target.KindGroup}, boolPtr(true), true, false},
		{"typed group conflicting flag", target.Target{ID: "1", Kind: target.KindGroup}, boolPtr(false), false, true},
		{"typed user conflicting flag", target.Target{ID: "1", Kind: target.KindUser}, boolPtr(true), false, true},
		{"ambiguous with flag", target.Target{ID: "1", Kind: target.KindAmbiguous}, boolPtr(true), true, false},
		{"ambiguous without flag", target.Target{ID: "1", Kind: target.KindAmbiguous}, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, group, err := target.Disambiguate(tt.tgt, tt.isGroup)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Disambiguate() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Disambiguate() error = %v", err)
			}
			if id != tt.tgt.ID || group != tt.wantGroup {
				t.Errorf("Disambiguate() = (%q, %v), want (%q, %v)", id, group, tt.tgt.ID, tt.wantGroup)
			}
		})
	}
}
