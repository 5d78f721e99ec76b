package normalize_test

import (
	"testing"

	"zalobridge/internal/normalize"
	"zalobridge/internal/zalocli"
)

func TestNormalize_FieldCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        zalocli.RawEvent
		wantThread string
		wantSender string
		wantMsgID  string
	}{
		{
			name: "primary field names",
			raw: zalocli.RawEvent{
				"threadId": "t1", "senderId": "s1", "msgId": "m1", "content": "hi",
			},
			wantThread: "t1", wantSender: "s1", wantMsgID: "m1",
		},
		{
			name: "aliased field names",
			raw: zalocli.RawEvent{
				"toId": "t2", "uidFrom": "s2", "messageId": "m2", "text": "hi",
			},
			wantThread: "t2", wantSender: "s2", wantMsgID: "m2",
		},
		{
			name: "numeric ids coerced",
			raw: zalocli.RawEvent{
				"conversationId": float64(42), "fromId": float64(7), "globalMsgId": "m3", "body": "hi",
			},
			wantThread: "42", wantSender: "7", wantMsgID: "m3",
		},
		{
			name: "priority order wins",
			raw: zalocli.RawEvent{
				"threadId": "primary", "toId": "secondary", "senderId": "s", "content": "hi",
			},
			wantThread: "primary", wantSender: "s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := normalize.Normalize(tt.raw, "")
			if msg == nil {
				t.Fatalf("Normalize() = nil")
			}
			if msg.ThreadID != tt.wantThread {
				t.Errorf("ThreadID = %q, want %q", msg.ThreadID, tt.wantThread)
			}
			if msg.SenderID != tt.wantSender {
				t.Errorf("SenderID = %q, want %q", msg.SenderID, tt.wantSender)
			}
			if tt.wantMsgID != "" && msg.MsgID != tt.wantMsgID {
				t.Errorf("MsgID = %q, want %q", msg.MsgID, tt.wantMsgID)
			}
		})
	}
}

func TestNormalize_ThreadName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  zalocli.RawEvent
		want string
	}{
		{
			name: "threadName primary",
			raw:  zalocli.RawEvent{"threadId": "g1", "threadName": "Family Chat", "isGroup": true, "content": "hi"},
			want: "Family Chat",
		},
		{
			name: "groupName alias",
			raw:  zalocli.RawEvent{"groupId": "g2", "groupName": "Work", "isGroup": true, "content": "hi"},
			want: "Work",
		},
		{
			name: "absent stays empty",
			raw:  zalocli.RawEvent{"threadId": "g3", "isGroup": true, "content": "hi"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := normalize.Normalize(tt.raw, "")
			if msg == nil {
				t.Fatalf("Normalize() = nil")
			}
			if msg.ThreadName != tt.want {
				t.Errorf("ThreadName = %q, want %q", msg.ThreadName, tt.want)
			}
		})
	}
}

func TestNormalize_Drops(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  zalocli.RawEvent
		self string
	}{
		{"nil event", nil, ""},
		{"lifecycle event", zalocli.RawEvent{"event": "heartbeat", "threadId": "t1"}, ""},
		{"missing thread id", zalocli.RawEvent{"content": "hi"}, ""},
		{"no content", zalocli.RawEvent{"threadId": "t1", "senderId": "s1"}, ""},
		{
			"self echo",
			zalocli.RawEvent{"threadId": "t1", "senderId": "me", "isSelf": true, "content": "hi"},
			"me",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if msg := normalize.Normalize(tt.raw, tt.self); msg != nil {
				t.Errorf("Normalize() = %+v, want nil", msg)
			}
		})
	}
}

func TestNormalize_GroupClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  zalocli.RawEvent
		want bool
	}{
		{"explicit bool", zalocli.RawEvent{"threadId": "t", "content": "x", "isGroup": true}, true},
		{"chat type group", zalocli.RawEvent{"threadId": "t", "content": "x", "chatType": "group"}, true},
		{"chat type dm", zalocli.RawEvent{"threadId": "t", "content": "x", "chatType": "dm", "type": float64(1)}, false},
		{"numeric type code", zalocli.RawEvent{"threadId": "t", "content": "x", "type": float64(1)}, true},
		{"default direct", zalocli.RawEvent{"threadId": "t", "content": "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := normalize.Normalize(tt.raw, "")
			if msg == nil {
				t.Fatalf("Normalize() = nil")
			}
			if msg.IsGroup != tt.want {
				t.Errorf("IsGroup = %v, want %v", msg.IsGroup, tt.want)
			}
		})
	}
}

func TestNormalize_QuoteAndMedia(t *testing.T) {
	t.Parallel()

	raw := zalocli.RawEvent{
		"threadId": "t1",
		"senderId": "s1",
		"content":  "see this",
		"quote": map[string]any{
			"globalMsgId": "q-m", "cliMsgId": "q-c", "msg": "original text",
		},
		"attachments": []any{
			map[string]any{"path": "/tmp/a.jpg", "type": "image/jpeg"},
			map[string]any{"url": "https://x/y.png"},
			map[string]any{"path": "/tmp/a.jpg"}, // duplicate collapses
		},
	}

	msg := normalize.Normalize(raw, "")
	if msg == nil {
		t.Fatalf("Normalize() = nil")
	}
	if msg.Quote == nil || msg.Quote.MsgID != "q-m" || msg.Quote.CliMsgID != "q-c" {
		t.Fatalf("Quote = %+v", msg.Quote)
	}
	if len(msg.MediaPaths) != 1 || msg.MediaPaths[0] != "/tmp/a.jpg" {
		t.Errorf("MediaPaths = %v", msg.MediaPaths)
	}
	if len(msg.MediaURLs) != 1 || msg.MediaURLs[0] != "https://x/y.png" {
		t.Errorf("MediaURLs = %v", msg.MediaURLs)
	}
}

func TestNormalize_Mentions(t *testing.T) {
	t.Parallel()

	raw := zalocli.RawEvent{
		"threadId": "t1",
		"senderId": "s1",
		"content":  "@bot hello",
		"mentions": []any{
			map[string]any{"uid": "self", "pos": float64(0), "len": float64(4)},
		},
	}

	msg := normalize.Normalize(raw, "")
	if msg == nil {
		t.Fatalf("Normalize() = nil")
	}
	if len(msg.MentionIDs) != 1 || msg.MentionIDs[0] != "self" {
		t.Errorf("MentionIDs = %v", msg.MentionIDs)
	}
	if len(msg.MentionSpans) != 1 || msg.MentionSpans[0].Length != 4 {
		t.Errorf("MentionSpans = %+v", msg.MentionSpans)
	}
}

func TestTimestampMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{1700000000, 1700000000000},     // seconds get scaled
		{1700000000123, 1700000000123},  // already milliseconds
		{999_999_999_999, 999999999999000},
	}
	for _, tt := range tests {
		if got := normalize.TimestampMS(tt.in); got != tt.want {
			t.Errorf("TimestampMS(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
