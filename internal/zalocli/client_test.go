package zalocli_test

import (
	"context"
	"strings"
	"testing"

	"zalobridge/internal/zalocli"
)

func TestParseSendResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		res         zalocli.Result
		wantSuccess bool
		wantMsgID   string
		wantErrPart string
	}{
		{
			name:        "json success flag",
			res:         zalocli.Result{Stdout: `{"success":true,"msgId":"m-1","cliMsgId":"c-1"}`},
			wantSuccess: true,
			wantMsgID:   "m-1",
		},
		{
			name:        "ids imply success despite nonzero exit",
			res:         zalocli.Result{Stdout: `{"msgId":"m-2","cliMsgId":"c-2"}`, ExitCode: 1},
			wantSuccess: true,
			wantMsgID:   "m-2",
		},
		{
			name:        "ok alias",
			res:         zalocli.Result{Stdout: `{"ok":true}`},
			wantSuccess: true,
		},
		{
			name:        "progress noise before payload",
			res:         zalocli.Result{Stdout: "uploading...\ndone\n{\"msgId\":\"m-3\"}"},
			wantSuccess: true,
			wantMsgID:   "m-3",
		},
		{
			name:        "clean exit with no payload",
			res:         zalocli.Result{Stdout: "sent"},
			wantSuccess: true,
		},
		{
			name:        "failure takes stderr first line",
			res:         zalocli.Result{Stderr: "session expired\nmore detail", ExitCode: 1},
			wantErrPart: "session expired",
		},
		{
			name:        "failure with no stderr names exit code",
			res:         zalocli.Result{ExitCode: 3},
			wantErrPart: "code 3",
		},
		{
			name:        "json error field",
			res:         zalocli.Result{Stdout: `{"success":false,"error":"rate limited"}`, ExitCode: 1},
			wantErrPart: "rate limited",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := zalocli.ParseSendResult(tt.res)
			if got.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v (result %+v)", got.Success, tt.wantSuccess, got)
			}
			if tt.wantMsgID != "" && got.MsgID != tt.wantMsgID {
				t.Errorf("MsgID = %q, want %q", got.MsgID, tt.wantMsgID)
			}
			if tt.wantErrPart != "" && !strings.Contains(got.Error, tt.wantErrPart) {
				t.Errorf("Error = %q, want substring %q", got.Error, tt.wantErrPart)
			}
		})
	}
}

type scriptRunner struct {
	results map[string]zalocli.Result
	lastCmd []string
}

func (r *scriptRunner) Run(_ context.Context, args ...string) (zalocli.Result, error) {
	r.lastCmd = args
	key := ""
	if len(args) > 1 {
		key = args[0] + " " + args[1]
	}
	return r.results[key], nil
}

func TestClient_Recent(t *testing.T) {
	t.Parallel()

	runner := &scriptRunner{results: map[string]zalocli.Result{
		"msg recent": {Stdout: `[{"msgId":"m-1","senderId":"u1","ts":100,"content":"hi"}]`},
	}}
	c := zalocli.NewClient(runner, nil)

	rows, err := c.Recent(context.Background(), "t1", 5, true)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(rows) != 1 || rows[0].MsgID != "m-1" || rows[0].Content != "hi" {
		t.Errorf("rows = %+v", rows)
	}

	wantFlags := map[string]bool{"-n": false, "-g": false}
	for _, a := range runner.lastCmd {
		if _, ok := wantFlags[a]; ok {
			wantFlags[a] = true
		}
	}
	for flag, seen := range wantFlags {
		if !seen {
			t.Errorf("Recent() did not pass %s flag: %v", flag, runner.lastCmd)
		}
	}
}

func TestClient_Me(t *testing.T) {
	t.Parallel()

	runner := &scriptRunner{results: map[string]zalocli.Result{
		"me info": {Stdout: `{"id":"self-1","name":"Bridge"}`},
	}}
	c := zalocli.NewClient(runner, nil)

	info, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if info.EffectiveID() != "self-1" {
		t.Errorf("EffectiveID() = %q", info.EffectiveID())
	}

	empty := &scriptRunner{results: map[string]zalocli.Result{
		"me info": {Stdout: `{}`},
	}}
	if _, err := zalocli.NewClient(empty, nil).Me(context.Background()); err == nil {
		t.Errorf("Me() with no id should error")
	}
}
