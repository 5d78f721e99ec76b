package zalocli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Client wraps the CLI command surface used by the core: identity, sends,
// typing, reactions, message mutations, and the recent-message query.
type Client struct {
	runner Runner
	logger *slog.Logger
}

// NewClient creates a client over the given runner.
func NewClient(runner Runner, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{runner: runner, logger: logger.With("component", "zalo_client")}
}

// AuthOK polls auth status once; a nil error means the session is usable.
func (c *Client) AuthOK(ctx context.Context) error {
	res, err := c.runner.Run(ctx, "auth", "status")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("auth status failed: %s", firstLine(res.Stderr))
	}
	return nil
}

// Me resolves the account's own backend identity.
func (c *Client) Me(ctx context.Context) (SelfInfo, error) {
	res, err := c.runner.Run(ctx, "me", "info", "-j")
	if err != nil {
		return SelfInfo{}, err
	}
	var info SelfInfo
	if err := json.Unmarshal([]byte(lastJSONLine(res.Stdout)), &info); err != nil {
		return SelfInfo{}, fmt.Errorf("failed to parse me info output: %w", err)
	}
	if info.EffectiveID() == "" {
		return SelfInfo{}, fmt.Errorf("me info returned no id")
	}
	return info, nil
}

// SendText sends a text message to a thread.
func (c *Client) SendText(ctx context.Context, threadID, text string, group bool) (SendResult, error) {
	args := []string{"msg", "send", threadID, text}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// SendMedia sends one media item with an optional caption. kind is one of
// image, video, voice, upload.
func (c *Client) SendMedia(ctx context.Context, threadID, kind, src, caption string, group bool) (SendResult, error) {
	args := []string{"msg", kind, threadID, "-u", src}
	if caption != "" {
		args = append(args, "-m", caption)
	}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// Typing fires a typing indicator for a thread.
func (c *Client) Typing(ctx context.Context, threadID string, group bool) error {
	args := []string{"msg", "typing", threadID}
	if group {
		args = append(args, "-g")
	}
	res, err := c.runner.Run(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("typing indicator failed: %s", firstLine(res.Stderr))
	}
	return nil
}

// React applies a reaction to a message. Both ids are required by the backend.
func (c *Client) React(ctx context.Context, msgID, cliMsgID, threadID, reaction string, group bool) (SendResult, error) {
	args := []string{"msg", "react", msgID, cliMsgID, threadID, reaction}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// Edit rewrites a previously sent message.
func (c *Client) Edit(ctx context.Context, msgID, cliMsgID, threadID, newText string, group bool) (SendResult, error) {
	args := []string{"msg", "edit", msgID, cliMsgID, threadID, newText}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// Delete removes a message locally.
func (c *Client) Delete(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (SendResult, error) {
	args := []string{"msg", "delete", msgID, cliMsgID, threadID}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// Undo unsends a message for all participants. Both ids are required.
func (c *Client) Undo(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (SendResult, error) {
	args := []string{"msg", "undo", msgID, cliMsgID, threadID}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// Pin pins a message in a thread.
func (c *Client) Pin(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (SendResult, error) {
	args := []string{"msg", "pin", msgID, cliMsgID, threadID}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// Unpin removes a pinned message.
func (c *Client) Unpin(ctx context.Context, msgID, cliMsgID, threadID string, group bool) (SendResult, error) {
	args := []string{"msg", "unpin", msgID, cliMsgID, threadID}
	if group {
		args = append(args, "-g")
	}
	return c.runSend(ctx, args)
}

// ListPins returns the raw JSON list of pinned messages for a thread.
func (c *Client) ListPins(ctx context.Context, threadID string, group bool) (string, error) {
	args := []string{"msg", "list-pins", threadID, "-j"}
	if group {
		args = append(args, "-g")
	}
	res, err := c.runner.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "" {
		return "", fmt.Errorf("list-pins failed: %s", firstLine(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// MemberInfo returns the raw JSON profile of a user.
func (c *Client) MemberInfo(ctx context.Context, userID string) (string, error) {
	res, err := c.runner.Run(ctx, "msg", "member-info", userID, "-j")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "" {
		return "", fmt.Errorf("member-info failed: %s", firstLine(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Recent queries the most recent messages in a thread.
func (c *Client) Recent(ctx context.Context, threadID string, count int, group bool) ([]RecentRow, error) {
	args := []string{"msg", "recent", threadID, "-j"}
	if count > 0 {
		args = append(args, "-n", fmt.Sprintf("%d", count))
	}
	if group {
		args = append(args, "-g")
	}
	res, err := c.runner.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	payload := strings.TrimSpace(res.Stdout)
	if payload == "" {
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("msg recent failed: %s", firstLine(res.Stderr))
		}
		return nil, nil
	}

	var rows []RecentRow
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse recent messages output: %w", err)
	}
	return rows, nil
}

func (c *Client) runSend(ctx context.Context, args []string) (SendResult, error) {
	res, err := c.runner.Run(ctx, args...)
	if err != nil {
		return SendResult{}, err
	}
	return ParseSendResult(res), nil
}

// ParseSendResult normalizes a send-style command result. Success is decided
// by in-band markers (explicit flag or recognizable id fields) even when the
// exit code is nonzero, since the CLI's exit semantics are inconsistent.
func ParseSendResult(res Result) SendResult {
	var sr SendResult
	payload := lastJSONLine(res.Stdout)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &sr); err == nil {
			if sr.Success || sr.OK || sr.MsgID != "" || sr.CliMsgID != "" {
				sr.Success = true
				return sr
			}
		}
	}
	if res.ExitCode == 0 && sr.Error == "" {
		sr.Success = true
		return sr
	}
	if sr.Error == "" {
		sr.Error = firstLine(res.Stderr)
		if sr.Error == "" {
			sr.Error = fmt.Sprintf("cli exited with code %d", res.ExitCode)
		}
	}
	return sr
}

// lastJSONLine returns the last line of s that looks like a JSON object or
// array, tolerating progress noise on stdout before the payload.
func lastJSONLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
			return line
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
