package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"zalobridge/internal/config"
)

const (
	geminiMaxRetries = 2
	geminiRetryDelay = 2 * time.Second
)

// geminiEngine is the default Engine backed by Google's Gemini API.
type geminiEngine struct {
	client      *genai.Client
	log         *slog.Logger
	baseCfg     *genai.GenerateContentConfig
	modelName   string
	callTimeout time.Duration
}

// NewGeminiEngine creates the default reply engine from agent configuration.
func NewGeminiEngine(ctx context.Context, cfg config.AgentConfig, log *slog.Logger) (Engine, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("agent token is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Token,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temp := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if cfg.Instruction != "" {
		baseCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instruction}}}
	}

	logger := log.With("component", "gemini_engine")
	logger.Info("Gemini engine initialized", "model", cfg.Model)
	return &geminiEngine{
		client:      client,
		log:         logger,
		baseCfg:     baseCfg,
		modelName:   cfg.Model,
		callTimeout: cfg.Timeout,
	}, nil
}

// Generate builds the transcript from the request and emits the model's
// reply as a single chunk. Streaming happens at the dispatcher layer via
// chunked delivery; the engine contract still allows multi-chunk emitters.
func (e *geminiEngine) Generate(ctx context.Context, req *Request, emit func(Chunk) error) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}

	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	var contents []*genai.Content
	for _, line := range req.History {
		contents = append(contents, genai.NewContentFromText(line, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(e.formatLive(req), genai.RoleUser))

	resp, err := e.generateWithRetries(callCtx, contents)
	if err != nil {
		return err
	}

	text, err := e.extractText(callCtx, resp)
	if err != nil {
		return err
	}

	return emit(Chunk{Text: text})
}

func (e *geminiEngine) formatLive(req *Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s: %s", req.Timestamp.Format("2006-01-02 15:04:05"), req.SenderName, req.Body)
	if req.ReplyTo != nil && req.ReplyTo.Preview != "" {
		fmt.Fprintf(&sb, "\n(replying to: %s)", req.ReplyTo.Preview)
	}
	if n := len(req.MediaPaths) + len(req.MediaURLs); n > 0 {
		fmt.Fprintf(&sb, "\n(%d media attachment(s))", n)
	}
	return sb.String()
}

func (e *geminiEngine) generateWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= geminiMaxRetries; i++ {
		resp, err = e.client.Models.GenerateContent(ctx, e.modelName, contents, e.baseCfg)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) && i < geminiMaxRetries {
			e.log.InfoContext(ctx, "Retrying Gemini call after retriable error",
				"attempt", i+1, "code", apiErr.Code, "delay", geminiRetryDelay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(geminiRetryDelay):
			}
			continue
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, fmt.Errorf("gemini API call failed after %d retries: %w", geminiMaxRetries, err)
}

func (e *geminiEngine) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		e.log.ErrorContext(ctx, "Gemini request blocked", "reason", reason)
		return "", fmt.Errorf("reply blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned empty content")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}
