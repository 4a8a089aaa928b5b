package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/alavescortez-del/gingerai-sub000/internal/config"
	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
)

const (
	maxRetries = 3
	retryDelay = 1 * time.Second

	// visionCommentMaxLen bounds the raw-text fallback when a vision reply
	// fails structured parsing.
	visionCommentMaxLen = 280
)

// ErrMissingCredential marks a configuration fault: no API key was provided,
// so no turn can be served. Distinct from a Denied or a backend failure.
var ErrMissingCredential = errors.New("backend: missing API key")

// ErrEmptyCompletion marks a 2xx response that carried no textual content.
var ErrEmptyCompletion = errors.New("backend: empty completion")

// APIError is a non-2xx answer from the completion service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: API error %d: %s", e.StatusCode, e.Message)
}

// Client invokes an OpenAI-compatible chat-completion service.
type Client struct {
	client *openai.Client
	model  string
	hasKey bool
}

// VisionReply is the structured payload expected from image-grounded calls.
type VisionReply struct {
	Comment string `json:"comment"`
	Context string `json:"context"`
}

func NewClient(cfg config.BackendConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		hasKey: cfg.APIKey != "",
	}
}

// Complete sends one chat completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	if !c.hasKey {
		return "", ErrMissingCredential
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemInstructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstructions,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	oreq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, oreq)
		if err != nil {
			lastErr = translateErr(err)
			if !isRetryable(err) {
				return "", lastErr
			}
			continue
		}

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", ErrEmptyCompletion
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("backend: failed after %d attempts: %w", maxRetries, lastErr)
}

// DescribeImage runs an image-grounded call that should come back as JSON
// {"comment": ..., "context": ...}. A reply that fails structured parsing is
// degraded to a raw-text comment, truncated to a safe length, rather than
// failing the call.
func (c *Client) DescribeImage(ctx context.Context, instructions, imageURL string) (*VisionReply, error) {
	if !c.hasKey {
		return nil, ErrMissingCredential
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
		MaxTokens: 200,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, translateErr(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyCompletion
	}

	return ParseVisionReply(resp.Choices[0].Message.Content), nil
}

// ParseVisionReply extracts the structured vision payload, falling back to
// the raw text when it is not valid JSON.
func ParseVisionReply(raw string) *VisionReply {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var reply VisionReply
	if err := json.Unmarshal([]byte(trimmed), &reply); err == nil && reply.Comment != "" {
		return &reply
	}

	return &VisionReply{Comment: truncateRunes(trimmed, visionCommentMaxLen)}
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func translateErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	return err
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	// Transport-level failures (timeouts, refused connections) are worth a
	// second attempt.
	return true
}
