// Package openai implements paper.Evaluator on the OpenAI chat-completions
// API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/paperlens/paperlens/internal/assessment"
	"github.com/paperlens/paperlens/internal/paper"
)

// Config controls the model client.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string // override for proxies and tests
	MaxTokens int
	Version   string // assessment framework version stamped into metadata
}

const (
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4000
)

// Client calls the chat-completions endpoint and parses the structured
// assessment out of the response.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	version   string
	clock     paper.Clock
}

// New builds a Client. The clock stamps assessment metadata and must not be
// nil.
func New(cfg Config, clock paper.Clock) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     model,
		maxTokens: maxTokens,
		version:   cfg.Version,
		clock:     clock,
	}
}

// Evaluate runs the 12-dimension assessment over one paper. The call honors
// ctx; callers bound it with their own timeout.
func (c *Client) Evaluate(ctx context.Context, rec paper.Record) (*assessment.Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(rec)},
		},
	}
	// Reasoning models reject MaxTokens and want MaxCompletionTokens.
	if isReasoningModel(c.model) {
		req.MaxCompletionTokens = c.maxTokens
	} else {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	result, err := assessment.Parse([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, err
	}
	result.Metadata = assessment.Metadata{
		AssessedAt: c.clock.Now(),
		Model:      c.model,
		Version:    c.version,
		PaperPath:  PDFURL(rec.ArxivID),
	}
	return result, nil
}

func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4") ||
		strings.HasPrefix(model, "gpt-5")
}

// PDFURL maps an arXiv id to the canonical PDF location.
func PDFURL(arxivID string) string {
	return fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", arxivID)
}
