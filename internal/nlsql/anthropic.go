package nlsql

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

// Anthropic generates SQL with a single Claude call. No tool loop: the model
// never touches the warehouse, it only drafts a candidate from the schema
// brief.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic creates a provider backed by Claude or a compatible endpoint.
func NewAnthropic(apiKey, model, baseURL string) *Anthropic {
	if model == "" {
		model = "claude-sonnet-4-6"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
	}
}

func (a *Anthropic) GenerateSQL(ctx context.Context, question, schemaBrief string) (*Generated, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.model)),
		MaxTokens: anthropic.F(int64(a.maxTokens)),
		System: anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemPrompt(schemaBrief)),
		}),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(question)),
		}),
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text += b.Text
		}
	}

	sql := extractSQL(text)
	if sql == "" {
		log.Warn().Str("stop_reason", string(resp.StopReason)).Msg("model reply contained no SQL")
		return nil, fmt.Errorf("model reply contained no SQL")
	}

	return &Generated{SQL: sql, Explanation: explanationAround(text)}, nil
}

// explanationAround keeps the prose outside the code block as the explanation.
func explanationAround(text string) string {
	parts := strings.Split(text, "```")
	var prose []string
	for i := 0; i < len(parts); i += 2 {
		if p := strings.TrimSpace(parts[i]); p != "" {
			prose = append(prose, p)
		}
	}
	return strings.Join(prose, " ")
}
