package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mtblotter/internal/config"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropic(cfg config.LLMConfig, model string) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), model: model}
}

// Complete sends one user message through the messages API and joins the
// text blocks of the reply.
func (c *anthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var content strings.Builder
	for _, block := range message.Content {
		if text := block.AsText(); text.Text != "" {
			content.WriteString(text.Text)
		}
	}
	if content.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty message")
	}
	return content.String(), nil
}
