package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/ports"
)

var _ ports.ChatCompleter = (*Client)(nil)

// Complete sends system and prompt as one chat turn and returns the first choice.
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", classify(model, err)
	}
	if len(resp.Choices) == 0 {
		return "", &comparator.InvalidResponseError{Model: model, Reason: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}
