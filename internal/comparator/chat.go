package comparator

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"SpectrumRanker/internal/ports"
)

// PromptStyle selects how options are presented to a chat model and how its answer is read.
type PromptStyle string

const (
	// PromptVerbatim expects the answer to repeat the chosen option.
	PromptVerbatim PromptStyle = "verbatim"
	// PromptBracket wraps options in braces and reads the braced part of the answer.
	PromptBracket PromptStyle = "bracket"
)

const chatSystemPrompt = "You compare two statements against a criterion and answer with the statement that satisfies it better. Answer with the statement only."

// ChatComparator asks a chat-completion model to pick an option.
type ChatComparator struct {
	model   string
	backend string
	client  ports.ChatCompleter
	style   PromptStyle
}

var _ Comparator = (*ChatComparator)(nil)

// NewChatComparator registers under model and completes with backend.
func NewChatComparator(model, backend string, client ports.ChatCompleter, style PromptStyle) *ChatComparator {
	if style != PromptBracket {
		style = PromptVerbatim
	}
	return &ChatComparator{model: model, backend: backend, client: client, style: style}
}

func (c *ChatComparator) Model() string { return c.model }

// Compare resolves the answer to the closer option by edit distance. Equal distance goes to Left.
func (c *ChatComparator) Compare(ctx context.Context, q Question) (Verdict, error) {
	answer, err := c.client.Complete(ctx, c.backend, chatSystemPrompt, c.prompt(q))
	if err != nil {
		return Verdict{}, err
	}

	choice, err := c.extract(answer)
	if err != nil {
		return Verdict{}, err
	}

	left := levenshtein.ComputeDistance(choice, normalizeAnswer(q.Left.Text))
	right := levenshtein.ComputeDistance(choice, normalizeAnswer(q.Right.Text))
	return Verdict{LeftWins: left <= right, Response: answer}, nil
}

func (c *ChatComparator) prompt(q Question) string {
	if c.style == PromptBracket {
		return fmt.Sprintf("Criterion: %s\nWhich option satisfies the criterion better, {%s} or {%s}? Reply with the chosen option in curly braces.",
			q.Subject.Text, q.Left.Text, q.Right.Text)
	}
	return fmt.Sprintf("Criterion: %s\nOption 1: %s\nOption 2: %s\nWhich option satisfies the criterion better? Reply with the text of that option.",
		q.Subject.Text, q.Left.Text, q.Right.Text)
}

func (c *ChatComparator) extract(answer string) (string, error) {
	text := answer
	if c.style == PromptBracket {
		open, end := strings.Index(answer, "{"), strings.LastIndex(answer, "}")
		if open < 0 || end <= open {
			return "", &InvalidResponseError{Model: c.model, Reason: "answer has no braced choice", Response: answer}
		}
		text = answer[open+1 : end]
	}

	text = normalizeAnswer(text)
	if text == "" {
		return "", &InvalidResponseError{Model: c.model, Reason: "empty answer", Response: answer}
	}
	return text, nil
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'.`))
}
