package comparator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"SpectrumRanker/internal/domain"
)

// Prompter obtains a human choice for a question.
type Prompter interface {
	Choose(ctx context.Context, q Question) (leftWins bool, err error)
}

// HumanComparator records human judgments. Its verdicts are authoritative.
type HumanComparator struct {
	prompter Prompter
}

var _ Comparator = (*HumanComparator)(nil)

// NewHumanComparator builds a comparator around prompter.
func NewHumanComparator(prompter Prompter) *HumanComparator {
	return &HumanComparator{prompter: prompter}
}

func (c *HumanComparator) Model() string { return domain.HumanModel }

func (c *HumanComparator) Compare(ctx context.Context, q Question) (Verdict, error) {
	leftWins, err := c.prompter.Choose(ctx, q)
	if err != nil {
		return Verdict{}, err
	}
	response := "2"
	if leftWins {
		response = "1"
	}
	return Verdict{LeftWins: leftWins, Response: response}, nil
}

// TerminalPrompter asks on a terminal and reads "1" or "2".
type TerminalPrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewTerminalPrompter reads answers from in and writes prompts to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewScanner(in), out: out}
}

func (p *TerminalPrompter) Choose(ctx context.Context, q Question) (bool, error) {
	fmt.Fprintf(p.out, "\n%s\n  1) %s\n  2) %s\n", q.Subject.Text, q.Left.Text, q.Right.Text)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprint(p.out, "Which satisfies it better? [1/2]: ")
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return false, fmt.Errorf("read answer: %w", err)
			}
			return false, fmt.Errorf("read answer: %w", io.ErrUnexpectedEOF)
		}
		switch strings.TrimSpace(p.in.Text()) {
		case "1":
			return true, nil
		case "2":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer 1 or 2.")
	}
}

// DeferredPrompter never answers; verdicts arrive later through the human comparison endpoint.
type DeferredPrompter struct{}

func (DeferredPrompter) Choose(context.Context, Question) (bool, error) {
	return false, ErrHumanPending
}
