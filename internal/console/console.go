// Package console is the terminal front end: one session, one query per
// line, until the user types exit or input ends.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// Prompt is printed before every line is read.
const Prompt = "\nAsk something (or 'exit'): "

// exitCommand ends the session, compared case-insensitively.
const exitCommand = "exit"

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// Asker answers queries for one session. *agent.Agent implements it.
type Asker interface {
	Ask(ctx context.Context, query string) (*orchestrator.Response, error)
}

// Option configures [Run].
type Option func(*settings)

type settings struct {
	showTrace bool
}

// WithTrace prints the capability requests and the reasoning trace of each
// turn before the answer.
func WithTrace(enabled bool) Option {
	return func(s *settings) { s.showTrace = enabled }
}

// Run reads queries from in and writes answers to out. It returns nil on
// exit or end of input and ctx.Err() when ctx is cancelled between lines. A
// failed turn prints an error line and the session continues.
func Run(ctx context.Context, in io.Reader, out io.Writer, a Asker, opts ...Option) error {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, Prompt)
		if !sc.Scan() {
			fmt.Fprintln(out)
			if err := sc.Err(); err != nil {
				return fmt.Errorf("console: read input: %w", err)
			}
			return nil
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, exitCommand) {
			return nil
		}

		resp, err := a.Ask(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "\nError: %s\n", userMessage(err))
			continue
		}

		if s.showTrace {
			printTrace(out, resp)
		}
		fmt.Fprintf(out, "\nFinal AI response:\n%s\n", resp.FinalText)
	}
}

func printTrace(out io.Writer, resp *orchestrator.Response) {
	for _, r := range resp.CapabilityRequests {
		fmt.Fprintf(out, "\nAI requested tool (round %d, %s):\n%s %s\n", r.Round, r.Status, r.Name, r.Arguments)
	}
	if resp.DiagnosticTrace != "" {
		fmt.Fprintf(out, "\nReasoning:\n%s\n", resp.DiagnosticTrace)
	}
}

// userMessage hides internal error detail.
func userMessage(err error) string {
	if errors.Is(err, llm.ErrProviderFatal) {
		return "the assistant could not answer right now. Please try again."
	}
	return "something went wrong. Please try again."
}
