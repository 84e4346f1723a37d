package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
)

// ContentRenderer transforms outbound text before it is printed (e.g. Markdown to ANSI).
type ContentRenderer func(string) (string, error)

// Console plays the participant side of one conversation on a terminal.
// Each line read is delivered synchronously to the handler and the
// outbound messages of the resulting walk are printed.
type Console struct {
	handler     ports.InboundHandler
	tenantID    int64
	participant string

	reader   *bufio.Reader
	writer   io.Writer
	renderer ContentRenderer
	maxInput int
}

// ConsoleOption configures the Console.
type ConsoleOption func(*Console)

// WithRenderer configures the content renderer.
func WithRenderer(r ContentRenderer) ConsoleOption {
	return func(c *Console) {
		c.renderer = r
	}
}

// WithConsoleMaxInputSize sets the per-line size limit.
func WithConsoleMaxInputSize(n int) ConsoleOption {
	return func(c *Console) {
		c.maxInput = n
	}
}

// NewConsole creates a console for the (tenantID, participant) conversation.
func NewConsole(handler ports.InboundHandler, tenantID int64, participant string, r io.Reader, w io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		handler:     handler,
		tenantID:    tenantID,
		participant: participant,
		reader:      bufio.NewReader(r),
		writer:      w,
		maxInput:    DefaultMaxInputSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lineResult struct {
	text string
	err  error
}

// Run reads lines until EOF or ctx is canceled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		for {
			text, err := c.reader.ReadString('\n')
			if text != "" || err != nil {
				select {
				case lines <- lineResult{text: text, err: err}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.writer, "> ")

		var res lineResult
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.writer)
			return nil
		case r, ok := <-lines:
			if !ok {
				return nil
			}
			res = r
		}

		if text := strings.TrimSpace(res.text); text != "" {
			if err := c.Send(ctx, text); err != nil {
				return err
			}
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				fmt.Fprintln(c.writer)
				return nil
			}
			return res.err
		}
	}
}

// Send delivers one message as the participant and prints the replies.
func (c *Console) Send(ctx context.Context, text string) error {
	clean, err := SanitizeInput(text, c.maxInput)
	if err != nil {
		fmt.Fprintf(c.writer, "Error: %v. Please try again.\n", err)
		return nil
	}

	res, err := c.handler.HandleInbound(ctx, domain.InboundEvent{
		TenantID:   c.tenantID,
		FromNumber: c.participant,
		Text:       clean,
	})
	if errors.Is(err, domain.ErrNoActiveFlow) {
		fmt.Fprintf(c.writer, "[System] %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}

	for _, m := range res.Outcome.Emitted {
		output := m.Content
		if c.renderer != nil {
			if rendered, err := c.renderer(m.Content); err == nil {
				output = rendered
			}
		}
		fmt.Fprintln(c.writer, strings.TrimSpace(output))
	}

	switch res.Outcome.Stop {
	case domain.StopClosed:
		fmt.Fprintln(c.writer, "[System] conversation closed")
	case domain.StopEscalated, domain.StopHandedOff:
		fmt.Fprintln(c.writer, "[System] conversation handed to a human agent")
	}
	return nil
}
