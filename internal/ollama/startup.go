package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the server is unreachable.
var ErrNotRunning = errors.New("Ollama is not running, start it with: ollama serve")

// EnsureReady verifies the server is up and model is installed, pulling it
// when missing. Pull progress goes to w in whole-percent steps.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("checking model %s: %w", model, err)
	}
	if !ok {
		fmt.Fprintf(w, "model %s: pulling\n", model)
		last := -1
		err := c.PullModel(ctx, model, func(p PullProgress) {
			if p.Total <= 0 {
				return
			}
			if pct := int(p.Completed * 100 / p.Total); pct/10 != last/10 {
				last = pct
				fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}

	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
