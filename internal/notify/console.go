// Package notify delivers newly detected movements to humans: a console
// table for one-shot runs and Telegram for the long-running service.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/prophit/market-tracker/internal/model"
)

const maxQuestionWidth = 48

// Console prints movements as a table.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter creates a notifier writing to w.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// NotifyMovements prints one row per movement.
func (c *Console) NotifyMovements(_ context.Context, movements []model.MovementView) error {
	ts := c.now().Format("15:04:05")
	if len(movements) == 0 {
		fmt.Fprintf(c.out, "[%s] no significant movements\n", ts)
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] %d significant movement(s)\n", ts, len(movements))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Category", "Market", "Outcome", "Old", "New", "Change")
	for i, mv := range movements {
		table.Append(
			fmt.Sprintf("%d", i+1),
			mv.Category,
			truncate(mv.MarketQuestion, maxQuestionWidth),
			mv.Outcome,
			fmt.Sprintf("%.4f", mv.OldPrice),
			fmt.Sprintf("%.4f", mv.NewPrice),
			fmt.Sprintf("%+.2f%%", mv.ChangePercent),
		)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render movements table: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
