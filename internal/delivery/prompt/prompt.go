// Package prompt asks the operator yes/no questions in the terminal.
package prompt

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Confirmer shows huh confirm dialogs.
type Confirmer struct {
	accessible bool
}

// NewConfirmer creates a Confirmer. accessible switches to plain line-based prompts,
// for screen readers or dumb terminals.
func NewConfirmer(accessible bool) *Confirmer {
	return &Confirmer{accessible: accessible}
}

// Confirm asks the question and waits for an answer or for ctx to end.
// Pressing Ctrl+C in the dialog counts as "no".
func (c *Confirmer) Confirm(ctx context.Context, title, description string) (bool, error) {
	var confirm bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&confirm),
		),
	).WithAccessible(c.accessible)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return confirm, nil
}

// Interactive reports whether both files are terminals, i.e. a human can answer.
func Interactive(in, out *os.File) bool {
	return isTerminal(in) && isTerminal(out)
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Accessible reports whether the plain prompt mode was requested via the environment.
func Accessible() bool {
	return os.Getenv("ACCESSIBLE") != "" || os.Getenv("TERM") == "dumb"
}
