package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var errAborted = errors.New("aborted")

// addForceFlag registers --force on a destructive command
func addForceFlag(c *cobra.Command) {
	c.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")
}

// confirm asks before a destructive action. --force skips the prompt; without
// a terminal to ask on, --force is required.
func confirm(cmd *cobra.Command, title string) error {
	if force, _ := cmd.Flags().GetBool("force"); force {
		return nil
	}
	if !output.IsTTY() {
		return &db.Error{Kind: db.ErrValidation, Op: "confirm", Msg: fmt.Sprintf("%s: pass --force to confirm in non-interactive mode", title)}
	}

	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Delete").
			Negative("Cancel").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	return nil
}
