package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/livefir/talisman"
	"github.com/livefir/talisman/cmd/talisman/internal/ui"
)

// Parse validates a template file and prints its block and tag outline.
func Parse(args []string) error {
	return parse(args, os.Stdout)
}

func parse(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("template file required: talisman parse <template-file>")
	}
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	root, err := talisman.ParseBlocks(string(data))
	if err != nil {
		var malformed *talisman.MalformedTemplateError
		if errors.As(err, &malformed) {
			fmt.Fprintf(stdout, "%s %s:%d:%d: %s\n", ui.Error("✗"), path, malformed.Line, malformed.Column, malformed.Reason)
		}
		return err
	}

	fmt.Fprintln(stdout, ui.Title(path))
	ui.PrintTree(stdout, root)

	blocks, tags := ui.Summary(root)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%s %s\n", ui.Success("✓"), ui.Muted(fmt.Sprintf("%d blocks, %d tags", blocks, tags)))
	return nil
}
