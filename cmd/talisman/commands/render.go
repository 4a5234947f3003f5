package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/livefir/talisman"
)

// Render renders a template file to stdout.
func Render(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return render(ctx, args, os.Stdout, os.Stderr)
}

func render(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flagSet := flag.NewFlagSet("talisman render", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() {
		fmt.Fprintln(stderr, "Usage: talisman render [options] <template-file>")
		flagSet.PrintDefaults()
	}

	dataPath := flagSet.String("data", "", "Path to a YAML file whose top-level keys are bound as variables.")
	var loads stringList
	flagSet.Var(&loads, "load", "Fragment file bound as a block named after the file (repeatable).")
	var shown stringList
	flagSet.Var(&shown, "show", "Block rendered even when nothing is bound to it (repeatable).")
	common := addCommonFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("template file required")
	}

	opts, _, err := common.options(stderr)
	if err != nil {
		return err
	}

	path := flagSet.Arg(0)
	// fragments are resolved relative to the template
	dir := filepath.Dir(path)
	opts = append(opts, talisman.WithFS(os.DirFS(dir)))

	tmpl := talisman.Open(filepath.Base(path), opts...).AddStandardMasks()
	if *dataPath != "" {
		data, err := loadData(*dataPath)
		if err != nil {
			return err
		}
		tmpl.BindAll(data)
	}
	for _, fragment := range loads {
		rel, err := filepath.Rel(dir, fragment)
		if err != nil {
			return fmt.Errorf("fragment %q is outside %s: %w", fragment, dir, err)
		}
		tmpl.Load(filepath.ToSlash(rel))
	}
	for _, block := range shown {
		tmpl.ShowUndefinedBlock(block)
	}

	if err := tmpl.Err(); err != nil {
		return err
	}
	return tmpl.Execute(ctx, stdout)
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
