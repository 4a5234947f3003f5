package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/livefir/talisman/cmd/talisman/internal/demo"
	"github.com/livefir/talisman/cmd/talisman/internal/ui"
)

// Demo runs the streaming dashboard demo.
func Demo(args []string) error {
	flagSet := flag.NewFlagSet("talisman demo", flag.ContinueOnError)
	addr := flagSet.String("addr", ":8080", "Address to listen on.")
	members := flagSet.Int("members", 25, "Number of fake members to seed.")
	seed := flagSet.Uint64("seed", 1, "Seed for the fake data.")
	delay := flagSet.Duration("delay", 400*time.Millisecond, "Pause before each streamed activity entry.")
	dsn := flagSet.String("db", ":memory:", "SQLite database to seed.")
	common := addCommonFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	opts, logger, err := common.options(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := demo.Open(ctx, *dsn, *seed, *members)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := demo.NewHandler(store, demo.Options{
		Delay:    *delay,
		Logger:   logger,
		Template: opts,
	})

	fmt.Fprintf(os.Stderr, "%s demo on http://localhost%s\n", ui.Title("talisman"), *addr)
	fmt.Fprintln(os.Stderr, ui.Muted("  /         streamed page"))
	fmt.Fprintln(os.Stderr, ui.Muted("  /?fail=1  statistics fallback"))
	fmt.Fprintln(os.Stderr, ui.Muted("  /ws       the same page over WebSocket"))
	return listen(ctx, *addr, handler, logger)
}
