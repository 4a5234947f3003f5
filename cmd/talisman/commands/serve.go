package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/livefir/talisman"
	"github.com/livefir/talisman/cmd/talisman/internal/ui"
)

// Serve streams the templates of a directory over HTTP. A request for /about
// renders about.html, bound with the keys of about.yaml when that file exists.
// Every partials/*.html file is loaded as a fragment. The same pages are
// streamed over WebSocket under /ws/.
func Serve(args []string) error {
	flagSet := flag.NewFlagSet("talisman serve", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: talisman serve [options] [directory]")
		flagSet.PrintDefaults()
	}
	addr := flagSet.String("addr", ":8080", "Address to listen on.")
	common := addCommonFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	dir := "."
	if flagSet.NArg() > 0 {
		dir = flagSet.Arg(0)
	}

	opts, logger, err := common.options(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "%s serving %s on %s\n", ui.Title("talisman"), dir, *addr)
	return listen(ctx, *addr, newSiteHandler(os.DirFS(dir), opts), logger)
}

// newSiteHandler routes page and WebSocket requests to templates in site.
func newSiteHandler(site fs.FS, opts []talisman.Option) http.Handler {
	build := func(r *http.Request) (*talisman.Template, error) {
		return buildPage(site, strings.TrimPrefix(r.URL.Path, "/ws"), opts)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", talisman.WebSocketHandler(talisman.WebSocketConfig{Build: build}))
	mux.Handle("/", talisman.Handler(build))
	return mux
}

func buildPage(site fs.FS, urlPath string, opts []talisman.Option) (*talisman.Template, error) {
	name := strings.Trim(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "index"
	}
	name = strings.TrimSuffix(name, ".html")
	if !fs.ValidPath(name) || strings.HasPrefix(path.Base(name), "_") {
		return nil, fmt.Errorf("page %q: %w", urlPath, fs.ErrNotExist)
	}

	opts = append(opts[:len(opts):len(opts)], talisman.WithFS(site))
	tmpl := talisman.Open(name+".html", opts...).AddStandardMasks()
	if err := tmpl.Err(); err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(site, name+".yaml")
	switch {
	case err == nil:
		values, err := decodeYAML(data)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", name, err)
		}
		tmpl.BindAll(values)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("page %q: %w", name, err)
	}

	partials, err := fs.Glob(site, "partials/*.html")
	if err != nil {
		return nil, err
	}
	for _, partial := range partials {
		tmpl.Load(partial)
	}
	return tmpl, tmpl.Err()
}

// listen serves handler until ctx is done, then shuts down gracefully.
func listen(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
