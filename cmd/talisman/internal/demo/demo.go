// Package demo is a small team dashboard streamed by talisman. Members come
// from a SQLite database as rows, activity arrives over a channel and the
// statistics block waits for a slow count before it decides what to show.
package demo

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/livefir/talisman"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

//go:embed templates/*.html
var templatesFS embed.FS

// goose keeps its base FS and dialect in package state
var migrateMu sync.Mutex

// Store holds the demo data set.
type Store struct {
	db *sql.DB
}

// Stats are the figures shown in the statistics block.
type Stats struct {
	Members  int
	Activity int
}

// Open opens the database at dsn, applies the migrations and seeds it with
// members fake people generated from seed.
func Open(ctx context.Context, dsn string, seed uint64, members int) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a :memory: database lives in a single connection
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.seed(ctx, seed, members); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (s *Store) seed(ctx context.Context, seed uint64, members int) error {
	f := gofakeit.New(seed)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < members; i++ {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO members (name, email, role) VALUES (?, ?, ?)`,
			f.Name(), f.Email(), f.JobTitle())
		if err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for j := 0; j < f.IntRange(0, 3); j++ {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO activity (member_id, message) VALUES (?, ?)`,
				id, f.HackerPhrase()); err != nil {
				return fmt.Errorf("failed to insert activity: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Members streams every member ordered by name.
func (s *Store) Members(ctx context.Context) (*talisman.RowSource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, email, role FROM members ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	return talisman.FromRows(rows), nil
}

// Activity returns up to limit activity messages, newest first.
func (s *Store) Activity(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.name || ': ' || a.message
		FROM activity a JOIN members m ON m.id = a.member_id
		ORDER BY a.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var messages []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Stats counts members and activity entries.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM members), (SELECT COUNT(*) FROM activity)`).
		Scan(&st.Members, &st.Activity)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count: %w", err)
	}
	return st, nil
}

// Options tune the demo pages.
type Options struct {
	// Delay is the pause before each streamed activity entry and the count
	Delay time.Duration
	// ActivityLimit caps the streamed activity entries
	ActivityLimit int
	Logger        *slog.Logger
	Template      []talisman.Option
}

// NewHandler serves the dashboard at / and streams it over WebSocket at /ws.
// Adding ?fail=1 makes the statistics fail so the fallback block shows.
func NewHandler(store *Store, opts Options) http.Handler {
	build := func(r *http.Request) (*talisman.Template, error) {
		return store.Page(r.Context(), r.URL.Query().Has("fail"), opts)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", talisman.WebSocketHandler(talisman.WebSocketConfig{Build: build}))
	mux.Handle("/", talisman.Handler(build))
	return mux
}

// Page builds the dashboard template. Values bound here resolve while the
// page streams; ctx bounds the background producers.
func (s *Store) Page(ctx context.Context, fail bool, opts Options) (*talisman.Template, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tmplOpts := append([]talisman.Option{talisman.WithFS(templatesFS), talisman.WithLogger(logger)}, opts.Template...)
	tmpl := talisman.Open("templates/page.html", tmplOpts...).
		Load("templates/header.html").
		AddStandardMasks().
		Bind("title", "Team dashboard").
		Bind("engine", "talisman").
		Bind("now", func() string { return time.Now().Format(time.Kitchen) })

	// rows are queried only once the table is reached
	tmpl.SetIterator(func(ctx context.Context) (any, error) {
		members, err := s.Members(ctx)
		if err != nil {
			return nil, err
		}
		return members, nil
	}, "member")

	events := make(chan string)
	go s.streamActivity(ctx, events, opts, logger)
	tmpl.SetIterator(events, "event")

	stats := talisman.NewDeferred()
	tmpl.Bind("stats", stats).WaitUntil(stats, "unavailable")
	go func() {
		if err := sleep(ctx, opts.Delay); err != nil {
			stats.Reject(err)
			return
		}
		if fail {
			stats.Reject(errors.New("statistics backend unavailable"))
			return
		}
		st, err := s.Stats(ctx)
		if err != nil {
			stats.Reject(err)
			return
		}
		tmpl.Remove("unavailable")
		stats.Resolve(map[string]any{
			"count":   st.Members,
			"events":  st.Activity,
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		})
	}()

	return tmpl, tmpl.Err()
}

// streamActivity sends the latest activity one entry at a time.
func (s *Store) streamActivity(ctx context.Context, events chan<- string, opts Options, logger *slog.Logger) {
	defer close(events)

	limit := opts.ActivityLimit
	if limit <= 0 {
		limit = 5
	}
	messages, err := s.Activity(ctx, limit)
	if err != nil {
		logger.Warn("activity unavailable", "error", err)
		return
	}

	for _, msg := range messages {
		if err := sleep(ctx, opts.Delay); err != nil {
			return
		}
		select {
		case events <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
