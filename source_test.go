package talisman

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT NOT NULL)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

func TestFromSlice(t *testing.T) {
	src := FromSlice([]string{"a", "b"})
	ctx := context.Background()

	for _, want := range []string{"a", "b"} {
		got, err := src.Next(ctx)
		if err != nil || got != want {
			t.Fatalf("Next() = %v, %v; want %s", got, err, want)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestFromChannelHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ch <-chan int = make(chan int)
	if _, err := FromChannel(ch).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if _, err := ValueOf(make(chan int)).source.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from a bound channel, got %v", err)
	}
}

func TestFromRows(t *testing.T) {
	db := openTestDB(t)
	f := gofakeit.New(7)

	type user struct{ name, email string }
	var users []user
	for i := 0; i < 5; i++ {
		u := user{name: f.Name(), email: f.Email()}
		users = append(users, u)
		if _, err := db.Exec(`INSERT INTO users (name, email) VALUES (?, ?)`, u.name, u.email); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	rows, err := db.Query(`SELECT id, name, email FROM users ORDER BY id`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	src := FromRows(rows)

	for i, want := range users {
		item, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		row, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("Expected map row, got %T", item)
		}
		if row["name"] != want.name || row["email"] != want.email {
			t.Errorf("Row %d = %v, want %+v", i, row, want)
		}
		if row["id"] != int64(i+1) {
			t.Errorf("Row %d id = %v (%T)", i, row["id"], row["id"])
		}
	}

	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRenderRowsFromDatabase(t *testing.T) {
	db := openTestDB(t)
	for _, name := range []string{"Ann", "Bob <admin>"} {
		if _, err := db.Exec(`INSERT INTO users (name, email) VALUES (?, ?)`, name, "x@example.com"); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	rows, err := db.Query(`SELECT name FROM users ORDER BY id`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	tmpl := New("<ul id='users'><!-- user --><li>{name}</li><!-- /user --></ul>").
		SetIterator(FromRows(rows), "user")

	out := render(t, tmpl)
	if want := "<ul id='users'><li>Ann</li><li>Bob &lt;admin&gt;</li></ul>"; out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}

	// the render closed the rows, releasing the only connection
	if err := db.Ping(); err != nil {
		t.Errorf("Expected connection to be released, got %v", err)
	}
}
