package commands

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRenderCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"page.html":        "{nav}<h1>{title|upper}</h1><!-- item -->[{label}]<!-- /item --><!-- extra -->{missing}<!-- /extra -->",
		"nav.html":         "<nav>{title}</nav>",
		"data.yaml":        "title: hello\nitem:\n  - label: a\n  - label: b\n",
		"config.yaml":      "hide_undefined_tags: true\n",
		"bad.html":         "<!-- open -->",
		"bad-config.yaml":  "lookahead: -1\n",
		"empty-data.yaml":  "",
		"invalid-data.yml": "title: [",
	})
	path := func(name string) string { return filepath.Join(dir, name) }

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{
			name: "data and fragments",
			args: []string{"-data", path("data.yaml"), "-load", path("nav.html"), path("page.html")},
			want: "<nav>hello</nav><h1>HELLO</h1>[a][b]",
		},
		{
			name: "show undefined block with config",
			args: []string{"-data", path("data.yaml"), "-show", "extra", "-config", path("config.yaml"), path("page.html")},
			want: "<h1>HELLO</h1>[a][b]",
		},
		{
			name: "no data",
			args: []string{"-data", path("empty-data.yaml"), path("page.html")},
			want: "{nav}<h1>{title|upper}</h1>",
		},
		{
			name:    "malformed template",
			args:    []string{path("bad.html")},
			wantErr: "never closed",
		},
		{
			name:    "invalid config",
			args:    []string{"-config", path("bad-config.yaml"), path("page.html")},
			wantErr: "Lookahead must be at least 0",
		},
		{
			name:    "invalid data",
			args:    []string{"-data", path("invalid-data.yml"), path("page.html")},
			wantErr: "failed to parse data file",
		},
		{
			name:    "invalid log level",
			args:    []string{"-log-level", "loud", path("page.html")},
			wantErr: "invalid log-level",
		},
		{
			name:    "missing template argument",
			args:    nil,
			wantErr: "template file required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := render(context.Background(), tt.args, &stdout, &stderr)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("render() error = %v (stderr %s)", err, stderr.String())
			}
			if got := stdout.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"ok.html":  "<!-- list --><li>{name|title}</li><!-- /list -->{footer}",
		"bad.html": "<p>\n<!-- /list -->",
	})

	var out bytes.Buffer
	if err := parse([]string{filepath.Join(dir, "ok.html")}, &out); err != nil {
		t.Fatalf("parse() error = %v", err)
	}
	for _, want := range []string{"list", "{name}", "title", "{footer}", "1 blocks, 2 tags"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out.String())
		}
	}

	out.Reset()
	err := parse([]string{filepath.Join(dir, "bad.html")}, &out)
	if err == nil {
		t.Fatal("Expected parse error")
	}
	if !strings.Contains(out.String(), "bad.html:2:1") {
		t.Errorf("Expected position in output, got %q", out.String())
	}

	if err := parse(nil, &out); err == nil {
		t.Error("Expected error without arguments")
	}
}

func TestSiteHandler(t *testing.T) {
	site := fstest.MapFS{
		"index.html":         {Data: []byte("<h1>{title}</h1>{footer}")},
		"index.yaml":         {Data: []byte("title: Home\n")},
		"about.html":         {Data: []byte("<p>{who|upper}</p>")},
		"about.yaml":         {Data: []byte("who: us\n")},
		"broken.html":        {Data: []byte("<!-- x -->")},
		"partials/footer.html": {Data: []byte("<footer>{title}</footer>")},
	}

	srv := httptest.NewServer(newSiteHandler(site, nil))
	defer srv.Close()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<h1>Home</h1><footer>Home</footer>"},
		{"/about", http.StatusOK, "<p>US</p>"},
		{"/about.html", http.StatusOK, "<p>US</p>"},
		{"/missing", http.StatusNotFound, "Template Error"},
		{"/broken", http.StatusInternalServerError, "Template Error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.body) {
				t.Errorf("Expected body containing %q, got %q", tt.body, body)
			}
		})
	}
}
