package xsi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestNewClient_ConfigErrors verifies unsupported settings fail at
// construction with an error that unwraps to ErrConfiguration.
func TestNewClient_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "directory", cfg: Config{Host: "h", Scheme: "http", Directory: "Other"}},
		{name: "scheme", cfg: Config{Host: "h", Scheme: "ftp", Directory: Group}},
		{name: "host", cfg: Config{Scheme: "http", Directory: Group}},
		{name: "port", cfg: Config{Host: "h", Port: 70000, Directory: Group}},
		{name: "source", cfg: Config{Host: "h", Directory: Group, SourceAddress: "nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(tc.cfg, nil)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

// TestClient_URL covers default ports, the optional directory user and the
// query string.
func TestClient_URL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "http default",
			cfg:  Config{Host: "xsi.example.com", Username: "alice@example.com", Directory: Group},
			want: "http://xsi.example.com:80/com.broadsoft.xsi-actions/v2.0/user/alice@example.com/directories/Group",
		},
		{
			name: "https default with query",
			cfg:  Config{Host: "xsi", Scheme: "https", Username: "u", Directory: Personal, Query: "start=1&results=50"},
			want: "https://xsi:443/com.broadsoft.xsi-actions/v2.0/user/u/directories/Personal?start=1&results=50",
		},
		{
			name: "explicit port and directory user",
			cfg:  Config{Host: "xsi", Port: 8080, Username: "auth", DirectoryUser: "owner", Directory: Group},
			want: "http://xsi:8080/com.broadsoft.xsi-actions/v2.0/user/owner/directories/Group",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.cfg, http.DefaultClient)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if got := c.URL(); got != tc.want {
				t.Fatalf("want %q got %q", tc.want, got)
			}
		})
	}
}

// newTestClient points a Client at srv.
func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	host, port := splitServerAddr(t, srv.URL)
	cfg.Host = host
	cfg.Port = port
	c, err := NewClient(cfg, &http.Client{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func splitServerAddr(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return u.Hostname(), port
}

// TestClient_FetchSendsBasicAuth verifies the request path and the
// Authorization header, then parses the returned document.
func TestClient_FetchSendsBasicAuth(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`<Personal xmlns="http://schema.broadsoft.com/xsi"><entry><name>A</name></entry></Personal>`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, Config{Username: "user", Password: "secret", Directory: Personal})
	root, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotPath != "/com.broadsoft.xsi-actions/v2.0/user/user/directories/Personal" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Basic dXNlcjpzZWNyZXQ=" {
		t.Fatalf("unexpected Authorization %q", gotAuth)
	}
	if d := Extract(root, Personal, NewTagFilter(nil, nil, nil)); d.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", d.Len())
	}
}

// TestClient_FetchNoPasswordNoAuth verifies the header is omitted when the
// password is empty.
func TestClient_FetchNoPasswordNoAuth(t *testing.T) {
	t.Parallel()

	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`<Group xmlns="http://schema.broadsoft.com/xsi"/>`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, Config{Username: "user", Directory: Group})
	if _, err := c.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if sawAuth {
		t.Fatalf("Authorization header sent without a password")
	}
}

// TestClient_FetchNon200 verifies the status and body end up in a
// TransportError.
func TestClient_FetchNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, Config{Username: "u", Password: "p", Directory: Group})
	_, err := c.Fetch(context.Background())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusUnauthorized || !strings.Contains(te.Body, "bad credentials") {
		t.Fatalf("unexpected error fields: %+v", te)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("status missing from message: %v", err)
	}
}

// TestClient_FetchHTMLErrorSummary verifies HTML error pages are reduced to
// readable text in the error message.
func TestClient_FetchHTMLErrorSummary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html><head><title>Forbidden</title><style>p{}</style></head>
<body><h1>Access   denied</h1><script>var x=1;</script><p>contact admin</p></body></html>`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, Config{Username: "u", Password: "p", Directory: Group})
	_, err := c.Fetch(context.Background())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Summary != "Forbidden: Access denied contact admin" {
		t.Fatalf("unexpected summary %q", te.Summary)
	}
	if strings.Contains(err.Error(), "<h1>") {
		t.Fatalf("message should not carry raw markup: %v", err)
	}
}

func TestSummarizeBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{
			name:        "adjacent_blocks",
			contentType: "text/html",
			body:        `<html><body><h1>Access denied</h1><p>contact admin</p></body></html>`,
			want:        "Access denied contact admin",
		},
		{
			name:        "body_text_around_elements",
			contentType: "text/html",
			body:        `<html><body>Error<div><span>502</span><span>Bad Gateway</span></div>retry</body></html>`,
			want:        "Error 502 Bad Gateway retry",
		},
		{
			name:        "title_only",
			contentType: "text/html; charset=utf-8",
			body:        `<html><head><title>Gone</title></head><body></body></html>`,
			want:        "Gone",
		},
		{
			name:        "title_repeated_in_body",
			contentType: "text/html",
			body:        `<html><head><title>Not Found</title></head><body><h1>Not Found</h1><p>no such user</p></body></html>`,
			want:        "Not Found no such user",
		},
		{
			name:        "not_html",
			contentType: "text/plain",
			body:        "<h1>x</h1>",
			want:        "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := summarizeBody(tc.contentType, []byte(tc.body)); got != tc.want {
				t.Fatalf("summarizeBody() = %q, want %q", got, tc.want)
			}
		})
	}
}

// TestClient_FetchConnectionFailure verifies dial errors are TransportErrors
// with StatusCode 0.
func TestClient_FetchConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv, Config{Username: "u", Directory: Group})
	srv.Close()

	_, err := c.Fetch(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != 0 {
		t.Fatalf("expected TransportError with status 0, got %v", err)
	}
}

// TestClient_FetchNormalizeNFC verifies decomposed characters are composed
// when NormalizeNFC is set.
func TestClient_FetchNormalizeNFC(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<Personal xmlns=\"http://schema.broadsoft.com/xsi\"><entry><name>Jose\u0301</name></entry></Personal>"))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, Config{Username: "u", Directory: Personal, NormalizeNFC: true})
	root, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	rec := Extract(root, Personal, NewTagFilter(nil, nil, nil)).Records()[0]
	if v, _ := rec.Get("name"); v != "Jos\u00e9" {
		t.Fatalf("expected composed José, got %q", v)
	}
}
