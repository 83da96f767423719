package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

const personalDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Personal xmlns="http://schema.broadsoft.com/xsi">
  <entry><name>Alice</name><number>100</number></entry>
  <entry><name>Bob</name><number>200</number></entry>
</Personal>`

const groupDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Group xmlns="http://schema.broadsoft.com/xsi">
  <groupDirectory>
    <directoryDetails>
      <firstName>Jane</firstName><lastName>Doe</lastName><mobile>555</mobile>
    </directoryDetails>
  </groupDirectory>
</Group>`

// xsiServer serves doc for any directory request and records the last
// request path and Authorization header.
type xsiServer struct {
	*httptest.Server

	mu   sync.Mutex
	path string
	auth string
}

func newXSIServer(t *testing.T, status int, doc string) *xsiServer {
	t.Helper()
	s := &xsiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.path, s.auth = r.URL.Path, r.Header.Get("Authorization")
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, doc)
	}))
	t.Cleanup(s.Close)
	return s
}

// hostPort returns the -H and -P values for a test server URL.
func hostPort(t *testing.T, rawURL string) (string, string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	return host, port
}

func noEnv(string) string { return "" }

func runCmd(t *testing.T, args []string, getenv func(string) string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, getenv, &stdout, &stderr, nil)
	return code, stdout.String(), stderr.String()
}

// TestRun_PersonalJSON is the happy path: JSON output of a Personal directory
// fetched with Basic auth.
func TestRun_PersonalJSON(t *testing.T) {
	t.Parallel()

	srv := newXSIServer(t, http.StatusOK, personalDoc)
	host, port := hostPort(t, srv.URL)

	code, out, errOut := runCmd(t, []string{"-H", host, "-P", port, "-u", "user", "-p", "secret", "-n", "Personal"}, noEnv)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, errOut)
	}

	want := "[\n" +
		"    {\n" +
		"        \"name\": \"Alice\",\n" +
		"        \"number\": \"100\"\n" +
		"    },\n" +
		"    {\n" +
		"        \"name\": \"Bob\",\n" +
		"        \"number\": \"200\"\n" +
		"    }\n" +
		"]\n"
	if out != want {
		t.Fatalf("unexpected output:\n%s", out)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.path != "/com.broadsoft.xsi-actions/v2.0/user/user/directories/Personal" {
		t.Fatalf("unexpected path %q", srv.path)
	}
	if srv.auth != "Basic dXNlcjpzZWNyZXQ=" {
		t.Fatalf("unexpected auth %q", srv.auth)
	}
}

// TestRun_SnomMBGroup verifies the long flag spelling and the phone menu
// output.
func TestRun_SnomMBGroup(t *testing.T) {
	t.Parallel()

	srv := newXSIServer(t, http.StatusOK, groupDoc)
	host, port := hostPort(t, srv.URL)

	code, out, errOut := runCmd(t, []string{
		"--host", host, "--port", port, "--user", "u", "--password", "p",
		"--name", "Group", "--type", "SNOM_MB",
	}, noEnv)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, errOut)
	}
	if !strings.Contains(out, `<Menu name="Jane - Doe">`) || !strings.Contains(out, "numberdial=555") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

// TestRun_EnvFallbacks verifies connection settings come from the
// environment when not given as flags, and flags win over env.
func TestRun_EnvFallbacks(t *testing.T) {
	t.Parallel()

	srv := newXSIServer(t, http.StatusOK, personalDoc)
	host, port := hostPort(t, srv.URL)

	env := map[string]string{
		"XSI_HOST":     host,
		"XSI_PORT":     port,
		"XSI_USER":     "envuser",
		"XSI_PASSWORD": "envpass",
		"XSI_SIP_USER": "sip@example.com",
	}
	code, _, errOut := runCmd(t, []string{"-n", "Personal", "-u", "flaguser"}, func(k string) string { return env[k] })
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, errOut)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.path != "/com.broadsoft.xsi-actions/v2.0/user/sip@example.com/directories/Personal" {
		t.Fatalf("unexpected path %q", srv.path)
	}
	// flaguser:envpass
	if srv.auth != "Basic ZmxhZ3VzZXI6ZW52cGFzcw==" {
		t.Fatalf("unexpected auth %q", srv.auth)
	}
}

// TestRun_EnvFile verifies --env-file supplies fallbacks.
func TestRun_EnvFile(t *testing.T) {
	t.Parallel()

	srv := newXSIServer(t, http.StatusOK, personalDoc)
	host, port := hostPort(t, srv.URL)

	path := filepath.Join(t.TempDir(), "xsi.env")
	content := "XSI_HOST=" + host + "\nXSI_PORT=" + port + "\nXSI_USER=u\nXSI_PASSWORD=p\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	code, out, errOut := runCmd(t, []string{"--env-file", path, "-n", "Personal", "-t", "XCAP"}, noEnv)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, errOut)
	}
	if !strings.Contains(out, `<cp:prop name="surname" value="Alice"/>`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

// TestRun_UsageErrors verifies configuration problems exit 2 before any
// request is made.
func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "bad_name", args: []string{"-H", "h", "-u", "u", "-p", "p", "-n", "Other"}, wantErr: "name 'Other' not supported"},
		{name: "bad_type", args: []string{"-H", "h", "-u", "u", "-p", "p", "-t", "CSV"}, wantErr: "output type 'CSV' not supported"},
		{name: "no_host", args: []string{"-u", "u", "-p", "p"}, wantErr: "host not defined"},
		{name: "no_user", args: []string{"-H", "h", "-p", "p"}, wantErr: "user not defined"},
		{name: "no_password", args: []string{"-H", "h", "-u", "u"}, wantErr: "password not defined"},
		{name: "bad_scheme", args: []string{"-H", "h", "-u", "u", "-p", "p", "-s", "ftp"}, wantErr: "scheme"},
		{name: "tbook_group", args: []string{"-H", "h", "-u", "u", "-p", "p", "-t", "SNOM_TBOOK"}, wantErr: "SNOM_TBOOK"},
		{name: "bad_store_kind", args: []string{"-H", "h", "-u", "u", "-p", "p", "--store-kind", "oracle", "--store-dsn", "x"}, wantErr: "store kind"},
		{name: "store_without_dsn", args: []string{"-H", "h", "-u", "u", "-p", "p", "--store-kind", "sqlite"}, wantErr: "--store-dsn"},
		{name: "unknown_flag", args: []string{"--bogus"}, wantErr: "bogus"},
		{name: "stray_args", args: []string{"-H", "h", "extra"}, wantErr: "unexpected arguments"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, out, errOut := runCmd(t, tc.args, noEnv)
			if code != 2 {
				t.Fatalf("run returned %d, want 2; stderr=%s", code, errOut)
			}
			if out != "" {
				t.Fatalf("stdout should be empty, got %q", out)
			}
			if !strings.Contains(errOut, tc.wantErr) {
				t.Fatalf("stderr missing %q:\n%s", tc.wantErr, errOut)
			}
		})
	}
}

// TestRun_TransportError verifies a non-200 answer exits 1 with the status in
// the message and nothing on stdout.
func TestRun_TransportError(t *testing.T) {
	t.Parallel()

	srv := newXSIServer(t, http.StatusUnauthorized, "bad credentials")
	host, port := hostPort(t, srv.URL)

	code, out, errOut := runCmd(t, []string{"-H", host, "-P", port, "-u", "u", "-p", "p"}, noEnv)
	if code != 1 {
		t.Fatalf("run returned %d, want 1", code)
	}
	if out != "" {
		t.Fatalf("stdout should be empty, got %q", out)
	}
	if !strings.Contains(errOut, "401") || !strings.Contains(errOut, "bad credentials") {
		t.Fatalf("unexpected stderr:\n%s", errOut)
	}
}

// TestRun_MissingTemplateFieldWritesNothing verifies rendering is all or
// nothing: a record missing a display field fails the run with empty stdout.
func TestRun_MissingTemplateFieldWritesNothing(t *testing.T) {
	t.Parallel()

	doc := `<Personal xmlns="http://schema.broadsoft.com/xsi">` +
		`<entry><name>Alice</name><number>1</number></entry>` +
		`<entry><number>2</number></entry></Personal>`
	srv := newXSIServer(t, http.StatusOK, doc)
	host, port := hostPort(t, srv.URL)

	code, out, errOut := runCmd(t, []string{"-H", host, "-P", port, "-u", "u", "-p", "p", "-n", "Personal", "-t", "SNOM_MB"}, noEnv)
	if code != 1 {
		t.Fatalf("run returned %d, want 1; stderr=%s", code, errOut)
	}
	if out != "" {
		t.Fatalf("stdout should be empty, got %q", out)
	}
	if !strings.Contains(errOut, `"name"`) {
		t.Fatalf("stderr should name the missing field:\n%s", errOut)
	}
}

// TestRun_StoreSQLite verifies the store sink writes once and a second run is
// idempotent.
func TestRun_StoreSQLite(t *testing.T) {
	t.Parallel()

	srv := newXSIServer(t, http.StatusOK, personalDoc)
	host, port := hostPort(t, srv.URL)
	dsn := filepath.Join(t.TempDir(), "dir.db")

	args := []string{
		"-H", host, "-P", port, "-u", "u", "-p", "p", "-n", "Personal",
		"--store-kind", "sqlite", "--store-dsn", dsn, "--store-table", "personal", "-v",
	}
	for i := 0; i < 2; i++ {
		code, out, errOut := runCmd(t, args, noEnv)
		if code != 0 {
			t.Fatalf("run %d returned %d; stderr=%s", i, code, errOut)
		}
		if !strings.Contains(out, `"Alice"`) {
			t.Fatalf("run %d: stdout missing records:\n%s", i, out)
		}
		wantInserted := "inserted=2"
		if i == 1 {
			wantInserted = "inserted=0"
		}
		if !strings.Contains(errOut, wantInserted) {
			t.Fatalf("run %d: stderr missing %q:\n%s", i, wantInserted, errOut)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "personal" WHERE "directory" = 'Personal'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows=%d, want 2", n)
	}
}

// TestRun_PushgatewayMetrics verifies metrics are pushed once at exit. Not
// parallel: the metrics backend is process-global.
func TestRun_PushgatewayMetrics(t *testing.T) {
	var (
		mu     sync.Mutex
		pushes int
		body   []byte
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		pushes++
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gw.Close)

	srv := newXSIServer(t, http.StatusOK, personalDoc)
	host, port := hostPort(t, srv.URL)

	env := map[string]string{"METRICS_BACKEND": "pushgateway", "PUSHGATEWAY_URL": gw.URL}
	code, _, errOut := runCmd(t, []string{"-H", host, "-P", port, "-u", "u", "-p", "p", "-n", "Personal"}, func(k string) string { return env[k] })
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, errOut)
	}

	mu.Lock()
	defer mu.Unlock()
	if pushes != 1 {
		t.Fatalf("pushes=%d, want 1", pushes)
	}
	for _, name := range []string{"xsidir_step_total", "xsidir_records_total", "xsidir_http_requests_total"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Fatalf("push body missing %s", name)
		}
	}
}
