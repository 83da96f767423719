// Command xsidir downloads a BroadWorks XSI directory and prints it as JSON or
// as a phone directory (Snom tbook, Snom menu, XCAP).
//
// Usage:
//
//	xsidir -H xsp.example.com -u 2001@example.com -p secret -n Group -t SNOM_MB
//
// Persist the extracted records as well:
//
//	xsidir -H xsp.example.com -u user -p secret --store-kind sqlite --store-dsn dir.db
//
// Connection settings fall back to XSI_HOST, XSI_PORT, XSI_USER, XSI_PASSWORD
// and XSI_SIP_USER, read from the environment or from --env-file.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"xsidir/internal/metrics"
	"xsidir/internal/render"
	"xsidir/internal/storage"
	_ "xsidir/internal/storage/all"
	"xsidir/internal/xsi"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Getenv,
		os.Stdout,
		os.Stderr,
		nil,
	))
}

// options is the resolved command line.
type options struct {
	client xsi.Config
	format render.Format

	storeKind  string
	storeDSN   string
	storeTable string

	metricsBackend string
	pushgatewayURL string
	metricsTags    string

	verbose bool
}

// run is split out from main so the command can be tested without spawning a
// process. getenv supplies environment fallbacks; httpClient may be nil.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	getenv func(string) string,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := pflag.NewFlagSet("xsidir", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: xsidir [flags]\n\n")
		fs.PrintDefaults()
	}

	host := fs.StringP("host", "H", "", "XSI server host (env XSI_HOST), MANDATORY")
	port := fs.IntP("port", "P", 0, "XSI server port; 0 selects 80 for http and 443 for https (env XSI_PORT)")
	scheme := fs.StringP("scheme", "s", "http", "protocol scheme: http or https")
	user := fs.StringP("user", "u", "", "authentication username (env XSI_USER), MANDATORY")
	password := fs.StringP("password", "p", "", "authentication password (env XSI_PASSWORD), MANDATORY")
	sipUser := fs.StringP("sip-user", "S", "", "user whose directory is requested, when different from --user (env XSI_SIP_USER)")
	name := fs.StringP("name", "n", "Group", "directory name: Group or Personal")
	outType := fs.StringP("type", "t", "JSON", "output type: JSON, SNOM_TBOOK, SNOM_MB or XCAP")
	query := fs.StringP("query", "q", "", "query string appended to the directory URL (filtering, paging)")
	timeout := fs.Duration("timeout", 20*time.Second, "request timeout")
	sourceAddr := fs.String("source-address", "", "local IP address to send the request from")
	nfc := fs.Bool("nfc", false, "normalize the response to Unicode NFC before parsing")

	storeKind := fs.String("store-kind", "", "also store records: "+strings.Join(storage.Kinds(), ", "))
	storeDSN := fs.String("store-dsn", "", "store DSN or file path (env STORE_DSN)")
	storeTable := fs.String("store-table", "xsi_directory", "store table name, optionally schema-qualified")

	metricsBackend := fs.String("metrics-backend", "", "metrics backend: none, datadog or pushgateway (env METRICS_BACKEND)")
	pushgatewayURL := fs.String("pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	envFile := fs.String("env-file", "", "read environment fallbacks from this dotenv file")
	verbose := fs.BoolP("verbose", "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 2
		}
		return usageError(fs, stderr, err.Error())
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected arguments %v\n", fs.Args())
		fs.Usage()
		return 2
	}

	env := getenv
	if *envFile != "" {
		vars, err := godotenv.Read(*envFile)
		if err != nil {
			fmt.Fprintf(stderr, "error: read env file: %v\n", err)
			return 2
		}
		env = withFallback(getenv, vars)
	}

	// flag → env → default
	pick := func(flagName string, val string, envKey string) string {
		if fs.Changed(flagName) {
			return val
		}
		if v := env(envKey); v != "" {
			return v
		}
		return val
	}

	opts := options{
		client: xsi.Config{
			Host:          pick("host", *host, "XSI_HOST"),
			Port:          *port,
			Scheme:        *scheme,
			Username:      pick("user", *user, "XSI_USER"),
			Password:      pick("password", *password, "XSI_PASSWORD"),
			DirectoryUser: pick("sip-user", *sipUser, "XSI_SIP_USER"),
			Query:         *query,
			Timeout:       *timeout,
			SourceAddress: *sourceAddr,
			NormalizeNFC:  *nfc,
		},
		storeKind:      *storeKind,
		storeDSN:       pick("store-dsn", *storeDSN, "STORE_DSN"),
		storeTable:     *storeTable,
		metricsBackend: pick("metrics-backend", *metricsBackend, "METRICS_BACKEND"),
		pushgatewayURL: pick("pushgateway-url", *pushgatewayURL, "PUSHGATEWAY_URL"),
		metricsTags:    env("METRICS_TAGS"),
		verbose:        *verbose,
	}
	if !fs.Changed("port") {
		if v := env("XSI_PORT"); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return usageError(fs, stderr, fmt.Sprintf("XSI_PORT %q is not a number", v))
			}
			opts.client.Port = p
		}
	}

	typ, err := xsi.ParseDirectoryType(*name)
	if err != nil {
		return usageError(fs, stderr, fmt.Sprintf("name '%s' not supported", *name))
	}
	opts.client.Directory = typ

	opts.format, err = render.ParseFormat(*outType)
	if err != nil {
		return usageError(fs, stderr, fmt.Sprintf("output type '%s' not supported", *outType))
	}

	switch {
	case opts.client.Host == "":
		return usageError(fs, stderr, "host not defined")
	case opts.client.Username == "":
		return usageError(fs, stderr, "user not defined")
	case opts.client.Password == "":
		return usageError(fs, stderr, "password not defined")
	}

	if opts.storeKind != "" {
		if !slices.Contains(storage.Kinds(), opts.storeKind) {
			return usageError(fs, stderr, fmt.Sprintf("store kind '%s' not supported", opts.storeKind))
		}
		if opts.storeDSN == "" {
			return usageError(fs, stderr, "--store-dsn is required with --store-kind")
		}
	}

	logger := log.New(stderr, "", log.LstdFlags)

	closeMetrics := setupMetrics(ctx, opts, logger)
	defer closeMetrics()

	return export(ctx, opts, httpClient, stdout, stderr, logger)
}

// export runs fetch → extract → render → store. Output reaches stdout only
// after every step succeeded.
func export(
	ctx context.Context,
	opts options,
	httpClient *http.Client,
	stdout io.Writer,
	stderr io.Writer,
	logger *log.Logger,
) int {
	profile, err := render.ProfileFor(opts.format, opts.client.Directory)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	renderer, err := render.New(opts.format, profile, render.Options{Complete: false})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	client, err := xsi.NewClient(opts.client, httpClient)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.Is(err, xsi.ErrConfiguration) {
			return 2
		}
		return 1
	}

	start := time.Now()
	if opts.verbose {
		logger.Printf("fetch: url=%s format=%s", client.URL(), opts.format)
	}

	var root *xsi.Element
	err = step("fetch", func() error {
		var err error
		root, err = client.Fetch(ctx)
		return err
	})
	if err != nil {
		fmt.Fprintf(stderr, "fetch: %v\n", err)
		return 1
	}

	var dir *xsi.Directory
	_ = step("extract", func() error {
		dir = xsi.Extract(root, opts.client.Directory, profile.Filter())
		return nil
	})
	metrics.RecordRecords("extracted", dir.Len())
	if opts.verbose {
		logger.Printf("extract: %d records (%s)", dir.Len(), dir.Type())
	}

	var out bytes.Buffer
	err = step("render", func() error {
		return renderer.Render(&out, dir)
	})
	if err != nil {
		fmt.Fprintf(stderr, "render: %v\n", err)
		return 1
	}

	if opts.storeKind != "" {
		var n int64
		err = step("store", func() error {
			var err error
			n, err = store(ctx, opts, dir)
			return err
		})
		if err != nil {
			fmt.Fprintf(stderr, "store: %v\n", err)
			return 1
		}
		metrics.RecordRecords("stored", int(n))
		if opts.verbose {
			logger.Printf("store: kind=%s table=%s inserted=%d", opts.storeKind, opts.storeTable, n)
		}
	}

	out.WriteByte('\n')
	if _, err := out.WriteTo(stdout); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}

	if opts.verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	return 0
}

func store(ctx context.Context, opts options, dir *xsi.Directory) (int64, error) {
	repo, err := storage.New(ctx, storage.Config{Kind: opts.storeKind, DSN: opts.storeDSN})
	if err != nil {
		return 0, err
	}
	defer repo.Close()
	return storage.Load(ctx, repo, opts.storeTable, dir)
}

// step times fn and reports it as a pipeline step.
func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	return err
}

func usageError(fs *pflag.FlagSet, stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "ERROR: %s\n", msg)
	fs.Usage()
	return 2
}

func withFallback(getenv func(string) string, vars map[string]string) func(string) string {
	return func(k string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return vars[k]
	}
}
