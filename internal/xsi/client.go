package xsi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"xsidir/internal/metrics"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4096

// Config describes how to reach one XSI directory.
type Config struct {
	Host     string
	Port     int    // 0 selects the scheme default
	Scheme   string // "http" or "https"; empty means "http"
	Username string
	Password string

	Directory DirectoryType

	// DirectoryUser is the user whose directory is requested. Defaults to
	// Username; set it when authenticating as one user (e.g. a SIP-auth
	// account) on behalf of another.
	DirectoryUser string

	// Query is appended verbatim after "?" (filtering, paging).
	Query string

	Timeout       time.Duration
	SourceAddress string // local IP to bind outgoing connections to

	// NormalizeNFC rewrites the response body to Unicode NFC before parsing.
	NormalizeNFC bool
}

// Client downloads and parses XSI directories.
type Client struct {
	cfg  Config
	port int
	http *http.Client
}

// NewClient validates cfg and returns a Client. Every unsupported setting is
// reported as a *ConfigError before any connection is attempted.
//
// If httpClient is nil a client honoring cfg.Timeout and cfg.SourceAddress
// is built.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}

	var defaultPort int
	switch cfg.Scheme {
	case "http":
		defaultPort = 80
	case "https":
		defaultPort = 443
	default:
		return nil, &ConfigError{Field: "scheme", Value: cfg.Scheme, Msg: "expected http or https"}
	}

	if _, err := ParseDirectoryType(string(cfg.Directory)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, &ConfigError{Field: "host", Value: cfg.Host, Msg: "host is required"}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, &ConfigError{Field: "port", Value: strconv.Itoa(cfg.Port)}
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	if httpClient == nil {
		c, err := newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		httpClient = c
	}

	return &Client{cfg: cfg, port: port, http: httpClient}, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if cfg.SourceAddress != "" {
		ip := net.ParseIP(cfg.SourceAddress)
		if ip == nil {
			return nil, &ConfigError{Field: "source address", Value: cfg.SourceAddress, Msg: "not an IP address"}
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dialer.DialContext
	return &http.Client{Transport: tr, Timeout: cfg.Timeout}, nil
}

// Port returns the effective TCP port.
func (c *Client) Port() int { return c.port }

// Path returns the request path, including the query string if any.
func (c *Client) Path() string {
	user := c.cfg.DirectoryUser
	if user == "" {
		user = c.cfg.Username
	}
	p := "/com.broadsoft.xsi-actions/v2.0/user/" + url.PathEscape(user) +
		"/directories/" + string(c.cfg.Directory)
	if c.cfg.Query != "" {
		p += "?" + c.cfg.Query
	}
	return p
}

// URL returns the absolute directory URL.
func (c *Client) URL() string {
	host := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.port))
	return c.cfg.Scheme + "://" + host + c.Path()
}

// Fetch downloads the directory and returns the parsed document root.
//
// Any status other than 200 and any connection failure is a *TransportError.
// A body that is not well-formed XML is reported as a parse error.
func (c *Client) Fetch(ctx context.Context) (*Element, error) {
	raw, err := c.FetchRaw(ctx)
	if err != nil {
		return nil, err
	}

	var r io.Reader = bytes.NewReader(raw)
	if c.cfg.NormalizeNFC {
		r = norm.NFC.Reader(r)
	}
	root, err := ParseDocument(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.URL(), err)
	}
	return root, nil
}

// FetchRaw performs the request and returns the unparsed response body.
func (c *Client) FetchRaw(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "xsidir/1.0")
	if c.cfg.Password != "" {
		req.Header.Set("Authorization", basicAuth(c.cfg.Username, c.cfg.Password))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), -1)
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.RecordHTTP(resp.StatusCode, nil, time.Since(start), int64(len(body)))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
			Summary:    summarizeBody(resp.Header.Get("Content-Type"), body),
		}
	}

	b, err := io.ReadAll(resp.Body)
	metrics.RecordHTTP(resp.StatusCode, err, time.Since(start), int64(len(b)))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("read body: %w", err)}
	}
	return b, nil
}

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// summarizeBody turns an HTML error page into "title: text" so the error
// message stays readable. Non-HTML bodies yield "".
func summarizeBody(contentType string, body []byte) string {
	if !strings.Contains(strings.ToLower(contentType), "html") || len(body) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("head, script, style").Remove()
	var parts []string
	collectText(doc.Find("body"), &parts)
	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")

	switch {
	case title != "" && text != "" && !strings.HasPrefix(text, title):
		return title + ": " + text
	case text != "":
		return text
	default:
		return title
	}
}

// collectText appends the text nodes under s in document order. Adjacent
// elements stay separate words.
func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			*parts = append(*parts, c.Text())
			return
		}
		collectText(c, parts)
	})
}
