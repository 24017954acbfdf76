// Package fetcher retrieves endpoint content over HTTP(S), accepting any
// server certificate.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/root4loot/goutils/log"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:64.0) Gecko/20100101 Firefox/64.0"
	DefaultTimeout   = 30 * time.Second
	maxBodySize      = 10 * 1024 * 1024
)

// errPlaintextTLS is the net/http text for an https request answered in
// plaintext. The transport does not wrap a typed error for it.
const errPlaintextTLS = "server gave HTTP response to HTTPS client"

// Reason classifies a fetch failure.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonConnection Reason = "connection error"
	ReasonTLS        Reason = "tls handshake error"
	ReasonMalformed  Reason = "malformed response"
)

// Error is a typed fetch failure.
type Error struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome is either a success (StatusCode and Body set, Err nil) or a failure.
// A non-2xx response is still a success.
type Outcome struct {
	StatusCode int
	Body       []byte
	FinalURL   string
	Truncated  bool // Body was cut at the size limit
	Err        *Error
}

// OK reports whether the fetch produced a response.
func (o Outcome) OK() bool { return o.Err == nil }

// IsRenderable is the default policy: only 2xx bodies are rendered.
func IsRenderable(status int) bool {
	return status >= 200 && status < 300
}

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Fetcher performs single GET requests through colly.
type Fetcher struct {
	timeout   time.Duration
	userAgent string
	maxBody   int
	transport *http.Transport
}

// New returns a fetcher. Certificate validation is always disabled.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	return &Fetcher{
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		maxBody:   maxBodySize,
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed and expired certs are expected targets
			TLSHandshakeTimeout: opts.Timeout,
			MaxIdleConns:        64,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

// Fetch GETs rawURL. It never blocks longer than the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.maxBody),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.timeout)

	var (
		once    sync.Once
		outcome Outcome
		got     bool
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html")
	})

	c.OnResponse(func(r *colly.Response) {
		once.Do(func() {
			got = true
			outcome = Outcome{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				FinalURL:   r.Request.URL.String(),
				Truncated:  len(r.Body) >= f.maxBody,
			}
		})
	})

	err := c.Visit(rawURL)
	if err == nil && !got {
		err = errors.New("no response received")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		fe := &Error{Reason: Classify(err), URL: rawURL, Err: err}
		log.Debugf("Fetch failed for %s: %v", rawURL, fe)
		return Outcome{Err: fe}
	}

	if outcome.Truncated {
		log.Debugf("Body of %s truncated at %d bytes", rawURL, f.maxBody)
	}
	log.Debugf("Fetched %s with status %d (%d bytes)", rawURL, outcome.StatusCode, len(outcome.Body))
	return outcome
}

// Classify maps a transport error to a failure reason.
func Classify(err error) Reason {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) || errors.As(err, &unknownAuth) {
		return ReasonTLS
	}
	if msg := err.Error(); strings.Contains(msg, "tls:") || strings.Contains(msg, errPlaintextTLS) {
		return ReasonTLS
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return ReasonConnection
	}
	if errors.Is(err, context.Canceled) {
		return ReasonConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op != "parse" && !strings.Contains(urlErr.Err.Error(), "malformed") {
		return ReasonConnection
	}

	return ReasonMalformed
}
