package content

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedscout/feedscout/internal/metrics"
)

// Page is the raw result of one HTTP round trip, including non-2xx
// responses; classification happens in the Fetcher.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport performs a single GET. Production uses the colly transport;
// tests substitute fakes with synthetic failure sequences.
type Transport interface {
	RoundTrip(ctx context.Context, rawURL string) (Page, error)
}

// FetcherConfig holds the fetch policy knobs.
type FetcherConfig struct {
	MaxRetries     int
	BackoffBase    time.Duration
	MaxContentSize int64
	MaxConcurrent  int
}

// Fetcher retrieves raw HTML with bounded retries and explicit failure
// classification.
type Fetcher struct {
	transport Transport
	cfg       FetcherConfig
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewFetcher constructs a Fetcher over the given transport.
func NewFetcher(transport Transport, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = 10 * 1024 * 1024
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Fetcher{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// permanentStatuses never get a retry; the server has made up its mind.
var permanentStatuses = map[int]bool{
	http.StatusUnauthorized:               true,
	http.StatusForbidden:                  true,
	http.StatusNotFound:                   true,
	http.StatusGone:                       true,
	http.StatusUnavailableForLegalReasons: true,
}

// validateURL rejects URLs the fetcher will not touch: wrong scheme,
// missing host, loopback and unspecified hosts.
func validateURL(rawURL string) *Error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &Error{URL: rawURL, Kind: KindValidation, Message: fmt.Sprintf("unparseable url: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Error{URL: rawURL, Kind: KindValidation, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return &Error{URL: rawURL, Kind: KindValidation, Message: "missing host"}
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return &Error{URL: rawURL, Kind: KindValidation, Message: "local host not allowed"}
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsUnspecified()) {
		return &Error{URL: rawURL, Kind: KindValidation, Message: "loopback host not allowed"}
	}
	return nil
}

// Fetch retrieves raw HTML for one URL. The returned error, when not
// nil, is always a *Error carrying the failure classification.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if verr := validateURL(rawURL); verr != nil {
		metrics.FetchErrors.WithLabelValues(string(verr.Kind)).Inc()
		return Page{}, verr
	}

	machine := newRetryMachine(f.cfg.MaxRetries, f.cfg.BackoffBase)
	for {
		page, attemptErr := f.attempt(ctx, rawURL)
		switch machine.Observe(attemptErr) {
		case phaseSuccess:
			f.logger.Debug("fetched url",
				zap.String("url", rawURL),
				zap.Int("status", page.StatusCode),
				zap.Int("attempts", machine.Attempts()),
			)
			return page, nil
		case phasePermanentFailure:
			f.logger.Warn("fetch failed permanently",
				zap.String("url", rawURL),
				zap.String("kind", string(attemptErr.Kind)),
				zap.String("message", attemptErr.Message),
			)
			metrics.FetchErrors.WithLabelValues(string(attemptErr.Kind)).Inc()
			return Page{}, attemptErr
		case phaseTransientFailure:
			f.logger.Warn("fetch retries exhausted",
				zap.String("url", rawURL),
				zap.String("kind", string(attemptErr.Kind)),
				zap.Int("attempts", machine.Attempts()),
			)
			metrics.FetchErrors.WithLabelValues(string(attemptErr.Kind)).Inc()
			return Page{}, attemptErr
		case phaseRetrying:
			delay := machine.Backoff()
			f.logger.Debug("retrying fetch",
				zap.String("url", rawURL),
				zap.String("kind", string(attemptErr.Kind)),
				zap.Duration("delay", delay),
			)
			metrics.FetchRetries.Inc()
			if err := f.sleep(ctx, delay); err != nil {
				return Page{}, &Error{URL: rawURL, Kind: KindNetwork, Message: fmt.Sprintf("canceled during backoff: %v", err)}
			}
		}
	}
}

// attempt runs one round trip and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, rawURL string) (Page, *Error) {
	metrics.FetchRequests.Inc()

	page, err := f.transport.RoundTrip(ctx, rawURL)
	if err != nil {
		return Page{}, classifyTransportError(rawURL, err)
	}

	if declared := page.Headers.Get("Content-Length"); declared != "" {
		if n, perr := strconv.ParseInt(declared, 10, 64); perr == nil && n > f.cfg.MaxContentSize {
			return Page{}, &Error{URL: rawURL, Kind: KindSize,
				Message: fmt.Sprintf("declared content length %d exceeds limit %d", n, f.cfg.MaxContentSize)}
		}
	}

	// A missing Content-Type counts as non-HTML too.
	contentType := strings.ToLower(page.Headers.Get("Content-Type"))
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return Page{}, &Error{URL: rawURL, Kind: KindContentType,
			Message: fmt.Sprintf("non-HTML content type: %q", contentType)}
	}

	switch {
	case page.StatusCode >= 200 && page.StatusCode < 300:
		if int64(len(page.Body)) > f.cfg.MaxContentSize {
			return Page{}, &Error{URL: rawURL, Kind: KindSize,
				Message: fmt.Sprintf("content size %d exceeds limit %d after download", len(page.Body), f.cfg.MaxContentSize)}
		}
		return page, nil
	case permanentStatuses[page.StatusCode]:
		return Page{}, &Error{URL: rawURL, Kind: KindPermanentHTTP,
			Message: fmt.Sprintf("HTTP %d (permanent)", page.StatusCode)}
	case page.StatusCode >= 400:
		return Page{}, &Error{URL: rawURL, Kind: KindHTTP,
			Message: fmt.Sprintf("HTTP %d", page.StatusCode)}
	default:
		// 3xx should have been followed by the transport.
		return Page{}, &Error{URL: rawURL, Kind: KindHTTP,
			Message: fmt.Sprintf("unexpected HTTP %d", page.StatusCode)}
	}
}

func classifyTransportError(rawURL string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{URL: rawURL, Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{URL: rawURL, Kind: KindTimeout, Message: err.Error()}
	}
	return &Error{URL: rawURL, Kind: KindNetwork, Message: err.Error()}
}

// FetchOutcome pairs the input URL with its independent result.
type FetchOutcome struct {
	URL  string
	Page Page
	Err  error
}

// FetchMany fetches URLs under the configured concurrency ceiling. One
// URL's failure never blocks or cancels the others; results come back in
// input order, each independently success or error.
func (f *Fetcher) FetchMany(ctx context.Context, urls []string) []FetchOutcome {
	if len(urls) == 0 {
		return nil
	}
	outcomes := make([]FetchOutcome, len(urls))
	sem := make(chan struct{}, f.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			page, err := f.Fetch(ctx, u)
			outcomes[i] = FetchOutcome{URL: u, Page: page, Err: err}
		}(i, u)
	}
	wg.Wait()
	return outcomes
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
