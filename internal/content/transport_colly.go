package content

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// browserHeaders mimic a real browser; several publishers reject
// obviously non-browser clients outright.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Upgrade-Insecure-Requests": "1",
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// TransportConfig tunes the colly-backed transport.
type TransportConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBodySize    int
}

// CollyTransport implements Transport using a Colly collector.
type CollyTransport struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewCollyTransport constructs a configured Colly-based transport.
func NewCollyTransport(cfg TransportConfig, logger *zap.Logger) *CollyTransport {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
	)
	base.IgnoreRobotsTxt = true
	base.AllowURLRevisit = true
	// Without this colly reports every non-2xx status as a Visit error
	// and drops the response; the Fetcher needs the page to classify it.
	base.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		base.MaxBodySize = cfg.MaxBodySize
	}
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &CollyTransport{
		baseCollector: base,
		logger:        logger,
	}
}

// RoundTrip performs one GET via a clone of the base collector. Non-2xx
// responses are returned as pages, not errors; classification is the
// Fetcher's job.
func (t *CollyTransport) RoundTrip(ctx context.Context, rawURL string) (Page, error) {
	collector := t.baseCollector.Clone()
	resultCh := make(chan rtResult, 1)
	var once sync.Once
	send := func(res rtResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range browserHeaders {
			r.Headers.Set(k, v)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		send(rtResult{page: pageFromResponse(rawURL, r)})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// HTTP-level failure with a real response; hand it up intact.
			send(rtResult{page: pageFromResponse(rawURL, r)})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(rtResult{err: err})
	})

	visitErr := collector.Visit(rawURL)
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		return res.page, res.err
	default:
		if visitErr != nil {
			return Page{}, visitErr
		}
		return Page{}, errors.New("colly round trip produced no result")
	}
}

func pageFromResponse(rawURL string, r *colly.Response) Page {
	headers := http.Header{}
	if r.Headers != nil {
		for k, v := range *r.Headers {
			cp := make([]string, len(v))
			copy(cp, v)
			headers[k] = cp
		}
	}
	finalURL := rawURL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte{}, r.Body...),
	}
}

type rtResult struct {
	page Page
	err  error
}
