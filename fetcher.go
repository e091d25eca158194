package abctrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/abctrawl/abctrawl/dnscache"
	"github.com/abctrawl/abctrawl/semaphore"
)

// maxFetchBodyBytes bounds how much of a response body a default fetch reads,
// the generalization of dankinder-walker fetcher.go's fillReadBuffer cap.
const maxFetchBodyBytes = 10 << 20 // 10MiB

// FetchClient performs the actual HTTP fetch of a URL, robots.txt permitting,
// and extracts outbound links. It is the "opaque function" collaborator
// spec.md §1 calls out as outside this core's scope; DefaultFetchClient is the
// concrete implementation this repo ships, grounded in
// dankinder-walker/fetcher.go and parse.go.
type FetchClient interface {
	Fetch(ctx context.Context, rawURL string) (FetchOutcome, error)
}

// DefaultFetchClient implements FetchClient with a net/http client dialing
// through a DNS cache, a per-host robots.txt check, and HTML link extraction
// via golang.org/x/net/html.
type DefaultFetchClient struct {
	httpClient *http.Client
	userAgent  string

	sem *semaphore.Semaphore

	robotsMu sync.RWMutex
	robots   map[string]*robotstxt.Group
}

// NewDefaultFetchClient builds a DefaultFetchClient with maxConcurrent
// in-flight fetches and DNS caching via the dnscache package (grounded on
// dankinder-walker/dnscache).
func NewDefaultFetchClient(maxConcurrent int, userAgent string) (*DefaultFetchClient, error) {
	dial, err := dnscache.Dial(nil, 4096)
	if err != nil {
		return nil, fmt.Errorf("build dns cache dialer: %w", err)
	}

	sem := semaphore.New()
	sem.Add(maxConcurrent)

	return &DefaultFetchClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Dial:                dial,
				MaxIdleConnsPerHost: 8,
			},
		},
		userAgent: userAgent,
		sem:       sem,
		robots:    map[string]*robotstxt.Group{},
	}, nil
}

// Fetch downloads rawURL, honoring robots.txt, and returns a FetchOutcome
// suitable for reporting back as a RESULT. It never returns a non-nil error
// for ordinary fetch failures (those are reported through FetchOutcome.Error);
// a non-nil error means the assignment itself could not be processed (e.g. a
// malformed URL) and should not be retried against the host.
func (c *DefaultFetchClient) Fetch(ctx context.Context, rawURL string) (FetchOutcome, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FetchOutcome{}, fmt.Errorf("parse url: %w", err)
	}

	c.sem.Wait()
	defer c.sem.Done()

	group := c.getRobots(ctx, u)
	if group != nil && !group.Test(u.Path) {
		return FetchOutcome{Error: FetchErrHTTP4xx, HTTPStatus: 0}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchOutcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDNSError(err) {
			// Logged with a fixed signature so the Dispatcher's advisory
			// log-scan sweep can pick up DNS failures even if the RESULT
			// reporting this outcome is itself lost (spec.md §4.4).
			logger().Error("DNS resolution failed host=%s url=%s", u.Host, rawURL)
			return FetchOutcome{Error: FetchErrDNS}, nil
		}
		return FetchOutcome{Error: FetchErrTransient}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return FetchOutcome{Error: FetchErrTransient, HTTPStatus: resp.StatusCode}, nil
	}

	switch {
	case resp.StatusCode >= 500:
		return FetchOutcome{Error: FetchErrTransient, HTTPStatus: resp.StatusCode}, nil
	case resp.StatusCode >= 400:
		return FetchOutcome{Error: FetchErrHTTP4xx, HTTPStatus: resp.StatusCode}, nil
	}

	mimeType := resp.Header.Get("Content-Type")
	var links []string
	if strings.Contains(mimeType, "html") {
		links = extractLinks(u, body, mimeType)
	}

	return FetchOutcome{
		HTTPStatus: resp.StatusCode,
		MimeType:   mimeType,
		SizeBytes:  int64(len(body)),
		Body:       string(body),
		Links:      links,
	}, nil
}

func (c *DefaultFetchClient) getRobots(ctx context.Context, u *url.URL) *robotstxt.Group {
	c.robotsMu.RLock()
	g, ok := c.robots[u.Host]
	c.robotsMu.RUnlock()
	if ok {
		return g
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	var group *robotstxt.Group
	if err == nil {
		if resp, err := c.httpClient.Do(req); err == nil {
			defer resp.Body.Close()
			if data, err := robotstxt.FromResponse(resp); err == nil {
				group = data.FindGroup(c.userAgent)
			}
		}
	}

	c.robotsMu.Lock()
	c.robots[u.Host] = group
	c.robotsMu.Unlock()
	return group
}

// extractLinks walks the HTML token stream for anchor hrefs, resolving each
// against base, the generalization of dankinder-walker/parse.go's tokenizer
// loop to golang.org/x/net/html (the teacher's code.google.com/p/go.net/html
// import is long dead).
func extractLinks(base *url.URL, body []byte, contentType string) []string {
	utf8Reader, err := charset.NewReader(strings.NewReader(string(body)), contentType)
	if err != nil {
		utf8Reader = strings.NewReader(string(body))
	}

	var links []string
	tokenizer := html.NewTokenizer(utf8Reader)
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key != "href" {
				continue
			}
			resolved, err := base.Parse(attr.Val)
			if err != nil {
				continue
			}
			links = append(links, resolved.String())
		}
	}
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return asDNSError(err, &dnsErr)
}

func asDNSError(err error, target **net.DNSError) bool {
	for err != nil {
		if de, ok := err.(*net.DNSError); ok {
			*target = de
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// FetchWorkFunc adapts a FetchClient into a WorkFunc for the Fetcher role's
// Worker loop.
func FetchWorkFunc(client FetchClient) WorkFunc {
	return func(ctx context.Context, rawWork json.RawMessage) (json.RawMessage, error) {
		var work FetchWork
		if err := json.Unmarshal(rawWork, &work); err != nil {
			return nil, fmt.Errorf("unmarshal fetch work: %w", err)
		}
		outcome, err := client.Fetch(ctx, work.URL)
		if err != nil {
			return nil, err
		}
		return json.Marshal(outcome)
	}
}
