// Package httpsource loads cache values from an origin HTTP server.
//
// The value for key in cache id is fetched with GET {origin}/{id}/{key}, with
// id and key each escaped as one path segment. The response body is the value.
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipni/go-refreshcache/apierror"
)

var log = logging.Logger("httpsource")

// Source fetches values from an origin server.
type Source struct {
	url    *url.URL
	client *http.Client
	header http.Header
}

// New creates a Source that fetches values from the origin at srcURL.
func New(srcURL string, options ...Option) (*Source, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(srcURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", srcURL)
	}

	httpClient := opts.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	} else {
		c := *httpClient
		httpClient = &c
	}
	httpClient.Timeout = opts.timeout

	if opts.retryMax != 0 {
		rclient := &retryablehttp.Client{
			HTTPClient:   httpClient,
			RetryWaitMin: opts.retryWaitMin,
			RetryWaitMax: opts.retryWaitMax,
			RetryMax:     opts.retryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
		}
		httpClient = rclient.StandardClient()
	}

	return &Source{
		url:    u,
		client: httpClient,
		header: make(http.Header),
	}, nil
}

// AddHeader adds a header sent with every request.
func (s *Source) AddHeader(key, value string) {
	if s.header == nil {
		s.header = make(map[string][]string)
	}
	s.header.Add(key, value)
}

// Load fetches the value for key in the cache identified by cacheID. It has
// the signature of an rcache.KeyLoader.
func (s *Source) Load(ctx context.Context, cacheID, key string) ([]byte, error) {
	// Each of cacheID and key is a single path segment, so a "/" or ".." in
	// a key cannot address another origin resource.
	u := s.url.JoinPath(pathSegment(cacheID), pathSegment(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, vals := range s.header {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		log.Debugw("Origin returned error", "url", u, "status", resp.StatusCode)
		return nil, apierror.FromResponse(resp.StatusCode, body)
	}
	return body, nil
}

// pathSegment escapes s as a single URL path segment that is not removed by
// path cleaning.
func pathSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

func (s *Source) String() string {
	return s.url.String()
}
