// Package riot wraps the upstream match-data API. Every call is admitted by
// the shared rate limiter before touching the network.
package riot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Lolevel/thunderclap/internal/ratelimit"
)

const (
	defaultMaxAttempts = 3
	requestTimeout     = 10 * time.Second
)

// RateLimitError signals an upstream 429. It is surfaced to the caller rather
// than retried here, so the refresh pipeline can make the wait visible in the
// status row before sleeping.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
}

// Client is the upstream API client shared by all refresh workers.
type Client struct {
	httpClient  *http.Client
	limiter     *ratelimit.Limiter
	clock       clockwork.Clock
	apiKey      string
	regionURL   string // match + account endpoints
	platformURL string // league endpoints
	maxAttempts int
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURLs overrides both endpoint hosts (useful for tests).
func WithBaseURLs(regionURL, platformURL string) Option {
	return func(c *Client) {
		c.regionURL = regionURL
		c.platformURL = platformURL
	}
}

// WithClock injects the clock used for retry backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// NewClient constructs a Client for the given routing region and platform
// shard. The limiter is mandatory: there is no unmetered path to upstream.
func NewClient(apiKey, region, platform string, limiter *ratelimit.Limiter, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("riot: api key not configured")
	}
	if limiter == nil {
		return nil, fmt.Errorf("riot: rate limiter is required")
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     limiter,
		clock:       clockwork.NewRealClock(),
		apiKey:      apiKey,
		regionURL:   fmt.Sprintf("https://%s.api.riotgames.com", region),
		platformURL: fmt.Sprintf("https://%s.api.riotgames.com", platform),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListMatchIDs returns up to count match identifiers from the player's
// history, filtered by matchType (e.g. "tourney"). A 404 yields an empty
// list.
func (c *Client) ListMatchIDs(ctx context.Context, puuid, matchType string, count int) ([]string, error) {
	if count > 100 {
		count = 100
	}
	endpoint := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids", c.regionURL, url.PathEscape(puuid))
	params := url.Values{}
	params.Set("start", "0")
	params.Set("count", strconv.Itoa(count))
	if matchType != "" {
		params.Set("type", matchType)
	}

	var ids []string
	found, err := c.getJSON(ctx, endpoint+"?"+params.Encode(), &ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return ids, nil
}

// GetMatch fetches a full match document. A 404 returns (nil, nil): the match
// is absent upstream, which is not an error.
func (c *Client) GetMatch(ctx context.Context, matchID string) (*MatchPayload, error) {
	endpoint := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.regionURL, url.PathEscape(matchID))

	var payload MatchPayload
	found, err := c.getJSON(ctx, endpoint, &payload)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &payload, nil
}

// GetLeagueEntries fetches the player's current ranked standings. A 404 or an
// unranked player returns an empty slice.
func (c *Client) GetLeagueEntries(ctx context.Context, puuid string) ([]LeagueEntry, error) {
	endpoint := fmt.Sprintf("%s/lol/league/v4/entries/by-puuid/%s", c.platformURL, url.PathEscape(puuid))

	var entries []LeagueEntry
	found, err := c.getJSON(ctx, endpoint, &entries)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return entries, nil
}

// getJSON performs a rate-limited GET and decodes the response into out.
// Returns found=false on 404. Transient failures (5xx, transport errors) are
// retried with exponential backoff up to maxAttempts; a 429 is surfaced
// immediately as *RateLimitError.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) (bool, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			log.Warn().Str("component", "riot").Str("url", endpoint).
				Dur("backoff", backoff).Int("attempt", attempt+1).
				Msg("retrying upstream request")
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-c.clock.After(backoff):
			}
		}

		if err := c.limiter.Admit(ctx); err != nil {
			return false, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Riot-Token", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = fmt.Errorf("read response: %w", readErr)
				continue
			}
			if err := json.Unmarshal(body, out); err != nil {
				return false, fmt.Errorf("decode response: %w", err)
			}
			return true, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			return false, &RateLimitError{RetryAfter: retryAfter(resp)}

		case resp.StatusCode == http.StatusNotFound:
			return false, nil

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("upstream server error: %s", resp.Status)
			continue

		default:
			return false, fmt.Errorf("upstream error %s: %s", resp.Status, truncate(body, 200))
		}
	}

	return false, fmt.Errorf("upstream request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
