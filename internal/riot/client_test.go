package riot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lolevel/thunderclap/internal/ratelimit"
)

func newTestClient(t *testing.T, baseURL string, clock clockwork.Clock) *Client {
	t.Helper()

	limiter, err := ratelimit.New(1000, 10000, clock)
	require.NoError(t, err)

	client, err := NewClient("test-key", "europe", "euw1", limiter,
		WithBaseURLs(baseURL, baseURL), WithClock(clock))
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter, err := ratelimit.New(10, 100, clock)
	require.NoError(t, err)

	_, err = NewClient("", "europe", "euw1", limiter)
	assert.Error(t, err)

	_, err = NewClient("key", "europe", "euw1", nil)
	assert.Error(t, err)
}

func TestGetMatch_NotFoundIsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	payload, err := client.GetMatch(context.Background(), "EUW1_MISSING")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestGetMatch_SendsAuthHeaderAndDecodes(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Riot-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"metadata": {"matchId": "EUW1_100", "participants": ["p1"]},
			"info": {"gameDuration": 1800, "participants": [{"puuid": "p1", "win": true, "teamId": 100}]}
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	payload, err := client.GetMatch(context.Background(), "EUW1_100")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "test-key", gotToken)
	assert.Equal(t, "EUW1_100", payload.Metadata.MatchID)
	assert.Equal(t, 1800, payload.Info.GameDuration)
	require.Len(t, payload.Info.Participants, 1)
	assert.True(t, payload.Info.Participants[0].Win)
}

func TestGetMatch_RateLimitSurfaced(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	_, err := client.GetMatch(context.Background(), "EUW1_100")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
	assert.Equal(t, int32(1), calls.Load(), "429 must not be retried by the client")
}

func TestGetMatch_RateLimitWithoutHeaderDefaultsToOneSecond(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	_, err := client.GetMatch(context.Background(), "EUW1_100")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, time.Second, rle.RetryAfter)
}

func TestGetMatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"metadata": {"matchId": "EUW1_100"}, "info": {"gameDuration": 1500}}`))
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := newTestClient(t, server.URL, clock)

	type result struct {
		payload *MatchPayload
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := client.GetMatch(context.Background(), "EUW1_100")
		done <- result{p, err}
	}()

	// Two backoffs stand between the failures and the success: 1s then 2s.
	for _, backoff := range []time.Duration{time.Second, 2 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(backoff)
	}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.NotNil(t, res.payload)
		assert.Equal(t, 1500, res.payload.Info.GameDuration)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetMatch_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := newTestClient(t, server.URL, clock)

	done := make(chan error, 1)
	go func() {
		_, err := client.GetMatch(context.Background(), "EUW1_100")
		done <- err
	}()

	for _, backoff := range []time.Duration{time.Second, 2 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(backoff)
	}

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetMatch_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status": {"message": "Forbidden"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	_, err := client.GetMatch(context.Background(), "EUW1_100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestGetMatch_ContextCancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := newTestClient(t, server.URL, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.GetMatch(ctx, "EUW1_100")
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not return after cancel")
	}
}

func TestListMatchIDs_QueryParameters(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"start": r.URL.Query().Get("start"),
			"count": r.URL.Query().Get("count"),
			"type":  r.URL.Query().Get("type"),
		}
		w.Write([]byte(`["EUW1_1", "EUW1_2"]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	ids, err := client.ListMatchIDs(context.Background(), "puuid-1", "tourney", 40)
	require.NoError(t, err)
	assert.Equal(t, []string{"EUW1_1", "EUW1_2"}, ids)
	assert.Equal(t, map[string]string{"start": "0", "count": "40", "type": "tourney"}, gotQuery)
}

func TestListMatchIDs_CountCappedAtUpstreamMax(t *testing.T) {
	var gotCount string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCount = r.URL.Query().Get("count")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	_, err := client.ListMatchIDs(context.Background(), "puuid-1", "tourney", 500)
	require.NoError(t, err)
	assert.Equal(t, "100", gotCount)
}

func TestListMatchIDs_NotFoundIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	ids, err := client.ListMatchIDs(context.Background(), "puuid-unknown", "tourney", 20)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestGetLeagueEntries_Decodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"queueType": "RANKED_FLEX_SR", "tier": "SILVER", "rank": "I", "leaguePoints": 20, "wins": 4, "losses": 6},
			{"queueType": "RANKED_SOLO_5x5", "tier": "GOLD", "rank": "II", "leaguePoints": 50, "wins": 12, "losses": 8}
		]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, clockwork.NewFakeClock())

	entries, err := client.GetLeagueEntries(context.Background(), "puuid-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "RANKED_SOLO_5x5", entries[1].QueueType)
	assert.Equal(t, "GOLD", entries[1].Tier)
	assert.Equal(t, 50, entries[1].LeaguePoints)
}

func TestGetMatch_TransportErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // every request now fails at the transport level

	clock := clockwork.NewFakeClock()
	client := newTestClient(t, server.URL, clock)

	done := make(chan error, 1)
	go func() {
		_, err := client.GetMatch(context.Background(), "EUW1_100")
		done <- err
	}()

	for _, backoff := range []time.Duration{time.Second, 2 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(backoff)
	}

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Contains(t, err.Error(), "request failed")
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
}
