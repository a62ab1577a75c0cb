package guard

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quillworks/redline/internal/issue"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for limiter and cache tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// countingUpstream is a provider stub that counts calls.
type countingUpstream struct {
	calls  atomic.Int64
	issues []issue.Issue
	err    error
}

func (u *countingUpstream) Check(_ context.Context,
	_ string) ([]issue.Issue, error) {

	u.calls.Add(1)
	if u.err != nil {
		return nil, u.err
	}

	return u.issues, nil
}

// TestLimiterWindowBoundary asserts the 30-call limit over a sliding 60s
// window, including re-admission once old entries age out.
func TestLimiterWindowBoundary(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewLimiter(30, 60*time.Second, clock.Now)

	for i := 0; i < 30; i++ {
		require.False(t, limiter.IsRateLimited(), "call %d", i)
		limiter.Record()
	}
	require.True(t, limiter.IsRateLimited())

	// 59s later the window still holds all 30 entries.
	clock.Advance(59 * time.Second)
	require.True(t, limiter.IsRateLimited())

	// Crossing the window boundary re-admits.
	clock.Advance(2 * time.Second)
	require.False(t, limiter.IsRateLimited())
}

// TestServiceRateLimitedBurst asserts the 35-requests scenario: the first 30
// reach the upstream, the last 5 get an empty result without error.
func TestServiceRateLimitedBurst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	upstream := &countingUpstream{
		issues: []issue.Issue{{Token: "teh", Type: "spelling"}},
	}
	svc := NewService(&ServiceConfig{
		Limiter:  NewLimiter(30, 60*time.Second, clock.Now),
		Recent:   NewRecentQueries(0, 0, clock.Now),
		Upstream: upstream,
	})

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		// Distinct texts so the recent-query cache never answers.
		issues, err := svc.Check(ctx, fmt.Sprintf("text %d", i))
		require.NoError(t, err)
		require.Len(t, issues, 1)
	}

	for i := 0; i < 5; i++ {
		issues, err := svc.Check(ctx, fmt.Sprintf("late text %d", i))
		require.NoError(t, err)
		require.Empty(t, issues)
	}

	require.EqualValues(t, 30, upstream.calls.Load())
}

// TestRecentQueriesHit asserts identical queries are served from the cache
// without touching the upstream, keyed on the server normalization.
func TestRecentQueriesHit(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	upstream := &countingUpstream{
		issues: []issue.Issue{{Token: "teh", Type: "spelling"}},
	}
	svc := NewService(&ServiceConfig{
		Limiter:  NewLimiter(30, 60*time.Second, clock.Now),
		Recent:   NewRecentQueries(0, 0, clock.Now),
		Upstream: upstream,
	})

	ctx := context.Background()
	first, err := svc.Check(ctx, "Check THIS text")
	require.NoError(t, err)

	// Same text modulo case and whitespace hits the cache.
	second, err := svc.Check(ctx, "  check this TEXT ")
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.EqualValues(t, 1, upstream.calls.Load())
}

// TestRecentQueriesTTL asserts entries expire after the TTL.
func TestRecentQueriesTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	recent := NewRecentQueries(10*time.Minute, 100, clock.Now)

	recent.Put("some text", []issue.Issue{{Token: "teh"}})
	require.True(t, recent.Get("some text").IsSome())

	clock.Advance(10*time.Minute - time.Second)
	require.True(t, recent.Get("some text").IsSome())

	clock.Advance(2 * time.Second)
	require.True(t, recent.Get("some text").IsNone())
}

// TestRecentQueriesEviction asserts the oldest half is evicted when the cap
// is exceeded.
func TestRecentQueriesEviction(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	recent := NewRecentQueries(10*time.Minute, 10, clock.Now)

	for i := 0; i < 11; i++ {
		recent.Put(fmt.Sprintf("text %d", i), nil)
		clock.Advance(time.Second)
	}

	// 11 entries exceeded the cap of 10, dropping the oldest 5.
	require.Equal(t, 6, recent.Len())
	for i := 0; i < 5; i++ {
		require.True(t,
			recent.Get(fmt.Sprintf("text %d", i)).IsNone())
	}
	for i := 5; i < 11; i++ {
		require.True(t,
			recent.Get(fmt.Sprintf("text %d", i)).IsSome())
	}
}

// TestServiceUpstreamError asserts an upstream failure propagates as an
// error rather than an empty result.
func TestServiceUpstreamError(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	upstream := &countingUpstream{err: fmt.Errorf("provider down")}
	svc := NewService(&ServiceConfig{
		Limiter:  NewLimiter(30, 60*time.Second, clock.Now),
		Recent:   NewRecentQueries(0, 0, clock.Now),
		Upstream: upstream,
	})

	_, err := svc.Check(context.Background(), "some text")
	require.Error(t, err)
}
