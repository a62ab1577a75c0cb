package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quillworks/redline/internal/doc"
	"github.com/quillworks/redline/internal/ignore"
	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/resultcache"
	"github.com/quillworks/redline/internal/textnorm"
	"github.com/stretchr/testify/require"
)

// testDebounce keeps scheduler tests fast.
const testDebounce = 20 * time.Millisecond

// stubChecker records check calls and replies with canned issues. An
// optional gate blocks each call until released, for in-flight race tests.
type stubChecker struct {
	mu     sync.Mutex
	calls  []string
	issues []issue.Issue
	err    error
	gate   chan struct{}
}

func (c *stubChecker) Check(ctx context.Context,
	text string) ([]issue.Issue, error) {

	c.mu.Lock()
	c.calls = append(c.calls, text)
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	out := make([]issue.Issue, len(c.issues))
	copy(out, c.issues)

	return out, nil
}

func (c *stubChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.calls)
}

func (c *stubChecker) lastCall() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.calls) == 0 {
		return ""
	}

	return c.calls[len(c.calls)-1]
}

// stubFeedback records accept/reject calls and can fail rejects.
type stubFeedback struct {
	mu        sync.Mutex
	accepts   []string
	rejects   []string
	rejectErr error
}

func (f *stubFeedback) Accept(_ context.Context, editID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.accepts = append(f.accepts, editID)

	return nil
}

func (f *stubFeedback) Reject(_ context.Context, editID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectErr != nil {
		return f.rejectErr
	}
	f.rejects = append(f.rejects, editID)

	return nil
}

func (f *stubFeedback) acceptedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.accepts))
	copy(out, f.accepts)

	return out
}

// memRuleStore is an in-memory ignore rule store.
type memRuleStore struct {
	mu     sync.Mutex
	rules  []issue.Rule
	nextID int
}

func (m *memRuleStore) ListRules(_ context.Context) ([]issue.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]issue.Rule, len(m.rules))
	copy(out, m.rules)

	return out, nil
}

func (m *memRuleStore) CreateRule(_ context.Context, token,
	issueType string) (issue.Rule, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rules {
		if r.Token == token && r.Type == issueType {
			return r, nil
		}
	}

	m.nextID++
	rule := issue.Rule{
		ID:        fmt.Sprintf("rule-%d", m.nextID),
		UserID:    "alice",
		Token:     token,
		Type:      issueType,
		CreatedAt: time.Now(),
	}
	m.rules = append(m.rules, rule)

	return rule, nil
}

func (m *memRuleStore) DeleteRule(_ context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.ID != ruleID {
			kept = append(kept, r)
		}
	}
	m.rules = kept

	return nil
}

func (m *memRuleStore) DeleteAllRules(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rules = nil

	return nil
}

// testHarness bundles an engine with its collaborators.
type testHarness struct {
	engine   *Engine
	checker  *stubChecker
	feedback *stubFeedback
	cache    *resultcache.Cache
	registry *ignore.Registry
	document *doc.Document
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	checker := &stubChecker{}
	feedback := &stubFeedback{}
	cache := resultcache.New(&resultcache.Config{})
	registry := ignore.NewRegistry(&ignore.Config{
		Remote: &memRuleStore{},
		Cache:  cache,
	})
	document := doc.New("")

	engine := NewEngine(&Config{
		Document: document,
		Checker:  checker,
		Feedback: feedback,
		Cache:    cache,
		Registry: registry,
		Debounce: testDebounce,
	})
	engine.Start()
	t.Cleanup(engine.Stop)

	return &testHarness{
		engine:   engine,
		checker:  checker,
		feedback: feedback,
		cache:    cache,
		registry: registry,
		document: document,
	}
}

// waitForIssues polls until the active list is non-empty.
func (h *testHarness) waitForIssues(t *testing.T) []issue.Issue {
	t.Helper()

	var issues []issue.Issue
	require.Eventually(t, func() bool {
		current, err := h.engine.ActiveIssues(context.Background())
		if err != nil {
			return false
		}
		issues = current

		return len(issues) > 0
	}, time.Second, time.Millisecond)

	return issues
}

const (
	// longContent comfortably clears the minimum check length.
	longContent = "I teh think this sentence has plenty of words."

	// editedContent is a second distinct document state.
	editedContent = "I teh think this sentence was edited afterwards."
)

func tehIssue(editID string) issue.Issue {
	return issue.Issue{
		Offset:      2,
		Token:       "teh",
		Type:        "spelling",
		Suggestions: []string{"the"},
		EditID:      editID,
	}
}

// TestDebounceCoalescing asserts two schedules inside the window produce a
// single check carrying the second content.
func TestDebounceCoalescing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	scheduled, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	require.True(t, scheduled)

	scheduled, err = h.engine.Schedule(ctx, editedContent, false)
	require.NoError(t, err)
	require.True(t, scheduled)

	h.waitForIssues(t)

	require.Equal(t, 1, h.checker.callCount())
	require.Equal(t, editedContent, h.checker.lastCall())
}

// TestCheckerReceivesRawContent asserts the live check carries the content
// exactly as the editor scheduled it; only the cache key and the change
// detection use the stripped form.
func TestCheckerReceivesRawContent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	marked := "I **teh** think this sentence has plenty of words."

	_, err := h.engine.Schedule(ctx, marked, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	require.Equal(t, marked, h.checker.lastCall())

	// The result is cached under the stripped-form fingerprint.
	fp := textnorm.Fingerprint(textnorm.StripMarkup(marked))
	require.True(t, h.cache.Get(fp).IsSome())
}

// TestScheduleBelowMinLength asserts short content clears the active issues
// and never reaches the checker.
func TestScheduleBelowMinLength(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	scheduled, err := h.engine.Schedule(ctx, "too short", false)
	require.NoError(t, err)
	require.False(t, scheduled)

	issues, err := h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)
	require.Equal(t, 1, h.checker.callCount())
}

// TestScheduleUnchangedContent asserts a markup-only change after a
// completed check is a no-op.
func TestScheduleUnchangedContent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	// Bolding a word changes the markup but not the stripped text.
	bolded := "I **teh** think this sentence has plenty of words."
	require.Equal(t, textnorm.StripMarkup(longContent),
		textnorm.StripMarkup(bolded))

	scheduled, err := h.engine.Schedule(ctx, bolded, false)
	require.NoError(t, err)
	require.False(t, scheduled)
	require.Equal(t, 1, h.checker.callCount())
}

// TestScheduleCacheHit asserts a previously checked content state is served
// from the result cache without a live check.
func TestScheduleCacheHit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	fp := textnorm.Fingerprint(textnorm.StripMarkup(longContent))
	h.cache.Put(fp, []issue.Issue{tehIssue("e1")})

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)

	issues := h.waitForIssues(t)
	require.Equal(t, "teh", issues[0].Token)
	require.Zero(t, h.checker.callCount())
}

// TestScheduleForce asserts force bypasses the debounce, the
// change-detection guard, and the result cache.
func TestScheduleForce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	fp := textnorm.Fingerprint(textnorm.StripMarkup(longContent))
	h.cache.Put(fp, []issue.Issue{})

	scheduled, err := h.engine.Schedule(ctx, longContent, true)
	require.NoError(t, err)
	require.True(t, scheduled)

	h.waitForIssues(t)
	require.Equal(t, 1, h.checker.callCount())
}

// TestCheckFailureKeepsState asserts a failed live check leaves the prior
// active issues in place.
func TestCheckFailureKeepsState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	h.checker.mu.Lock()
	h.checker.err = errors.New("provider down")
	h.checker.mu.Unlock()

	_, err = h.engine.Schedule(ctx, editedContent, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.checker.callCount() == 2
	}, time.Second, time.Millisecond)

	// Give the failed result time to land; the issue list must survive.
	time.Sleep(5 * testDebounce)
	issues, err := h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
}

// TestApplyResolvesAndEdits asserts apply locates the span, performs the
// edit, retires the issue, and sends accept feedback.
func TestApplyResolvesAndEdits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	issues := h.waitForIssues(t)
	key := issues[0].Key()

	resp, err := h.engine.Apply(ctx, key, "")
	require.NoError(t, err)
	require.Equal(t, doc.TierExact, resp.Tier)
	require.Equal(t,
		"I the think this sentence has plenty of words.", resp.Text)

	// The issue is gone from the active list and the cache entry.
	issues, err = h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)

	fp := textnorm.Fingerprint(textnorm.StripMarkup(longContent))
	entry := h.cache.Get(fp)
	require.True(t, entry.IsSome())
	require.Empty(t, entry.UnwrapOr(resultcache.Entry{}).Issues)

	// Accept feedback is asynchronous best-effort.
	require.Eventually(t, func() bool {
		ids := h.feedback.acceptedIDs()
		return len(ids) == 1 && ids[0] == "e1"
	}, time.Second, time.Millisecond)
}

// TestApplyMarkerTier asserts a recorded marker takes precedence over text
// search.
func TestApplyMarkerTier(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	issues := h.waitForIssues(t)
	key := issues[0].Key()

	require.NoError(t, h.engine.SetMarker(ctx, key, doc.Marker{
		Offset: 2, From: 2, To: 5,
	}))

	resp, err := h.engine.Apply(ctx, key, "the")
	require.NoError(t, err)
	require.Equal(t, doc.TierMarker, resp.Tier)
	require.Equal(t,
		"I the think this sentence has plenty of words.", resp.Text)
}

// TestApplyUnknownIssue asserts apply rejects keys outside the active list.
func TestApplyUnknownIssue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.engine.Apply(context.Background(),
		issue.Key{Token: "nope", Type: "spelling"}, "x")
	require.ErrorIs(t, err, ErrUnknownIssue)
}

// TestRejectCascade asserts rejecting an issue sends feedback, persists a
// rule, filters the active list and the cache, and keeps the issue out of a
// subsequent recheck of the same content.
func TestRejectCascade(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{
		tehIssue("e1"),
		{Offset: 20, Token: "alot", Type: "spelling",
			Suggestions: []string{"a lot"}, EditID: "e2"},
	}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	issues := h.waitForIssues(t)
	require.Len(t, issues, 2)

	rule, err := h.engine.Reject(ctx,
		issue.Key{Token: "teh", Type: "spelling"})
	require.NoError(t, err)
	require.Equal(t, "teh", rule.Token)
	require.Equal(t, []string{"e1"}, h.feedback.rejects)

	// The active list and the cache entry no longer carry the issue.
	issues, err = h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, "alot", issues[0].Token)

	fp := textnorm.Fingerprint(textnorm.StripMarkup(longContent))
	entry := h.cache.Get(fp).UnwrapOr(resultcache.Entry{})
	require.Len(t, entry.Issues, 1)

	// Rescheduling the same content is re-evaluated (the ignore set
	// changed) and served from the reconciled cache: no new check, no
	// resurrected issue.
	scheduled, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	require.True(t, scheduled)

	require.Eventually(t, func() bool {
		current, err := h.engine.ActiveIssues(ctx)

		return err == nil && len(current) == 1 &&
			current[0].Token == "alot"
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, h.checker.callCount())
}

// TestRejectGatedOnFeedback asserts a failing reject feedback call aborts
// the whole rejection: no rule, no filtering.
func TestRejectGatedOnFeedback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	h.feedback.rejectErr = errors.New("provider down")
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	_, err = h.engine.Reject(ctx,
		issue.Key{Token: "teh", Type: "spelling"})
	require.Error(t, err)

	issues, err := h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Empty(t, h.registry.Rules())
}

// TestIgnoreSkipsFeedback asserts ignore registers the rule without any
// provider feedback.
func TestIgnoreSkipsFeedback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	rule, err := h.engine.Ignore(ctx,
		issue.Key{Token: "teh", Type: "spelling"})
	require.NoError(t, err)
	require.Equal(t, "teh", rule.Token)
	require.Empty(t, h.feedback.rejects)

	issues, err := h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)
}

// TestStaleCheckResultDropped asserts a check response that raced a local
// mutation is discarded instead of resurrecting a handled issue.
func TestStaleCheckResultDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.checker.issues = []issue.Issue{tehIssue("e1")}
	ctx := context.Background()

	// First check completes normally and flags "teh".
	_, err := h.engine.Schedule(ctx, longContent, false)
	require.NoError(t, err)
	h.waitForIssues(t)

	// The second check is held in flight at the gate.
	gate := make(chan struct{})
	h.checker.mu.Lock()
	h.checker.gate = gate
	h.checker.mu.Unlock()

	_, err = h.engine.Schedule(ctx, editedContent, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.checker.callCount() == 2
	}, time.Second, time.Millisecond)

	// The user rejects "teh" while the check is still in flight. This
	// bumps the mutation generation, so the in-flight result is stale.
	_, err = h.engine.Reject(ctx,
		issue.Key{Token: "teh", Type: "spelling"})
	require.NoError(t, err)

	close(gate)

	// The stale result must never reinstate the rejected issue.
	time.Sleep(5 * testDebounce)
	issues, err := h.engine.ActiveIssues(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)
}

// TestStopWaitsForLoopDrain asserts Stop returns only after the event loop
// has exited, so a check completing after Stop is dropped instead of firing
// the issue callback into a torn-down consumer.
func TestStopWaitsForLoopDrain(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	checker := &stubChecker{
		issues: []issue.Issue{tehIssue("e1")},
		gate:   gate,
	}

	var (
		mu       sync.Mutex
		stopped  bool
		lateCall bool
	)

	cache := resultcache.New(&resultcache.Config{})
	engine := NewEngine(&Config{
		Document: doc.New(""),
		Checker:  checker,
		Cache:    cache,
		Registry: ignore.NewRegistry(&ignore.Config{
			Remote: &memRuleStore{},
			Cache:  cache,
		}),
		Debounce: testDebounce,
		OnIssues: func([]issue.Issue) {
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				lateCall = true
			}
		},
	})
	engine.Start()

	// Force an immediate check and hold it in flight at the gate.
	_, err := engine.Schedule(context.Background(), longContent, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return checker.callCount() == 1
	}, time.Second, time.Millisecond)

	engine.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()

	// Releasing the gate lets the orphaned check complete; its result must
	// be dropped, never delivered through the callback.
	close(gate)
	time.Sleep(5 * testDebounce)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, lateCall)
}

// TestStoppedEngine asserts requests against a stopped engine fail with the
// sentinel error.
func TestStoppedEngine(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{}
	cache := resultcache.New(&resultcache.Config{})
	engine := NewEngine(&Config{
		Document: doc.New(""),
		Checker:  checker,
		Cache:    cache,
		Registry: ignore.NewRegistry(&ignore.Config{
			Remote: &memRuleStore{},
			Cache:  cache,
		}),
		Debounce: testDebounce,
	})
	engine.Start()
	engine.Stop()

	_, err := engine.ActiveIssues(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}
