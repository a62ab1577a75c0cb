// Package session implements the per-document correction engine: the
// debounced check scheduler, the correction pipeline tying the fingerprint,
// result cache, ignore registry and remote checker together, and the apply,
// reject and ignore actions on the live document.
//
// Each engine is one logical actor. All state lives on a single event loop
// goroutine fed by a mailbox channel; the only suspension points are the
// network calls to the checker, the feedback sender and the ignore store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/doc"
	"github.com/quillworks/redline/internal/ignore"
	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/resultcache"
)

const (
	// DefaultDebounce is how long the scheduler waits after the last
	// content change before running a check.
	DefaultDebounce = 5 * time.Second

	// DefaultMinCheckLen is the minimum plain-text length worth paying a
	// check for. Shorter content clears the active issues and is never
	// sent upstream.
	DefaultMinCheckLen = 20
)

var (
	// ErrStopped is returned for requests against a stopped engine.
	ErrStopped = errors.New("session engine stopped")

	// ErrUnknownIssue is returned when an action targets an issue that
	// is not in the active list.
	ErrUnknownIssue = errors.New("issue not in active list")

	// ErrNoSuggestion is returned when an apply has no replacement text
	// to work with.
	ErrNoSuggestion = errors.New("issue has no suggestion")
)

// Checker runs a correction check, typically against a redlined server.
type Checker interface {
	// Check submits text for correction and returns normalized issues.
	Check(ctx context.Context, text string) ([]issue.Issue, error)
}

// FeedbackSender carries accept/reject signals to the provider.
type FeedbackSender interface {
	// Accept reports an accepted edit.
	Accept(ctx context.Context, editID string) error

	// Reject reports a rejected edit.
	Reject(ctx context.Context, editID string) error
}

// Config holds the engine construction parameters.
type Config struct {
	// Document is the live document the engine operates on. Required.
	Document *doc.Document

	// Checker runs remote checks. Required.
	Checker Checker

	// Feedback sends accept/reject signals. Optional; issues without it
	// (or without an EditID) skip feedback silently.
	Feedback FeedbackSender

	// Cache is the client result cache. Required.
	Cache *resultcache.Cache

	// Registry mirrors the user's ignore rules. Required. The engine
	// registers itself as the registry's change listener.
	Registry *ignore.Registry

	// Debounce overrides DefaultDebounce when non-zero.
	Debounce time.Duration

	// MinCheckLen overrides DefaultMinCheckLen when non-zero.
	MinCheckLen int

	// OnIssues, if set, is invoked on the engine loop whenever the
	// active issue list changes. Callbacks must not call back into the
	// engine synchronously.
	OnIssues func(issues []issue.Issue)

	// Logger defaults to a nop logger.
	Logger btclog.Logger
}

// envelope pairs a request with its reply channel.
type envelope struct {
	ctx   context.Context
	req   Request
	reply chan fn.Result[Response]
}

// Engine is the per-document correction actor.
type Engine struct {
	cfg *Config
	log btclog.Logger

	requests chan envelope
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Everything below is owned by the event loop goroutine.

	active      []issue.Issue
	activeFP    string
	rules       []issue.Rule
	lastFP      string
	lastIgnore  string
	timer       *time.Timer
	timerGen    uint64
	mutationGen uint64
}

// NewEngine creates a session engine and hooks it up to the registry's
// change notifications. Start must be called before use.
func NewEngine(cfg *Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = build.NewNopLogger()
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		requests: make(chan envelope, 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Rule changes are propagated synchronously by the registry, which
	// only mutates from within engine request handlers, so the callback
	// runs on the loop goroutine and may touch loop state directly.
	cfg.Registry.SetOnChange(e.onRulesChanged)

	return e
}

// Start launches the event loop.
func (e *Engine) Start() {
	go e.loop()
}

// Stop terminates the event loop and waits for it to exit, so once Stop
// returns no configured callback can fire again. Pending requests fail with
// ErrStopped; in-flight network calls are not cancelled, their results are
// simply dropped. Stop must not be called from within an engine callback.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
	})
	<-e.done
}

// loop is the engine's single execution context.
func (e *Engine) loop() {
	defer close(e.done)

	for {
		select {
		case env := <-e.requests:
			res := e.receive(env.ctx, env.req)
			if env.reply != nil {
				env.reply <- res
			}

		case <-e.quit:
			if e.timer != nil {
				e.timer.Stop()
			}
			return
		}
	}
}

// receive dispatches a request to its type-specific handler.
func (e *Engine) receive(ctx context.Context,
	req Request) fn.Result[Response] {

	switch m := req.(type) {
	case ScheduleRequest:
		return fn.Ok[Response](e.handleSchedule(m))

	case ActiveIssuesRequest:
		return fn.Ok[Response](ActiveIssuesResponse{
			Issues: e.activeSnapshot(),
		})

	case ApplyRequest:
		resp, err := e.handleApply(ctx, m)
		if err != nil {
			return fn.Err[Response](err)
		}
		return fn.Ok[Response](resp)

	case RejectRequest:
		resp, err := e.handleReject(ctx, m)
		if err != nil {
			return fn.Err[Response](err)
		}
		return fn.Ok[Response](resp)

	case IgnoreRequest:
		resp, err := e.handleIgnore(ctx, m)
		if err != nil {
			return fn.Err[Response](err)
		}
		return fn.Ok[Response](resp)

	case SetMarkerRequest:
		e.cfg.Document.SetMarker(m.Key, m.Marker)
		return fn.Ok[Response](SetMarkerResponse{})

	case TextRequest:
		return fn.Ok[Response](TextResponse{
			Text: e.cfg.Document.Text(),
		})

	case timerFired:
		e.handleTimerFired(m)
		return fn.Ok[Response](internalAck{})

	case checkResult:
		e.handleCheckResult(m)
		return fn.Ok[Response](internalAck{})

	default:
		return fn.Err[Response](fmt.Errorf(
			"unknown request type: %T", req,
		))
	}
}

// ask posts a request and waits for its reply.
func (e *Engine) ask(ctx context.Context, req Request) (Response, error) {
	reply := make(chan fn.Result[Response], 1)

	select {
	case e.requests <- envelope{ctx: ctx, req: req, reply: reply}:

	case <-e.quit:
		return nil, ErrStopped

	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.Unpack()

	case <-e.quit:
		return nil, ErrStopped

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post delivers an internal message without waiting for a reply.
func (e *Engine) post(req Request) {
	select {
	case e.requests <- envelope{ctx: context.Background(), req: req}:
	case <-e.quit:
	}
}

// =============================================================================
// Public API: synchronous wrappers over the mailbox.
// =============================================================================

// Schedule reports a content change. It returns whether a check was armed.
func (e *Engine) Schedule(ctx context.Context, content string,
	force bool) (bool, error) {

	resp, err := e.ask(ctx, ScheduleRequest{Content: content, Force: force})
	if err != nil {
		return false, err
	}

	return resp.(ScheduleResponse).Scheduled, nil
}

// ActiveIssues returns the currently active issue list.
func (e *Engine) ActiveIssues(ctx context.Context) ([]issue.Issue, error) {
	resp, err := e.ask(ctx, ActiveIssuesRequest{})
	if err != nil {
		return nil, err
	}

	return resp.(ActiveIssuesResponse).Issues, nil
}

// Apply locates the issue's span in the live document and replaces it with
// the suggestion as one atomic edit.
func (e *Engine) Apply(ctx context.Context, key issue.Key,
	suggestion string) (ApplyResponse, error) {

	resp, err := e.ask(ctx, ApplyRequest{Key: key, Suggestion: suggestion})
	if err != nil {
		return ApplyResponse{}, err
	}

	return resp.(ApplyResponse), nil
}

// Reject rejects an active issue and registers an ignore rule for it.
func (e *Engine) Reject(ctx context.Context,
	key issue.Key) (issue.Rule, error) {

	resp, err := e.ask(ctx, RejectRequest{Key: key})
	if err != nil {
		return issue.Rule{}, err
	}

	return resp.(RejectResponse).Rule, nil
}

// Ignore registers an ignore rule for an active issue without provider
// feedback.
func (e *Engine) Ignore(ctx context.Context,
	key issue.Key) (issue.Rule, error) {

	resp, err := e.ask(ctx, IgnoreRequest{Key: key})
	if err != nil {
		return issue.Rule{}, err
	}

	return resp.(IgnoreResponse).Rule, nil
}

// SetMarker records the displayed span for an issue.
func (e *Engine) SetMarker(ctx context.Context, key issue.Key,
	m doc.Marker) error {

	_, err := e.ask(ctx, SetMarkerRequest{Key: key, Marker: m})
	return err
}

// Text returns the current document text.
func (e *Engine) Text(ctx context.Context) (string, error) {
	resp, err := e.ask(ctx, TextRequest{})
	if err != nil {
		return "", err
	}

	return resp.(TextResponse).Text, nil
}
