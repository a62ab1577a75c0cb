package session

import (
	"github.com/quillworks/redline/internal/doc"
	"github.com/quillworks/redline/internal/issue"
)

// Request is the union type for all session engine requests.
type Request interface {
	isSessionRequest()
}

// Ensure all request types implement Request.
func (ScheduleRequest) isSessionRequest()     {}
func (ActiveIssuesRequest) isSessionRequest() {}
func (ApplyRequest) isSessionRequest()        {}
func (RejectRequest) isSessionRequest()       {}
func (IgnoreRequest) isSessionRequest()       {}
func (SetMarkerRequest) isSessionRequest()    {}
func (TextRequest) isSessionRequest()         {}
func (timerFired) isSessionRequest()          {}
func (checkResult) isSessionRequest()         {}

// Response is the union type for all session engine responses.
type Response interface {
	isSessionResponse()
}

// Ensure all response types implement Response.
func (ScheduleResponse) isSessionResponse()     {}
func (ActiveIssuesResponse) isSessionResponse() {}
func (ApplyResponse) isSessionResponse()        {}
func (RejectResponse) isSessionResponse()       {}
func (IgnoreResponse) isSessionResponse()       {}
func (SetMarkerResponse) isSessionResponse()    {}
func (TextResponse) isSessionResponse()         {}
func (internalAck) isSessionResponse()          {}

// ScheduleRequest reports a content change and asks the scheduler to decide
// whether a recheck is worth running.
type ScheduleRequest struct {
	// Content is the full document markup at the time of the change.
	Content string

	// Force bypasses both the change-detection guard and the result
	// cache, triggering an immediate live check.
	Force bool
}

// ScheduleResponse reports what the scheduler decided.
type ScheduleResponse struct {
	// Scheduled is true when a check was started or armed, false when
	// the request was gated (content too short or unchanged).
	Scheduled bool
}

// ActiveIssuesRequest asks for the currently active issue list.
type ActiveIssuesRequest struct{}

// ActiveIssuesResponse carries the active issues.
type ActiveIssuesResponse struct {
	Issues []issue.Issue
}

// ApplyRequest asks the engine to apply a suggestion for an active issue to
// the live document.
type ApplyRequest struct {
	// Key identifies the active issue to apply.
	Key issue.Key

	// Suggestion is the replacement text. Empty selects the issue's
	// first suggestion.
	Suggestion string
}

// ApplyResponse reports the result of an applied fix.
type ApplyResponse struct {
	// Text is the document text after the edit.
	Text string

	// Tier is the resolver tier that located the span.
	Tier doc.Tier
}

// RejectRequest asks the engine to reject an active issue: reject feedback
// to the provider followed by a persisted ignore rule.
type RejectRequest struct {
	Key issue.Key
}

// RejectResponse carries the ignore rule created by the rejection.
type RejectResponse struct {
	Rule issue.Rule
}

// IgnoreRequest asks the engine to permanently ignore an active issue
// without sending provider feedback.
type IgnoreRequest struct {
	Key issue.Key
}

// IgnoreResponse carries the created ignore rule.
type IgnoreResponse struct {
	Rule issue.Rule
}

// SetMarkerRequest records where the rendering layer displayed an issue, so
// later applies can resolve the span exactly.
type SetMarkerRequest struct {
	Key    issue.Key
	Marker doc.Marker
}

// SetMarkerResponse acknowledges a recorded marker.
type SetMarkerResponse struct{}

// TextRequest asks for the current document text.
type TextRequest struct{}

// TextResponse carries the current document text.
type TextResponse struct {
	Text string
}

// timerFired is the internal message posted when the debounce timer
// elapses. It carries the raw content captured at schedule time along with
// its stripped-form fingerprint; intervening edits re-arm the timer with a
// new generation, orphaning this one.
type timerFired struct {
	gen         uint64
	content     string
	fingerprint string
}

// checkResult is the internal message posted when an asynchronous remote
// check completes.
type checkResult struct {
	// mutGen is the engine's mutation generation at dispatch time. A
	// result whose generation is stale by arrival is discarded so it
	// cannot resurrect issues the user already acted on.
	mutGen uint64

	fingerprint string
	issues      []issue.Issue
	err         error
}

// internalAck is the empty response to internal messages.
type internalAck struct{}
