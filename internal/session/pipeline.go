package session

import (
	"context"
	"time"

	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/resultcache"
	"github.com/quillworks/redline/internal/textnorm"
)

// handleSchedule is the debounced check scheduler. Every call re-arms the
// timer, so only the final state of a burst of edits is ever checked.
func (e *Engine) handleSchedule(req ScheduleRequest) ScheduleResponse {
	e.cfg.Document.SetText(req.Content)

	// Any pending check was armed for content that no longer exists.
	e.cancelTimer()

	plain := textnorm.StripMarkup(req.Content)
	if len(plain) < e.minCheckLen() {
		e.log.Debugf("Content below check threshold (%d chars), "+
			"clearing issues", len(plain))
		e.setActive(nil, textnorm.Fingerprint(plain))

		return ScheduleResponse{Scheduled: false}
	}

	fp := textnorm.Fingerprint(plain)

	if !req.Force {
		unchanged := fp == e.lastFP &&
			e.cfg.Registry.Fingerprint() == e.lastIgnore
		if unchanged {
			e.log.Tracef("Content fingerprint %s unchanged, "+
				"skipping check", fp)
			return ScheduleResponse{Scheduled: false}
		}
	}

	if req.Force {
		// A forced check bypasses the debounce and the result cache
		// and always hits the live checker.
		e.lastFP = ""
		e.runPipeline(req.Content, fp, true)

		return ScheduleResponse{Scheduled: true}
	}

	e.timerGen++
	gen := e.timerGen
	content := req.Content
	e.timer = time.AfterFunc(e.debounce(), func() {
		e.post(timerFired{gen: gen, content: content, fingerprint: fp})
	})

	e.log.Tracef("Check armed for fingerprint %s", fp)

	return ScheduleResponse{Scheduled: true}
}

// handleTimerFired runs the pipeline for a debounce timer that survived to
// expiry. Timers orphaned by later edits carry a stale generation and are
// dropped.
func (e *Engine) handleTimerFired(msg timerFired) {
	if msg.gen != e.timerGen {
		e.log.Tracef("Dropping stale debounce timer (gen %d, "+
			"current %d)", msg.gen, e.timerGen)
		return
	}

	e.runPipeline(msg.content, msg.fingerprint, false)
}

// runPipeline executes one pass of the correction pipeline: result cache
// first, then an asynchronous live check. The checker receives the content
// exactly as the editor scheduled it; fp is the fingerprint of its stripped
// form and keys the cache.
func (e *Engine) runPipeline(content, fp string, bypassCache bool) {
	if !bypassCache {
		if entry := e.cfg.Cache.Get(fp); entry.IsSome() {
			cached := entry.UnwrapOr(resultcache.Entry{})
			issues := issue.FilterIgnored(cached.Issues, e.rules)

			e.log.Debugf("Cache hit for fingerprint %s: %d "+
				"issue(s)", fp, len(issues))

			e.setActive(issues, fp)
			e.lastFP = fp
			e.lastIgnore = e.cfg.Registry.Fingerprint()

			return
		}
	}

	// Capture the mutation generation so results that arrive after the
	// user edited or acted on an issue are discarded.
	mutGen := e.mutationGen
	checker := e.cfg.Checker

	go func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), checkTimeout,
		)
		defer cancel()

		issues, err := checker.Check(ctx, content)
		e.post(checkResult{
			mutGen:      mutGen,
			fingerprint: fp,
			issues:      issues,
			err:         err,
		})
	}()
}

// checkTimeout bounds a single live check round trip.
const checkTimeout = 30 * time.Second

// handleCheckResult folds a completed live check back into the engine state.
func (e *Engine) handleCheckResult(msg checkResult) {
	if msg.err != nil {
		// The previous issue state stays untouched so a transient
		// network failure never wipes the user's annotations.
		e.log.Warnf("Check failed for fingerprint %s: %v",
			msg.fingerprint, msg.err)
		return
	}

	if msg.mutGen != e.mutationGen {
		e.log.Debugf("Dropping stale check result for fingerprint "+
			"%s (gen %d, current %d)", msg.fingerprint,
			msg.mutGen, e.mutationGen)
		return
	}

	valid := msg.issues[:0:0]
	for _, iss := range msg.issues {
		if !iss.Valid() {
			e.log.Warnf("Dropping malformed issue from checker: "+
				"%+v", iss)
			continue
		}
		valid = append(valid, iss)
	}

	issues := issue.FilterIgnored(valid, e.rules)

	e.cfg.Cache.Put(msg.fingerprint, issues)

	e.setActive(issues, msg.fingerprint)
	e.lastFP = msg.fingerprint
	e.lastIgnore = e.cfg.Registry.Fingerprint()

	e.log.Debugf("Check complete for fingerprint %s: %d issue(s)",
		msg.fingerprint, len(issues))
}

// handleApply resolves the issue's live span, applies the replacement, and
// retires the issue everywhere it is tracked.
func (e *Engine) handleApply(ctx context.Context,
	req ApplyRequest) (ApplyResponse, error) {

	iss, ok := e.findActive(req.Key)
	if !ok {
		return ApplyResponse{}, ErrUnknownIssue
	}

	replacement := req.Suggestion
	if replacement == "" {
		if len(iss.Suggestions) == 0 {
			return ApplyResponse{}, ErrNoSuggestion
		}
		replacement = iss.Suggestions[0]
	}

	span, tier, err := e.cfg.Document.Resolve(iss)
	if err != nil {
		return ApplyResponse{}, err
	}

	if err := e.cfg.Document.Apply(span, replacement); err != nil {
		return ApplyResponse{}, err
	}

	e.log.Debugf("Applied fix for %q via tier %d", iss.Token, tier)

	e.cfg.Document.DeleteMarker(req.Key)
	e.cfg.Cache.RemoveIssue(e.activeFP, req.Key)
	e.removeActive(req.Key)

	// The document changed under any in-flight check.
	e.mutationGen++

	// Accept feedback is best effort: the edit already happened and the
	// provider signal is advisory.
	if iss.EditID != "" && e.cfg.Feedback != nil {
		feedback := e.cfg.Feedback
		editID := iss.EditID
		go func() {
			ctx, cancel := context.WithTimeout(
				context.Background(), checkTimeout,
			)
			defer cancel()

			if err := feedback.Accept(ctx, editID); err != nil {
				e.log.Warnf("Accept feedback for edit %s "+
					"failed: %v", editID, err)
			}
		}()
	}

	return ApplyResponse{
		Text: e.cfg.Document.Text(),
		Tier: tier,
	}, nil
}

// handleReject rejects an issue: reject feedback must succeed before the
// ignore rule is registered, so a provider that never saw the rejection is
// not silently out of sync with a rule that suppresses the issue forever.
func (e *Engine) handleReject(ctx context.Context,
	req RejectRequest) (RejectResponse, error) {

	iss, ok := e.findActive(req.Key)
	if !ok {
		return RejectResponse{}, ErrUnknownIssue
	}

	if iss.EditID != "" && e.cfg.Feedback != nil {
		if err := e.cfg.Feedback.Reject(ctx, iss.EditID); err != nil {
			return RejectResponse{}, err
		}
	}

	rule, err := e.cfg.Registry.Add(ctx, iss)
	if err != nil {
		return RejectResponse{}, err
	}

	return RejectResponse{Rule: rule}, nil
}

// handleIgnore registers an ignore rule for an active issue. No provider
// feedback is sent; the user is suppressing the issue, not judging the edit.
func (e *Engine) handleIgnore(ctx context.Context,
	req IgnoreRequest) (IgnoreResponse, error) {

	iss, ok := e.findActive(req.Key)
	if !ok {
		return IgnoreResponse{}, ErrUnknownIssue
	}

	rule, err := e.cfg.Registry.Add(ctx, iss)
	if err != nil {
		return IgnoreResponse{}, err
	}

	return IgnoreResponse{Rule: rule}, nil
}

// onRulesChanged is the registry change listener. The registry only mutates
// from within engine request handlers, so this runs on the loop goroutine.
func (e *Engine) onRulesChanged(rules []issue.Rule) {
	e.rules = rules

	kept := issue.FilterIgnored(e.active, rules)
	changed := len(kept) != len(e.active)

	e.active = kept

	// Force the next schedule to re-evaluate even for identical content,
	// and orphan any in-flight check built on the old rule set.
	e.lastFP = ""
	e.mutationGen++

	if changed && e.cfg.OnIssues != nil {
		e.cfg.OnIssues(e.activeSnapshot())
	}
}

// setActive replaces the active issue list and notifies the listener.
func (e *Engine) setActive(issues []issue.Issue, fp string) {
	e.active = issues
	e.activeFP = fp

	if e.cfg.OnIssues != nil {
		e.cfg.OnIssues(e.activeSnapshot())
	}
}

// findActive looks up an active issue by key.
func (e *Engine) findActive(key issue.Key) (issue.Issue, bool) {
	for _, iss := range e.active {
		if iss.Key() == key {
			return iss, true
		}
	}

	return issue.Issue{}, false
}

// removeActive drops the issue with the given key from the active list.
func (e *Engine) removeActive(key issue.Key) {
	kept := e.active[:0]
	for _, iss := range e.active {
		if iss.Key() != key {
			kept = append(kept, iss)
		}
	}
	e.active = kept

	if e.cfg.OnIssues != nil {
		e.cfg.OnIssues(e.activeSnapshot())
	}
}

// activeSnapshot returns a copy of the active issue list.
func (e *Engine) activeSnapshot() []issue.Issue {
	issues := make([]issue.Issue, len(e.active))
	copy(issues, e.active)

	return issues
}

// cancelTimer stops any armed debounce timer and bumps the generation so a
// fire already in flight is discarded on arrival.
func (e *Engine) cancelTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (e *Engine) debounce() time.Duration {
	if e.cfg.Debounce > 0 {
		return e.cfg.Debounce
	}
	return DefaultDebounce
}

func (e *Engine) minCheckLen() int {
	if e.cfg.MinCheckLen > 0 {
		return e.cfg.MinCheckLen
	}
	return DefaultMinCheckLen
}
