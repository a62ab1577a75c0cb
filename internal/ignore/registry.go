// Package ignore implements the client-side mirror of the user's persisted
// ignore rules. The remote store is the source of truth: every mutation goes
// remote first and the local mirror only changes when the remote call
// succeeds, so the two can never diverge.
package ignore

import (
	"context"
	"fmt"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/resultcache"
	"github.com/quillworks/redline/internal/textnorm"
)

// RemoteStore is the persistence boundary for ignore rules. Implementations
// carry the caller's identity credential and must fail closed: any
// non-success response is reported as an error and treated as "no change
// applied".
type RemoteStore interface {
	// ListRules fetches all rules for the calling user.
	ListRules(ctx context.Context) ([]issue.Rule, error)

	// CreateRule persists a new rule and returns it with its assigned ID.
	CreateRule(ctx context.Context, token,
		issueType string) (issue.Rule, error)

	// DeleteRule removes the rule with the given ID.
	DeleteRule(ctx context.Context, ruleID string) error

	// DeleteAllRules removes every rule for the calling user.
	DeleteAllRules(ctx context.Context) error
}

// Config holds the registry construction parameters.
type Config struct {
	// Remote is the rule persistence store. Required.
	Remote RemoteStore

	// Cache is reconciled synchronously after every rule change.
	// Required.
	Cache *resultcache.Cache

	// OnChange, if set, is invoked synchronously with the full rule set
	// after every successful change. The session uses it to filter the
	// active issue list and invalidate its change-detection state.
	OnChange func(rules []issue.Rule)

	// Logger defaults to a nop logger.
	Logger btclog.Logger
}

// Registry is the in-memory mirror of the user's ignore rules.
//
// The registry runs on its owning session's execution context; the mutating
// operations suspend only on the remote persistence call.
type Registry struct {
	remote   RemoteStore
	cache    *resultcache.Cache
	rules    []issue.Rule
	onChange func(rules []issue.Rule)
	log      btclog.Logger
}

// NewRegistry creates an empty registry. Call Load to populate it from the
// remote store.
func NewRegistry(cfg *Config) *Registry {
	log := cfg.Logger
	if log == nil {
		log = build.NewNopLogger()
	}

	return &Registry{
		remote:   cfg.Remote,
		cache:    cfg.Cache,
		onChange: cfg.OnChange,
		log:      log,
	}
}

// SetOnChange installs the change listener. The session engine registers
// itself here at construction time, after the registry already exists.
func (r *Registry) SetOnChange(fn func(rules []issue.Rule)) {
	r.onChange = fn
}

// Load fetches the rule set from the remote store and re-establishes the
// ignore invariant against the cache and the active issue list.
func (r *Registry) Load(ctx context.Context) error {
	rules, err := r.remote.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ignore rules: %w", err)
	}

	r.rules = rules
	r.propagate()

	return nil
}

// Rules returns a copy of the current rule set.
func (r *Registry) Rules() []issue.Rule {
	rules := make([]issue.Rule, len(r.rules))
	copy(rules, r.rules)

	return rules
}

// Fingerprint returns the fingerprint of the current rule set's
// (token, type) pairs, used by the scheduler's change detection.
func (r *Registry) Fingerprint() string {
	return textnorm.IgnoreFingerprint(r.rules)
}

// Add persists a rule suppressing the issue's (token, type) pair. The whole
// operation aborts on remote failure; on success the mirror is updated and
// the change is propagated to the cache and the session.
func (r *Registry) Add(ctx context.Context,
	iss issue.Issue) (issue.Rule, error) {

	rule, err := r.remote.CreateRule(ctx, iss.Token, iss.Type)
	if err != nil {
		return issue.Rule{}, fmt.Errorf("failed to persist ignore "+
			"rule: %w", err)
	}

	// The remote create is idempotent, so an existing pair just has its
	// stored rule echoed back.
	replaced := false
	for i, existing := range r.rules {
		if existing.Key() == rule.Key() {
			r.rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		r.rules = append(r.rules, rule)
	}

	r.log.Debugf("Ignore rule added: token=%q type=%q", rule.Token,
		rule.Type)
	r.propagate()

	return rule, nil
}

// Remove deletes the rule with the given ID, remote first.
func (r *Registry) Remove(ctx context.Context, ruleID string) error {
	if err := r.remote.DeleteRule(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete ignore rule: %w", err)
	}

	kept := r.rules[:0]
	for _, rule := range r.rules {
		if rule.ID != ruleID {
			kept = append(kept, rule)
		}
	}
	r.rules = kept

	r.propagate()

	return nil
}

// ClearAll deletes every rule, remote first.
func (r *Registry) ClearAll(ctx context.Context) error {
	if err := r.remote.DeleteAllRules(ctx); err != nil {
		return fmt.Errorf("failed to clear ignore rules: %w", err)
	}

	r.rules = nil
	r.propagate()

	return nil
}

// propagate re-establishes the ignore invariant synchronously: no cache
// entry or active issue may match a live rule once this returns.
func (r *Registry) propagate() {
	if r.cache != nil {
		r.cache.ReconcileIgnored(r.rules)
	}
	if r.onChange != nil {
		r.onChange(r.Rules())
	}
}
