package guard

import (
	"context"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/issue"
	"golang.org/x/sync/singleflight"
)

// Upstream is the provider call the service guards.
type Upstream interface {
	// Check submits text for correction and returns normalized issues.
	Check(ctx context.Context, text string) ([]issue.Issue, error)
}

// ServiceConfig holds the check service construction parameters. Limiter and
// Recent are injected so tests can instantiate independent instances; nil
// values get defaults.
type ServiceConfig struct {
	// Limiter is the sliding-window rate limiter.
	Limiter *Limiter

	// Recent is the recent-query cache consulted before the upstream.
	Recent *RecentQueries

	// Upstream is the guarded provider client.
	Upstream Upstream

	// Logger receives rate-limit and upstream failure logs. Defaults to
	// a nop logger.
	Logger btclog.Logger
}

// Service runs the server-side decision chain for every inbound check
// request: rate limit, recent-query cache, then the upstream provider, with
// concurrent identical requests collapsed into a single upstream call.
type Service struct {
	limiter  *Limiter
	recent   *RecentQueries
	upstream Upstream
	group    singleflight.Group
	log      btclog.Logger
}

// NewService creates a check service.
func NewService(cfg *ServiceConfig) *Service {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(DefaultLimit, DefaultWindow, nil)
	}

	recent := cfg.Recent
	if recent == nil {
		recent = NewRecentQueries(
			DefaultRecentTTL, DefaultRecentMaxEntries, nil,
		)
	}

	log := cfg.Logger
	if log == nil {
		log = build.NewNopLogger()
	}

	return &Service{
		limiter:  limiter,
		recent:   recent,
		upstream: cfg.Upstream,
		log:      log,
	}
}

// Check runs the decision chain for one inbound request. A rate-limited
// request returns an empty result rather than an error: the limiter fails
// open to "no new issues" instead of failing or queuing the request. An
// upstream failure is returned as an error so the client can keep its prior
// state.
func (s *Service) Check(ctx context.Context,
	text string) ([]issue.Issue, error) {

	if s.limiter.IsRateLimited() {
		s.log.Debugf("Rate limited, returning empty result")
		return []issue.Issue{}, nil
	}
	s.limiter.Record()

	if cached := s.recent.Get(text); cached.IsSome() {
		s.log.Debugf("Recent-query cache hit")
		return cached.UnwrapOr(nil), nil
	}

	// Collapse concurrent identical requests into one provider call; all
	// waiters share the result.
	result, err, _ := s.group.Do(
		s.recent.Key(text), func() (any, error) {
			issues, err := s.upstream.Check(ctx, text)
			if err != nil {
				return nil, err
			}

			s.recent.Put(text, issues)

			return issues, nil
		},
	)
	if err != nil {
		s.log.Warnf("Upstream check failed: %v", err)
		return nil, err
	}

	return result.([]issue.Issue), nil
}
