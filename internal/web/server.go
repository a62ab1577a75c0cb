// Package web serves the redlined HTTP API: the guarded correction check
// endpoint, ignore-rule CRUD, provider feedback proxying, and the websocket
// editor-session endpoint that runs one correction engine per connection.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/db"
	"github.com/quillworks/redline/internal/guard"
	"github.com/quillworks/redline/internal/ignore"
	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/session"
)

// Config holds the web server construction parameters.
type Config struct {
	// Addr is the listen address, e.g. ":8433".
	Addr string

	// Guard is the rate-limited, deduplicated check service. Required.
	Guard *guard.Service

	// Rules is the ignore-rule store. Required.
	Rules *db.RuleStore

	// Feedback proxies accept/reject signals to the upstream provider.
	// Optional; without it the feedback endpoints return 502.
	Feedback session.FeedbackSender

	// AuthSecret is the HS256 signing secret for API bearer tokens.
	// Required; there is no unauthenticated mode.
	AuthSecret []byte

	// CacheDir, when set, backs each websocket session's result cache
	// with a per-user blob file under this directory. Empty keeps
	// session caches memory-only.
	CacheDir string

	// Logger defaults to a nop logger.
	Logger btclog.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr: ":8433",
	}
}

// Server is the redlined HTTP server.
type Server struct {
	cfg *Config
	log btclog.Logger

	mux *http.ServeMux
	srv *http.Server
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Guard == nil {
		return nil, fmt.Errorf("guard service is required")
	}
	if cfg.Rules == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if len(cfg.AuthSecret) == 0 {
		return nil, fmt.Errorf("auth secret is required")
	}

	log := cfg.Logger
	if log == nil {
		log = build.NewNopLogger()
	}

	s := &Server{
		cfg: cfg,
		log: log,
		mux: http.NewServeMux(),
	}
	s.registerAPIV1Routes()
	s.mux.HandleFunc("/ws/session", s.withAuth(s.handleSessionSocket))

	return s, nil
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Infof("Web server listening on %s", s.cfg.Addr)

	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the route mux, for handler tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// localRuleStore adapts the server's RuleStore to the ignore registry's
// remote-store interface for one user, so a websocket session reuses the
// exact registry machinery a remote client does with no network hop.
type localRuleStore struct {
	rules  *db.RuleStore
	userID string
}

var _ ignore.RemoteStore = (*localRuleStore)(nil)

func (l *localRuleStore) ListRules(ctx context.Context) ([]issue.Rule,
	error) {

	return l.rules.ListRules(ctx, l.userID)
}

func (l *localRuleStore) CreateRule(ctx context.Context, token,
	issueType string) (issue.Rule, error) {

	return l.rules.CreateRule(ctx, l.userID, token, issueType)
}

func (l *localRuleStore) DeleteRule(ctx context.Context,
	ruleID string) error {

	return l.rules.DeleteRule(ctx, l.userID, ruleID)
}

func (l *localRuleStore) DeleteAllRules(ctx context.Context) error {
	return l.rules.DeleteAllRules(ctx, l.userID)
}
