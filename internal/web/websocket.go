package web

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quillworks/redline/internal/doc"
	"github.com/quillworks/redline/internal/ignore"
	"github.com/quillworks/redline/internal/issue"
	"github.com/quillworks/redline/internal/resultcache"
	"github.com/quillworks/redline/internal/session"
	"github.com/quillworks/redline/internal/textnorm"
)

// Websocket frame types for the editor session protocol.
const (
	// Client-to-server frames.
	WSFrameEdit   = "edit"
	WSFrameApply  = "apply"
	WSFrameReject = "reject"
	WSFrameIgnore = "ignore"
	WSFrameMarker = "marker"

	// Server-to-client frames.
	WSFrameConnected = "connected"
	WSFrameIssues    = "issues"
	WSFrameApplied   = "applied"
	WSFrameRule      = "rule"
	WSFrameError     = "error"
)

// wsWriteTimeout bounds each frame write so one dead client cannot stall
// the session goroutines.
const wsWriteTimeout = 10 * time.Second

// WSFrame is a websocket session frame. The Type field selects which of the
// remaining fields are meaningful.
type WSFrame struct {
	Type string `json:"type"`

	// Edit fields.
	Content string `json:"content,omitempty"`
	Force   bool   `json:"force,omitempty"`

	// Issue-targeting fields (apply, reject, ignore, marker).
	Token     string `json:"token,omitempty"`
	IssueType string `json:"issueType,omitempty"`

	// Apply fields.
	Suggestion string `json:"suggestion,omitempty"`

	// Marker fields.
	Offset int `json:"offset,omitempty"`
	From   int `json:"from,omitempty"`
	To     int `json:"to,omitempty"`

	// Server push fields.
	Issues  []issue.Issue `json:"issues,omitempty"`
	Text    string        `json:"text,omitempty"`
	Tier    int           `json:"tier,omitempty"`
	Rule    *issue.Rule   `json:"rule,omitempty"`
	Message string        `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleSessionSocket handles /ws/session. Each connection gets its own
// document, result cache, ignore registry and correction engine, all scoped
// to the authenticated user; the engine pushes issue updates as they land.
func (s *Server) handleSessionSocket(w http.ResponseWriter,
	r *http.Request) {

	user := userID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Outgoing frames funnel through one writer goroutine since gorilla
	// connections allow a single concurrent writer.
	outgoing := make(chan WSFrame, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range outgoing {
			deadline := time.Now().Add(wsWriteTimeout)
			_ = conn.SetWriteDeadline(deadline)
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}()

	send := func(frame WSFrame) {
		select {
		case outgoing <- frame:
		case <-writerDone:
		}
	}

	cache := s.newSessionCache(user)
	registry := ignore.NewRegistry(&ignore.Config{
		Remote: &localRuleStore{rules: s.cfg.Rules, userID: user},
		Cache:  cache,
		Logger: s.log,
	})

	engine := session.NewEngine(&session.Config{
		Document: doc.New(""),
		Checker:  s.cfg.Guard,
		Feedback: s.cfg.Feedback,
		Cache:    cache,
		Registry: registry,
		OnIssues: func(issues []issue.Issue) {
			send(WSFrame{Type: WSFrameIssues, Issues: issues})
		},
		Logger: s.log,
	})
	engine.Start()

	if err := registry.Load(r.Context()); err != nil {
		s.log.Warnf("Session for user %s could not load ignore "+
			"rules: %v", user, err)
		send(WSFrame{
			Type:    WSFrameError,
			Message: "failed to load ignore rules",
		})
	}

	send(WSFrame{Type: WSFrameConnected})
	s.log.Debugf("Editor session opened for user %s", user)

	for {
		var frame WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}

		s.dispatchSessionFrame(r, engine, frame, send)
	}

	// Stop returns only after the engine loop has drained, so no late
	// check result can push an issue frame once the channel closes below.
	engine.Stop()
	close(outgoing)
	<-writerDone
	s.log.Debugf("Editor session closed for user %s", user)
}

// newSessionCache builds the per-connection result cache, backed by a
// per-user blob file when the server is configured with a cache directory.
// A blob that cannot be created degrades the session to a memory-only cache
// rather than refusing the connection.
func (s *Server) newSessionCache(user string) *resultcache.Cache {
	cfg := &resultcache.Config{Logger: s.log}

	if s.cfg.CacheDir != "" {
		name := textnorm.Fingerprint(user) + ".json"
		blob, err := resultcache.NewFileBlob(
			filepath.Join(s.cfg.CacheDir, name),
		)
		if err != nil {
			s.log.Warnf("Session cache for user %s falls back to "+
				"memory only: %v", user, err)
		} else {
			cfg.Blob = blob
		}
	}

	return resultcache.New(cfg)
}

// dispatchSessionFrame routes one client frame to the session engine and
// sends the reply. Errors are reported in-band; the connection stays up.
func (s *Server) dispatchSessionFrame(r *http.Request,
	engine *session.Engine, frame WSFrame, send func(WSFrame)) {

	ctx := r.Context()
	key := issue.Key{Token: frame.Token, Type: frame.IssueType}

	switch frame.Type {
	case WSFrameEdit:
		_, err := engine.Schedule(ctx, frame.Content, frame.Force)
		if err != nil {
			send(errorFrame(err))
		}

	case WSFrameApply:
		resp, err := engine.Apply(ctx, key, frame.Suggestion)
		if err != nil {
			send(errorFrame(err))
			return
		}
		send(WSFrame{
			Type: WSFrameApplied,
			Text: resp.Text,
			Tier: int(resp.Tier),
		})

	case WSFrameReject:
		rule, err := engine.Reject(ctx, key)
		if err != nil {
			send(errorFrame(err))
			return
		}
		send(WSFrame{Type: WSFrameRule, Rule: &rule})

	case WSFrameIgnore:
		rule, err := engine.Ignore(ctx, key)
		if err != nil {
			send(errorFrame(err))
			return
		}
		send(WSFrame{Type: WSFrameRule, Rule: &rule})

	case WSFrameMarker:
		err := engine.SetMarker(ctx, key, doc.Marker{
			Offset: frame.Offset,
			From:   frame.From,
			To:     frame.To,
		})
		if err != nil {
			send(errorFrame(err))
		}

	default:
		send(WSFrame{
			Type:    WSFrameError,
			Message: "unknown frame type: " + frame.Type,
		})
	}
}

// errorFrame wraps an engine error for the client.
func errorFrame(err error) WSFrame {
	return WSFrame{Type: WSFrameError, Message: err.Error()}
}
