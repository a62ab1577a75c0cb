package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/quillworks/redline/internal/db"
	"github.com/quillworks/redline/internal/issue"
)

// APIError represents an API error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error details.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// registerAPIV1Routes registers all /api/v1/ routes.
func (s *Server) registerAPIV1Routes() {
	// JSON middleware for API routes.
	jsonMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next(w, r)
		}
	}

	// All routes except health require a valid bearer token.
	api := func(handler http.HandlerFunc) http.HandlerFunc {
		return jsonMiddleware(s.withAuth(handler))
	}

	s.mux.HandleFunc("/api/v1/health",
		jsonMiddleware(s.handleAPIV1Health))

	s.mux.HandleFunc("/api/v1/check", api(s.handleAPIV1Check))

	s.mux.HandleFunc("/api/v1/ignores", api(s.handleAPIV1Ignores))
	s.mux.HandleFunc("/api/v1/ignores/", api(s.handleAPIV1IgnoreByID))

	s.mux.HandleFunc("/api/v1/feedback/", api(s.handleAPIV1Feedback))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{
		Error: APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleAPIV1Health handles GET /api/v1/health.
func (s *Server) handleAPIV1Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed,
			"method_not_allowed", "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAPIV1Check handles POST /api/v1/check. The guard service makes the
// rate-limit and dedup decisions; a rate-limited request is a 200 with an
// empty issue list, not an error.
func (s *Server) handleAPIV1Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed,
			"method_not_allowed", "Method not allowed")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body",
			"Invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "validation_error",
			"Text is required")
		return
	}

	issues, err := s.cfg.Guard.Check(r.Context(), req.Text)
	if err != nil {
		s.log.Warnf("Check failed for user %s: %v", userID(r), err)
		writeError(w, http.StatusBadGateway, "provider_error",
			"Correction provider unavailable")
		return
	}

	if issues == nil {
		issues = []issue.Issue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

// handleAPIV1Ignores handles GET/POST/DELETE /api/v1/ignores.
func (s *Server) handleAPIV1Ignores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)

	switch r.Method {
	case http.MethodGet:
		rules, err := s.cfg.Rules.ListRules(ctx, user)
		if err != nil {
			s.log.Errorf("Failed to list ignore rules for user "+
				"%s: %v", user, err)
			writeError(w, http.StatusInternalServerError,
				"db_error", "Failed to fetch ignore rules")
			return
		}

		if rules == nil {
			rules = []issue.Rule{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})

	case http.MethodPost:
		var req struct {
			Token string `json:"token"`
			Type  string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body",
				"Invalid request body")
			return
		}
		if req.Token == "" || req.Type == "" {
			writeError(w, http.StatusBadRequest,
				"validation_error", "Token and type are "+
					"required")
			return
		}

		rule, err := s.cfg.Rules.CreateRule(
			ctx, user, req.Token, req.Type,
		)
		if err != nil {
			s.log.Errorf("Failed to create ignore rule for user "+
				"%s: %v", user, err)
			writeError(w, http.StatusInternalServerError,
				"db_error", "Failed to create ignore rule")
			return
		}

		writeJSON(w, http.StatusCreated, rule)

	case http.MethodDelete:
		if err := s.cfg.Rules.DeleteAllRules(ctx, user); err != nil {
			s.log.Errorf("Failed to clear ignore rules for user "+
				"%s: %v", user, err)
			writeError(w, http.StatusInternalServerError,
				"db_error", "Failed to clear ignore rules")
			return
		}

		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed,
			"method_not_allowed", "Method not allowed")
	}
}

// handleAPIV1IgnoreByID handles DELETE /api/v1/ignores/{id}.
func (s *Server) handleAPIV1IgnoreByID(w http.ResponseWriter,
	r *http.Request) {

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed,
			"method_not_allowed", "Method not allowed")
		return
	}

	ruleID := strings.TrimPrefix(r.URL.Path, "/api/v1/ignores/")
	if ruleID == "" || strings.Contains(ruleID, "/") {
		writeError(w, http.StatusBadRequest, "invalid_id",
			"Rule ID required")
		return
	}

	err := s.cfg.Rules.DeleteRule(r.Context(), userID(r), ruleID)
	switch {
	case errors.Is(err, db.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "not_found",
			"Ignore rule not found")
		return

	case err != nil:
		s.log.Errorf("Failed to delete ignore rule %s: %v", ruleID,
			err)
		writeError(w, http.StatusInternalServerError, "db_error",
			"Failed to delete ignore rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAPIV1Feedback handles POST /api/v1/feedback/accept/{id} and
// /api/v1/feedback/reject/{id}, proxying the signal to the provider.
func (s *Server) handleAPIV1Feedback(w http.ResponseWriter,
	r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed,
			"method_not_allowed", "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/feedback/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "invalid_path",
			"Expected feedback/{accept|reject}/{id}")
		return
	}
	verb, editID := parts[0], parts[1]

	if s.cfg.Feedback == nil {
		writeError(w, http.StatusBadGateway, "provider_error",
			"Feedback is not configured")
		return
	}

	var err error
	switch verb {
	case "accept":
		err = s.cfg.Feedback.Accept(r.Context(), editID)

	case "reject":
		err = s.cfg.Feedback.Reject(r.Context(), editID)

	default:
		writeError(w, http.StatusBadRequest, "invalid_action",
			"Unknown feedback action: "+verb)
		return
	}
	if err != nil {
		s.log.Warnf("Feedback %s for edit %s failed: %v", verb,
			editID, err)
		writeError(w, http.StatusBadGateway, "provider_error",
			"Feedback delivery failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
