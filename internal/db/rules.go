package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/google/uuid"
	"github.com/quillworks/redline/internal/issue"
)

// ErrRuleNotFound is returned when a delete targets a rule that does not
// exist for the user.
var ErrRuleNotFound = errors.New("ignore rule not found")

// RuleStore is the CRUD store for persisted ignore rules.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a rule store over the given database connection.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// DB returns the underlying database connection.
func (s *RuleStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *RuleStore) Close() error {
	return s.db.Close()
}

// ListRules returns all rules for the user, newest first.
func (s *RuleStore) ListRules(ctx context.Context,
	userID string) ([]issue.Rule, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, token, type, created_at
		FROM ignore_rules
		WHERE user_id = ?
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ignore rules: %w", err)
	}
	defer rows.Close()

	var rules []issue.Rule
	for rows.Next() {
		var (
			r         issue.Rule
			createdAt int64
		)
		err := rows.Scan(
			&r.ID, &r.UserID, &r.Token, &r.Type, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ignore "+
				"rule: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ignore rules: %w", err)
	}

	return rules, nil
}

// CreateRule persists a rule for the user's (token, type) pair. Creating a
// rule that already exists returns the existing rule, keeping the operation
// idempotent.
func (s *RuleStore) CreateRule(ctx context.Context, userID, token,
	issueType string) (issue.Rule, error) {

	rule := issue.Rule{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     token,
		Type:      issueType,
		CreatedAt: time.Now().Truncate(time.Second),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ignore_rules (id, user_id, token, type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, token, type) DO NOTHING
	`, rule.ID, rule.UserID, rule.Token, rule.Type,
		rule.CreatedAt.Unix())
	if err != nil {
		return issue.Rule{}, fmt.Errorf("failed to create ignore "+
			"rule: %w", err)
	}

	// Read back the stored row so a duplicate insert returns the
	// original rule ID rather than the discarded one.
	var createdAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, created_at
		FROM ignore_rules
		WHERE user_id = ? AND token = ? AND type = ?
	`, userID, token, issueType).Scan(&rule.ID, &createdAt)
	if err != nil {
		return issue.Rule{}, fmt.Errorf("failed to read back "+
			"ignore rule: %w", err)
	}
	rule.CreatedAt = time.Unix(createdAt, 0)

	return rule, nil
}

// DeleteRule removes the rule with the given ID if it belongs to the user.
func (s *RuleStore) DeleteRule(ctx context.Context, userID,
	ruleID string) error {

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ignore_rules WHERE user_id = ? AND id = ?
	`, userID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete ignore rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}

	return nil
}

// DeleteAllRules removes every rule belonging to the user.
func (s *RuleStore) DeleteAllRules(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM ignore_rules WHERE user_id = ?
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear ignore rules: %w", err)
	}

	return nil
}

// Open opens the SQLite database at the given path, applies migrations, and
// returns a RuleStore wrapping it.
func Open(dbPath string, log btclog.Logger) (*RuleStore, error) {
	db, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := ApplyMigrations(db, log); err != nil {
		db.Close()
		return nil, err
	}

	return NewRuleStore(db), nil
}
