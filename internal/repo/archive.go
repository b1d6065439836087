package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required

	"github.com/healstack/coord-engine/internal/models"
)

// ErrNotFound signals a missing archive record.
var ErrNotFound = errors.New("archive record not found")

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS decisions (
    id                 TEXT PRIMARY KEY,
    target             TEXT NOT NULL,
    path               TEXT NOT NULL,
    rationale          TEXT NOT NULL DEFAULT '',
    requires_approval  INTEGER NOT NULL DEFAULT 0,
    confidence         REAL NOT NULL DEFAULT 0,
    rule_name          TEXT NOT NULL DEFAULT '',
    rule_version       INTEGER NOT NULL DEFAULT 0,
    payload            TEXT NOT NULL,
    created_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_target ON decisions(target);
CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);

CREATE TABLE IF NOT EXISTS outcomes (
    id              TEXT PRIMARY KEY,
    decision_ref    TEXT NOT NULL,
    action_id       TEXT NOT NULL,
    action_type     TEXT NOT NULL DEFAULT '',
    target          TEXT NOT NULL,
    success         INTEGER NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    metrics_before  TEXT NOT NULL DEFAULT '{}',
    metrics_after   TEXT NOT NULL DEFAULT '{}',
    recorded_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_target ON outcomes(target);
CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at DESC);

CREATE TABLE IF NOT EXISTS approvals (
    decision_id  TEXT PRIMARY KEY,
    approver     TEXT NOT NULL,
    approved     INTEGER NOT NULL,
    notes        TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL
);
`,
	},
}

// Archive is the append-only SQLite store for decisions, outcomes, and
// approvals. It backs both the audit trail queries and the safety gate's
// approval lookups.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (creating if needed) the archive database and applies
// pending migrations.
func OpenArchive(path string) (*Archive, error) {
	if path == "" {
		path = "coord-engine.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_versions (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SaveDecision appends a decision record.
func (a *Archive) SaveDecision(ctx context.Context, decision models.Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO decisions
		(id, target, path, rationale, requires_approval, confidence, rule_name, rule_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		decision.ID, decision.Target, string(decision.Path), decision.Rationale,
		boolToInt(decision.RequiresApproval), decision.Confidence,
		decision.RuleName, decision.RuleVersion, string(payload), decision.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetDecision loads one archived decision by id.
func (a *Archive) GetDecision(ctx context.Context, id string) (models.Decision, error) {
	var payload string
	err := a.db.QueryRowContext(ctx, `SELECT payload FROM decisions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Decision{}, ErrNotFound
	}
	if err != nil {
		return models.Decision{}, fmt.Errorf("query decision: %w", err)
	}
	var decision models.Decision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		return models.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return decision, nil
}

// ListDecisions returns archived decisions matching the filters, newest first.
func (a *Archive) ListDecisions(ctx context.Context, req models.ListDecisionsRequest) ([]models.Decision, error) {
	query := `SELECT payload FROM decisions WHERE 1=1`
	args := make([]interface{}, 0, 4)
	if req.Target != "" {
		query += ` AND target = ?`
		args = append(args, req.Target)
	}
	if req.Path != "" {
		query += ` AND path = ?`
		args = append(args, string(req.Path))
	}
	if !req.Start.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, req.Start.UTC())
	}
	if !req.End.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, req.End.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := req.PageSize
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var decision models.Decision
		if err := json.Unmarshal([]byte(payload), &decision); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		decisions = append(decisions, decision)
	}
	return decisions, rows.Err()
}

// ListEscalated returns escalated decisions that have no recorded outcome yet,
// oldest first, for the human approval queue.
func (a *Archive) ListEscalated(ctx context.Context, limit int) ([]models.Decision, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `SELECT d.payload FROM decisions d
		LEFT JOIN outcomes o ON o.decision_ref = d.id
		WHERE d.path = ? AND o.id IS NULL
		ORDER BY d.created_at ASC LIMIT ?`,
		string(models.PathEscalateHuman), limit)
	if err != nil {
		return nil, fmt.Errorf("query escalated decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var decision models.Decision
		if err := json.Unmarshal([]byte(payload), &decision); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		decisions = append(decisions, decision)
	}
	return decisions, rows.Err()
}

// SaveOutcome appends an outcome record.
func (a *Archive) SaveOutcome(ctx context.Context, outcome models.RemediationOutcome) error {
	before, err := json.Marshal(outcome.MetricsBefore)
	if err != nil {
		return fmt.Errorf("encode metrics_before: %w", err)
	}
	after, err := json.Marshal(outcome.MetricsAfter)
	if err != nil {
		return fmt.Errorf("encode metrics_after: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO outcomes
		(id, decision_ref, action_id, action_type, target, success, reason, metrics_before, metrics_after, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.ID, outcome.DecisionRef, outcome.ActionID, string(outcome.ActionType), outcome.Target,
		boolToInt(outcome.Success), outcome.Reason, string(before), string(after),
		outcome.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns archived outcomes matching the filters, newest first.
func (a *Archive) ListOutcomes(ctx context.Context, req models.ListOutcomesRequest) ([]models.RemediationOutcome, error) {
	query := `SELECT id, decision_ref, action_id, action_type, target, success, reason, metrics_before, metrics_after, recorded_at
		FROM outcomes WHERE 1=1`
	args := make([]interface{}, 0, 4)
	if req.Target != "" {
		query += ` AND target = ?`
		args = append(args, req.Target)
	}
	if !req.Start.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, req.Start.UTC())
	}
	if !req.End.IsZero() {
		query += ` AND recorded_at <= ?`
		args = append(args, req.End.UTC())
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	limit := req.PageSize
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.RemediationOutcome
	for rows.Next() {
		var (
			outcome       models.RemediationOutcome
			actionType    string
			success       int
			before, after string
			recordedAt    time.Time
		)
		if err := rows.Scan(&outcome.ID, &outcome.DecisionRef, &outcome.ActionID, &actionType, &outcome.Target,
			&success, &outcome.Reason, &before, &after, &recordedAt); err != nil {
			return nil, err
		}
		outcome.ActionType = models.ActionType(actionType)
		outcome.Success = success != 0
		outcome.Timestamp = recordedAt
		if err := json.Unmarshal([]byte(before), &outcome.MetricsBefore); err != nil {
			return nil, fmt.Errorf("decode metrics_before: %w", err)
		}
		if err := json.Unmarshal([]byte(after), &outcome.MetricsAfter); err != nil {
			return nil, fmt.Errorf("decode metrics_after: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

// SaveApproval records a human sign-off. A repeated approval for the same
// decision replaces the earlier record.
func (a *Archive) SaveApproval(ctx context.Context, approval models.Approval) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO approvals (decision_id, approver, approved, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET approver=excluded.approver,
			approved=excluded.approved, notes=excluded.notes, created_at=excluded.created_at`,
		approval.DecisionID, approval.Approver, boolToInt(approval.Approved),
		approval.Notes, approval.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Approved reports whether a positive approval exists for the decision. This
// satisfies the safety gate's approval source contract.
func (a *Archive) Approved(decisionID string) bool {
	var approved int
	err := a.db.QueryRow(`SELECT approved FROM approvals WHERE decision_id = ?`, decisionID).Scan(&approved)
	if err != nil {
		return false
	}
	return approved != 0
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
