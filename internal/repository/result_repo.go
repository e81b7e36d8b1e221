// Package repository provides durable storage for session history and node
// results.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// ResultRepository persists node results so that session history survives
// restarts. The in-memory registry stays authoritative for live state; the
// repository is the write-behind record.
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveSession inserts the session row if it does not exist and refreshes its
// last-activity timestamp if it does.
func (r *ResultRepository) SaveSession(ctx context.Context, sessionID string) error {
	query := `
		INSERT INTO sessions (id, created_at, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity
	`

	now := time.Now()
	if _, err := r.db.ExecContext(ctx, query, sessionID, now, now); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveNodeResult stores the payload as the latest result for the node,
// overwriting any earlier row (last-write-wins, matching the registry).
func (r *ResultRepository) SaveNodeResult(ctx context.Context, sessionID, nodeName string, payload []byte) error {
	if err := r.SaveSession(ctx, sessionID); err != nil {
		return err
	}

	query := `
		INSERT INTO node_results (session_id, node_name, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, node_name) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, sessionID, nodeName, string(payload), time.Now()); err != nil {
		return fmt.Errorf("failed to save node result: %w", err)
	}
	return nil
}

// GetNodeResult retrieves the latest payload for the node.
func (r *ResultRepository) GetNodeResult(ctx context.Context, sessionID, nodeName string) ([]byte, error) {
	query := `
		SELECT payload FROM node_results
		WHERE session_id = ? AND node_name = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, query, sessionID, nodeName).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, model.ErrNodeDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node result: %w", err)
	}

	return []byte(payload), nil
}

// ListNodeResults returns all node results for a session as events, ordered
// by node name for stable output.
func (r *ResultRepository) ListNodeResults(ctx context.Context, sessionID string) ([]model.NodeEvent, error) {
	query := `
		SELECT node_name, payload FROM node_results
		WHERE session_id = ?
		ORDER BY node_name
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node results: %w", err)
	}
	defer rows.Close()

	var events []model.NodeEvent
	for rows.Next() {
		var ev model.NodeEvent
		var payload string
		if err := rows.Scan(&ev.NodeName, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		ev.NodeData = []byte(payload)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node results: %w", err)
	}

	return events, nil
}

// DeleteSession drops the session row and all of its node results.
func (r *ResultRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM node_results WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete node results: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SessionExists checks if a session row exists.
func (r *ResultRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ? LIMIT 1`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return true, nil
}
