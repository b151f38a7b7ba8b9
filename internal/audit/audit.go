// Package audit appends a trail row per top-level mutating operation.
// Failure to record a trail entry never fails the operation it describes.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Trail writes audit rows. One Trail serves the whole process.
type Trail struct {
	db  *ledgerdb.DB
	log *zap.Logger
}

// New builds a Trail over the ledger database.
func New(db *ledgerdb.DB, log *zap.Logger) *Trail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trail{db: db, log: log}
}

// Entry is one recorded action.
type Entry struct {
	RequestID  string         `json:"request_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// Record appends one row and returns its request id. Errors are logged
// and swallowed so a full disk cannot block the ledger itself.
func (t *Trail) Record(ctx context.Context, action, targetType, targetID string, detail map[string]any) string {
	requestID := uuid.NewString()
	var detailJSON []byte
	if len(detail) > 0 {
		detailJSON, _ = json.Marshal(detail)
	}
	_, err := t.db.Exec(ctx, `
		INSERT INTO audit_logs (request_id, action, target_type, target_id, detail)
		VALUES (?, ?, ?, ?, ?)`,
		requestID, action, targetType, targetID, string(detailJSON))
	if err != nil {
		t.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
	return requestID
}

// Recent returns the latest n entries, newest first.
func (t *Trail) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := t.db.Query(ctx, `
		SELECT request_id, action, COALESCE(target_type, ''),
		       COALESCE(target_id, ''), COALESCE(detail, ''), created_at
		FROM audit_logs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var detail string
		if err := rows.Scan(&e.RequestID, &e.Action, &e.TargetType,
			&e.TargetID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			_ = json.Unmarshal([]byte(detail), &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
