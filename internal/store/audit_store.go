package store

import (
	"context"
	"time"
)

type AuditStore struct {
	db DB
}

// AuditEntry records who changed what. Data is a JSON document.
type AuditEntry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Data       string
}

type auditRow struct {
	ID         string    `db:"id"`
	ActorID    *string   `db:"actor_id"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Data       string    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, entry AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, COALESCE(NULLIF($5, ''), '{}')::jsonb)
	`, nullString(entry.ActorID), entry.Action, entry.EntityType, entry.EntityID, entry.Data)
	return err
}

// List returns the newest entries first. A non-empty action narrows the result.
func (s *AuditStore) List(ctx context.Context, action string, limit, offset int) ([]map[string]any, error) {
	var where whereClause
	if action != "" {
		where.add("action = ", action)
	}
	query := `
		SELECT id, actor_id, action, entity_type, entity_id, data::text AS data, created_at
		FROM audit_logs` + where.String() + `
		ORDER BY created_at DESC
		LIMIT ` + where.bind(limit) + ` OFFSET ` + where.bind(offset)
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, where.args...); err != nil {
		return nil, err
	}
	logs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, map[string]any{
			"id":          row.ID,
			"actor_id":    derefStringPtr(row.ActorID),
			"action":      row.Action,
			"entity_type": row.EntityType,
			"entity_id":   row.EntityID,
			"data":        row.Data,
			"created_at":  row.CreatedAt,
		})
	}
	return logs, nil
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
