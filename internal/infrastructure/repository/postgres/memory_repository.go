package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// MemoryRepository reads personalization facts per user, most-used first,
// and records post-run usage so frequently helpful facts float up.
type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func (r *MemoryRepository) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS memory_facts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	fact TEXT NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_facts_user ON memory_facts(user_id, usage_count DESC);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func (r *MemoryRepository) GetMemoryContext(ctx context.Context, userID string, maxItems int) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil
	}
	if maxItems <= 0 {
		maxItems = 5
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT fact
FROM memory_facts
WHERE user_id = $1
ORDER BY usage_count DESC, updated_at DESC
LIMIT $2
`, userID, maxItems)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "get memory context", err)
	}
	defer rows.Close()

	facts := make([]string, 0, maxItems)
	for rows.Next() {
		var fact string
		if err := rows.Scan(&fact); err != nil {
			return "", fmt.Errorf("scan memory fact: %w", err)
		}
		facts = append(facts, "- "+fact)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate memory facts: %w", err)
	}
	return strings.Join(facts, "\n"), nil
}

func (r *MemoryRepository) RecordUsage(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE memory_facts
SET usage_count = usage_count + 1, updated_at = NOW()
WHERE user_id = $1
`, userID)
	if err != nil {
		return fmt.Errorf("record memory usage: %w", err)
	}
	return nil
}
