package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// GlossaryRepository is the key-ordered lookup over acronym definitions
// maintained by the administrative console.
type GlossaryRepository struct {
	db *sql.DB
}

func NewGlossaryRepository(db *sql.DB) *GlossaryRepository {
	return &GlossaryRepository{db: db}
}

func (r *GlossaryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent api startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS glossary_terms (
	term TEXT PRIMARY KEY,
	definition TEXT NOT NULL,
	description TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_glossary_terms_upper ON glossary_terms(UPPER(term));
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *GlossaryRepository) GetDefinition(ctx context.Context, term string) (*domain.GlossaryEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT term, definition, COALESCE(description, ''), created_at, updated_at
FROM glossary_terms
WHERE UPPER(term) = UPPER($1)
`, term)

	var entry domain.GlossaryEntry
	err := row.Scan(&entry.Term, &entry.Definition, &entry.Description, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrGlossaryNotFound, "get definition", fmt.Errorf("term %q", term))
		}
		return nil, fmt.Errorf("query glossary term: %w", err)
	}
	return &entry, nil
}

func (r *GlossaryRepository) ListTerms(ctx context.Context) ([]domain.GlossaryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT term, definition, COALESCE(description, ''), created_at, updated_at
FROM glossary_terms
ORDER BY term
`)
	if err != nil {
		return nil, fmt.Errorf("query glossary terms: %w", err)
	}
	defer rows.Close()

	out := make([]domain.GlossaryEntry, 0, 64)
	for rows.Next() {
		var entry domain.GlossaryEntry
		if err := rows.Scan(&entry.Term, &entry.Definition, &entry.Description, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan glossary term: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate glossary terms: %w", err)
	}
	return out, nil
}
