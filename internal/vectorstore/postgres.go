package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"policy-search/internal/embeddings"
)

// PostgresStore keeps every collection in one pgvector table, partitioned by
// the collection column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgresFromDB(db), nil
}

// NewPostgresFromDB wraps an open database handle. The store owns db and
// closes it on Close.
func NewPostgresFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureCollection runs the schema migration. Collections need no row of their
// own; the name only partitions policy_documents.
func (s *PostgresStore) EnsureCollection(ctx context.Context, _ string) error {
	return s.migrate(ctx)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Use advisory lock to prevent concurrent migrations from multiple services.
	const lockID = 384384384

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration connection: %w", err)
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := conn.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS policy_documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			content JSONB,
			text TEXT,
			metadata JSONB,
			vector vector(` + strconv.Itoa(embeddings.Dimensions) + `),
			created_at TIMESTAMPTZ DEFAULT now(),
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS policy_documents_vector_idx
			ON policy_documents USING ivfflat (vector vector_cosine_ops)
			WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS policy_documents_type_idx
			ON policy_documents (collection, (metadata->>'policyType'));`,
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := ValidateRecords(records, embeddings.Dimensions); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range records {
		content, err := json.Marshal(r.Document.Content)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(r.Document.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO policy_documents(collection, id, content, text, metadata, vector)
			VALUES($1,$2,$3,$4,$5,$6::vector)
			ON CONFLICT (collection, id) DO UPDATE SET
				content=excluded.content, text=excluded.text,
				metadata=excluded.metadata, vector=excluded.vector`,
			collection, r.Document.ID, string(content), r.Document.Text, string(metadata), vectorToString(r.Vector))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", r.Document.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Search(ctx context.Context, collection string, q Query) ([]Document, error) {
	queryVec := vectorToString(q.Vector)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			COALESCE(content, 'null'::jsonb),
			COALESCE(text, ''),
			COALESCE(metadata, 'null'::jsonb),
			1 - (vector <=> $1::vector) AS similarity
		FROM policy_documents
		WHERE collection = $2
			AND (cardinality($3::text[]) = 0 OR metadata->>'policyType' = ANY($3::text[]))
		ORDER BY vector <=> $1::vector
		LIMIT $4
	`, queryVec, collection, textArray(q.PolicyTypes), q.K)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			doc      Document
			content  []byte
			metadata []byte
		)
		if err := rows.Scan(&doc.ID, &content, &doc.Text, &metadata, &doc.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(content, &doc.Content); err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", doc.ID, err)
		}
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) PolicyTypes(ctx context.Context, collection string) ([]string, error) {
	var types []string
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(pt ORDER BY first_seen), ARRAY[]::TEXT[])
		FROM (
			SELECT metadata->>'policyType' AS pt, min(created_at) AS first_seen
			FROM policy_documents
			WHERE collection = $1 AND COALESCE(metadata->>'policyType', '') <> ''
			GROUP BY 1
		) t`, collection)
	if err := row.Scan(pq.Array(&types)); err != nil {
		return nil, fmt.Errorf("failed to list policy types for %s: %w", collection, err)
	}
	if types == nil {
		types = []string{}
	}
	return types, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func textArray(items []string) []string {
	if len(items) == 0 {
		return []string{}
	}
	return items
}

// vectorToString converts a Vector ([]float32) to pgvector array format.
// Format: "[0.1,0.2,0.3,...]"
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
