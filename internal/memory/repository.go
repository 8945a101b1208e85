package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"ai-market-analyst/internal/database"
)

// ErrCollectionNotFound is returned when a namespace does not exist, for
// example because another process deleted it.
var ErrCollectionNotFound = errors.New("memory collection not found")

// Document is one stored situation.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// CollectionInfo describes one namespace.
type CollectionInfo struct {
	Name      string
	Subject   string
	Role      string
	Count     int
	CreatedAt time.Time
}

// Backend is the vector storage a Store writes to.
type Backend interface {
	EnsureCollection(ctx context.Context, name, subject, role string) error
	Insert(ctx context.Context, collection string, doc Document) error
	Documents(ctx context.Context, collection string) ([]Document, error)
	Count(ctx context.Context, collection string) (int, error)
	DeleteDocuments(ctx context.Context, collection string, ids []string) (int, error)
	DeleteCollection(ctx context.Context, name string) (int, error)
	Collections(ctx context.Context) ([]CollectionInfo, error)
}

// SQLiteRepository stores collections and their embeddings in sqlite.
// Similarity is computed in Go over the rows of a single collection, so a
// query can never see another namespace's documents.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(d *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: d}
}

func (r *SQLiteRepository) EnsureCollection(ctx context.Context, name, subject, role string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_collections (name, subject, role, created_at) VALUES (?, ?, ?, ?)`,
		name, subject, role, time.Now().UTC().Format(database.TimeLayout))
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func collectionExists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM memory_collections WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", name, ErrCollectionNotFound)
	}
	return err
}

func (r *SQLiteRepository) Insert(ctx context.Context, collection string, doc Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := collectionExists(ctx, tx, collection); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_documents (collection, id, content, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		collection, doc.ID, doc.Content, string(meta), encodeVector(doc.Embedding),
		created.UTC().Format(database.TimeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) Documents(ctx context.Context, collection string) ([]Document, error) {
	if err := collectionExists(ctx, r.db, collection); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding, created_at FROM memory_documents WHERE collection = ? ORDER BY id`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d       Document
			meta    string
			blob    []byte
			created string
		)
		if err := rows.Scan(&d.ID, &d.Content, &meta, &blob, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			log.Printf("[memory] skipping %s/%s: bad metadata: %v", collection, d.ID, err)
			continue
		}
		if d.Embedding, err = decodeVector(blob); err != nil {
			log.Printf("[memory] skipping %s/%s: %v", collection, d.ID, err)
			continue
		}
		d.CreatedAt, _ = time.Parse(database.TimeLayout, created)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *SQLiteRepository) Count(ctx context.Context, collection string) (int, error) {
	if err := collectionExists(ctx, r.db, collection); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_documents WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

func (r *SQLiteRepository) DeleteDocuments(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := collectionExists(ctx, tx, collection); err != nil {
		return 0, err
	}

	var removed int64
	const chunk = 200
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		batch := ids[start:end]
		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, id := range batch {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		res, err := tx.ExecContext(ctx,
			`DELETE FROM memory_documents WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete documents: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (r *SQLiteRepository) DeleteCollection(ctx context.Context, name string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := collectionExists(ctx, tx, name); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memory_documents WHERE collection = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents of %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_collections WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *SQLiteRepository) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.name, c.subject, c.role, c.created_at, COUNT(d.id)
		FROM memory_collections c
		LEFT JOIN memory_documents d ON d.collection = c.name
		GROUP BY c.name, c.subject, c.role, c.created_at
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var (
			ci      CollectionInfo
			created string
		)
		if err := rows.Scan(&ci.Name, &ci.Subject, &ci.Role, &created, &ci.Count); err != nil {
			return nil, err
		}
		ci.CreatedAt, _ = time.Parse(database.TimeLayout, created)
		out = append(out, ci)
	}
	return out, rows.Err()
}
