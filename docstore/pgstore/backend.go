// Package pgstore keeps documents in a Postgres table and carries change
// notifications over LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Seednode/minigames/docstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection  TEXT        NOT NULL,
    id          TEXT        NOT NULL,
    fields      JSONB       NOT NULL,
    create_time TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_create_time
    ON documents (collection, create_time);
`

// Backend stores documents in the documents table. It owns its pool.
type Backend struct {
	pool *pgxpool.Pool
}

var _ docstore.Backend = (*Backend)(nil)

// Open connects to dsn and creates the schema when missing.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Backend{pool: pool}, nil
}

func (b *Backend) Insert(ctx context.Context, collection string, doc docstore.Document) error {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}

	_, err = b.pool.Exec(ctx, `
        INSERT INTO documents (collection, id, fields, create_time)
        VALUES ($1, $2, $3::jsonb, $4)`,
		collection, doc.ID, string(raw), doc.CreateTime,
	)
	return err
}

type row struct {
	ID         string    `db:"id"`
	Fields     []byte    `db:"fields"`
	CreateTime time.Time `db:"create_time"`
}

func (b *Backend) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	rows, err := b.pool.Query(ctx, `
        SELECT id, fields, create_time
        FROM documents
        WHERE collection = $1
        ORDER BY create_time, id`,
		collection,
	)
	if err != nil {
		return nil, err
	}

	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[row])
	if err != nil {
		return nil, err
	}

	docs := make([]docstore.Document, 0, len(collected))
	for _, r := range collected {
		doc, err := r.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r row) document() (docstore.Document, error) {
	fields := docstore.Fields{}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &fields); err != nil {
			return docstore.Document{}, fmt.Errorf("decode document %s: %w", r.ID, err)
		}
	}
	return docstore.Document{ID: r.ID, Fields: fields, CreateTime: r.CreateTime.UTC()}, nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
