package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetDocument decodes the JSON body stored under (collection, id) into dest.
func (db *DB) GetDocument(ctx context.Context, collection, id string, dest interface{}) error {
	var body string
	err := db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}

	if err := json.Unmarshal([]byte(body), dest); err != nil {
		return fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
	}
	return nil
}

// PutDocument replaces the whole document stored under (collection, id).
func (db *DB) PutDocument(ctx context.Context, collection, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s/%s: %w", collection, id, err)
	}

	query := `INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(collection, id) DO UPDATE SET
                body = excluded.body,
                updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, collection, id, string(body), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to put document %s/%s: %w", collection, id, err)
	}
	return nil
}
