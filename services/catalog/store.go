// Package catalog persists extracted product records so downstream exports
// do not depend on the scrape that produced them.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"newrock-catalog/services/extract"
)

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

type PushRequest struct {
	Time     time.Time
	Products map[string]extract.Record
}

// Push replaces the stored catalog with the given extraction in one
// transaction. A failed push leaves the previous catalog intact.
func (s Store) Push(ctx context.Context, req PushRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `delete from products`)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		insert into products (id, slug, name, url, document, scraped_at)
		values (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, record := range req.Products {
		document, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			id,
			record.Detail.LinkRewrite,
			record.Summary.Name,
			record.Summary.URL,
			string(document),
			req.Time.Unix(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Pull returns every stored product record keyed by id.
func (s Store) Pull(ctx context.Context) (map[string]extract.Record, error) {
	rows, err := s.db.QueryContext(ctx, `select id, document from products`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := map[string]extract.Record{}
	for rows.Next() {
		var id, document string
		if err := rows.Scan(&id, &document); err != nil {
			return nil, err
		}
		var record extract.Record
		if err := json.Unmarshal([]byte(document), &record); err != nil {
			return nil, err
		}
		records[id] = record
	}
	return records, rows.Err()
}

// ScrapedAt returns when the stored catalog was extracted, or the zero time
// for an empty store.
func (s Store) ScrapedAt(ctx context.Context) (time.Time, error) {
	var unix sql.NullInt64
	err := s.db.QueryRowContext(ctx, `select max(scraped_at) from products`).Scan(&unix)
	if err != nil {
		return time.Time{}, err
	}
	if !unix.Valid {
		return time.Time{}, nil
	}
	return time.Unix(unix.Int64, 0), nil
}
