package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Asset is one fetched shell resource.
type Asset struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Cache stores versioned generations of shell assets. At most one generation
// is active; lookups only consult the active one.
type Cache struct {
	store *Store
}

func NewCache(store *Store) *Cache {
	return &Cache{store: store}
}

// Install writes assets into generation, activates it, and deletes every
// other generation, all in one transaction. On error nothing changes.
func (c *Cache) Install(ctx context.Context, generation string, assets []Asset) error {
	if generation == "" {
		return NewError(ErrorInstallFailed, "generation name is required")
	}

	return c.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation = ?`, generation); err != nil {
			return WrapError(ErrorStorage, "clear generation", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_generations (name, active) VALUES (?, 0)
			 ON CONFLICT(name) DO UPDATE SET active = 0, installed_at = CURRENT_TIMESTAMP`,
			generation,
		); err != nil {
			return WrapError(ErrorStorage, "create generation", err)
		}

		for _, asset := range assets {
			headers, err := json.Marshal(asset.Header)
			if err != nil {
				return WrapError(ErrorStorage, "encode headers", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cache_entries (generation, url, status, headers, body) VALUES (?, ?, ?, ?, ?)`,
				generation, asset.URL, asset.Status, string(headers), asset.Body,
			); err != nil {
				return WrapError(ErrorStorage, fmt.Sprintf("store %s", asset.URL), err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation <> ?`, generation); err != nil {
			return WrapError(ErrorStorage, "drop old entries", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_generations WHERE name <> ?`, generation); err != nil {
			return WrapError(ErrorStorage, "drop old generations", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cache_generations SET active = 1 WHERE name = ?`, generation); err != nil {
			return WrapError(ErrorStorage, "activate generation", err)
		}
		return nil
	})
}

// Active returns the active generation name, or "" when none is installed.
func (c *Cache) Active(ctx context.Context) (string, error) {
	var name string
	err := c.store.db.QueryRowContext(ctx, `SELECT name FROM cache_generations WHERE active = 1`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", WrapError(ErrorStorage, "read active generation", err)
	}
	return name, nil
}

// Generations lists every stored generation name.
func (c *Cache) Generations(ctx context.Context) ([]string, error) {
	rows, err := c.store.db.QueryContext(ctx, `SELECT name FROM cache_generations ORDER BY name`)
	if err != nil {
		return nil, WrapError(ErrorStorage, "list generations", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, WrapError(ErrorStorage, "scan generation", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Match returns the cached asset for url from the active generation.
func (c *Cache) Match(ctx context.Context, url string) (Asset, bool, error) {
	var (
		asset   Asset
		headers sql.NullString
	)
	err := c.store.db.QueryRowContext(ctx,
		`SELECT e.url, e.status, e.headers, e.body
		 FROM cache_entries e JOIN cache_generations g ON g.name = e.generation
		 WHERE g.active = 1 AND e.url = ?`,
		url,
	).Scan(&asset.URL, &asset.Status, &headers, &asset.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, false, nil
	}
	if err != nil {
		return Asset{}, false, WrapError(ErrorStorage, "match cache entry", err)
	}

	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &asset.Header); err != nil {
			return Asset{}, false, WrapError(ErrorStorage, "decode headers", err)
		}
	}
	return asset, true, nil
}
