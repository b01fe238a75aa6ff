package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/queryvault/queryvault/internal/store"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (r *Repository) GetQueryByHash(ctx context.Context, hash string) (store.Query, error) {
	query := `
SELECT query_id, query_hash, query_body, created_at
FROM query
WHERE query_hash = $1`

	var q store.Query
	if err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&q.ID,
		&q.Hash,
		&q.Body,
		&q.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Query{}, store.ErrNotFound
		}
		return store.Query{}, fmt.Errorf("get query by hash: %w", err)
	}
	return q, nil
}

func (r *Repository) CreateQuery(ctx context.Context, hash, body string) (store.Query, error) {
	// Concurrent saves of the same body race to insert the same hash; the
	// conflict clause makes the insert return the existing row instead.
	query := `
INSERT INTO query (query_hash, query_body)
VALUES ($1, $2)
ON CONFLICT (query_hash)
DO UPDATE SET query_hash = query.query_hash
RETURNING query_id, created_at`

	q := store.Query{Hash: hash, Body: body}
	if err := r.db.QueryRowContext(ctx, query, hash, body).Scan(&q.ID, &q.CreatedAt); err != nil {
		return store.Query{}, fmt.Errorf("create query: %w", err)
	}
	return q, nil
}

func (r *Repository) GetQueryForRevision(ctx context.Context, revisionID int64) (store.Query, error) {
	query := `
SELECT q.query_id, q.query_hash, q.query_body, q.created_at
FROM query AS q
JOIN revision AS r ON r.query_id = q.query_id
WHERE r.revision_id = $1`

	var q store.Query
	if err := r.db.QueryRowContext(ctx, query, revisionID).Scan(
		&q.ID,
		&q.Hash,
		&q.Body,
		&q.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Query{}, store.ErrNotFound
		}
		return store.Query{}, fmt.Errorf("get query for revision: %w", err)
	}
	return q, nil
}

func (r *Repository) GetRevision(ctx context.Context, revisionID int64) (store.Revision, error) {
	query := `
SELECT revision_id, query_id, parent_id, owner_id, owner_ip, created_at
FROM revision
WHERE revision_id = $1`

	var rev store.Revision
	if err := r.db.QueryRowContext(ctx, query, revisionID).Scan(
		&rev.ID,
		&rev.QueryID,
		&rev.ParentID,
		&rev.OwnerID,
		&rev.OwnerIP,
		&rev.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Revision{}, store.ErrNotFound
		}
		return store.Revision{}, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

func (r *Repository) CreateRevision(ctx context.Context, in store.CreateRevisionInput) (store.Revision, error) {
	query := `
INSERT INTO revision (query_id, parent_id, owner_id, owner_ip)
VALUES ($1, $2, $3, $4)
RETURNING revision_id, created_at`

	rev := store.Revision{
		QueryID:  in.QueryID,
		ParentID: in.ParentID,
		OwnerID:  in.OwnerID,
		OwnerIP:  in.OwnerIP,
	}
	if err := r.db.QueryRowContext(ctx, query, in.QueryID, in.ParentID, in.OwnerID, in.OwnerIP).Scan(&rev.ID, &rev.CreatedAt); err != nil {
		return store.Revision{}, fmt.Errorf("create revision: %w", err)
	}
	return rev, nil
}

func (r *Repository) RootRevisionID(ctx context.Context, revisionID int64) (int64, error) {
	query := `
WITH RECURSIVE lineage AS (
    SELECT revision_id, parent_id
    FROM revision
    WHERE revision_id = $1
    UNION ALL
    SELECT r.revision_id, r.parent_id
    FROM revision AS r
    JOIN lineage AS l ON r.revision_id = l.parent_id
)
SELECT revision_id
FROM lineage
WHERE parent_id IS NULL`

	var rootID int64
	if err := r.db.QueryRowContext(ctx, query, revisionID).Scan(&rootID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("resolve root revision: %w", err)
	}
	return rootID, nil
}

func (r *Repository) GetQuerySetByInitialRevision(ctx context.Context, initialRevisionID, ownerID int64) (store.QuerySet, error) {
	query := `
SELECT query_set_id, initial_revision_id, current_revision_id, owner_id, title, description, votes, views, last_activity
FROM query_set
WHERE initial_revision_id = $1 AND owner_id = $2`

	var set store.QuerySet
	if err := r.db.QueryRowContext(ctx, query, initialRevisionID, ownerID).Scan(
		&set.ID,
		&set.InitialRevisionID,
		&set.CurrentRevisionID,
		&set.OwnerID,
		&set.Title,
		&set.Description,
		&set.Votes,
		&set.Views,
		&set.LastActivity,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.QuerySet{}, store.ErrNotFound
		}
		return store.QuerySet{}, fmt.Errorf("get query set by initial revision: %w", err)
	}
	return set, nil
}

func (r *Repository) CreateQuerySet(ctx context.Context, in store.CreateQuerySetInput) (store.QuerySet, error) {
	query := `
INSERT INTO query_set (initial_revision_id, current_revision_id, owner_id, title, description, last_activity)
VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING query_set_id, votes, views, last_activity`

	set := store.QuerySet{
		InitialRevisionID: in.InitialRevisionID,
		CurrentRevisionID: in.CurrentRevisionID,
		OwnerID:           in.OwnerID,
		Title:             in.Title,
		Description:       in.Description,
	}
	if err := r.db.QueryRowContext(ctx, query, in.InitialRevisionID, in.CurrentRevisionID, in.OwnerID, in.Title, in.Description).Scan(
		&set.ID,
		&set.Votes,
		&set.Views,
		&set.LastActivity,
	); err != nil {
		return store.QuerySet{}, fmt.Errorf("create query set: %w", err)
	}
	return set, nil
}

func (r *Repository) UpdateQuerySet(ctx context.Context, in store.UpdateQuerySetInput) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE query_set
SET title = $2,
    description = $3,
    current_revision_id = $4,
    last_activity = NOW()
WHERE query_set_id = $1`, in.ID, in.Title, in.Description, in.CurrentRevisionID)
	if err != nil {
		return fmt.Errorf("update query set: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update query set rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) LogExecution(ctx context.Context, revisionID, siteID int64, userID *int64) error {
	// One row per (revision, site, user); repeated runs bump the counter.
	query := `
INSERT INTO revision_execution (revision_id, site_id, user_id, run_count, first_run, last_run)
VALUES ($1, $2, $3, 1, NOW(), NOW())
ON CONFLICT (revision_id, site_id, user_id)
DO UPDATE SET
    run_count = revision_execution.run_count + 1,
    last_run = NOW()`

	if _, err := r.db.ExecContext(ctx, query, revisionID, siteID, userID); err != nil {
		return fmt.Errorf("log execution: %w", err)
	}
	return nil
}

func (r *Repository) ListSites(ctx context.Context) ([]store.Site, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT site_id, site_name, description, database_path, is_meta
FROM site
ORDER BY site_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sites := make([]store.Site, 0)
	for rows.Next() {
		var s store.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.DatabasePath, &s.IsMeta); err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site rows: %w", err)
	}
	return sites, nil
}

var _ store.Repository = (*Repository)(nil)
