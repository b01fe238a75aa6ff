package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Query is a canonical, immutable SQL body identified by its content hash.
// One Query has many Revisions.
type Query struct {
	ID        int64
	Hash      string
	Body      string
	CreatedAt time.Time
}

// Revision is an immutable snapshot of a query body, linked into a lineage
// through ParentID. OwnerID is nil for anonymous saves.
type Revision struct {
	ID        int64
	QueryID   int64
	ParentID  *int64
	OwnerID   *int64
	OwnerIP   string
	CreatedAt time.Time
}

// QuerySet is the mutable, named container a user sees as "their query".
type QuerySet struct {
	ID                int64
	InitialRevisionID int64
	CurrentRevisionID int64
	OwnerID           *int64
	Title             *string
	Description       *string
	Votes             int
	Views             int
	LastActivity      time.Time
}

// Site is a registered target database row.
type Site struct {
	ID           int64
	Name         string
	Description  string
	DatabasePath string
	IsMeta       bool
}

type CreateRevisionInput struct {
	QueryID  int64
	ParentID *int64
	OwnerID  *int64
	OwnerIP  string
}

type CreateQuerySetInput struct {
	InitialRevisionID int64
	CurrentRevisionID int64
	OwnerID           *int64
	Title             *string
	Description       *string
}

type UpdateQuerySetInput struct {
	ID                int64
	Title             *string
	Description       *string
	CurrentRevisionID int64
}

type Repository interface {
	HealthCheck(ctx context.Context) error

	GetQueryByHash(ctx context.Context, hash string) (Query, error)
	CreateQuery(ctx context.Context, hash, body string) (Query, error)
	GetQueryForRevision(ctx context.Context, revisionID int64) (Query, error)

	GetRevision(ctx context.Context, revisionID int64) (Revision, error)
	CreateRevision(ctx context.Context, in CreateRevisionInput) (Revision, error)
	// RootRevisionID walks parent pointers to the first revision of the
	// lineage revisionID belongs to.
	RootRevisionID(ctx context.Context, revisionID int64) (int64, error)

	GetQuerySetByInitialRevision(ctx context.Context, initialRevisionID, ownerID int64) (QuerySet, error)
	CreateQuerySet(ctx context.Context, in CreateQuerySetInput) (QuerySet, error)
	UpdateQuerySet(ctx context.Context, in UpdateQuerySetInput) error

	LogExecution(ctx context.Context, revisionID, siteID int64, userID *int64) error

	ListSites(ctx context.Context) ([]Site, error)
}
