package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/queryvault/queryvault/internal/observability"
	"github.com/queryvault/queryvault/internal/store"
)

// Service owns the write path of the revision graph: resolving canonical
// query bodies, appending revisions, and keeping each owner's query set
// pointed at the latest revision.
type Service struct {
	Repo   store.Repository
	Logger *slog.Logger
}

func NewService(repo store.Repository, logger *slog.Logger) *Service {
	return &Service{Repo: repo, Logger: logger}
}

type CommitInput struct {
	// SQL is the raw (unbound) query body; Hash its content hash.
	SQL  string
	Hash string

	Title       *string
	Description *string

	// OwnerID is nil for anonymous saves.
	OwnerID *int64
	OwnerIP string

	// ParentRevisionID links the new revision into an existing lineage.
	// Zero means a fresh lineage.
	ParentRevisionID int64
}

type CommitResult struct {
	RevisionID int64
	ParentID   int64
	QuerySet   store.QuerySet
	// Created is false when the save was a no-op against the parent and the
	// parent revision was reused instead.
	Created bool
}

// Commit stores a query body as a revision. Saving a body identical to the
// parent revision's body creates nothing and reuses the parent's identifier,
// so repeated runs of an unchanged query never grow the revision graph.
func (s *Service) Commit(ctx context.Context, in CommitInput) (CommitResult, error) {
	if strings.TrimSpace(in.SQL) == "" || in.Hash == "" {
		return CommitResult{}, fmt.Errorf("sql body and hash are required")
	}

	q, err := s.Repo.CreateQuery(ctx, in.Hash, in.SQL)
	if err != nil {
		return CommitResult{}, err
	}

	var parent *store.Revision
	if in.ParentRevisionID > 0 {
		p, err := s.Repo.GetRevision(ctx, in.ParentRevisionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return CommitResult{}, err
		}
		if err == nil {
			parent = &p
		}
	}

	if parent != nil && parent.QueryID == q.ID {
		set, err := s.reconcileQuerySet(ctx, parent.ID, in)
		if err != nil {
			return CommitResult{}, err
		}
		return CommitResult{
			RevisionID: parent.ID,
			ParentID:   parentIDOf(parent),
			QuerySet:   set,
			Created:    false,
		}, nil
	}

	createIn := store.CreateRevisionInput{
		QueryID: q.ID,
		OwnerID: in.OwnerID,
		OwnerIP: in.OwnerIP,
	}
	if parent != nil {
		createIn.ParentID = &parent.ID
	}
	rev, err := s.Repo.CreateRevision(ctx, createIn)
	if err != nil {
		return CommitResult{}, err
	}
	observability.IncrementRevisionCreated()
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "revision created",
			slog.Int64("revision_id", rev.ID), slog.Int64("query_id", q.ID))
	}

	set, err := s.reconcileQuerySet(ctx, rev.ID, in)
	if err != nil {
		return CommitResult{}, err
	}
	result := CommitResult{RevisionID: rev.ID, QuerySet: set, Created: true}
	if parent != nil {
		result.ParentID = parent.ID
	}
	return result, nil
}

// UpdateMetadata renames or re-describes the query set a revision belongs to
// without touching the revision graph.
func (s *Service) UpdateMetadata(ctx context.Context, revisionID int64, ownerID *int64, title, description *string) (store.QuerySet, error) {
	if _, err := s.Repo.GetRevision(ctx, revisionID); err != nil {
		return store.QuerySet{}, err
	}
	return s.reconcileQuerySet(ctx, revisionID, CommitInput{
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
	})
}

// reconcileQuerySet points the owner's query set for this lineage at
// currentRevisionID, creating one when none exists. Anonymous saves always
// get a fresh set; they have no identity to find an existing one by.
func (s *Service) reconcileQuerySet(ctx context.Context, currentRevisionID int64, in CommitInput) (store.QuerySet, error) {
	if in.OwnerID == nil {
		return s.Repo.CreateQuerySet(ctx, store.CreateQuerySetInput{
			InitialRevisionID: currentRevisionID,
			CurrentRevisionID: currentRevisionID,
			Title:             in.Title,
			Description:       in.Description,
		})
	}

	rootID, err := s.Repo.RootRevisionID(ctx, currentRevisionID)
	if err != nil {
		return store.QuerySet{}, err
	}

	set, err := s.Repo.GetQuerySetByInitialRevision(ctx, rootID, *in.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return s.Repo.CreateQuerySet(ctx, store.CreateQuerySetInput{
			InitialRevisionID: rootID,
			CurrentRevisionID: currentRevisionID,
			OwnerID:           in.OwnerID,
			Title:             in.Title,
			Description:       in.Description,
		})
	}
	if err != nil {
		return store.QuerySet{}, err
	}

	title := set.Title
	if in.Title != nil {
		title = in.Title
	}
	description := set.Description
	if in.Description != nil {
		description = in.Description
	}
	if set.CurrentRevisionID == currentRevisionID &&
		stringPtrEqual(title, set.Title) && stringPtrEqual(description, set.Description) {
		return set, nil
	}

	if err := s.Repo.UpdateQuerySet(ctx, store.UpdateQuerySetInput{
		ID:                set.ID,
		Title:             title,
		Description:       description,
		CurrentRevisionID: currentRevisionID,
	}); err != nil {
		return store.QuerySet{}, err
	}
	set.Title = title
	set.Description = description
	set.CurrentRevisionID = currentRevisionID
	return set, nil
}

func parentIDOf(parent *store.Revision) int64 {
	if parent == nil {
		return 0
	}
	if parent.ParentID != nil {
		return *parent.ParentID
	}
	return 0
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
