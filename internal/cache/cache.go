package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/storage"
)

// ErrMiss reports that no cached entry exists for a (hash, site) pair.
var ErrMiss = errors.New("cache: miss")

// Store is the content-addressed result cache. Result sets and execution
// plans live as JSON blobs in the object store; entries for the same key are
// interchangeable, so concurrent writers may race safely.
type Store struct {
	Objects storage.ObjectStore
	Logger  *slog.Logger
}

func New(objects storage.ObjectStore, logger *slog.Logger) *Store {
	return &Store{Objects: objects, Logger: logger}
}

func (s *Store) Get(ctx context.Context, hash string, siteID int64) (query.CachedResult, error) {
	key, err := storage.BuildResultPath(siteID, hash)
	if err != nil {
		return query.CachedResult{}, err
	}

	reader, err := s.Objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return query.CachedResult{}, ErrMiss
		}
		return query.CachedResult{}, fmt.Errorf("read cached result %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	var entry query.CachedResult
	if err := json.NewDecoder(reader).Decode(&entry); err != nil {
		return query.CachedResult{}, fmt.Errorf("decode cached result %q: %w", key, err)
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, hash string, siteID int64, entry query.CachedResult) error {
	key, err := storage.BuildResultPath(siteID, hash)
	if err != nil {
		return err
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	if err := s.putObject(ctx, key, payload); err != nil {
		return err
	}

	if entry.ExecutionPlan != "" {
		planKey, err := storage.BuildPlanPath(siteID, hash)
		if err != nil {
			return err
		}
		if err := s.putObject(ctx, planKey, []byte(entry.ExecutionPlan)); err != nil {
			// The results object is already durable; a lost plan artifact
			// only makes the plan endpoint report not-found.
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "plan artifact write failed", slog.String("key", planKey), slog.Any("error", err))
			}
		}
	}
	return nil
}

// GetPlan returns the raw execution-plan artifact for a cached execution, or
// ErrMiss when none was captured.
func (s *Store) GetPlan(ctx context.Context, hash string, siteID int64) (string, error) {
	key, err := storage.BuildPlanPath(siteID, hash)
	if err != nil {
		return "", err
	}
	reader, err := s.Objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("read plan artifact %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	var builder strings.Builder
	if _, err := io.Copy(&builder, reader); err != nil {
		return "", fmt.Errorf("read plan artifact %q: %w", key, err)
	}
	return builder.String(), nil
}

func (s *Store) putObject(ctx context.Context, key string, payload []byte) error {
	_, err := s.Objects.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("write cache object %q: %w", key, err)
	}
	return nil
}
