package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/storage"
)

var testHash = strings.Repeat("ab", 32)

func TestPutGetRoundTrip(t *testing.T) {
	objects := newFakeObjectStore()
	store := New(objects, nil)

	entry := query.CachedResult{
		ResultSets: []query.ResultSet{{
			Columns: []query.Column{{Name: "id", Type: "BIGINT"}},
			Rows:    [][]any{{float64(1)}},
		}},
		CachedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.Put(context.Background(), testHash, 3, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(context.Background(), testHash, 3)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.ResultSets) != 1 {
		t.Fatalf("ResultSets count = %d", len(got.ResultSets))
	}
	if got.ResultSets[0].Columns[0].Name != "id" {
		t.Fatalf("column = %q", got.ResultSets[0].Columns[0].Name)
	}
	if !got.CachedAt.Equal(entry.CachedAt) {
		t.Fatalf("CachedAt = %v, want %v", got.CachedAt, entry.CachedAt)
	}
}

func TestGetReportsMiss(t *testing.T) {
	store := New(newFakeObjectStore(), nil)
	_, err := store.Get(context.Background(), testHash, 9)
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("Get() error = %v, want ErrMiss", err)
	}
}

func TestPutStoresPlanArtifactSeparately(t *testing.T) {
	objects := newFakeObjectStore()
	store := New(objects, nil)

	entry := query.CachedResult{ExecutionPlan: `{"plan":"SEQ_SCAN"}`}
	if err := store.Put(context.Background(), testHash, 2, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	plan, err := store.GetPlan(context.Background(), testHash, 2)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if plan != `{"plan":"SEQ_SCAN"}` {
		t.Fatalf("plan = %q", plan)
	}
}

func TestGetPlanMissWhenNoPlanCaptured(t *testing.T) {
	objects := newFakeObjectStore()
	store := New(objects, nil)

	if err := store.Put(context.Background(), testHash, 2, query.CachedResult{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := store.GetPlan(context.Background(), testHash, 2); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetPlan() error = %v, want ErrMiss", err)
	}
}

func TestGetRejectsInvalidHash(t *testing.T) {
	store := New(newFakeObjectStore(), nil)
	if _, err := store.Get(context.Background(), "not-a-hash", 1); err == nil {
		t.Fatal("expected invalid hash error")
	}
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = payload
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	payload, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}
