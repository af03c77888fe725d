//go:build integration
// +build integration

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/service"
	"github.com/kjstillabower/forecast-compare-service/internal/session"
)

func newIntegrationStore(t *testing.T) *session.MemcachedStore {
	t.Helper()
	store := session.NewMemcachedStore("localhost:11211", time.Minute, 500*time.Millisecond, 2)
	t.Cleanup(func() { store.Close() })
	if err := store.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}
	return store
}

// TestMemcachedStore_SaveGetDelete_Integration verifies a full round trip when a memcached
// server is available on localhost.
func TestMemcachedStore_SaveGetDelete_Integration(t *testing.T) {
	store := newIntegrationStore(t)

	ctx := context.Background()
	sess := models.NewSession("integration-session", time.Now().UTC())
	sess.Queries = []models.LocationQuery{{Index: 0, Text: "Paris"}}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Queries) != 1 || got.Queries[0].Text != "Paris" {
		t.Errorf("Get() queries = %+v, want Paris", got.Queries)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestMemcachedStore_Lock_Integration(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	id := "integration-lock-" + time.Now().Format("150405.000000000")

	unlock, err := store.Lock(ctx, id)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := store.Lock(ctx, id); !errors.Is(err, session.ErrLocked) {
		t.Fatalf("second Lock() error = %v, want ErrLocked", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}

	unlock, err = store.Lock(ctx, id)
	if err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
}

// gatedResolver signals entry and then waits for release before answering.
type gatedResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (r *gatedResolver) Resolve(ctx context.Context, query string) ([]models.LocationCandidate, error) {
	r.entered <- struct{}{}
	<-r.release
	return []models.LocationCandidate{{Country: "France", Region: "Ile-de-France", City: "Paris", Key: "key3"}}, nil
}

type noopFetcher struct{}

func (noopFetcher) Fetch(ctx context.Context, key string, horizonDays int) ([]models.ForecastDay, error) {
	return nil, nil
}

type staticResolver struct{}

func (staticResolver) Resolve(ctx context.Context, query string) ([]models.LocationCandidate, error) {
	return []models.LocationCandidate{}, nil
}

// TestMemcachedStore_TwoOrchestrators_Integration runs two orchestrators against one memcached
// store, as two replicas would, and checks the second cannot interleave a transition.
func TestMemcachedStore_TwoOrchestrators_Integration(t *testing.T) {
	store := newIntegrationStore(t)
	gate := &gatedResolver{entered: make(chan struct{}, 1), release: make(chan struct{})}
	first := service.NewOrchestrator(gate, noopFetcher{}, store, service.Options{})
	second := service.NewOrchestrator(staticResolver{}, noopFetcher{}, store, service.Options{})
	ctx := context.Background()

	sess, err := first.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.End(ctx, sess.ID)

	done := make(chan error, 1)
	go func() {
		_, err := first.SubmitQueries(ctx, sess.ID, []string{"Paris"}, 5)
		done <- err
	}()
	<-gate.entered

	if _, err := second.SubmitQueries(ctx, sess.ID, []string{"Moscow"}, 1); !errors.Is(err, service.ErrTransitionInProgress) {
		t.Errorf("second.SubmitQueries() error = %v, want ErrTransitionInProgress", err)
	}
	if _, err := second.Restart(ctx, sess.ID); !errors.Is(err, service.ErrTransitionInProgress) {
		t.Errorf("second.Restart() error = %v, want ErrTransitionInProgress", err)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("first.SubmitQueries() error = %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Stage != models.StageChoice || len(got.Queries) != 1 || got.Queries[0].Text != "Paris" {
		t.Errorf("stored session = stage %s queries %+v, want choice with Paris", got.Stage, got.Queries)
	}

	// The lock is released, so the other instance may now transition.
	if _, err := second.Restart(ctx, sess.ID); err != nil {
		t.Errorf("second.Restart() after release error = %v", err)
	}
}
