package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
)

func newSession(id string, now time.Time) models.Session {
	s := models.NewSession(id, now)
	s.Queries = []models.LocationQuery{{Index: 0, Text: "Moscow"}}
	s.Candidates = models.CandidateSet{0: {
		Query:      s.Queries[0],
		Candidates: []models.LocationCandidate{{Country: "Russia", Region: "Moscow", City: "Moscow", Key: "294021"}},
	}}
	return s
}

// TestInMemoryStore_SaveGet verifies that Save stores values and Get retrieves them.
func TestInMemoryStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock, time.Minute)

	want := newSession("s1", clock.Now())
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInMemoryStore_Get_Miss(t *testing.T) {
	store := NewInMemoryStore(clockwork.NewFakeClock(), time.Minute)
	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestInMemoryStore_CopiesValues verifies that neither the saved value nor a returned
// snapshot aliases the stored entry.
func TestInMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock, time.Minute)

	sess := newSession("s1", clock.Now())
	require.NoError(t, store.Save(ctx, sess))
	sess.Queries[0].Text = "mutated after save"

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Moscow", got.Queries[0].Text)

	got.Candidates[0].Candidates[0].Key = "mutated after get"
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "294021", again.Candidates[0].Candidates[0].Key)
}

// TestInMemoryStore_Get_Expired verifies that entries expire ttl after their last Save
// and are removed on access.
func TestInMemoryStore_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock, time.Minute)

	require.NoError(t, store.Save(ctx, newSession("s1", clock.Now())))

	clock.Advance(45 * time.Second)
	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sess))

	clock.Advance(45 * time.Second)
	_, err = store.Get(ctx, "s1")
	require.NoError(t, err, "Save should refresh the TTL")

	clock.Advance(61 * time.Second)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(clockwork.NewFakeClock(), time.Minute)

	require.NoError(t, store.Save(ctx, newSession("s1", time.Now())))
	require.NoError(t, store.Delete(ctx, "s1"))
	require.NoError(t, store.Delete(ctx, "never-existed"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock, time.Minute)

	require.NoError(t, store.Save(ctx, newSession("old", clock.Now())))
	clock.Advance(50 * time.Second)
	require.NoError(t, store.Save(ctx, newSession("fresh", clock.Now())))
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
	_, err := store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	store := NewInMemoryStore(clockwork.NewFakeClock(), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Save(ctx, newSession("s1", time.Now())), context.Canceled)
	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweeper_StartStop(t *testing.T) {
	store := NewInMemoryStore(clockwork.NewFakeClock(), time.Minute)
	sw := NewSweeper(store, time.Hour, nil)
	require.NoError(t, sw.Start())
	sw.Stop()
}

func TestExpirationSeconds(t *testing.T) {
	assert.Equal(t, int32(1800), expirationSeconds(30*time.Minute))
	assert.Equal(t, int32(3600), expirationSeconds(0))
	assert.Equal(t, int32(3600), expirationSeconds(31*24*time.Hour))
}

func TestParseAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, parseAddrs(" a:1 , ,b:2"))
	assert.Empty(t, parseAddrs(""))
}
