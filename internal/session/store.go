package session

import (
	"context"
	"errors"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
)

// ErrNotFound is returned when a session id is unknown or its entry has expired.
var ErrNotFound = errors.New("session not found")

// Store holds session snapshots between request cycles. Implementations copy values in and
// out so callers never share slices with the store.
type Store interface {
	Get(ctx context.Context, id string) (models.Session, error)
	Save(ctx context.Context, s models.Session) error
	Delete(ctx context.Context, id string) error
}

// ErrLocked is returned by Locker.Lock when another holder owns the session's lock.
var ErrLocked = errors.New("session locked")

// Locker is implemented by stores shared between processes. A transition holds the lock for
// its session from load to save so replicas cannot interleave writes.
type Locker interface {
	// Lock takes the lock for id or returns ErrLocked. The returned func releases it.
	Lock(ctx context.Context, id string) (unlock func(ctx context.Context) error, err error)
}
